package terminology

import (
	"context"

	"github.com/gofhir/retrieve"
	"github.com/gofhir/retrieve/service"
)

// Cached wraps a terminology service with a ShardedCache. Errors are not
// cached.
type Cached struct {
	inner service.TerminologyService
	cache *ShardedCache
}

// NewCached wraps inner.
func NewCached(inner service.TerminologyService, cfg CacheConfig) *Cached {
	return &Cached{inner: inner, cache: NewShardedCache(cfg)}
}

// Inner returns the wrapped service.
func (c *Cached) Inner() service.TerminologyService {
	return c.inner
}

// Cache returns the underlying cache.
func (c *Cached) Cache() *ShardedCache {
	return c.cache
}

// IsMember implements service.MembershipChecker.
func (c *Cached) IsMember(ctx context.Context, code retrieve.Code, valueSetID string) (bool, error) {
	key := MembershipKey(code, valueSetID)
	if member, ok := c.cache.GetMembership(key); ok {
		return member, nil
	}
	member, err := c.inner.IsMember(ctx, code, valueSetID)
	if err != nil {
		return false, err
	}
	c.cache.SetMembership(key, member)
	return member, nil
}

// Expand implements service.ValueSetExpander. The returned slice is shared
// between callers and must not be modified.
func (c *Cached) Expand(ctx context.Context, valueSetID string) ([]retrieve.Code, error) {
	if codes, ok := c.cache.GetExpansion(valueSetID); ok {
		return codes, nil
	}
	codes, err := c.inner.Expand(ctx, valueSetID)
	if err != nil {
		return nil, err
	}
	c.cache.SetExpansion(valueSetID, codes)
	return codes, nil
}

var _ service.TerminologyService = (*Cached)(nil)
