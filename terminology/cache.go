package terminology

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/gofhir/retrieve"
)

const (
	// DefaultShardCount is the default number of cache shards.
	DefaultShardCount = 64

	// DefaultCacheTTL is the default lifetime of a cached answer.
	DefaultCacheTTL = 15 * time.Minute
)

// ShardedCache stores membership answers and expansions under TTL. Keys are
// hashed to shards so concurrent predicates rarely share a lock.
type ShardedCache struct {
	shards    []*cacheShard
	shardMask uint32
	ttl       time.Duration
	now       func() time.Time
}

type cacheShard struct {
	mu          sync.RWMutex
	memberships map[string]cachedMembership
	expansions  map[string]cachedExpansion
}

type cachedMembership struct {
	member    bool
	expiresAt time.Time
}

type cachedExpansion struct {
	codes     []retrieve.Code
	expiresAt time.Time
}

// CacheConfig configures a ShardedCache.
type CacheConfig struct {
	// ShardCount is rounded up to a power of 2.
	ShardCount int
	TTL        time.Duration
}

// DefaultCacheConfig returns the default configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{ShardCount: DefaultShardCount, TTL: DefaultCacheTTL}
}

// NewShardedCache creates a cache.
func NewShardedCache(cfg CacheConfig) *ShardedCache {
	n := cfg.ShardCount
	if n <= 0 {
		n = DefaultShardCount
	}
	n = nextPowerOf2(n)
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	shards := make([]*cacheShard, n)
	for i := range shards {
		shards[i] = &cacheShard{
			memberships: make(map[string]cachedMembership),
			expansions:  make(map[string]cachedExpansion),
		}
	}
	return &ShardedCache{
		shards:    shards,
		shardMask: uint32(n - 1), //nolint:gosec // n is a small power of 2
		ttl:       ttl,
		now:       time.Now,
	}
}

func (c *ShardedCache) shard(key string) *cacheShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()&c.shardMask]
}

// GetMembership returns a cached membership answer.
func (c *ShardedCache) GetMembership(key string) (member, ok bool) {
	s := c.shard(key)
	s.mu.RLock()
	e, found := s.memberships[key]
	s.mu.RUnlock()
	if !found || c.now().After(e.expiresAt) {
		return false, false
	}
	return e.member, true
}

// SetMembership stores a membership answer.
func (c *ShardedCache) SetMembership(key string, member bool) {
	s := c.shard(key)
	s.mu.Lock()
	s.memberships[key] = cachedMembership{member: member, expiresAt: c.now().Add(c.ttl)}
	s.mu.Unlock()
}

// GetExpansion returns a cached expansion.
func (c *ShardedCache) GetExpansion(valueSetID string) ([]retrieve.Code, bool) {
	s := c.shard(valueSetID)
	s.mu.RLock()
	e, found := s.expansions[valueSetID]
	s.mu.RUnlock()
	if !found || c.now().After(e.expiresAt) {
		return nil, false
	}
	return e.codes, true
}

// SetExpansion stores an expansion.
func (c *ShardedCache) SetExpansion(valueSetID string, codes []retrieve.Code) {
	s := c.shard(valueSetID)
	s.mu.Lock()
	s.expansions[valueSetID] = cachedExpansion{codes: codes, expiresAt: c.now().Add(c.ttl)}
	s.mu.Unlock()
}

// Clear removes every entry.
func (c *ShardedCache) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.memberships = make(map[string]cachedMembership)
		s.expansions = make(map[string]cachedExpansion)
		s.mu.Unlock()
	}
}

// Cleanup drops expired entries.
func (c *ShardedCache) Cleanup() {
	now := c.now()
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.memberships {
			if now.After(e.expiresAt) {
				delete(s.memberships, k)
			}
		}
		for k, e := range s.expansions {
			if now.After(e.expiresAt) {
				delete(s.expansions, k)
			}
		}
		s.mu.Unlock()
	}
}

// CacheStats holds entry counts.
type CacheStats struct {
	Memberships int
	Expansions  int
	Shards      int
}

// Stats returns the current entry counts, expired entries included.
func (c *ShardedCache) Stats() CacheStats {
	st := CacheStats{Shards: len(c.shards)}
	for _, s := range c.shards {
		s.mu.RLock()
		st.Memberships += len(s.memberships)
		st.Expansions += len(s.expansions)
		s.mu.RUnlock()
	}
	return st
}

// MembershipKey builds the cache key of a membership question.
func MembershipKey(code retrieve.Code, valueSetID string) string {
	return code.System + "\x00" + code.Code + "\x00" + valueSetID
}

func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}
