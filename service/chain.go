package service

import (
	"context"
	"errors"

	"github.com/gofhir/retrieve"
)

// TerminologyChain asks each service in turn. A service answering
// ErrValueSetNotFound passes the question to the next one; any other error
// stops the chain.
type TerminologyChain struct {
	services []TerminologyService
}

// NewTerminologyChain creates a chain over services, in order.
func NewTerminologyChain(services ...TerminologyService) *TerminologyChain {
	return &TerminologyChain{services: services}
}

// Add appends a service to the chain.
func (c *TerminologyChain) Add(s TerminologyService) {
	c.services = append(c.services, s)
}

// IsMember implements MembershipChecker.
func (c *TerminologyChain) IsMember(ctx context.Context, code retrieve.Code, valueSetID string) (bool, error) {
	for _, s := range c.services {
		ok, err := s.IsMember(ctx, code, valueSetID)
		if errors.Is(err, ErrValueSetNotFound) {
			continue
		}
		return ok, err
	}
	return false, ErrValueSetNotFound
}

// Expand implements ValueSetExpander.
func (c *TerminologyChain) Expand(ctx context.Context, valueSetID string) ([]retrieve.Code, error) {
	for _, s := range c.services {
		codes, err := s.Expand(ctx, valueSetID)
		if errors.Is(err, ErrValueSetNotFound) {
			continue
		}
		return codes, err
	}
	return nil, ErrValueSetNotFound
}

// Verify interface compliance
var _ TerminologyService = (*TerminologyChain)(nil)
