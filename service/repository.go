package service

import (
	"context"
	"iter"

	"github.com/gofhir/retrieve"
)

// Searcher executes a search against a clinical data repository.
//
// The returned sequence is lazy: pages are fetched as the caller iterates.
// Iteration stops at the first error, which is yielded with a nil resource.
type Searcher interface {
	Search(ctx context.Context, resourceType string, q *retrieve.QueryParameterSet) iter.Seq2[retrieve.Resource, error]
}

// CapabilityChecker reports whether a repository supports a search parameter
// for a resource type. param may carry a modifier ("code:in").
type CapabilityChecker interface {
	DeclaresSupport(ctx context.Context, resourceType, param string) bool
}

// Repository combines search and capability detection.
type Repository interface {
	Searcher
	CapabilityChecker
}

// CapabilityFunc adapts a function to CapabilityChecker.
type CapabilityFunc func(ctx context.Context, resourceType, param string) bool

// DeclaresSupport calls f.
func (f CapabilityFunc) DeclaresSupport(ctx context.Context, resourceType, param string) bool {
	return f(ctx, resourceType, param)
}

// AlwaysSupported reports every parameter as supported.
var AlwaysSupported CapabilityChecker = CapabilityFunc(func(context.Context, string, string) bool { return true })

// NeverSupported reports every parameter as unsupported.
var NeverSupported CapabilityChecker = CapabilityFunc(func(context.Context, string, string) bool { return false })
