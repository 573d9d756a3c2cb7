package service

import (
	"context"

	"github.com/gofhir/retrieve"
)

// ProfileValidator checks a resource against the structure of a profile.
// It backs the Enforced conformance mode; without one, Enforced behaves like
// Declared.
type ProfileValidator interface {
	ValidateProfile(ctx context.Context, r retrieve.Resource, profileURL string) (bool, error)
}

// FHIRPathEvaluator evaluates FHIRPath expressions.
type FHIRPathEvaluator interface {
	// Evaluate evaluates a FHIRPath expression against a resource.
	// Returns true if the constraint is satisfied, false otherwise.
	Evaluate(ctx context.Context, expression string, resource any) (bool, error)
}
