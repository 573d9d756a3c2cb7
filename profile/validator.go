package profile

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/gofhir/retrieve"
	"github.com/gofhir/retrieve/service"
)

// InvariantValidator checks a resource against the root invariants of a
// stored profile. Constraints with severity "warning" are not enforced.
type InvariantValidator struct {
	store *Store
	eval  service.FHIRPathEvaluator
	log   zerolog.Logger
}

// NewInvariantValidator creates a validator. A nil evaluator uses
// service.NewFHIRPathAdapter.
func NewInvariantValidator(store *Store, eval service.FHIRPathEvaluator, log zerolog.Logger) *InvariantValidator {
	if eval == nil {
		eval = service.NewFHIRPathAdapter()
	}
	return &InvariantValidator{
		store: store,
		eval:  eval,
		log:   log.With().Str("component", "profile").Logger(),
	}
}

// ValidateProfile implements service.ProfileValidator. It fails with
// ErrProfileNotFound for a profile the store does not hold.
func (v *InvariantValidator) ValidateProfile(ctx context.Context, r retrieve.Resource, profileURL string) (bool, error) {
	d, ok := v.store.Get(profileURL)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrProfileNotFound, profileURL)
	}
	if d.Type != "" && d.Type != r.ResourceType() {
		return false, nil
	}

	constraints, err := v.store.Constraints(profileURL)
	if err != nil {
		return false, err
	}
	for _, c := range constraints {
		if !c.IsError() {
			continue
		}
		ok, err := v.eval.Evaluate(ctx, c.Expression, map[string]any(r))
		if err != nil {
			return false, fmt.Errorf("constraint %s of %s: %w", c.Key, profileURL, err)
		}
		if !ok {
			v.log.Debug().
				Str("profile", profileURL).
				Str("constraint", c.Key).
				Str("resource", r.ResourceType()+"/"+r.ID()).
				Msg("invariant violated")
			return false, nil
		}
	}
	return true, nil
}

var _ service.ProfileValidator = (*InvariantValidator)(nil)
