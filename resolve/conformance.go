package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofhir/retrieve"
	"github.com/gofhir/retrieve/service"
)

// conformanceApplies reports whether templateID constrains dataType at all.
func conformanceApplies(dataType, templateID string, mode retrieve.ConformanceMode) bool {
	t := strings.TrimSpace(templateID)
	return t != "" && mode != retrieve.ConformanceOff && !retrieve.IsBaseDefinition(dataType, t)
}

// ConformancePredicate matches resources declaring templateID in
// meta.profile. A blank template, the base definition of dataType, or mode
// Off yield Always. In Enforced mode with a validator the declared profile
// must also pass v.
func ConformancePredicate(dataType, templateID string, mode retrieve.ConformanceMode, v service.ProfileValidator) retrieve.Predicate {
	if !conformanceApplies(dataType, templateID, mode) {
		return retrieve.Always
	}
	profile := strings.TrimSpace(templateID)
	enforce := mode == retrieve.ConformanceEnforced && v != nil

	return func(ctx context.Context, r retrieve.Resource) (bool, error) {
		if !r.HasProfile(profile) {
			return false, nil
		}
		if !enforce {
			return true, nil
		}
		ok, err := v.ValidateProfile(ctx, r, profile)
		if err != nil {
			return false, fmt.Errorf("validate %s/%s against %s: %w", r.ResourceType(), r.ID(), profile, err)
		}
		return ok, nil
	}
}
