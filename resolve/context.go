package resolve

import (
	"context"
	"fmt"

	"github.com/gofhir/retrieve"
	"github.com/gofhir/retrieve/pkg/reference"
	"github.com/gofhir/retrieve/service"
)

// referenceSubPath is read from composite elements that hold the context
// relationship one level down.
const referenceSubPath = "reference"

// ContextPredicate matches resources related to the context entity
// contextValue through contextPath. Any blank input yields Always.
//
// The value at contextPath is compared after normalization:
//   - a primitive (a local id such as "id") directly;
//   - a reference by its reference text;
//   - anything else by its "reference" sub-element.
//
// A missing or empty value never matches.
func ContextPredicate(eval service.ElementEvaluator, contextType, contextPath, contextValue string) retrieve.Predicate {
	if contextType == "" || contextPath == "" || contextValue == "" {
		return retrieve.Always
	}
	return func(_ context.Context, r retrieve.Resource) (bool, error) {
		v, err := eval.EvaluateFirst(r, contextPath)
		if err != nil {
			return false, fmt.Errorf("evaluate context path %q: %w", contextPath, err)
		}
		id, err := contextIdentifier(eval, v)
		if err != nil {
			return false, err
		}
		return id != "" && reference.Equal(id, contextValue), nil
	}
}

func contextIdentifier(eval service.ElementEvaluator, v service.ElementValue) (string, error) {
	switch v := v.(type) {
	case service.Primitive:
		return v.Value, nil
	case service.Reference:
		return v.Reference, nil
	case service.Composite:
		sub, err := eval.EvaluateFirst(v.Fields, referenceSubPath)
		if err != nil {
			return "", fmt.Errorf("evaluate %q: %w", referenceSubPath, err)
		}
		switch sub := sub.(type) {
		case service.Primitive:
			return sub.Value, nil
		case service.Reference:
			return sub.Reference, nil
		}
	}
	return "", nil
}
