package retrieve

import "context"

// Predicate decides whether a candidate resource satisfies the in-memory
// part of a resolution. Predicates hold no mutable state and may be called
// concurrently and in any order. A non-nil error comes from a collaborator
// (for example a terminology service) and aborts the retrieval.
type Predicate func(ctx context.Context, r Resource) (bool, error)

// Always is the unconstrained predicate.
func Always(context.Context, Resource) (bool, error) { return true, nil }

// And returns the conjunction of preds. Nil entries are skipped; with no
// remaining parts the result is Always.
func And(preds ...Predicate) Predicate {
	parts := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			parts = append(parts, p)
		}
	}
	switch len(parts) {
	case 0:
		return Always
	case 1:
		return parts[0]
	}
	return func(ctx context.Context, r Resource) (bool, error) {
		for _, p := range parts {
			ok, err := p(ctx, r)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}
