package retrieve

import (
	"fmt"
	"strings"
)

// Dimension is a constraint class of a criterion.
type Dimension int

// Dimensions, in the order they are resolved.
const (
	DimensionConformance Dimension = iota
	DimensionContext
	DimensionTerminology
	DimensionDate
)

// Dimensions lists every dimension in resolution order.
var Dimensions = []Dimension{DimensionConformance, DimensionContext, DimensionTerminology, DimensionDate}

// String returns the dimension name.
func (d Dimension) String() string {
	switch d {
	case DimensionConformance:
		return "conformance"
	case DimensionContext:
		return "context"
	case DimensionTerminology:
		return "terminology"
	case DimensionDate:
		return "date"
	default:
		return "unknown"
	}
}

// Strategy is how one dimension is filtered.
type Strategy int

// Strategies.
const (
	// StrategyNone means the dimension does not constrain the criterion.
	StrategyNone Strategy = iota
	StrategyPushDown
	StrategyInMemory
)

// String returns the strategy name.
func (s Strategy) String() string {
	switch s {
	case StrategyNone:
		return "none"
	case StrategyPushDown:
		return "push-down"
	case StrategyInMemory:
		return "in-memory"
	default:
		return "unknown"
	}
}

// Plan records the strategy chosen per dimension.
type Plan [4]Strategy

// Strategy returns the strategy of d.
func (p Plan) Strategy(d Dimension) Strategy {
	if d < 0 || int(d) >= len(p) {
		return StrategyNone
	}
	return p[d]
}

// String renders "conformance=none context=push-down ...".
func (p Plan) String() string {
	parts := make([]string, 0, len(p))
	for _, d := range Dimensions {
		parts = append(parts, fmt.Sprintf("%s=%s", d, p[d]))
	}
	return strings.Join(parts, " ")
}

// Resolution is the outcome of resolving one criterion: the parameters for a
// single repository call plus the predicate applied to its results.
type Resolution struct {
	Query     *QueryParameterSet
	Predicate Predicate
	Plan      Plan
}

// IsFiltered reports whether any dimension is applied in memory.
func (r *Resolution) IsFiltered() bool {
	for _, s := range r.Plan {
		if s == StrategyInMemory {
			return true
		}
	}
	return false
}
