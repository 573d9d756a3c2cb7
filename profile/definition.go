package profile

import (
	"github.com/gofhir/fhir/r4"
)

// Constraint is a FHIRPath invariant declared on a profile's root element.
type Constraint struct {
	Key        string
	Severity   string
	Human      string
	Expression string
}

// IsError reports whether a violation rejects the resource. Constraints
// without a severity count as errors.
func (c Constraint) IsError() bool {
	return c.Severity == "" || c.Severity == "error"
}

// Definition is the part of a StructureDefinition needed to check conformance.
type Definition struct {
	URL            string
	Name           string
	Type           string
	Kind           string
	BaseDefinition string

	// Snapshot reports whether Constraints came from a snapshot and so
	// already include the base definition's invariants.
	Snapshot    bool
	Constraints []Constraint
}

// convert extracts the root-element invariants of sd. The snapshot is
// preferred over the differential.
func convert(sd *r4.StructureDefinition) *Definition {
	if sd == nil {
		return nil
	}
	d := &Definition{
		URL:            deref(sd.Url),
		Name:           deref(sd.Name),
		Type:           deref(sd.Type),
		BaseDefinition: deref(sd.BaseDefinition),
	}
	if sd.Kind != nil {
		d.Kind = string(*sd.Kind)
	}

	var elements []r4.ElementDefinition
	switch {
	case sd.Snapshot != nil && len(sd.Snapshot.Element) > 0:
		elements = sd.Snapshot.Element
		d.Snapshot = true
	case sd.Differential != nil:
		elements = sd.Differential.Element
	}
	for i := range elements {
		if deref(elements[i].Path) != d.Type {
			continue
		}
		d.Constraints = append(d.Constraints, constraints(elements[i].Constraint)...)
	}
	return d
}

func constraints(in []r4.ElementDefinitionConstraint) []Constraint {
	out := make([]Constraint, 0, len(in))
	for _, c := range in {
		expr := deref(c.Expression)
		if expr == "" {
			continue
		}
		con := Constraint{
			Key:        deref(c.Key),
			Human:      deref(c.Human),
			Expression: expr,
		}
		if c.Severity != nil {
			con.Severity = string(*c.Severity)
		}
		out = append(out, con)
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
