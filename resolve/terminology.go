package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofhir/retrieve"
	"github.com/gofhir/retrieve/pkg/reference"
	"github.com/gofhir/retrieve/service"
)

// Extensions that record the value set of a coded element whose action was
// not done.
const (
	NotDoneValueSetCQF    = "http://hl7.org/fhir/StructureDefinition/cqf-notDoneValueSet"
	NotDoneValueSetQICore = "http://hl7.org/fhir/us/qicore/StructureDefinition/qicore-notDoneValueSet"
)

// Shape is the push-down form of a value set constraint.
type Shape int

const (
	// ShapeInline expands the value set and sends its codes.
	ShapeInline Shape = iota
	// ShapeMembership sends the value set reference with the ":in" modifier.
	ShapeMembership
)

func (s Shape) String() string {
	if s == ShapeMembership {
		return "membership"
	}
	return "inline"
}

// TerminologyResolver tests coded elements against a code list or value set
// and renders the same constraint as query parameters.
type TerminologyResolver struct {
	eval service.ElementEvaluator
	ts   service.TerminologyService
}

// NewTerminologyResolver creates a resolver. ts may be nil when only
// explicit code lists are used.
func NewTerminologyResolver(eval service.ElementEvaluator, ts service.TerminologyService) *TerminologyResolver {
	return &TerminologyResolver{eval: eval, ts: ts}
}

// Predicate matches resources whose element at codePath satisfies the
// constraint. A blank codePath or an empty constraint yields Always.
func (t *TerminologyResolver) Predicate(codePath string, codes []retrieve.Code, valueSetID string) retrieve.Predicate {
	if strings.TrimSpace(codePath) == "" || (len(codes) == 0 && valueSetID == "") {
		return retrieve.Always
	}
	return func(ctx context.Context, r retrieve.Resource) (bool, error) {
		values, err := t.eval.EvaluateAll(r, codePath)
		if err != nil {
			return false, fmt.Errorf("evaluate code path %q: %w", codePath, err)
		}
		return t.Matches(ctx, values, codes, valueSetID)
	}
}

// Matches reports whether values satisfy the constraint. Rules, first
// applicable wins:
//
//  1. Identifier as code: a single primitive or reference is compared with
//     the bare code strings. A primitive not among them is still tested
//     against the value set as a code without system.
//  2. Not done: a single composite carrying a not-done value set extension
//     matches iff that value set is valueSetID.
//  3. Codings: any extracted system|code equal to a listed code, or a member
//     of the value set per the terminology service.
func (t *TerminologyResolver) Matches(ctx context.Context, values []service.ElementValue, codes []retrieve.Code, valueSetID string) (bool, error) {
	if len(codes) == 0 && valueSetID == "" {
		return true, nil
	}

	if len(values) == 1 {
		switch v := values[0].(type) {
		case service.Primitive:
			if matchesIdentifier(v.Value, codes) {
				return true, nil
			}
			if valueSetID == "" || v.Value == "" {
				return false, nil
			}
			return t.isMember(ctx, retrieve.Code{Code: v.Value}, valueSetID)
		case service.Reference:
			return matchesIdentifier(v.Reference, codes), nil
		case service.Composite:
			if vs, ok := notDoneValueSet(v.Fields); ok {
				return vs == valueSetID, nil
			}
		}
	}

	pairs := extractCodes(values)
	for _, p := range pairs {
		if p.System == "" || p.Code == "" {
			continue
		}
		for _, c := range codes {
			if p == c {
				return true, nil
			}
		}
	}
	if valueSetID == "" {
		return false, nil
	}
	for _, p := range pairs {
		ok, err := t.isMember(ctx, p, valueSetID)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (t *TerminologyResolver) isMember(ctx context.Context, code retrieve.Code, valueSetID string) (bool, error) {
	if t.ts == nil {
		return false, fmt.Errorf("%w: terminology service required for value set %s", retrieve.ErrMissingCollaborator, valueSetID)
	}
	ok, err := t.ts.IsMember(ctx, code, valueSetID)
	if err != nil {
		return false, fmt.Errorf("membership of %s in %s: %w", code, valueSetID, err)
	}
	return ok, nil
}

// Pushdown renders the constraint as parameters for param:
//   - a value set with ShapeInline: its expansion plus any listed codes, as
//     alternatives of one parameter;
//   - a value set with ShapeMembership: a single param:in token;
//   - listed codes only: one code token each, in order.
//
// An empty constraint yields an empty set.
func (t *TerminologyResolver) Pushdown(ctx context.Context, param string, codes []retrieve.Code, valueSetID string, shape Shape) (*retrieve.QueryParameterSet, error) {
	q := retrieve.NewQueryParameterSet()
	switch {
	case valueSetID != "" && shape == ShapeInline:
		if t.ts == nil {
			return nil, fmt.Errorf("%w: terminology service required to expand %s", retrieve.ErrMissingCollaborator, valueSetID)
		}
		expanded, err := t.ts.Expand(ctx, valueSetID)
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", valueSetID, err)
		}
		for _, c := range expanded {
			q.Add(param, retrieve.CodeToken(c))
		}
		if q.IsEmpty() {
			return q, nil
		}
		for _, c := range codes {
			q.Add(param, retrieve.CodeToken(c))
		}
	case valueSetID != "":
		q.Add(param, retrieve.MembershipToken(valueSetID))
	default:
		for _, c := range codes {
			q.Add(param, retrieve.CodeToken(c))
		}
	}
	return q, nil
}

func matchesIdentifier(value string, codes []retrieve.Code) bool {
	if value == "" {
		return false
	}
	for _, c := range codes {
		if reference.Equal(value, c.Code) {
			return true
		}
	}
	return false
}

// notDoneValueSet returns the value set URI of a not-done extension.
func notDoneValueSet(fields map[string]any) (string, bool) {
	exts, _ := fields["extension"].([]any)
	for _, raw := range exts {
		ext, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if url, _ := ext["url"].(string); url != NotDoneValueSetCQF && url != NotDoneValueSetQICore {
			continue
		}
		for _, key := range []string{"valueCanonical", "valueUri", "valueString"} {
			if vs, ok := ext[key].(string); ok {
				return vs, true
			}
		}
	}
	return "", false
}

// extractCodes collects the codings of CodeableConcepts and Codings.
// Primitives count as codes without system.
func extractCodes(values []service.ElementValue) []retrieve.Code {
	var out []retrieve.Code
	for _, v := range values {
		switch v := v.(type) {
		case service.Primitive:
			if v.Value != "" {
				out = append(out, retrieve.Code{Code: v.Value})
			}
		case service.Composite:
			if codings, ok := v.Fields["coding"].([]any); ok {
				for _, raw := range codings {
					if m, ok := raw.(map[string]any); ok {
						out = appendCoding(out, m)
					}
				}
				continue
			}
			out = appendCoding(out, v.Fields)
		}
	}
	return out
}

func appendCoding(out []retrieve.Code, m map[string]any) []retrieve.Code {
	code, _ := m["code"].(string)
	if code == "" {
		return out
	}
	system, _ := m["system"].(string)
	return append(out, retrieve.Code{System: system, Code: code})
}
