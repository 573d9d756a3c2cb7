package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofhir/retrieve"
	"github.com/gofhir/retrieve/pkg/fhirtime"
	"github.com/gofhir/retrieve/pkg/reference"
	"github.com/gofhir/retrieve/service"
)

// compile turns q into one predicate. Keys are ANDed; non-range tokens
// under one key are alternatives and range tokens under one key all hold.
func (s *Store) compile(resourceType string, q *retrieve.QueryParameterSet) (retrieve.Predicate, error) {
	var preds []retrieve.Predicate
	for _, key := range q.Names() {
		name, modifier, _ := strings.Cut(key, ":")
		p, ok := s.lookup(resourceType, name)
		if !ok {
			return nil, fmt.Errorf("unsupported search parameter %s on %s", key, resourceType)
		}
		if modifier != "" && modifier != retrieve.ModifierIn {
			return nil, fmt.Errorf("unsupported modifier %s on %s", key, resourceType)
		}
		if modifier == retrieve.ModifierIn && s.ts == nil {
			return nil, fmt.Errorf("%w: terminology service required for %s", retrieve.ErrMissingCollaborator, key)
		}
		preds = append(preds, s.param(p, q.Tokens(key)))
	}
	return retrieve.And(preds...), nil
}

func (s *Store) param(p service.SearchParameter, tokens []retrieve.Token) retrieve.Predicate {
	var ranges, alternatives []retrieve.Token
	for _, tok := range tokens {
		if tok.Kind == retrieve.TokenRange {
			ranges = append(ranges, tok)
		} else {
			alternatives = append(alternatives, tok)
		}
	}

	return func(ctx context.Context, r retrieve.Resource) (bool, error) {
		values, err := s.eval.EvaluateAll(r, p.Path)
		if err != nil {
			return false, fmt.Errorf("evaluate %s: %w", p.Path, err)
		}
		for _, tok := range ranges {
			if !matchRange(values, tok) {
				return false, nil
			}
		}
		if len(alternatives) == 0 {
			return true, nil
		}
		for _, tok := range alternatives {
			ok, err := s.match(ctx, values, tok)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	}
}

func (s *Store) match(ctx context.Context, values []service.ElementValue, tok retrieve.Token) (bool, error) {
	switch tok.Kind {
	case retrieve.TokenEquality, retrieve.TokenIdentifier:
		for _, v := range values {
			if p, ok := v.(service.Primitive); ok && p.Value == tok.Value {
				return true, nil
			}
		}
	case retrieve.TokenReference:
		for _, v := range values {
			if ref := referenceOf(v); ref != "" && sameReference(ref, tok.Value) {
				return true, nil
			}
		}
	case retrieve.TokenCode:
		for _, c := range codings(values) {
			if c.Code == tok.Value && (tok.System == "" || c.System == tok.System) {
				return true, nil
			}
		}
	case retrieve.TokenMembership:
		for _, c := range codings(values) {
			ok, err := s.ts.IsMember(ctx, c, tok.Value)
			if err != nil {
				return false, fmt.Errorf("membership of %s in %s: %w", c, tok.Value, err)
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}

// sameReference compares the ids of two references and, when both carry
// one, their types.
func sameReference(a, b string) bool {
	if !reference.Equal(a, b) {
		return false
	}
	ta, tb := reference.ResourceType(a), reference.ResourceType(b)
	return ta == "" || tb == "" || ta == tb
}

func referenceOf(v service.ElementValue) string {
	switch v := v.(type) {
	case service.Reference:
		return v.Reference
	case service.Primitive:
		return v.Value
	case service.Composite:
		s, _ := v.Fields["reference"].(string)
		return s
	}
	return ""
}

func codings(values []service.ElementValue) []retrieve.Code {
	var out []retrieve.Code
	add := func(m map[string]any) {
		code, _ := m["code"].(string)
		if code == "" {
			return
		}
		system, _ := m["system"].(string)
		out = append(out, retrieve.Code{System: system, Code: code})
	}
	for _, v := range values {
		switch v := v.(type) {
		case service.Primitive:
			out = append(out, retrieve.Code{Code: v.Value})
		case service.Composite:
			if list, ok := v.Fields["coding"].([]any); ok {
				for _, raw := range list {
					if m, ok := raw.(map[string]any); ok {
						add(m)
					}
				}
				continue
			}
			add(v.Fields)
		}
	}
	return out
}

// matchRange reports whether any date value satisfies a ge or le token.
func matchRange(values []service.ElementValue, tok retrieve.Token) bool {
	bound, err := fhirtime.Parse(tok.Value)
	if err != nil {
		return false
	}
	for _, v := range values {
		iv, ok := intervalOf(v)
		if !ok {
			continue
		}
		switch tok.Prefix {
		case retrieve.PrefixGE:
			if iv.EndsAtOrAfter(bound.Start) {
				return true
			}
		case retrieve.PrefixLE:
			if iv.StartsAtOrBefore(bound.End) {
				return true
			}
		}
	}
	return false
}

func intervalOf(v service.ElementValue) (fhirtime.Interval, bool) {
	var (
		iv  fhirtime.Interval
		err error
	)
	switch v := v.(type) {
	case service.Primitive:
		iv, err = fhirtime.Parse(v.Value)
	case service.Composite:
		start, _ := v.Fields["start"].(string)
		end, _ := v.Fields["end"].(string)
		if start == "" && end == "" {
			return iv, false
		}
		iv, err = fhirtime.ParsePeriod(start, end)
	default:
		return iv, false
	}
	return iv, err == nil
}
