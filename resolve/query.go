package resolve

import (
	"strings"

	"github.com/gofhir/retrieve"
	"github.com/gofhir/retrieve/pkg/reference"
	"github.com/gofhir/retrieve/service"
)

// ConformanceQuery returns _profile=templateID, or an empty set when the
// template does not constrain dataType under mode.
func ConformanceQuery(dataType, templateID string, mode retrieve.ConformanceMode) *retrieve.QueryParameterSet {
	q := retrieve.NewQueryParameterSet()
	if conformanceApplies(dataType, templateID, mode) {
		q.Add(service.ParamProfile, retrieve.EqualityToken(strings.TrimSpace(templateID)))
	}
	return q
}

// ContextQuery binds the context entity to param. The self identity
// parameter takes the normalized id; any other parameter takes the
// reference contextType/id.
func ContextQuery(param service.SearchParameter, contextType, contextValue string) *retrieve.QueryParameterSet {
	q := retrieve.NewQueryParameterSet()
	if contextValue == "" {
		return q
	}
	id := reference.Normalize(contextValue)
	if param.IsSelfIdentity() {
		q.Add(param.Name, retrieve.IdentifierToken(id))
		return q
	}
	q.Add(param.Name, retrieve.ReferenceToken(contextType, id))
	return q
}

// DateQuery emits "ge start" on lowParam and "le end" on highParam. A blank
// parameter or a zero bound emits nothing for that side. For a single date
// path both parameters are the same.
func DateQuery(lowParam, highParam string, rng retrieve.DateRange) *retrieve.QueryParameterSet {
	q := retrieve.NewQueryParameterSet()
	if lowParam != "" && !rng.Start.IsZero() {
		q.Add(lowParam, retrieve.RangeToken(retrieve.PrefixGE, rng.Start))
	}
	if highParam != "" && !rng.End.IsZero() {
		q.Add(highParam, retrieve.RangeToken(retrieve.PrefixLE, rng.End))
	}
	return q
}

// dateParams resolves the parameter names of the date constraint of c.
// Paths the catalog does not know are used as names; resolved reports
// whether every needed name came from the catalog.
func dateParams(catalog service.SearchParameterCatalog, c retrieve.Criterion) (low, high string, resolved bool) {
	resolved = true
	name := func(path string) string {
		if path == "" {
			return ""
		}
		if catalog != nil {
			if p, ok := catalog.ResolveOfType(c.DataType, path, service.SearchParamDate); ok {
				return p.Name
			}
		}
		resolved = false
		return path
	}
	if c.DatePath != "" {
		p := name(c.DatePath)
		return p, p, resolved
	}
	low = name(c.DateLowPath)
	high = name(c.DateHighPath)
	return low, high, resolved
}
