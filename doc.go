// Package retrieve resolves CQL-style retrieval criteria against FHIR
// repositories.
//
// A Criterion names a resource type plus optional context, conformance,
// terminology and date constraints. For each constraint class the resolver
// decides whether it is pushed down to the repository as a search parameter
// or applied in process as a Predicate over the candidates the repository
// returns. Both halves of one resolution are used together: the pushed-down
// parameters narrow the single repository call and the predicate filters its
// result stream.
//
// # Quick Start
//
//	import (
//	    "github.com/gofhir/retrieve"
//	    "github.com/gofhir/retrieve/resolve"
//	    "github.com/gofhir/retrieve/searchparam"
//	)
//
//	r := resolve.New(
//	    resolve.WithCatalog(searchparam.Default()),
//	    resolve.WithTerminology(ts),
//	)
//
//	res, err := r.Resolve(ctx, retrieve.Criterion{
//	    DataType:     "Observation",
//	    ContextType:  "Patient",
//	    ContextPath:  "subject",
//	    ContextValue: "123",
//	    CodePath:     "code",
//	    ValueSetID:   "http://example.org/ValueSet/a1c",
//	}, retrieve.DefaultSettings())
//	if err != nil {
//	    return err
//	}
//	fmt.Println(res.Query.Encode().Encode())
//
// # Settings
//
// Settings are immutable and passed to every Resolve call:
//
//	s := retrieve.NewSettings(
//	    retrieve.WithFilterMode(retrieve.FilterRepository),
//	    retrieve.WithTerminologyMode(retrieve.TerminologyInMemory),
//	)
//
// FilterMode governs the conformance, context and date dimensions.
// TerminologyMode governs the terminology dimension on its own, including the
// shape of its push-down (expanded code list or ":in" membership).
//
// # Packages
//
//   - resolve: predicate engine, query parameter builder, policy selector
//   - engine: executes a resolution against a repository
//   - service: collaborator interfaces (repository, catalog, terminology, elements)
//   - element: element evaluator over decoded JSON resources
//   - searchparam: search-parameter catalog
//   - terminology: in-memory, cached and remote terminology services
//   - repository/memory, repository/fhirhttp, repository/postgres: repositories
package retrieve
