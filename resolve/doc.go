// Package resolve decides, per constraint of a retrieval criterion, whether
// the repository evaluates it as a search parameter or the caller filters
// the results in memory, and builds both forms.
//
// A Resolution combines the two: its Query goes to one repository search and
// its Predicate is applied to every resource that search returns.
//
//	r := resolve.New(
//		resolve.WithCatalog(searchparam.Default()),
//		resolve.WithTerminology(ts),
//		resolve.WithCapabilities(repo),
//	)
//	res, err := r.Resolve(ctx, criterion, retrieve.DefaultSettings())
//	if err != nil {
//		return err
//	}
//	for resource, err := range repo.Search(ctx, criterion.DataType, res.Query) {
//		...
//		ok, err := res.Predicate(ctx, resource)
//	}
//
// The predicate builders (ConformancePredicate, ContextPredicate,
// DatePredicate, TerminologyResolver.Predicate) and the query builders
// (ConformanceQuery, ContextQuery, DateQuery, TerminologyResolver.Pushdown)
// are exported so each dimension can be used and tested alone.
package resolve
