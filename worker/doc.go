// Package worker applies retrieval predicates to candidate resources in
// parallel.
//
// A repository search yields candidates lazily; the pool tests them on a
// fixed number of goroutines and yields the matches as they are found:
//
//	pool := worker.NewPool(4)
//	for r, err := range pool.Filter(ctx, repo.Search(ctx, "Observation", q), res.Predicate) {
//	    if err != nil {
//	        // Handle error
//	    }
//	    // Process r
//	}
//
// FilterBatch does the same over a slice and keeps input order.
package worker
