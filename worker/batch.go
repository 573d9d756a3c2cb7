package worker

import (
	"context"
	"sync"
	"time"

	"github.com/gofhir/retrieve"
)

// FilterBatch tests every resource and returns the matches in input order.
// Unlike Filter it does not stop at the first predicate error: failures are
// collected in the result.
func (p *Pool) FilterBatch(ctx context.Context, resources []retrieve.Resource, pred retrieve.Predicate) *BatchResult {
	if len(resources) == 0 {
		return &BatchResult{Matched: make([]retrieve.Resource, 0)}
	}
	if pred == nil {
		return &BatchResult{TotalJobs: len(resources), Errors: []error{ErrNoPredicate}, FailedJobs: 1}
	}

	start := time.Now()
	var results []JobResult
	// For small batches, don't use parallelism
	if len(resources) <= 2 || p.workers == 1 {
		results = p.batchSequential(ctx, resources, pred)
	} else {
		results = p.batchParallel(ctx, resources, pred)
	}

	br := &BatchResult{
		Matched:       make([]retrieve.Resource, 0, len(resources)),
		TotalJobs:     len(resources),
		TotalDuration: time.Since(start),
	}
	for _, r := range results {
		if !r.done {
			continue
		}
		br.CompletedJobs++
		switch {
		case r.Err != nil:
			br.FailedJobs++
			br.Errors = append(br.Errors, r.Err)
		case r.Matched:
			br.Matched = append(br.Matched, r.Resource)
		}
	}
	return br
}

func (p *Pool) batchSequential(ctx context.Context, resources []retrieve.Resource, pred retrieve.Predicate) []JobResult {
	results := make([]JobResult, len(resources))
	for i, r := range resources {
		if ctx.Err() != nil {
			break
		}
		p.submitted.Add(1)
		results[i] = p.process(ctx, pred, Job{Seq: i, Resource: r})
	}
	return results
}

func (p *Pool) batchParallel(ctx context.Context, resources []retrieve.Resource, pred retrieve.Predicate) []JobResult {
	numWorkers := min(p.workers, len(resources))

	jobs := make(chan Job, len(resources))
	results := make([]JobResult, len(resources))

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for range numWorkers {
		go func() {
			defer wg.Done()
			for job := range jobs {
				if ctx.Err() != nil {
					return
				}
				// Each index is written by exactly one worker.
				results[job.Seq] = p.process(ctx, pred, job)
			}
		}()
	}

	for i, r := range resources {
		jobs <- Job{Seq: i, Resource: r}
		p.submitted.Add(1)
	}
	close(jobs)
	wg.Wait()
	return results
}
