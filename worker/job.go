package worker

import (
	"time"

	"github.com/gofhir/retrieve"
)

// Job is one candidate handed to a worker.
type Job struct {
	// Seq is the position of the candidate in its input sequence.
	Seq int

	// Resource is the candidate to test.
	Resource retrieve.Resource

	// Err is an error the input sequence yielded in place of a resource.
	Err error
}

// JobResult is the outcome of testing one candidate.
type JobResult struct {
	// Seq matches the Job.Seq that produced this result.
	Seq int

	Resource retrieve.Resource

	// Matched reports whether the predicate held.
	Matched bool

	// Err is the predicate error or the upstream error of the job.
	Err error

	Duration time.Duration

	done bool
}

// BatchResult aggregates the results of filtering a slice.
type BatchResult struct {
	// Matched holds the matching resources in input order.
	Matched []retrieve.Resource

	// TotalJobs is the number of candidates submitted.
	TotalJobs int

	// CompletedJobs is the number of candidates evaluated (including errors).
	CompletedJobs int

	// FailedJobs is the number of candidates whose predicate failed.
	FailedJobs int

	// Errors holds the predicate errors in input order.
	Errors []error

	TotalDuration time.Duration
}

// HasErrors reports whether any predicate failed.
func (br *BatchResult) HasErrors() bool {
	return br.FailedJobs > 0
}

// Err returns the first predicate error, or nil.
func (br *BatchResult) Err() error {
	if len(br.Errors) == 0 {
		return nil
	}
	return br.Errors[0]
}
