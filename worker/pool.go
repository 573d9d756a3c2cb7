package worker

import (
	"context"
	"iter"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofhir/retrieve"
)

// Pool applies predicates to candidate resources with a fixed number of
// goroutines. A Pool holds no per-call state; one Pool may serve many
// concurrent Filter calls and its counters cover all of them.
type Pool struct {
	workers int

	// Metrics
	submitted     atomic.Uint64
	matched       atomic.Uint64
	rejected      atomic.Uint64
	failed        atomic.Uint64
	totalDuration atomic.Uint64
}

// NewPool creates a pool with the specified number of workers.
// If workers <= 0, it defaults to runtime.NumCPU().
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{workers: workers}
}

// Workers returns the number of goroutines per Filter call.
func (p *Pool) Workers() int {
	return p.workers
}

// Filter yields the candidates for which pred holds. With more than one
// worker the output order is unspecified.
//
// Iteration stops at the first error, whether yielded by candidates or
// returned by pred, which is yielded with a nil resource. When ctx is
// cancelled the sequence ends with ctx.Err(). candidates is consumed from a
// separate goroutine; Filter returns only after that goroutine has stopped,
// so candidates should honor the context it was created with.
func (p *Pool) Filter(ctx context.Context, candidates iter.Seq2[retrieve.Resource, error], pred retrieve.Predicate) iter.Seq2[retrieve.Resource, error] {
	if p.workers == 1 {
		return p.sequential(ctx, candidates, pred)
	}
	return func(yield func(retrieve.Resource, error) bool) {
		if pred == nil {
			yield(nil, ErrNoPredicate)
			return
		}
		inner, cancel := context.WithCancel(ctx)
		defer cancel()

		jobs := make(chan Job, p.workers*2)
		results := make(chan JobResult, p.workers*2)
		produced := make(chan struct{})

		go p.produce(inner, candidates, jobs, produced)

		var wg sync.WaitGroup
		wg.Add(p.workers)
		for range p.workers {
			go p.worker(inner, pred, jobs, results, &wg)
		}
		go func() {
			wg.Wait()
			close(results)
		}()

		stop := func() {
			cancel()
			for range results {
			}
			<-produced
		}

		for res := range results {
			if res.Err != nil {
				stop()
				yield(nil, res.Err)
				return
			}
			if !res.Matched {
				continue
			}
			if !yield(res.Resource, nil) {
				stop()
				return
			}
		}
		<-produced
		if err := ctx.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// sequential filters on the calling goroutine and keeps input order.
func (p *Pool) sequential(ctx context.Context, candidates iter.Seq2[retrieve.Resource, error], pred retrieve.Predicate) iter.Seq2[retrieve.Resource, error] {
	return func(yield func(retrieve.Resource, error) bool) {
		if pred == nil {
			yield(nil, ErrNoPredicate)
			return
		}
		seq := 0
		for r, err := range candidates {
			if ctxErr := ctx.Err(); ctxErr != nil {
				yield(nil, ctxErr)
				return
			}
			p.submitted.Add(1)
			res := p.process(ctx, pred, Job{Seq: seq, Resource: r, Err: err})
			seq++
			if res.Err != nil {
				yield(nil, res.Err)
				return
			}
			if res.Matched && !yield(res.Resource, nil) {
				return
			}
		}
	}
}

func (p *Pool) produce(ctx context.Context, candidates iter.Seq2[retrieve.Resource, error], jobs chan<- Job, done chan<- struct{}) {
	defer close(done)
	defer close(jobs)

	seq := 0
	for r, err := range candidates {
		select {
		case <-ctx.Done():
			return
		case jobs <- Job{Seq: seq, Resource: r, Err: err}:
			p.submitted.Add(1)
		}
		seq++
		if err != nil {
			return
		}
	}
}

func (p *Pool) worker(ctx context.Context, pred retrieve.Predicate, jobs <-chan Job, results chan<- JobResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for job := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result := p.process(ctx, pred, job)

		select {
		case <-ctx.Done():
			return
		case results <- result:
		}
	}
}

func (p *Pool) process(ctx context.Context, pred retrieve.Predicate, job Job) JobResult {
	start := time.Now()
	result := JobResult{Seq: job.Seq, Resource: job.Resource, done: true}

	switch {
	case job.Err != nil:
		result.Err = job.Err
	default:
		result.Matched, result.Err = pred(ctx, job.Resource)
	}

	result.Duration = time.Since(start)
	p.totalDuration.Add(uint64(result.Duration))
	switch {
	case result.Err != nil:
		p.failed.Add(1)
	case result.Matched:
		p.matched.Add(1)
	default:
		p.rejected.Add(1)
	}
	return result
}

// Stats returns current pool statistics.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:     p.workers,
		Submitted:   p.submitted.Load(),
		Matched:     p.matched.Load(),
		Rejected:    p.rejected.Load(),
		Errors:      p.failed.Load(),
		AvgDuration: p.averageDuration(),
	}
}

// PoolStats contains pool statistics.
type PoolStats struct {
	Workers     int
	Submitted   uint64
	Matched     uint64
	Rejected    uint64
	Errors      uint64
	AvgDuration time.Duration
}

func (p *Pool) averageDuration() time.Duration {
	completed := p.matched.Load() + p.rejected.Load() + p.failed.Load()
	if completed == 0 {
		return 0
	}
	return time.Duration(p.totalDuration.Load() / completed)
}

// ErrNoPredicate is returned when Filter is called without a predicate.
var ErrNoPredicate = poolError("no predicate configured")

type poolError string

func (e poolError) Error() string {
	return string(e)
}
