package worker

import (
	"context"
	"errors"
	"iter"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofhir/retrieve"
)

func candidates(n int) iter.Seq2[retrieve.Resource, error] {
	return func(yield func(retrieve.Resource, error) bool) {
		for i := range n {
			if !yield(retrieve.Resource{"resourceType": "Observation", "n": float64(i)}, nil) {
				return
			}
		}
	}
}

func even(_ context.Context, r retrieve.Resource) (bool, error) {
	return int(r["n"].(float64))%2 == 0, nil
}

func collect(t *testing.T, seq iter.Seq2[retrieve.Resource, error]) ([]int, error) {
	t.Helper()
	var out []int
	for r, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, int(r["n"].(float64)))
	}
	return out, nil
}

func TestPool_DefaultWorkers(t *testing.T) {
	if p := NewPool(0); p.Workers() <= 0 {
		t.Errorf("Workers() = %d; want > 0", p.Workers())
	}
	if p := NewPool(3); p.Workers() != 3 {
		t.Errorf("Workers() = %d; want 3", p.Workers())
	}
}

func TestPool_Filter(t *testing.T) {
	for _, workers := range []int{1, 4} {
		pool := NewPool(workers)
		got, err := collect(t, pool.Filter(context.Background(), candidates(20), even))
		if err != nil {
			t.Fatalf("workers=%d: error = %v", workers, err)
		}
		sort.Ints(got)
		if len(got) != 10 || got[0] != 0 || got[9] != 18 {
			t.Errorf("workers=%d: got %v; want the 10 even numbers", workers, got)
		}

		stats := pool.Stats()
		if stats.Submitted != 20 || stats.Matched != 10 || stats.Rejected != 10 || stats.Errors != 0 {
			t.Errorf("workers=%d: stats = %+v", workers, stats)
		}
	}
}

func TestPool_SequentialKeepsOrder(t *testing.T) {
	got, err := collect(t, NewPool(1).Filter(context.Background(), candidates(6), even))
	if err != nil {
		t.Fatal(err)
	}
	want := []int{0, 2, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v; want %v", got, want)
		}
	}
}

func TestPool_PredicateError(t *testing.T) {
	boom := errors.New("boom")
	pred := func(_ context.Context, r retrieve.Resource) (bool, error) {
		if r["n"].(float64) == 3 {
			return false, boom
		}
		return true, nil
	}
	for _, workers := range []int{1, 4} {
		_, err := collect(t, NewPool(workers).Filter(context.Background(), candidates(50), pred))
		if !errors.Is(err, boom) {
			t.Errorf("workers=%d: error = %v; want boom", workers, err)
		}
	}
}

func TestPool_UpstreamError(t *testing.T) {
	upstream := errors.New("page 2 failed")
	seq := func(yield func(retrieve.Resource, error) bool) {
		if !yield(retrieve.Resource{"n": float64(0)}, nil) {
			return
		}
		yield(nil, upstream)
	}
	for _, workers := range []int{1, 4} {
		_, err := collect(t, NewPool(workers).Filter(context.Background(), seq, even))
		if !errors.Is(err, upstream) {
			t.Errorf("workers=%d: error = %v; want upstream error", workers, err)
		}
	}
}

func TestPool_EarlyBreak(t *testing.T) {
	var produced atomic.Int32
	seq := func(yield func(retrieve.Resource, error) bool) {
		for i := 0; ; i++ {
			produced.Add(1)
			if !yield(retrieve.Resource{"n": float64(i)}, nil) {
				return
			}
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		n := 0
		for _, err := range NewPool(4).Filter(context.Background(), seq, even) {
			if err != nil {
				t.Errorf("error = %v", err)
				return
			}
			n++
			if n == 3 {
				break
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Filter did not stop after break")
	}
	if produced.Load() == 0 {
		t.Error("expected candidates to be consumed")
	}
}

func TestPool_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, workers := range []int{1, 4} {
		_, err := collect(t, NewPool(workers).Filter(ctx, candidates(10), even))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("workers=%d: error = %v; want context.Canceled", workers, err)
		}
	}
}

func TestPool_NilPredicate(t *testing.T) {
	for _, workers := range []int{1, 2} {
		_, err := collect(t, NewPool(workers).Filter(context.Background(), candidates(1), nil))
		if !errors.Is(err, ErrNoPredicate) {
			t.Errorf("workers=%d: error = %v; want ErrNoPredicate", workers, err)
		}
	}
}

func TestPool_FilterBatch(t *testing.T) {
	resources := make([]retrieve.Resource, 10)
	for i := range resources {
		resources[i] = retrieve.Resource{"n": float64(i)}
	}

	br := NewPool(4).FilterBatch(context.Background(), resources, even)
	if br.TotalJobs != 10 || br.CompletedJobs != 10 {
		t.Errorf("TotalJobs = %d, CompletedJobs = %d; want 10, 10", br.TotalJobs, br.CompletedJobs)
	}
	if len(br.Matched) != 5 {
		t.Fatalf("Matched = %d; want 5", len(br.Matched))
	}
	for i, r := range br.Matched {
		if r["n"].(float64) != float64(2*i) {
			t.Errorf("Matched[%d] = %v; want input order", i, r["n"])
		}
	}
	if br.HasErrors() || br.Err() != nil {
		t.Errorf("unexpected errors: %v", br.Errors)
	}
}

func TestPool_FilterBatchErrors(t *testing.T) {
	boom := errors.New("boom")
	pred := func(_ context.Context, r retrieve.Resource) (bool, error) {
		if r["n"].(float64) == 1 {
			return false, boom
		}
		return true, nil
	}
	resources := []retrieve.Resource{{"n": float64(0)}, {"n": float64(1)}, {"n": float64(2)}}

	br := NewPool(2).FilterBatch(context.Background(), resources, pred)
	if br.FailedJobs != 1 || !errors.Is(br.Err(), boom) {
		t.Errorf("FailedJobs = %d, Err = %v; want 1, boom", br.FailedJobs, br.Err())
	}
	if len(br.Matched) != 2 {
		t.Errorf("Matched = %d; want 2", len(br.Matched))
	}

	empty := NewPool(2).FilterBatch(context.Background(), nil, pred)
	if empty.TotalJobs != 0 || len(empty.Matched) != 0 {
		t.Errorf("empty batch = %+v", empty)
	}
}
