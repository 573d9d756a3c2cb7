// Package engine runs retrievals: it resolves a criterion, issues the single
// repository search and applies the residual predicate to the results.
package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gofhir/retrieve"
	"github.com/gofhir/retrieve/service"
	"github.com/gofhir/retrieve/worker"
)

// Resolver turns a criterion into a query and predicate.
type Resolver interface {
	Resolve(ctx context.Context, c retrieve.Criterion, s retrieve.Settings) (*retrieve.Resolution, error)
}

// Engine executes retrievals against one repository. It is safe for
// concurrent use.
type Engine struct {
	resolver Resolver
	repo     service.Searcher
	settings retrieve.Settings
	pool     *worker.Pool
	metrics  *retrieve.Metrics
	log      zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithSettings sets the settings used by Retrieve.
func WithSettings(s retrieve.Settings) Option {
	return func(e *Engine) { e.settings = s }
}

// WithWorkers evaluates predicates with n goroutines. Results then arrive
// in no particular order.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 1 {
			e.pool = worker.NewPool(n)
		}
	}
}

// WithMetrics records candidate counts in m.
func WithMetrics(m *retrieve.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the engine logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) {
		e.log = log.With().Str("component", "engine").Logger()
	}
}

// New creates an engine.
func New(resolver Resolver, repo service.Searcher, opts ...Option) (*Engine, error) {
	if resolver == nil {
		return nil, fmt.Errorf("%w: resolver", retrieve.ErrMissingCollaborator)
	}
	if repo == nil {
		return nil, fmt.Errorf("%w: repository", retrieve.ErrMissingCollaborator)
	}
	e := &Engine{
		resolver: resolver,
		repo:     repo,
		settings: retrieve.DefaultSettings(),
		metrics:  retrieve.NewMetrics(),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.settings.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Settings returns the engine's default settings.
func (e *Engine) Settings() retrieve.Settings {
	return e.settings
}

// Metrics returns the engine's metrics.
func (e *Engine) Metrics() *retrieve.Metrics {
	return e.metrics
}

// Plan resolves c with the engine's settings without searching.
func (e *Engine) Plan(ctx context.Context, c retrieve.Criterion) (*retrieve.Resolution, error) {
	return e.resolver.Resolve(ctx, c, e.settings)
}

// Retrieve returns the resources matching c under the engine's settings.
func (e *Engine) Retrieve(ctx context.Context, c retrieve.Criterion) iter.Seq2[retrieve.Resource, error] {
	return e.RetrieveWith(ctx, c, e.settings)
}

// RetrieveWith is Retrieve with per-call settings. A resolution failure is
// yielded as the only element. The repository is searched once, lazily, as
// the sequence is ranged over.
func (e *Engine) RetrieveWith(ctx context.Context, c retrieve.Criterion, s retrieve.Settings) iter.Seq2[retrieve.Resource, error] {
	return func(yield func(retrieve.Resource, error) bool) {
		log := e.log.With().Str("retrieval", uuid.NewString()).Str("type", c.DataType).Logger()
		start := time.Now()

		res, err := e.resolver.Resolve(ctx, c, s)
		if err != nil {
			log.Error().Err(err).Msg("resolution failed")
			yield(nil, fmt.Errorf("resolve %s: %w", c.DataType, err))
			return
		}
		log.Debug().
			Stringer("plan", res.Plan).
			Str("query", res.Query.String()).
			Bool("filtered", res.IsFiltered()).
			Msg("resolved")

		var scanned, matched int
		pred := func(ctx context.Context, r retrieve.Resource) (bool, error) {
			ok, err := res.Predicate(ctx, r)
			if err == nil {
				e.metrics.RecordCandidate(ok)
			}
			return ok, err
		}
		if !res.IsFiltered() {
			pred = func(context.Context, retrieve.Resource) (bool, error) {
				e.metrics.RecordCandidate(true)
				return true, nil
			}
		}

		candidates := e.repo.Search(ctx, c.DataType, res.Query)
		counted := func(yield func(retrieve.Resource, error) bool) {
			for r, err := range candidates {
				if err == nil {
					scanned++
				}
				if !yield(r, err) {
					return
				}
			}
		}

		defer func() {
			log.Debug().
				Int("scanned", scanned).
				Int("matched", matched).
				Dur("duration", time.Since(start)).
				Msg("retrieval finished")
		}()

		for r, err := range e.filter(ctx, counted, pred) {
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Error().Err(err).Msg("retrieval failed")
				}
				yield(nil, err)
				return
			}
			matched++
			if !yield(r, nil) {
				return
			}
		}
	}
}

func (e *Engine) filter(ctx context.Context, candidates iter.Seq2[retrieve.Resource, error], pred retrieve.Predicate) iter.Seq2[retrieve.Resource, error] {
	if e.pool != nil {
		return e.pool.Filter(ctx, candidates, pred)
	}
	return func(yield func(retrieve.Resource, error) bool) {
		for r, err := range candidates {
			if err != nil {
				yield(nil, err)
				return
			}
			ok, err := pred(ctx, r)
			if err != nil {
				yield(nil, err)
				return
			}
			if ok && !yield(r, nil) {
				return
			}
		}
	}
}

// Collect drains seq into a slice, stopping at the first error.
func Collect(seq iter.Seq2[retrieve.Resource, error]) ([]retrieve.Resource, error) {
	var out []retrieve.Resource
	for r, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}
