// Package memory is an in-process FHIR repository. It evaluates search
// parameters itself, so resolutions can be exercised end to end without a
// server.
package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gofhir/retrieve"
	"github.com/gofhir/retrieve/element"
	"github.com/gofhir/retrieve/searchparam"
	"github.com/gofhir/retrieve/service"
	"github.com/gofhir/retrieve/stream"
	"github.com/gofhir/retrieve/worker"
)

// Store holds resources by type. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	byType map[string][]retrieve.Resource
	index  map[string]map[string]int // type -> id -> position

	catalog service.SearchParameterLookup
	eval    service.ElementEvaluator
	ts      service.MembershipChecker
	pool    *worker.Pool
	log     zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithCatalog sets the catalog used to evaluate parameters. The default is
// searchparam.Default().
func WithCatalog(c service.SearchParameterLookup) Option {
	return func(s *Store) { s.catalog = c }
}

// WithTerminology enables the ":in" modifier.
func WithTerminology(ts service.MembershipChecker) Option {
	return func(s *Store) { s.ts = ts }
}

// WithWorkers scans with n goroutines per search.
func WithWorkers(n int) Option {
	return func(s *Store) {
		if n > 1 {
			s.pool = worker.NewPool(n)
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) {
		s.log = log.With().Str("component", "memory-store").Logger()
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		byType: make(map[string][]retrieve.Resource),
		index:  make(map[string]map[string]int),
		eval:   element.New(),
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.catalog == nil {
		s.catalog = searchparam.Default()
	}
	return s
}

// Add stores resources. A resource without an id gets a random one; a
// resource with the id of a stored one replaces it.
func (s *Store) Add(resources ...retrieve.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range resources {
		rt := r.ResourceType()
		if rt == "" {
			return errors.New("resource without resourceType")
		}
		if r.ID() == "" {
			r["id"] = uuid.NewString()
		}
		ids, ok := s.index[rt]
		if !ok {
			ids = make(map[string]int)
			s.index[rt] = ids
		}
		if pos, ok := ids[r.ID()]; ok {
			s.byType[rt][pos] = r
			continue
		}
		ids[r.ID()] = len(s.byType[rt])
		s.byType[rt] = append(s.byType[rt], r)
	}
	return nil
}

// Get returns the stored resource with the given type and id.
func (s *Store) Get(resourceType, id string) (retrieve.Resource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.index[resourceType][id]
	if !ok {
		return nil, false
	}
	return s.byType[resourceType][pos], true
}

// Count returns the number of stored resources of resourceType, or of all
// types when resourceType is "".
func (s *Store) Count(resourceType string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if resourceType != "" {
		return len(s.byType[resourceType])
	}
	n := 0
	for _, rs := range s.byType {
		n += len(rs)
	}
	return n
}

// LoadBundle adds every entry resource of a Bundle.
func (s *Store) LoadBundle(ctx context.Context, r io.Reader) (int, error) {
	n := 0
	for e, err := range stream.NewBundleReader(r).Entries(ctx) {
		if err != nil {
			return n, err
		}
		if e.Resource == nil {
			continue
		}
		if err := s.Add(e.Resource); err != nil {
			return n, fmt.Errorf("entry %d: %w", e.Index, err)
		}
		n++
	}
	s.log.Debug().Int("resources", n).Msg("bundle loaded")
	return n, nil
}

// LoadNDJSON adds every resource of an NDJSON stream.
func (s *Store) LoadNDJSON(ctx context.Context, r io.Reader) (int, error) {
	n := 0
	for res, err := range stream.NDJSON(ctx, r) {
		if err != nil {
			return n, err
		}
		if err := s.Add(res); err != nil {
			return n, fmt.Errorf("line %d: %w", n+1, err)
		}
		n++
	}
	s.log.Debug().Int("resources", n).Msg("ndjson loaded")
	return n, nil
}

// Search implements service.Searcher. Resources are yielded in insertion
// order. An unknown parameter fails the search before any resource.
func (s *Store) Search(ctx context.Context, resourceType string, q *retrieve.QueryParameterSet) iter.Seq2[retrieve.Resource, error] {
	return func(yield func(retrieve.Resource, error) bool) {
		pred, err := s.compile(resourceType, q)
		if err != nil {
			yield(nil, err)
			return
		}

		s.mu.RLock()
		candidates := make([]retrieve.Resource, len(s.byType[resourceType]))
		copy(candidates, s.byType[resourceType])
		s.mu.RUnlock()

		s.log.Debug().
			Str("type", resourceType).
			Str("query", q.String()).
			Int("candidates", len(candidates)).
			Msg("search")

		if s.pool != nil {
			br := s.pool.FilterBatch(ctx, candidates, pred)
			if err := br.Err(); err != nil {
				yield(nil, err)
				return
			}
			for _, r := range br.Matched {
				if !yield(r, nil) {
					return
				}
			}
			if err := ctx.Err(); err != nil {
				yield(nil, err)
			}
			return
		}

		for _, r := range candidates {
			if err := ctx.Err(); err != nil {
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

// DeclaresSupport implements service.CapabilityChecker: every parameter the
// catalog knows for resourceType, and ":in" on token parameters when a
// terminology service is configured.
func (s *Store) DeclaresSupport(_ context.Context, resourceType, param string) bool {
	name, modifier, _ := strings.Cut(param, ":")
	p, ok := s.lookup(resourceType, name)
	if !ok {
		return false
	}
	switch modifier {
	case "":
		return true
	case retrieve.ModifierIn:
		return s.ts != nil && p.Type == service.SearchParamToken
	default:
		return false
	}
}

func (s *Store) lookup(resourceType, name string) (service.SearchParameter, bool) {
	switch name {
	case service.ParamID:
		return service.SearchParameter{Name: name, Type: service.SearchParamToken, Path: "id"}, true
	case service.ParamProfile:
		return service.SearchParameter{Name: name, Type: service.SearchParamURI, Path: "meta.profile"}, true
	}
	return s.catalog.Lookup(resourceType, name)
}

var _ service.Repository = (*Store)(nil)
