// Package postgres is a FHIR repository over a PostgreSQL table of JSONB
// resources. Search parameters are translated into SQL/JSON path predicates
// so filtering runs in the database.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/gofhir/retrieve"
	"github.com/gofhir/retrieve/searchparam"
	"github.com/gofhir/retrieve/service"
)

// DefaultTable is the table searched when none is configured.
const DefaultTable = "resources"

// Querier is the subset of *pgxpool.Pool the store uses.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a PostgreSQL-backed repository.
type Store struct {
	db      Querier
	pool    *pgxpool.Pool
	table   string
	catalog service.SearchParameterLookup
	log     zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTable sets the resources table name. An empty name keeps the default.
func WithTable(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.table = pgx.Identifier{name}.Sanitize()
		}
	}
}

// WithCatalog sets the catalog used to translate parameters.
func WithCatalog(c service.SearchParameterLookup) Option {
	return func(s *Store) { s.catalog = c }
}

// WithLogger sets the store logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) {
		s.log = log.With().Str("component", "postgres-store").Logger()
	}
}

// PoolConfig tunes the connection pool opened by Open.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string, pc PoolConfig, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 {
		cfg.MinConns = pc.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := New(pool, opts...)
	s.pool = pool
	return s, nil
}

// New creates a store over an existing connection.
func New(db Querier, opts ...Option) *Store {
	s := &Store{
		db:    db,
		table: DefaultTable,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.catalog == nil {
		s.catalog = searchparam.Default()
	}
	return s
}

// Close releases the pool opened by Open.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the resources table and its indexes.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			resource_type TEXT NOT NULL,
			id TEXT NOT NULL,
			data JSONB NOT NULL,
			PRIMARY KEY (resource_type, id)
		)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING GIN (data jsonb_path_ops)`,
			pgx.Identifier{strings.Trim(s.table, `"`) + "_data_idx"}.Sanitize(), s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Put upserts resources. A resource without an id gets a random one.
func (s *Store) Put(ctx context.Context, resources ...retrieve.Resource) error {
	sql := fmt.Sprintf(`INSERT INTO %s (resource_type, id, data) VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (resource_type, id) DO UPDATE SET data = EXCLUDED.data`, s.table)
	for _, r := range resources {
		rt := r.ResourceType()
		if rt == "" {
			return errors.New("resource without resourceType")
		}
		if r.ID() == "" {
			r["id"] = uuid.NewString()
		}
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", rt, r.ID(), err)
		}
		if _, err := s.db.Exec(ctx, sql, rt, r.ID(), string(data)); err != nil {
			return fmt.Errorf("store %s/%s: %w", rt, r.ID(), err)
		}
	}
	return nil
}

// Search implements service.Searcher. Rows are decoded as they are read.
func (s *Store) Search(ctx context.Context, resourceType string, q *retrieve.QueryParameterSet) iter.Seq2[retrieve.Resource, error] {
	return func(yield func(retrieve.Resource, error) bool) {
		sql, args, err := BuildQuery(s.table, resourceType, q, func(name string) (service.SearchParameter, bool) {
			return s.lookup(resourceType, name)
		})
		if err != nil {
			yield(nil, err)
			return
		}
		s.log.Debug().Str("type", resourceType).Str("query", q.String()).Str("sql", sql).Msg("search")

		rows, err := s.db.Query(ctx, sql, args...)
		if err != nil {
			yield(nil, fmt.Errorf("search %s: %w", resourceType, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var data []byte
			if err := rows.Scan(&data); err != nil {
				yield(nil, fmt.Errorf("scan %s: %w", resourceType, err))
				return
			}
			var r retrieve.Resource
			if err := json.Unmarshal(data, &r); err != nil {
				yield(nil, fmt.Errorf("decode %s: %w", resourceType, err))
				return
			}
			if !yield(r, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("search %s: %w", resourceType, err))
		}
	}
}

// DeclaresSupport implements service.CapabilityChecker. Every parameter the
// catalog knows is supported without modifiers; value-set membership is not.
func (s *Store) DeclaresSupport(_ context.Context, resourceType, param string) bool {
	name, modifier, _ := strings.Cut(param, ":")
	if modifier != "" {
		return false
	}
	_, ok := s.lookup(resourceType, name)
	return ok
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
