package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gofhir/retrieve"
	"github.com/gofhir/retrieve/engine"
	"github.com/gofhir/retrieve/internal/config"
	"github.com/gofhir/retrieve/pkg/fhirpkg"
	"github.com/gofhir/retrieve/profile"
	"github.com/gofhir/retrieve/repository/fhirhttp"
	"github.com/gofhir/retrieve/repository/memory"
	"github.com/gofhir/retrieve/repository/postgres"
	"github.com/gofhir/retrieve/resolve"
	"github.com/gofhir/retrieve/searchparam"
	"github.com/gofhir/retrieve/service"
	"github.com/gofhir/retrieve/terminology"
)

// stack is the set of collaborators built from a Config.
type stack struct {
	engine  *engine.Engine
	metrics *retrieve.Metrics
	closers []func()
}

func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func buildStack(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stack, error) {
	settings, err := cfg.Settings()
	if err != nil {
		return nil, err
	}
	st := &stack{metrics: retrieve.NewMetrics()}

	pkgs, err := loadPackages(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	catalog := searchparam.Default(searchparam.WithLogger(log))
	if cfg.SearchParameters != "" {
		stats, err := catalog.LoadPath(cfg.SearchParameters)
		if err != nil {
			return nil, fmt.Errorf("load search parameters: %w", err)
		}
		log.Info().Int("parameters", stats.Parameters).Int("skipped", stats.Skipped).Msg("search parameters loaded")
	}
	for _, p := range pkgs.withAny("SearchParameter") {
		data, err := p.Bundle("SearchParameter")
		if err != nil {
			return nil, err
		}
		if _, err := catalog.LoadJSON(data); err != nil {
			return nil, fmt.Errorf("load search parameters from %s: %w", p.Name, err)
		}
	}

	ts, err := buildTerminology(cfg, pkgs, log)
	if err != nil {
		return nil, err
	}

	repo, err := buildRepository(ctx, cfg, catalog, ts, log, st)
	if err != nil {
		st.Close()
		return nil, err
	}

	opts := []resolve.Option{
		resolve.WithCatalog(catalog),
		resolve.WithCapabilities(repo),
		resolve.WithMetrics(st.metrics),
	}
	if ts != nil {
		opts = append(opts, resolve.WithTerminology(ts))
	}
	if cfg.Profiles != "" || len(pkgs.withAny("StructureDefinition")) > 0 {
		profiles, err := loadProfiles(cfg, pkgs)
		if err != nil {
			st.Close()
			return nil, err
		}
		log.Info().Int("profiles", profiles.Count()).Msg("profiles loaded")
		opts = append(opts, resolve.WithProfileValidator(profile.NewInvariantValidator(profiles, nil, log)))
	}

	st.engine, err = engine.New(resolve.New(opts...), repo,
		engine.WithSettings(settings),
		engine.WithWorkers(cfg.Workers),
		engine.WithMetrics(st.metrics),
		engine.WithLogger(log),
	)
	if err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// packages are the FHIR packages named by the config, in load order.
type packages []*fhirpkg.Package

// withAny returns the packages holding at least one resource of the types.
func (ps packages) withAny(types ...string) []*fhirpkg.Package {
	var out []*fhirpkg.Package
	for _, p := range ps {
		if p.Count(types...) > 0 {
			out = append(out, p)
		}
	}
	return out
}

func loadPackages(ctx context.Context, cfg *config.Config, log zerolog.Logger) (packages, error) {
	if len(cfg.Packages) == 0 {
		return nil, nil
	}
	opts := []fhirpkg.Option{fhirpkg.WithRetries(cfg.HTTP.Retries), fhirpkg.WithLogger(log)}
	if cfg.PackageCache != "" {
		opts = append(opts, fhirpkg.WithCacheDir(cfg.PackageCache))
	}
	loader := fhirpkg.NewLoader(opts...)

	var ps packages
	for _, src := range cfg.Packages {
		p, err := loader.Open(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("load package %s: %w", src, err)
		}
		log.Info().Str("package", p.Name).Str("version", p.Version).Int("resources", p.Count()).Msg("package loaded")
		ps = append(ps, p)
	}
	return ps, nil
}

func loadProfiles(cfg *config.Config, pkgs packages) (*profile.Store, error) {
	profiles := profile.NewStore()
	if cfg.Profiles != "" {
		if _, err := profiles.LoadDir(cfg.Profiles); err != nil {
			return nil, fmt.Errorf("load profiles: %w", err)
		}
	}
	for _, p := range pkgs.withAny("StructureDefinition") {
		data, err := p.Bundle("StructureDefinition")
		if err != nil {
			return nil, err
		}
		if _, err := profiles.LoadJSON(data); err != nil {
			return nil, fmt.Errorf("load profiles from %s: %w", p.Name, err)
		}
	}
	return profiles, nil
}

// buildTerminology returns the local value sets, the remote server, or a
// chain asking the local store first when both are configured.
func buildTerminology(cfg *config.Config, pkgs packages, log zerolog.Logger) (service.TerminologyService, error) {
	local, err := loadLocalTerminology(cfg, pkgs, log)
	if err != nil {
		return nil, err
	}

	var ts service.TerminologyService
	switch {
	case cfg.Terminology.URL != "":
		remote := terminology.NewRemote(cfg.Terminology.URL,
			terminology.WithRetries(cfg.HTTP.Retries),
			terminology.WithTimeout(cfg.HTTP.Timeout),
			terminology.WithRemoteLogger(log),
		)
		if local == nil {
			ts = remote
		} else {
			ts = service.NewTerminologyChain(local, remote)
		}
	case local != nil:
		ts = local
	default:
		return nil, nil
	}
	if cfg.Terminology.CacheTTL > 0 {
		cc := terminology.DefaultCacheConfig()
		cc.TTL = cfg.Terminology.CacheTTL
		ts = terminology.NewCached(ts, cc)
	}
	return ts, nil
}

func loadLocalTerminology(cfg *config.Config, pkgs packages, log zerolog.Logger) (*terminology.Memory, error) {
	withTerminology := pkgs.withAny("CodeSystem", "ValueSet")
	if cfg.Terminology.Dir == "" && len(withTerminology) == 0 {
		return nil, nil
	}

	m := terminology.NewMemory()
	stats := &terminology.LoadStats{}
	if cfg.Terminology.Dir != "" {
		s, err := m.LoadPath(cfg.Terminology.Dir)
		if err != nil {
			return nil, fmt.Errorf("load terminology: %w", err)
		}
		stats = s
	}
	for _, p := range withTerminology {
		data, err := p.Bundle("CodeSystem", "ValueSet")
		if err != nil {
			return nil, err
		}
		s, err := m.LoadJSON(data)
		if err != nil {
			return nil, fmt.Errorf("load terminology from %s: %w", p.Name, err)
		}
		stats.Merge(s)
	}
	for _, err := range stats.Failures {
		log.Warn().Err(err).Msg("terminology resource skipped")
	}
	log.Info().
		Int("valueSets", stats.ValueSets).
		Int("codeSystems", stats.CodeSystems).
		Int("errors", stats.Errors).
		Msg("terminology loaded")
	return m, nil
}

func buildRepository(ctx context.Context, cfg *config.Config, catalog *searchparam.Registry, ts service.TerminologyService, log zerolog.Logger, st *stack) (service.Repository, error) {
	rc := cfg.Repository
	switch rc.Kind {
	case config.RepositoryFHIR:
		return fhirhttp.New(rc.URL,
			fhirhttp.WithRetries(cfg.HTTP.Retries),
			fhirhttp.WithTimeout(cfg.HTTP.Timeout),
			fhirhttp.WithPageSize(rc.PageSize),
			fhirhttp.WithMaxPages(rc.MaxPages),
			fhirhttp.WithBearerToken(rc.Token),
			fhirhttp.WithLogger(log),
		), nil

	case config.RepositoryPostgres:
		store, err := postgres.Open(ctx, rc.DSN, postgres.PoolConfig{MaxConns: rc.MaxConns},
			postgres.WithTable(rc.Table),
			postgres.WithCatalog(catalog),
			postgres.WithLogger(log),
		)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, store.Close)
		return store, nil

	default:
		opts := []memory.Option{memory.WithCatalog(catalog), memory.WithWorkers(cfg.Workers), memory.WithLogger(log)}
		if ts != nil {
			opts = append(opts, memory.WithTerminology(ts))
		}
		store := memory.New(opts...)
		for _, path := range rc.Data {
			if err := loadData(ctx, store, path); err != nil {
				return nil, err
			}
		}
		log.Info().Int("resources", store.Count("")).Msg("memory repository ready")
		return store, nil
	}
}

func loadData(ctx context.Context, store *memory.Store, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open data file: %w", err)
	}
	defer f.Close()

	if ext := strings.ToLower(filepath.Ext(path)); ext == ".ndjson" || ext == ".jsonl" {
		_, err = store.LoadNDJSON(ctx, f)
	} else {
		_, err = store.LoadBundle(ctx, f)
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
