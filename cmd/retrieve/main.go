// Command retrieve resolves CQL retrieve criteria against a FHIR repository.
//
// Usage:
//
//	retrieve plan criterion.json
//	retrieve run --repository fhir --fhir-url https://hapi.fhir.org/baseR4 criterion.json
//	cat criterion.json | retrieve run -
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gofhir/retrieve"
	"github.com/gofhir/retrieve/internal/config"
	"github.com/gofhir/retrieve/pkg/logger"
	"github.com/gofhir/retrieve/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app carries state shared by the subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string
	envFile string
	cfg     *config.Config
	log     zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:          "retrieve",
		Short:        "Resolve CQL retrieve criteria into FHIR searches",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "YAML config file")
	flags.StringVar(&a.envFile, "env-file", ".env", "dotenv file exported before reading the environment")
	flags.String("filter-mode", "", "filter mode: auto, repository, inmemory")
	flags.String("terminology-mode", "", "terminology mode: auto, repository, inline, inmemory")
	flags.String("conformance-mode", "", "conformance mode: enforced, optional, declared, trust, off")
	flags.String("repository", "", "repository kind: memory, fhir, postgres")
	flags.String("fhir-url", "", "FHIR server base url")
	flags.String("dsn", "", "PostgreSQL connection url")
	flags.StringSlice("data", nil, "Bundle or NDJSON files for the memory repository")
	flags.String("terminology-url", "", "FHIR terminology server base url")
	flags.String("terminology-dir", "", "directory of ValueSet and CodeSystem files")
	flags.String("search-parameters", "", "SearchParameter file or directory")
	flags.String("profiles", "", "directory of StructureDefinitions for enforced conformance")
	flags.StringSlice("package", nil, "FHIR package to load: name#version, .tgz file or url")
	flags.Int("workers", 0, "goroutines evaluating in-memory predicates")
	flags.String("log-level", "", "log level: debug, info, warn, error, none")
	flags.Bool("log-pretty", false, "human readable logs")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")

	for key, flag := range map[string]string{
		"filter_mode":       "filter-mode",
		"terminology_mode":  "terminology-mode",
		"conformance_mode":  "conformance-mode",
		"repository.kind":   "repository",
		"repository.url":    "fhir-url",
		"repository.dsn":    "dsn",
		"repository.data":   "data",
		"terminology.url":   "terminology-url",
		"terminology.dir":   "terminology-dir",
		"search_parameters": "search-parameters",
		"profiles":          "profiles",
		"packages":          "package",
		"workers":           "workers",
		"log.level":         "log-level",
		"log.pretty":        "log-pretty",
		"metrics.addr":      "metrics-addr",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(planCmd(a), runCmd(a), versionCmd())
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	if cmd.Name() == "version" {
		return nil
	}
	if err := config.LoadEnvFile(a.envFile); err != nil {
		return err
	}
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Pretty)
	logger.SetDefault(a.log)
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println("retrieve " + retrieve.Version)
		},
	}
}

// serveMetrics exposes the stack's metrics until the returned function is
// called.
func (a *app) serveMetrics(st *stack) func() {
	if a.cfg.Metrics.Addr == "" {
		return func() {}
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(telemetry.NewCollector(st.metrics))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Str("addr", srv.Addr).Msg("metrics server failed")
		}
	}()
	a.log.Info().Str("addr", srv.Addr).Msg("serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
