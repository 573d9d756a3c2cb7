// Package config loads the retrieve CLI configuration from defaults, an
// optional YAML file, a .env file and RETRIEVE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/gofhir/retrieve"
)

// EnvPrefix prefixes every environment variable, so repository.url is read
// from RETRIEVE_REPOSITORY_URL.
const EnvPrefix = "RETRIEVE"

// Repository kinds.
const (
	RepositoryMemory   = "memory"
	RepositoryFHIR     = "fhir"
	RepositoryPostgres = "postgres"
)

type Config struct {
	FilterMode      string `mapstructure:"filter_mode"`
	TerminologyMode string `mapstructure:"terminology_mode"`
	ConformanceMode string `mapstructure:"conformance_mode"`

	Repository  RepositoryConfig  `mapstructure:"repository"`
	Terminology TerminologyConfig `mapstructure:"terminology"`

	SearchParameters string `mapstructure:"search_parameters"`
	Profiles         string `mapstructure:"profiles"`
	Workers          int    `mapstructure:"workers"`

	// Packages lists FHIR packages (name#version, .tgz path or URL) whose
	// search parameters, terminology and profiles are loaded at startup.
	Packages     []string `mapstructure:"packages"`
	PackageCache string   `mapstructure:"package_cache"`

	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	HTTP    HTTPConfig    `mapstructure:"http"`
}

type RepositoryConfig struct {
	Kind     string `mapstructure:"kind"`
	URL      string `mapstructure:"url"`
	Token    string `mapstructure:"token"`
	PageSize int    `mapstructure:"page_size"`
	MaxPages int    `mapstructure:"max_pages"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	// Data lists Bundle or NDJSON files loaded into the memory repository.
	Data []string `mapstructure:"data"`
}

type TerminologyConfig struct {
	URL string `mapstructure:"url"`
	Dir string `mapstructure:"dir"`
	// CacheTTL bounds how long value sets are cached; zero disables the cache.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Retries int           `mapstructure:"retries"`
}

var defaults = map[string]any{
	"filter_mode":           string(retrieve.FilterAuto),
	"terminology_mode":      string(retrieve.TerminologyAuto),
	"conformance_mode":      string(retrieve.ConformanceDeclared),
	"repository.kind":       RepositoryMemory,
	"repository.url":        "",
	"repository.token":      "",
	"repository.page_size":  100,
	"repository.max_pages":  0,
	"repository.dsn":        "",
	"repository.table":      "resources",
	"repository.max_conns":  10,
	"repository.data":       []string{},
	"terminology.url":       "",
	"terminology.dir":       "",
	"terminology.cache_ttl": "10m",
	"search_parameters":     "",
	"profiles":              "",
	"workers":               0,
	"packages":              []string{},
	"package_cache":         "",
	"log.level":             "info",
	"log.pretty":            false,
	"metrics.addr":          "",
	"http.timeout":          "60s",
	"http.retries":          3,
}

// New returns a viper instance with defaults and environment binding. Flags
// may be bound to it before Load.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadEnvFile exports the variables of a .env file. A missing file is not an
// error; variables already set in the environment win.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads the optional config file into v and decodes and validates the
// result.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Settings returns the retrieval settings named by the mode fields.
func (c *Config) Settings() (retrieve.Settings, error) {
	cm, err := retrieve.ParseConformanceMode(c.ConformanceMode)
	if err != nil {
		return retrieve.Settings{}, err
	}
	fm, err := retrieve.ParseFilterMode(c.FilterMode)
	if err != nil {
		return retrieve.Settings{}, err
	}
	tm, err := retrieve.ParseTerminologyMode(c.TerminologyMode)
	if err != nil {
		return retrieve.Settings{}, err
	}
	return retrieve.NewSettings(
		retrieve.WithConformanceMode(cm),
		retrieve.WithFilterMode(fm),
		retrieve.WithTerminologyMode(tm),
	), nil
}

// Validate reports the first invalid field as a *retrieve.ConfigError.
func (c *Config) Validate() error {
	if _, err := c.Settings(); err != nil {
		return err
	}
	switch c.Repository.Kind {
	case RepositoryMemory:
	case RepositoryFHIR:
		if c.Repository.URL == "" {
			return &retrieve.ConfigError{Field: "repository.url", Reason: "is required for the fhir repository"}
		}
	case RepositoryPostgres:
		if c.Repository.DSN == "" {
			return &retrieve.ConfigError{Field: "repository.dsn", Reason: "is required for the postgres repository"}
		}
	default:
		return &retrieve.ConfigError{Field: "repository.kind", Reason: fmt.Sprintf("unknown kind %q", c.Repository.Kind)}
	}
	if c.Workers < 0 {
		return &retrieve.ConfigError{Field: "workers", Reason: "must not be negative"}
	}
	if c.Repository.PageSize < 0 {
		return &retrieve.ConfigError{Field: "repository.page_size", Reason: "must not be negative"}
	}
	if c.HTTP.Retries < 0 {
		return &retrieve.ConfigError{Field: "http.retries", Reason: "must not be negative"}
	}
	return nil
}
