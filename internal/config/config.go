// Package config provides Hearth's two configuration layers.
//
// The bootstrap layer is a single YAML file read once at startup: listen
// addresses, store DSNs, upstream base URLs, credentials. It never changes
// while the process runs.
//
// The dynamic layer ([Loader]) serves the entities that may change without a
// redeploy — feature flags, LLM backend routes, clarification rules,
// conversation settings. Values are pulled from the admin store, cached
// in-process as immutable snapshots with a short TTL, and mirrored to Redis
// so sibling processes can share a fetch. On source failure the loader falls
// back to the Redis mirror, then to the last-known-good snapshot, then to
// documented defaults.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the Hearth server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Bootstrap is the root startup configuration, loaded from a YAML file via
// [Load] or [LoadFromReader].
type Bootstrap struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Cache     CacheConfig     `yaml:"cache"`
	Upstreams UpstreamsConfig `yaml:"upstreams"`
	Admin     AdminConfig     `yaml:"admin"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the ingress TCP address (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// AdminListenAddr is the admin surface address. Empty mounts the admin
	// API on the ingress listener under /api.
	AdminListenAddr string `yaml:"admin_listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// RequestDeadline is the overall per-request deadline. Zero means the
	// 30 s default.
	RequestDeadline time.Duration `yaml:"request_deadline"`
}

// RedisConfig holds connection settings for the external key/value store.
// An empty Addr disables Redis; sessions and the cache degrade to in-process
// storage.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PostgresConfig holds the relational store DSN. Empty means in-memory
// stores (development mode).
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// CacheConfig tunes the tiered response cache.
type CacheConfig struct {
	// MemoryEntries caps the in-process tier. Zero means 1024.
	MemoryEntries int `yaml:"memory_entries"`

	// DiskPath is the Badger directory for the on-disk spill tier. Empty
	// disables the disk tier.
	DiskPath string `yaml:"disk_path"`
}

// UpstreamsConfig holds base URLs and credentials for every external
// collaborator the pipeline calls.
type UpstreamsConfig struct {
	STT          Endpoint `yaml:"stt"`
	TTS          Endpoint `yaml:"tts"`
	ControlPlane Endpoint `yaml:"control_plane"`

	// LLMPrimary is the fallback endpoint used by "auto" backends and by
	// models with no routing row.
	LLMPrimary Endpoint `yaml:"llm_primary"`

	// LLMModel is the model name the pipeline generates with. Routing rows
	// keyed on this name override the primary endpoint.
	LLMModel string `yaml:"llm_model"`

	Weather   Endpoint `yaml:"weather"`
	Sports    Endpoint `yaml:"sports"`
	Events    Endpoint `yaml:"events"`
	Streaming Endpoint `yaml:"streaming"`
	News      Endpoint `yaml:"news"`
	Stocks    Endpoint `yaml:"stocks"`
	Flights   Endpoint `yaml:"flights"`
	WebSearch Endpoint `yaml:"web_search"`
}

// Endpoint is the common shape of one upstream service entry.
type Endpoint struct {
	// BaseURL is the service root (e.g. "http://stt:9000"). A trailing
	// slash is stripped.
	BaseURL string `yaml:"base_url"`

	// APIKey is sent as a bearer token or query credential depending on the
	// client.
	APIKey string `yaml:"api_key"`

	// Timeout bounds each request. Zero means the per-client default (5 s
	// for data handlers).
	Timeout time.Duration `yaml:"timeout"`

	// DailyBudget caps requests per UTC day. Zero means unlimited.
	DailyBudget int `yaml:"daily_budget"`
}

// AdminConfig configures admin-surface authentication and, optionally, a
// remote admin API for the dynamic config loader to pull from instead of the
// local store.
type AdminConfig struct {
	// Principals lists accepted bearer tokens and their permission.
	Principals []Principal `yaml:"principals"`

	// RemoteBaseURL, when set, makes the dynamic loader fetch entities from
	// that admin API over HTTP rather than from the local store.
	RemoteBaseURL string `yaml:"remote_base_url"`
	RemoteToken   string `yaml:"remote_token"`
}

// Principal is one accepted admin identity.
type Principal struct {
	// Name identifies the actor in audit records.
	Name string `yaml:"name"`

	// Token is the bearer token presented in the Authorization header.
	Token string `yaml:"token"`

	// Permission is "read" or "write". Write implies read.
	Permission string `yaml:"permission"`
}

// Load reads the YAML configuration file at path and returns a validated
// [Bootstrap]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Bootstrap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Bootstrap, error) {
	cfg := &Bootstrap{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all failures found. Missing listen address and log
// level are filled with defaults rather than rejected.
func Validate(cfg *Bootstrap) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.RequestDeadline < 0 {
		errs = append(errs, fmt.Errorf("server.request_deadline must not be negative"))
	}
	if cfg.Cache.MemoryEntries < 0 {
		errs = append(errs, fmt.Errorf("cache.memory_entries must not be negative"))
	}

	for i, p := range cfg.Admin.Principals {
		if p.Token == "" {
			errs = append(errs, fmt.Errorf("admin.principals[%d]: token must not be empty", i))
		}
		switch p.Permission {
		case "read", "write":
		default:
			errs = append(errs, fmt.Errorf("admin.principals[%d]: permission %q is invalid; valid values: read, write", i, p.Permission))
		}
	}

	return errors.Join(errs...)
}
