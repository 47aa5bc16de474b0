// Package config provides configuration loading and validation for oracle-trust.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load loads configuration from YAML file and environment variables.
// A .env file next to the config, if present, is loaded first.
func Load(path string) (*Config, error) {
	// Validate and sanitize path
	cleanPath := filepath.Clean(path)
	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	envFile := filepath.Join(filepath.Dir(absPath), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	// Read config file
	data, err := os.ReadFile(absPath) // #nosec G304 -- Path sanitized with filepath.Clean and filepath.Abs
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse expands environment variables in data and decodes it.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// applyDefaults sets default values for optional fields.
func applyDefaults(cfg *Config) {
	if cfg.Network == "" {
		cfg.Network = "mainnet"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	// Metrics defaults
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9091"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// Store defaults
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Store.Namespace == "" {
		cfg.Store.Namespace = "doh_pins"
	}
	if cfg.Store.Table == "" {
		cfg.Store.Table = "oracle_kv"
	}

	// Resolver defaults
	if cfg.Resolver.MaxHistory == 0 {
		cfg.Resolver.MaxHistory = 4
	}
	if cfg.Resolver.Attempts == 0 {
		cfg.Resolver.Attempts = 3
	}
	if len(cfg.Resolver.Backoff) == 0 {
		cfg.Resolver.Backoff = []Duration{0, Duration(time.Second), Duration(3 * time.Second)}
	}
	if cfg.Resolver.Timeout == 0 {
		cfg.Resolver.Timeout = Duration(8 * time.Second)
	}
	if cfg.Resolver.CacheTTL == 0 {
		cfg.Resolver.CacheTTL = Duration(3 * time.Hour)
	}

	// Monitor defaults
	if cfg.Monitor.HistoryRetention == 0 {
		cfg.Monitor.HistoryRetention = 100
	}
	if cfg.Monitor.Timeout == 0 {
		cfg.Monitor.Timeout = Duration(10 * time.Second)
	}

	// Aggregator defaults
	if cfg.Aggregator.Threshold == 0 {
		cfg.Aggregator.Threshold = 2.5
	}
	if cfg.Aggregator.Decimals == nil {
		decimals := int32(10)
		cfg.Aggregator.Decimals = &decimals
	}
	if cfg.Aggregator.Estimator == "" {
		cfg.Aggregator.Estimator = "mean"
	}
	if cfg.Aggregator.Timeout == 0 {
		cfg.Aggregator.Timeout = Duration(10 * time.Second)
	}
	if cfg.Aggregator.Signer.Algorithm == "" {
		cfg.Aggregator.Signer.Algorithm = "ed25519"
	}

	// Publisher defaults
	if cfg.Publisher.Prefix == "" {
		cfg.Publisher.Prefix = "oracle_" + cfg.Network
	}
	if len(cfg.Publisher.ExpectedKeys) == 0 {
		cfg.Publisher.ExpectedKeys = []string{"timestamp", "snapshots"}
	}
	if cfg.Publisher.CleanupLimit == 0 {
		cfg.Publisher.CleanupLimit = 10
	}
	if cfg.Publisher.Timeout == 0 {
		cfg.Publisher.Timeout = Duration(30 * time.Second)
	}
	if cfg.Publisher.Primary.Type == "" {
		cfg.Publisher.Primary.Type = "local"
	}
	if cfg.Publisher.Primary.Type == "local" && cfg.Publisher.Primary.Path == "" {
		cfg.Publisher.Primary.Path = "data/cas"
	}
	if cfg.Publisher.Mirror.Type == "" {
		cfg.Publisher.Mirror.Type = "fs"
	}
	if cfg.Publisher.Mirror.Type == "fs" && cfg.Publisher.Mirror.Path == "" {
		cfg.Publisher.Mirror.Path = "data/mirror"
	}
	if cfg.Publisher.Primary.CIDPath == "" {
		cfg.Publisher.Primary.CIDPath = "cid"
	}

	if cfg.Submitter.Type == "" {
		cfg.Submitter.Type = "log"
	}

	if cfg.Job.Budget == 0 {
		cfg.Job.Budget = Duration(5 * time.Minute)
	}
}

// BackoffSchedule returns the resolver backoff as plain durations.
func (r ResolverConfig) BackoffSchedule() []time.Duration {
	out := make([]time.Duration, len(r.Backoff))
	for i, d := range r.Backoff {
		out[i] = d.ToDuration()
	}
	return out
}

// Token returns the token configuration with the given id.
func (a AggregatorConfig) Token(id string) (TokenConfig, bool) {
	for _, t := range a.Tokens {
		if t.ID == id {
			return t, true
		}
	}
	return TokenConfig{}, false
}
