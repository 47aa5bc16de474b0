package config

import (
	"fmt"
	"net/url"
	"strings"
)

// PinParser validates a bootstrap pin. It is set by the caller so this package
// does not depend on the pin store.
type PinParser func(string) (string, error)

// Validate checks configuration for errors
func Validate(cfg *Config, parsePin PinParser) error {
	if err := validateLoggingConfig(&cfg.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	if err := validateStoreConfig(&cfg.Store); err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	if err := validateResolverConfig(&cfg.Resolver, parsePin); err != nil {
		return fmt.Errorf("resolver config: %w", err)
	}
	if err := validateMonitorConfig(&cfg.Monitor); err != nil {
		return fmt.Errorf("monitor config: %w", err)
	}
	if err := validateAggregatorConfig(&cfg.Aggregator); err != nil {
		return fmt.Errorf("aggregator config: %w", err)
	}
	if err := validatePublisherConfig(&cfg.Publisher); err != nil {
		return fmt.Errorf("publisher config: %w", err)
	}
	if cfg.Submitter.Type != "log" {
		return fmt.Errorf("%w: %s (must be 'log')", ErrInvalidSubmitterType, cfg.Submitter.Type)
	}
	return nil
}

func validateLoggingConfig(cfg *LoggingConfig) error {
	if !oneOf(cfg.Level, "debug", "info", "warn", "error") {
		return fmt.Errorf("%w: %s (must be one of: debug, info, warn, error)", ErrInvalidLogLevel, cfg.Level)
	}
	if !oneOf(cfg.Format, "json", "text", "console") {
		return fmt.Errorf("%w: %s (must be 'json' or 'text')", ErrInvalidLogFormat, cfg.Format)
	}
	return nil
}

func validateStoreConfig(cfg *StoreConfig) error {
	switch strings.ToLower(cfg.Backend) {
	case "memory":
	case "badger":
		if cfg.Path == "" {
			return ErrStorePathRequired
		}
	case "postgres":
		if cfg.DSN == "" {
			return ErrStoreDSNRequired
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidStoreBackend, cfg.Backend)
	}
	return nil
}

func validateResolverConfig(cfg *ResolverConfig, parsePin PinParser) error {
	if len(cfg.Providers) == 0 {
		return ErrNoProviders
	}
	if cfg.Attempts < 1 {
		return ErrInvalidAttempts
	}
	if cfg.MaxHistory < 1 {
		return ErrInvalidMaxHistory
	}

	seen := make(map[string]bool, len(cfg.Providers))
	for i, p := range cfg.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider %d: %w", i, ErrProviderIDRequired)
		}
		if seen[p.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateProvider, p.ID)
		}
		seen[p.ID] = true

		u, err := url.Parse(p.URL)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return fmt.Errorf("provider %s: %w: %q", p.ID, ErrInvalidProviderURL, p.URL)
		}
		if parsePin == nil {
			continue
		}
		for _, pin := range p.Pins {
			if _, err := parsePin(pin); err != nil {
				return fmt.Errorf("provider %s: %w: %v", p.ID, ErrInvalidPin, err)
			}
		}
	}
	return nil
}

func validateMonitorConfig(cfg *MonitorConfig) error {
	for i, w := range cfg.Webhooks {
		if !oneOf(w.Type, "slack", "teams", "http") {
			return fmt.Errorf("webhook %d: %w: %s", i, ErrInvalidWebhookType, w.Type)
		}
	}
	return nil
}

func validateAggregatorConfig(cfg *AggregatorConfig) error {
	if cfg.Threshold <= 0 {
		return ErrInvalidThreshold
	}
	if cfg.Decimals == nil || *cfg.Decimals < 0 || *cfg.Decimals > 30 {
		return ErrInvalidDecimals
	}
	if !oneOf(cfg.Estimator, "mean", "median") {
		return fmt.Errorf("%w: %s (must be 'mean' or 'median')", ErrInvalidEstimator, cfg.Estimator)
	}
	if !oneOf(cfg.Signer.Algorithm, "ed25519", "dilithium3") {
		return fmt.Errorf("%w: %s", ErrInvalidSignerAlgorithm, cfg.Signer.Algorithm)
	}
	if cfg.Signer.SeedEnv == "" && !cfg.Signer.Ephemeral {
		return ErrSignerSeedRequired
	}

	for i, t := range cfg.Tokens {
		if t.ID == "" {
			return fmt.Errorf("token %d: %w", i, ErrTokenIDRequired)
		}
		if len(t.Sources) == 0 {
			return fmt.Errorf("token %s: %w", t.ID, ErrNoSourcesConfigured)
		}
		for j, s := range t.Sources {
			if err := validateSourceConfig(&s); err != nil {
				return fmt.Errorf("token %s source %d: %w", t.ID, j, err)
			}
		}
	}
	return nil
}

func validateSourceConfig(cfg *SourceConfig) error {
	if cfg.Name == "" && cfg.Preset == "" {
		return ErrSourceNameRequired
	}
	if cfg.Preset == "" && (cfg.Endpoint == "" || cfg.PricePath == "") {
		return ErrSourceEndpointRequired
	}
	return nil
}

func validatePublisherConfig(cfg *PublisherConfig) error {
	if !oneOf(cfg.Primary.Type, "http", "local") {
		return fmt.Errorf("%w: %s", ErrInvalidPrimaryType, cfg.Primary.Type)
	}
	switch strings.ToLower(cfg.Mirror.Type) {
	case "fs":
	case "s3":
		if cfg.Mirror.Bucket == "" {
			return ErrMirrorBucketRequired
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidMirrorType, cfg.Mirror.Type)
	}
	return nil
}

func oneOf(v string, options ...string) bool {
	v = strings.ToLower(v)
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
