package config

import "time"

// Config is the root configuration structure
type Config struct {
	Network    string           `yaml:"network"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Store      StoreConfig      `yaml:"store"`
	Resolver   ResolverConfig   `yaml:"resolver"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Publisher  PublisherConfig  `yaml:"publisher"`
	Submitter  SubmitterConfig  `yaml:"submitter"`
	Job        JobConfig        `yaml:"job"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig configures Prometheus metrics
type MetricsConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Addr           string `yaml:"addr"`
	Path           string `yaml:"path"`
	PushgatewayURL string `yaml:"pushgateway_url"` // push on exit for short-lived jobs
}

// StoreConfig selects the durable key/value backend
type StoreConfig struct {
	Backend   string `yaml:"backend"` // memory, badger, postgres
	Path      string `yaml:"path"`    // badger directory
	DSN       string `yaml:"dsn"`     // postgres connection string
	Table     string `yaml:"table"`
	Namespace string `yaml:"namespace"` // prefix for pin keys
}

// ProviderConfig describes one DNS-over-HTTPS provider
type ProviderConfig struct {
	ID      string   `yaml:"id"`
	URL     string   `yaml:"url"`
	Address string   `yaml:"address"` // optional fixed ip:port to dial
	Pins    []string `yaml:"pins"`    // bootstrap fingerprints, current first
}

// ResolverConfig configures the pinned DoH resolver
type ResolverConfig struct {
	Providers  []ProviderConfig `yaml:"providers"`
	MaxHistory int              `yaml:"max_history"`
	Attempts   int              `yaml:"attempts"`
	Backoff    []Duration       `yaml:"backoff"`
	Timeout    Duration         `yaml:"timeout"`
	CacheTTL   Duration         `yaml:"cache_ttl"`
}

// WebhookConfig configures an alert target. The URL is read from URLEnv.
type WebhookConfig struct {
	Type   string `yaml:"type"` // slack, teams, http
	URLEnv string `yaml:"url_env"`
}

// MonitorConfig configures the certificate rotation monitor
type MonitorConfig struct {
	HistoryRetention int             `yaml:"history_retention"`
	Timeout          Duration        `yaml:"timeout"`
	Webhooks         []WebhookConfig `yaml:"webhooks"`
}

// SignerConfig configures the node signing key
type SignerConfig struct {
	Algorithm string `yaml:"algorithm"` // ed25519, dilithium3
	SeedEnv   string `yaml:"seed_env"`  // hex seed
	Ephemeral bool   `yaml:"ephemeral"` // generate a throwaway key when no seed is set
}

// SourceConfig configures a price adapter for a token
type SourceConfig struct {
	Name       string `yaml:"name"`
	Preset     string `yaml:"preset"`
	Endpoint   string `yaml:"endpoint"`
	PricePath  string `yaml:"price_path"`
	Symbol     string `yaml:"symbol"`
	AuthHeader string `yaml:"auth_header"`
	AuthEnv    string `yaml:"auth_env"`
}

// TokenConfig lists the sources queried for one token
type TokenConfig struct {
	ID      string         `yaml:"id"`
	Sources []SourceConfig `yaml:"sources"`
}

// AggregatorConfig configures the price aggregator
type AggregatorConfig struct {
	Threshold float64       `yaml:"threshold"`
	Decimals  *int32        `yaml:"decimals"` // nil means unset; 0 is a valid scale
	Estimator string        `yaml:"estimator"` // mean, median
	Timeout   Duration      `yaml:"timeout"`
	HardenDNS bool          `yaml:"harden_dns"` // dial adapters through the pinned resolver
	Signer    SignerConfig  `yaml:"signer"`
	Tokens    []TokenConfig `yaml:"tokens"`
}

// PrimaryConfig configures the content-addressed store
type PrimaryConfig struct {
	Type     string `yaml:"type"` // http, local
	Endpoint string `yaml:"endpoint"`
	Gateway  string `yaml:"gateway"`
	UnpinURL string `yaml:"unpin_url"` // template with {cid}
	TokenEnv string `yaml:"token_env"`
	CIDPath  string `yaml:"cid_path"`
	Path     string `yaml:"path"` // local store root
}

// MirrorConfig configures the mutable mirror
type MirrorConfig struct {
	Type         string `yaml:"type"` // s3, fs
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
	PublicURL    string `yaml:"public_url"`
	Path         string `yaml:"path"` // fs mirror root
}

// PublisherConfig configures snapshot publication
type PublisherConfig struct {
	Primary      PrimaryConfig `yaml:"primary"`
	Mirror       MirrorConfig  `yaml:"mirror"`
	Prefix       string        `yaml:"prefix"`
	ExpectedKeys []string      `yaml:"expected_keys"`
	CleanupLimit int           `yaml:"cleanup_limit"`
	Timeout      Duration      `yaml:"timeout"`
}

// SubmitterConfig configures on-chain submission
type SubmitterConfig struct {
	Type string `yaml:"type"` // log
}

// JobConfig bounds a batch run
type JobConfig struct {
	Budget Duration `yaml:"budget"`
}

// Duration is a wrapper around time.Duration for YAML parsing
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	td, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(td)
	return nil
}

// ToDuration converts Duration to time.Duration
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}
