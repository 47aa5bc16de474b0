// Package config provides configuration loading and validation for oracle-trust.
package config

import "errors"

var (
	// ErrInvalidLogLevel indicates that the log level is invalid.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidLogFormat indicates that the log format is invalid.
	ErrInvalidLogFormat = errors.New("invalid log format")
	// ErrInvalidStoreBackend indicates an unknown store backend.
	ErrInvalidStoreBackend = errors.New("invalid store backend")
	// ErrStorePathRequired indicates that the badger backend needs a path.
	ErrStorePathRequired = errors.New("store path is required for badger backend")
	// ErrStoreDSNRequired indicates that the postgres backend needs a dsn.
	ErrStoreDSNRequired = errors.New("store dsn is required for postgres backend")
	// ErrNoProviders indicates that no DoH providers are configured.
	ErrNoProviders = errors.New("at least one resolver provider must be configured")
	// ErrProviderIDRequired indicates that a provider has no id.
	ErrProviderIDRequired = errors.New("provider id is required")
	// ErrDuplicateProvider indicates that two providers share an id.
	ErrDuplicateProvider = errors.New("duplicate provider id")
	// ErrInvalidProviderURL indicates that a provider URL is not https.
	ErrInvalidProviderURL = errors.New("provider url must be an https url")
	// ErrInvalidPin indicates that a bootstrap pin cannot be parsed.
	ErrInvalidPin = errors.New("invalid pin")
	// ErrInvalidAttempts indicates a non-positive attempt count.
	ErrInvalidAttempts = errors.New("resolver attempts must be >= 1")
	// ErrInvalidMaxHistory indicates a non-positive pin history length.
	ErrInvalidMaxHistory = errors.New("resolver max_history must be >= 1")
	// ErrInvalidWebhookType indicates an unknown webhook type.
	ErrInvalidWebhookType = errors.New("invalid webhook type")
	// ErrInvalidThreshold indicates a non-positive outlier threshold.
	ErrInvalidThreshold = errors.New("aggregator threshold must be > 0")
	// ErrInvalidDecimals indicates an out-of-range decimals value.
	ErrInvalidDecimals = errors.New("aggregator decimals must be between 0 and 30")
	// ErrInvalidEstimator indicates an unknown estimator.
	ErrInvalidEstimator = errors.New("invalid estimator")
	// ErrInvalidSignerAlgorithm indicates an unknown signing algorithm.
	ErrInvalidSignerAlgorithm = errors.New("invalid signer algorithm")
	// ErrSignerSeedRequired indicates that no signing seed is configured.
	ErrSignerSeedRequired = errors.New("signer seed_env must be set unless ephemeral is enabled")
	// ErrTokenIDRequired indicates that a token has no id.
	ErrTokenIDRequired = errors.New("token id is required")
	// ErrNoSourcesConfigured indicates that a token has no sources.
	ErrNoSourcesConfigured = errors.New("at least one price source must be configured")
	// ErrSourceNameRequired indicates that source name is required.
	ErrSourceNameRequired = errors.New("source name is required")
	// ErrSourceEndpointRequired indicates that a source has neither preset nor endpoint.
	ErrSourceEndpointRequired = errors.New("source needs a preset or an endpoint and price_path")
	// ErrInvalidPrimaryType indicates an unknown primary store type.
	ErrInvalidPrimaryType = errors.New("invalid publisher primary type")
	// ErrInvalidMirrorType indicates an unknown mirror type.
	ErrInvalidMirrorType = errors.New("invalid publisher mirror type")
	// ErrMirrorBucketRequired indicates that the s3 mirror has no bucket.
	ErrMirrorBucketRequired = errors.New("mirror bucket is required for s3")
	// ErrInvalidSubmitterType indicates an unknown submitter type.
	ErrInvalidSubmitterType = errors.New("invalid submitter type")
)
