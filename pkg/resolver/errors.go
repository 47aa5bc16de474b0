package resolver

import "errors"

var (
	// ErrTransientNetwork indicates a retryable failure: timeout, reset, HTTP 5xx or 429.
	ErrTransientNetwork = errors.New("transient network error")
	// ErrTrustVerification indicates the provider's certificate failed pin, validity or hostname checks.
	ErrTrustVerification = errors.New("trust verification failed")
	// ErrResolutionExhausted indicates every provider failed.
	ErrResolutionExhausted = errors.New("resolution exhausted all providers")
	// ErrProviderRejected indicates a non-retryable provider failure such as a refused
	// connection, an HTTP 4xx or an unusable answer.
	ErrProviderRejected = errors.New("provider rejected")
	// ErrNoAddresses indicates an answer carried no usable address.
	ErrNoAddresses = errors.New("no addresses in answer")
)
