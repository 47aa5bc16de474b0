package pinstore

import "errors"

var (
	// ErrNoPins indicates that neither the durable store nor the bootstrap table has pins for a provider.
	ErrNoPins = errors.New("no pins for provider")
	// ErrConflict indicates that a pin update lost too many compare-and-swap races.
	ErrConflict = errors.New("pin update conflict")
	// ErrInvalidPin indicates that a fingerprint could not be parsed.
	ErrInvalidPin = errors.New("invalid pin")
)
