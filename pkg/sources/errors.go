// Package sources provides price adapters built from declarative endpoint specs.
package sources

import "errors"

var (
	// ErrAdapterFailed is returned for every fetch failure: transport, status, parse or value.
	ErrAdapterFailed = errors.New("adapter failed")
	// ErrUnknownPreset indicates that no preset with the given name is registered.
	ErrUnknownPreset = errors.New("unknown preset")
	// ErrInvalidSpec indicates that a spec lacks an endpoint or price path.
	ErrInvalidSpec = errors.New("invalid adapter spec")
)
