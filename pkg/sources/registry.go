package sources

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registry = make(map[string]Spec)
	mu       sync.RWMutex
)

// Register adds a preset spec to the registry
func Register(name string, spec Spec) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = spec
}

// Preset returns the spec registered under name
func Preset(name string) (Spec, error) {
	mu.RLock()
	defer mu.RUnlock()

	spec, ok := registry[name]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %s", ErrUnknownPreset, name)
	}
	return spec, nil
}

// List returns all registered preset names
func List() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve merges a config with its preset. Non-empty config fields override the preset.
func Resolve(cfg Config) (name string, spec Spec, err error) {
	if cfg.Preset != "" {
		spec, err = Preset(cfg.Preset)
		if err != nil {
			return "", Spec{}, err
		}
	}
	if cfg.Endpoint != "" {
		spec.EndpointTemplate = cfg.Endpoint
	}
	if cfg.PricePath != "" {
		spec.PricePath = cfg.PricePath
	}
	if cfg.AuthHeader != "" {
		spec.AuthHeader = cfg.AuthHeader
	}
	if cfg.AuthValue != "" {
		spec.AuthValue = cfg.AuthValue
	}

	name = cfg.Name
	if name == "" {
		name = cfg.Preset
	}
	if spec.EndpointTemplate == "" || spec.PricePath == "" {
		return "", Spec{}, fmt.Errorf("%w: %s", ErrInvalidSpec, name)
	}
	return name, spec, nil
}
