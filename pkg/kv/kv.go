// Package kv provides the namespaced key/value backends used for durable trust state.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("kv: not found")

// Store is a minimal key/value store with optional TTL and compare-and-swap.
//
// CompareAndSwap writes value only when the stored bytes equal old. A nil old
// means the key must not exist (or be expired).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	CompareAndSwap(ctx context.Context, key string, old, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// Key joins a namespace and an id as "<namespace>:<id>".
func Key(namespace, id string) string {
	if namespace == "" {
		return id
	}
	return namespace + ":" + id
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Open builds a Store for the named backend: "memory", "badger" or "postgres".
func Open(ctx context.Context, backend, path, dsn, table string) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemory(), nil
	case "badger":
		if path == "" {
			return nil, errors.New("kv: badger backend requires a path")
		}
		return OpenBadger(path)
	case "postgres":
		if dsn == "" {
			return nil, errors.New("kv: postgres backend requires a dsn")
		}
		return NewPostgres(ctx, dsn, table)
	default:
		return nil, errors.New("kv: unknown backend " + backend)
	}
}
