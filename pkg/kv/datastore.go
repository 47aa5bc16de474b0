package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
)

// envelope carries the expiry next to the value so TTL works on any datastore.
type envelope struct {
	Value     []byte `json:"v"`
	ExpiresAt int64  `json:"e,omitempty"` // unix nanoseconds, 0 = no expiry
}

// DatastoreStore adapts an ipfs go-datastore to Store.
// Writes are serialized so CompareAndSwap is atomic within the process.
type DatastoreStore struct {
	ds  datastore.Datastore
	mu  sync.Mutex
	now func() time.Time
}

var _ Store = (*DatastoreStore)(nil)

// NewDatastore wraps ds.
func NewDatastore(ds datastore.Datastore) *DatastoreStore {
	return &DatastoreStore{ds: ds, now: time.Now}
}

// NewMemory returns an in-memory store.
func NewMemory() *DatastoreStore {
	return NewDatastore(dssync.MutexWrap(datastore.NewMapDatastore()))
}

// Get returns the value for key.
func (s *DatastoreStore) Get(ctx context.Context, key string) ([]byte, error) {
	env, err := s.read(ctx, key)
	if err != nil {
		return nil, err
	}
	return env.Value, nil
}

// Set stores value under key. ttl <= 0 means no expiry.
func (s *DatastoreStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ctx, key, value, ttl)
}

// CompareAndSwap replaces the value only if it still equals old.
func (s *DatastoreStore) CompareAndSwap(ctx context.Context, key string, old, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.read(ctx, key)
	switch {
	case IsNotFound(err):
		if old != nil {
			return false, nil
		}
	case err != nil:
		return false, err
	default:
		if old == nil || !bytes.Equal(cur.Value, old) {
			return false, nil
		}
	}

	if err := s.write(ctx, key, value, ttl); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *DatastoreStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ds.Delete(ctx, datastore.NewKey(key)); err != nil && !errors.Is(err, datastore.ErrNotFound) {
		return fmt.Errorf("kv: delete %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying datastore.
func (s *DatastoreStore) Close() error {
	return s.ds.Close()
}

func (s *DatastoreStore) read(ctx context.Context, key string) (envelope, error) {
	raw, err := s.ds.Get(ctx, datastore.NewKey(key))
	if errors.Is(err, datastore.ErrNotFound) {
		return envelope{}, ErrNotFound
	}
	if err != nil {
		return envelope{}, fmt.Errorf("kv: get %s: %w", key, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, fmt.Errorf("kv: decode %s: %w", key, err)
	}
	if env.ExpiresAt != 0 && s.now().UnixNano() >= env.ExpiresAt {
		return envelope{}, ErrNotFound
	}
	return env, nil
}

func (s *DatastoreStore) write(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	env := envelope{Value: value}
	if ttl > 0 {
		env.ExpiresAt = s.now().Add(ttl).UnixNano()
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", key, err)
	}
	if err := s.ds.Put(ctx, datastore.NewKey(key), raw); err != nil {
		return fmt.Errorf("kv: put %s: %w", key, err)
	}
	return nil
}
