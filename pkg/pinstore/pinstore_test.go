package pinstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/oracle-trust/pkg/kv"
	"github.com/StrathCole/oracle-trust/pkg/logging"
)

// MockKV is a mock implementation of kv.Store.
type MockKV struct {
	mock.Mock
}

func (m *MockKV) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if v := args.Get(0); v != nil {
		return v.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}

func (m *MockKV) CompareAndSwap(ctx context.Context, key string, old, value []byte, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, old, value, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockKV) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockKV) Close() error { return nil }

func newTestStore(store kv.Store) *Store {
	return New(store, "doh_pins", map[string][]string{
		"cloudflare": {testPin(1), testPin(2)},
	}, logging.NewNoopLogger())
}

func TestGetPins_BootstrapFallback(t *testing.T) {
	s := newTestStore(kv.NewMemory())

	set, err := s.GetPins(context.Background(), "cloudflare")
	require.NoError(t, err)
	assert.Equal(t, ProvenanceBootstrap, set.Provenance)
	assert.Equal(t, []string{testPin(1), testPin(2)}, set.Fingerprints)

	// Mutating the result must not touch the table.
	set.Fingerprints[0] = "x"
	again, err := s.GetPins(context.Background(), "cloudflare")
	require.NoError(t, err)
	assert.Equal(t, testPin(1), again.Current())
}

func TestGetPins_NoPins(t *testing.T) {
	s := newTestStore(kv.NewMemory())
	_, err := s.GetPins(context.Background(), "quad9")
	assert.ErrorIs(t, err, ErrNoPins)
}

func TestGetPins_StoreUnreadable(t *testing.T) {
	m := new(MockKV)
	m.On("Get", mock.Anything, "doh_pins:cloudflare").Return(nil, errors.New("connection reset"))

	s := newTestStore(m)
	set, err := s.GetPins(context.Background(), "cloudflare")
	require.NoError(t, err)
	assert.Equal(t, ProvenanceBootstrap, set.Provenance)
	m.AssertExpectations(t)
}

func TestGetPins_CorruptEntryFallsBack(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	require.NoError(t, store.Set(ctx, "doh_pins:cloudflare", []byte("{not json"), 0))

	s := newTestStore(store)
	set, err := s.GetPins(ctx, "cloudflare")
	require.NoError(t, err)
	assert.Equal(t, ProvenanceBootstrap, set.Provenance)

	// And an update replaces the corrupt entry.
	set, err = s.UpdatePins(ctx, "cloudflare", testPin(9), 4)
	require.NoError(t, err)
	assert.Equal(t, []string{testPin(9), testPin(1), testPin(2)}, set.Fingerprints)
}

func TestUpdatePins_PrependAndTruncate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(kv.NewMemory())

	// First write starts from the bootstrap list.
	set, err := s.UpdatePins(ctx, "cloudflare", testPin(3), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{testPin(3), testPin(1), testPin(2)}, set.Fingerprints)

	set, err = s.UpdatePins(ctx, "cloudflare", testPin(4), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{testPin(4), testPin(3), testPin(1)}, set.Fingerprints)

	stored, err := s.GetPins(ctx, "cloudflare")
	require.NoError(t, err)
	assert.Equal(t, ProvenanceStore, stored.Provenance)
	assert.Equal(t, set.Fingerprints, stored.Fingerprints)
}

func TestUpdatePins_PromotesWithoutDuplicates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(kv.NewMemory())

	_, err := s.UpdatePins(ctx, "cloudflare", testPin(3), 4)
	require.NoError(t, err)

	// Same fingerprint in hex form is recognized as the existing entry.
	hexPin, err := FormatHex(testPin(1))
	require.NoError(t, err)
	set, err := s.UpdatePins(ctx, "cloudflare", hexPin, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{testPin(1), testPin(3), testPin(2)}, set.Fingerprints)
}

func TestUpdatePins_MaxHistoryFloor(t *testing.T) {
	s := newTestStore(kv.NewMemory())
	set, err := s.UpdatePins(context.Background(), "cloudflare", testPin(5), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{testPin(5)}, set.Fingerprints)
}

func TestUpdatePins_InvalidFingerprint(t *testing.T) {
	s := newTestStore(kv.NewMemory())
	_, err := s.UpdatePins(context.Background(), "cloudflare", "nope", 4)
	assert.ErrorIs(t, err, ErrInvalidPin)
}

func TestUpdatePins_Conflict(t *testing.T) {
	m := new(MockKV)
	m.On("Get", mock.Anything, "doh_pins:cloudflare").Return(nil, kv.ErrNotFound)
	m.On("CompareAndSwap", mock.Anything, "doh_pins:cloudflare", mock.Anything, mock.Anything, time.Duration(0)).
		Return(false, nil)

	s := newTestStore(m)
	_, err := s.UpdatePins(context.Background(), "cloudflare", testPin(3), 4)
	assert.ErrorIs(t, err, ErrConflict)
	m.AssertNumberOfCalls(t, "CompareAndSwap", maxCASRetries)
}

func TestUpdatePins_WriteError(t *testing.T) {
	m := new(MockKV)
	m.On("Get", mock.Anything, mock.Anything).Return(nil, kv.ErrNotFound)
	m.On("CompareAndSwap", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(false, errors.New("disk full"))

	s := newTestStore(m)
	_, err := s.UpdatePins(context.Background(), "cloudflare", testPin(3), 4)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrConflict)
}

func TestUpdatePins_ConcurrentWritersKeepAllUpdates(t *testing.T) {
	ctx := context.Background()
	shared := kv.NewMemory()

	// Two stores on one backend model two processes; only compare-and-swap protects them.
	a := newTestStore(shared)
	b := newTestStore(shared)

	var wg sync.WaitGroup
	for i, s := range []*Store{a, b} {
		wg.Add(1)
		go func(base byte, s *Store) {
			defer wg.Done()
			for j := byte(0); j < 3; j++ {
				_, err := s.UpdatePins(ctx, "cloudflare", testPin(base+j), 10)
				assert.NoError(t, err)
			}
		}(byte(10+i*10), s)
	}
	wg.Wait()

	set, err := a.GetPins(ctx, "cloudflare")
	require.NoError(t, err)
	for _, seed := range []byte{10, 11, 12, 20, 21, 22, 1, 2} {
		assert.True(t, set.Contains(testPin(seed)), "missing pin %d", seed)
	}
	assert.Len(t, set.Fingerprints, 8)
}
