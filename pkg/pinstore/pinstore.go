// Package pinstore keeps the pinned certificate fingerprints of each DNS-over-HTTPS provider.
//
// Pins live in a durable key/value store under "<namespace>:<providerID>". A static bootstrap
// table is consulted only when the durable entry is missing or unreadable.
package pinstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/StrathCole/oracle-trust/pkg/kv"
	"github.com/StrathCole/oracle-trust/pkg/logging"
)

// Provenance records where a pin set came from.
type Provenance string

const (
	// ProvenanceStore means the pins were read from the durable store.
	ProvenanceStore Provenance = "store"
	// ProvenanceBootstrap means the pins came from the static bootstrap table.
	ProvenanceBootstrap Provenance = "bootstrap"
)

// DefaultMaxHistory is the number of fingerprints kept per provider.
const DefaultMaxHistory = 4

const maxCASRetries = 5

// PinSet is the ordered fingerprint list for one provider, current first.
type PinSet struct {
	ProviderID   string     `json:"providerId"`
	Fingerprints []string   `json:"fingerprints"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	Provenance   Provenance `json:"-"`
}

// Current returns the most recent fingerprint.
func (p PinSet) Current() string {
	if len(p.Fingerprints) == 0 {
		return ""
	}
	return p.Fingerprints[0]
}

// Index returns the position of fp in the set, or -1.
func (p PinSet) Index(fp string) int {
	for i, f := range p.Fingerprints {
		if EqualPins(f, fp) {
			return i
		}
	}
	return -1
}

// Contains reports whether fp is in the set.
func (p PinSet) Contains(fp string) bool { return p.Index(fp) >= 0 }

// Store reads and writes pin sets.
type Store struct {
	kv        kv.Store
	namespace string
	bootstrap map[string][]string
	logger    *logging.Logger
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a pin store. Bootstrap fingerprints are normalized and copied;
// entries that fail to parse are dropped with a warning.
func New(store kv.Store, namespace string, bootstrap map[string][]string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}

	boot := make(map[string][]string, len(bootstrap))
	for id, pins := range bootstrap {
		for _, p := range pins {
			canon, err := ParsePin(p)
			if err != nil {
				logger.Warn("Dropping invalid bootstrap pin", "provider", id, "error", err)
				continue
			}
			boot[id] = append(boot[id], canon)
		}
	}

	return &Store{
		kv:        store,
		namespace: namespace,
		bootstrap: boot,
		logger:    logger,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
}

// GetPins returns the pin set for providerID.
func (s *Store) GetPins(ctx context.Context, providerID string) (PinSet, error) {
	set, _, err := s.read(ctx, providerID)
	switch {
	case err == nil && len(set.Fingerprints) > 0:
		set.Provenance = ProvenanceStore
		return set, nil
	case err != nil && !kv.IsNotFound(err):
		s.logger.Warn("Pin store unreadable, using bootstrap pins", "provider", providerID, "error", err)
	}

	boot := s.bootstrap[providerID]
	if len(boot) == 0 {
		return PinSet{}, fmt.Errorf("%w: %s", ErrNoPins, providerID)
	}
	s.logger.Debug("Using bootstrap pins", "provider", providerID)
	return PinSet{
		ProviderID:   providerID,
		Fingerprints: append([]string(nil), boot...),
		Provenance:   ProvenanceBootstrap,
	}, nil
}

// UpdatePins makes fingerprint the current pin, keeping at most maxHistory entries.
// An existing equal fingerprint is moved to the front rather than duplicated.
func (s *Store) UpdatePins(ctx context.Context, providerID, fingerprint string, maxHistory int) (PinSet, error) {
	canon, err := ParsePin(fingerprint)
	if err != nil {
		return PinSet{}, err
	}
	if maxHistory < 1 {
		maxHistory = 1
	}

	lock := s.providerLock(providerID)
	lock.Lock()
	defer lock.Unlock()

	key := kv.Key(s.namespace, providerID)
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		current, old, err := s.read(ctx, providerID)
		var base []string
		switch {
		case err == nil && len(current.Fingerprints) > 0:
			base = current.Fingerprints
		case err == nil, kv.IsNotFound(err):
			base = s.bootstrap[providerID]
		case old != nil:
			// Corrupt entry: replace it, starting from the bootstrap list.
			s.logger.Warn("Replacing undecodable pin entry", "provider", providerID, "error", err)
			base = s.bootstrap[providerID]
		default:
			return PinSet{}, fmt.Errorf("read pins for %s: %w", providerID, err)
		}

		next := PinSet{
			ProviderID:   providerID,
			Fingerprints: prepend(canon, base, maxHistory),
			UpdatedAt:    s.now().UTC(),
		}
		data, err := json.Marshal(next)
		if err != nil {
			return PinSet{}, fmt.Errorf("encode pins for %s: %w", providerID, err)
		}

		ok, err := s.kv.CompareAndSwap(ctx, key, old, data, 0)
		if err != nil {
			return PinSet{}, fmt.Errorf("write pins for %s: %w", providerID, err)
		}
		if ok {
			next.Provenance = ProvenanceStore
			s.logger.Info("Pins updated", "provider", providerID, "current", canon, "count", len(next.Fingerprints))
			return next, nil
		}
		s.logger.Debug("Pin write lost a race, retrying", "provider", providerID, "attempt", attempt+1)
	}

	return PinSet{}, fmt.Errorf("%w: %s after %d attempts", ErrConflict, providerID, maxCASRetries)
}

// read returns the decoded set and the raw bytes used for compare-and-swap.
func (s *Store) read(ctx context.Context, providerID string) (PinSet, []byte, error) {
	raw, err := s.kv.Get(ctx, kv.Key(s.namespace, providerID))
	if err != nil {
		return PinSet{}, nil, err
	}
	var set PinSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return PinSet{}, raw, fmt.Errorf("decode pins for %s: %w", providerID, err)
	}
	set.ProviderID = providerID
	return set, raw, nil
}

func (s *Store) providerLock(providerID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[providerID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[providerID] = l
	}
	return l
}

func prepend(fp string, base []string, max int) []string {
	out := make([]string, 0, max)
	out = append(out, fp)
	for _, b := range base {
		if len(out) == max {
			break
		}
		if EqualPins(b, fp) {
			continue
		}
		if canon, err := ParsePin(b); err == nil {
			b = canon
		}
		out = append(out, b)
	}
	return out
}
