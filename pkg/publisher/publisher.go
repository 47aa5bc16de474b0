// Package publisher uploads snapshot batches to a content-addressed store and a mirror, verifies
// the copies, and only then retires the previous publication.
package publisher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/StrathCole/oracle-trust/pkg/logging"
	"github.com/StrathCole/oracle-trust/pkg/metrics"
	"github.com/StrathCole/oracle-trust/pkg/publisher/cas"
	"github.com/StrathCole/oracle-trust/pkg/publisher/mirror"
)

const (
	defaultCleanupLimit = 10
	defaultTimeout      = 30 * time.Second
	latestSuffix        = "_latest.json"
)

// Config holds publisher settings.
type Config struct {
	Prefix       string   // mirror key prefix, e.g. oracle_mainnet
	ExpectedKeys []string // top-level keys the primary copy must carry
	CleanupLimit int      // max old payloads removed per publish
	Timeout      time.Duration
}

// Publisher publishes snapshot payloads.
type Publisher struct {
	cfg     Config
	primary cas.Store
	mirror  mirror.Store
	logger  *logging.Logger
	now     func() time.Time

	mu      sync.Mutex
	retired map[string]struct{}
}

// New creates a publisher. primary may be nil, in which case every publish is degraded.
func New(cfg Config, primary cas.Store, m mirror.Store, logger *logging.Logger) (*Publisher, error) {
	if m == nil {
		return nil, errors.New("publisher: mirror store is required")
	}
	if cfg.Prefix == "" {
		return nil, errors.New("publisher: key prefix is required")
	}
	if cfg.CleanupLimit < 0 {
		cfg.CleanupLimit = 0
	} else if cfg.CleanupLimit == 0 {
		cfg.CleanupLimit = defaultCleanupLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Publisher{
		cfg:     cfg,
		primary: primary,
		mirror:  m,
		logger:  logger.With("component", "publisher"),
		now:     time.Now,
		retired: make(map[string]struct{}),
	}, nil
}

// PointerKey returns the key of the latest alias.
func (p *Publisher) PointerKey() string {
	return p.cfg.Prefix + latestSuffix
}

// Latest reads the pointer written by the last successful publish.
func (p *Publisher) Latest(ctx context.Context) (*Pointer, error) {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	data, err := p.mirror.Get(cctx, p.PointerKey())
	if err != nil {
		if errors.Is(err, mirror.ErrNotFound) {
			return nil, ErrNoPointer
		}
		return nil, err
	}
	var ptr Pointer
	if err := json.Unmarshal(data, &ptr); err != nil {
		return nil, fmt.Errorf("decode pointer: %w", err)
	}
	return &ptr, nil
}

// Publish stores payload and, once the new copy is verified, retires previousID from the
// primary store. A returned error means nothing was published and previousID is untouched.
func (p *Publisher) Publish(ctx context.Context, payload []byte, previousID string) (*PublishedObject, error) {
	ts := p.now().UTC()
	sum := sha256.Sum256(payload)
	obj := &PublishedObject{
		ObjectKey:   fmt.Sprintf("%s_%d.json", p.cfg.Prefix, ts.UnixMilli()),
		PayloadHash: hex.EncodeToString(sum[:]),
		Commitment:  Commitment(payload),
		Timestamp:   ts,
	}
	log := p.logger.With("key", obj.ObjectKey, "hash", obj.PayloadHash)

	// Uploading
	if p.primary != nil {
		var id string
		err := p.call(ctx, func(cctx context.Context) (err error) {
			id, err = p.primary.Add(cctx, payload)
			return err
		})
		if err != nil {
			log.Warn("Primary upload failed, continuing with mirror only", "error", err)
		} else {
			obj.ContentID = id
			log = log.With("cid", id)
		}
	}

	// Mirroring
	if err := p.mirrorPayload(ctx, obj, payload); err != nil {
		p.abandon(ctx, obj.ContentID, previousID)
		status := "failed"
		if errors.Is(err, ErrPublishIntegrity) {
			status = "integrity_failed"
		}
		metrics.RecordPublish(status)
		log.Error("Publish aborted", "error", err)
		return nil, err
	}

	// Verifying
	obj.Status = StatusDegraded
	obj.ReadURL = p.mirror.URL(obj.ObjectKey)
	if obj.ContentID != "" {
		if err := p.verifyPrimary(ctx, obj.ContentID); err != nil {
			log.Warn("Primary copy not readable, serving from mirror", "error", err)
		} else {
			obj.Status = StatusPublished
			obj.ReadURL = p.primary.URL(obj.ContentID)
		}
	}
	metrics.RecordPublish(string(obj.Status))
	log.Info("Snapshot published", "status", obj.Status, "url", obj.ReadURL)

	// Retire previous
	if previousID != "" && previousID != obj.ContentID {
		if err := p.Retire(ctx, previousID); err != nil {
			obj.RetireErr = err
			metrics.RecordRetirementFailure()
			log.Warn("Could not retire previous object", "previous", previousID, "error", err)
		}
	}

	if err := p.sweep(ctx, obj.ObjectKey); err != nil {
		log.Warn("Mirror cleanup failed", "error", err)
	}
	return obj, nil
}

// Retire removes id from the primary store. Ids already retired and ids the store no longer
// knows count as done.
func (p *Publisher) Retire(ctx context.Context, id string) error {
	if p.primary == nil || id == "" {
		return nil
	}

	p.mu.Lock()
	_, done := p.retired[id]
	p.mu.Unlock()
	if done {
		return nil
	}

	err := p.call(ctx, func(cctx context.Context) error {
		return p.primary.Remove(cctx, id)
	})
	if err != nil && !errors.Is(err, cas.ErrNotFound) {
		return fmt.Errorf("%w: %s: %v", ErrRetirement, id, err)
	}

	p.mu.Lock()
	p.retired[id] = struct{}{}
	p.mu.Unlock()
	p.logger.Debug("Retired previous object", "cid", id)
	return nil
}

// Commitment returns the keccak256 digest of payload as 0x-prefixed hex.
func Commitment(payload []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(payload)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

func (p *Publisher) mirrorPayload(ctx context.Context, obj *PublishedObject, payload []byte) error {
	if err := p.call(ctx, func(cctx context.Context) error {
		return p.mirror.Put(cctx, obj.ObjectKey, payload)
	}); err != nil {
		return fmt.Errorf("%w: mirror upload: %v", ErrPublishFailed, err)
	}

	var back []byte
	if err := p.call(ctx, func(cctx context.Context) (err error) {
		back, err = p.mirror.Get(cctx, obj.ObjectKey)
		return err
	}); err != nil {
		return fmt.Errorf("%w: mirror read back: %v", ErrPublishFailed, err)
	}

	sum := sha256.Sum256(back)
	if got := hex.EncodeToString(sum[:]); got != obj.PayloadHash {
		p.deleteQuietly(ctx, obj.ObjectKey)
		return fmt.Errorf("%w: uploaded %s, mirror returned %s", ErrPublishIntegrity, obj.PayloadHash, got)
	}

	ptr, err := json.Marshal(Pointer{
		CID:         obj.ContentID,
		ObjectKey:   obj.ObjectKey,
		PayloadHash: obj.PayloadHash,
		Timestamp:   obj.Timestamp.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("%w: encode pointer: %v", ErrPublishFailed, err)
	}
	if err := p.call(ctx, func(cctx context.Context) error {
		return p.mirror.Put(cctx, p.PointerKey(), ptr)
	}); err != nil {
		p.deleteQuietly(ctx, obj.ObjectKey)
		return fmt.Errorf("%w: pointer upload: %v", ErrPublishFailed, err)
	}
	return nil
}

func (p *Publisher) verifyPrimary(ctx context.Context, id string) error {
	var data []byte
	if err := p.call(ctx, func(cctx context.Context) (err error) {
		data, err = p.primary.Fetch(cctx, id)
		return err
	}); err != nil {
		return err
	}
	return checkStructure(data, p.cfg.ExpectedKeys)
}

func checkStructure(data []byte, keys []string) error {
	var doc map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("payload is not a JSON object: %w", err)
	}
	var missing []string
	for _, k := range keys {
		if _, ok := doc[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("payload is missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// abandon removes a primary object uploaded by a publish that did not complete. An id equal to
// previousID is still referenced by the current pointer and is kept.
func (p *Publisher) abandon(ctx context.Context, id, previousID string) {
	if id == "" || id == previousID {
		return
	}
	if err := p.call(ctx, func(cctx context.Context) error {
		return p.primary.Remove(cctx, id)
	}); err != nil && !errors.Is(err, cas.ErrNotFound) {
		p.logger.Warn("Could not remove orphaned primary object", "cid", id, "error", err)
	}
}

func (p *Publisher) deleteQuietly(ctx context.Context, key string) {
	if err := p.call(ctx, func(cctx context.Context) error {
		return p.mirror.Delete(cctx, key)
	}); err != nil {
		p.logger.Warn("Could not delete mirror object", "key", key, "error", err)
	}
}

// sweep deletes payloads older than current, oldest first, at most CleanupLimit per call.
func (p *Publisher) sweep(ctx context.Context, current string) error {
	if p.cfg.CleanupLimit == 0 {
		return nil
	}

	var keys []string
	if err := p.call(ctx, func(cctx context.Context) (err error) {
		keys, err = p.mirror.List(cctx, p.cfg.Prefix+"_")
		return err
	}); err != nil {
		return err
	}

	currentTS, ok := p.payloadTimestamp(current)
	if !ok {
		return nil
	}

	type payloadKey struct {
		key string
		ts  int64
	}
	var old []payloadKey
	for _, k := range keys {
		ts, ok := p.payloadTimestamp(k)
		if ok && ts < currentTS {
			old = append(old, payloadKey{k, ts})
		}
	}
	sort.Slice(old, func(i, j int) bool { return old[i].ts < old[j].ts })
	if len(old) > p.cfg.CleanupLimit {
		old = old[:p.cfg.CleanupLimit]
	}

	var errs []error
	for _, o := range old {
		if err := p.call(ctx, func(cctx context.Context) error {
			return p.mirror.Delete(cctx, o.key)
		}); err != nil {
			errs = append(errs, err)
			continue
		}
		p.logger.Debug("Removed old mirror object", "key", o.key)
	}
	return errors.Join(errs...)
}

// payloadTimestamp parses <prefix>_<millis>.json.
func (p *Publisher) payloadTimestamp(key string) (int64, bool) {
	rest, ok := strings.CutPrefix(key, p.cfg.Prefix+"_")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, ".json")
	if !ok {
		return 0, false
	}
	ts, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// call runs one backend operation under its own deadline.
func (p *Publisher) call(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	return fn(cctx)
}
