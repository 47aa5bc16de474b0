// Package certmonitor watches the live certificates of the DoH providers and absorbs rotations
// into the pin store.
package certmonitor

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/StrathCole/oracle-trust/pkg/alerts"
	"github.com/StrathCole/oracle-trust/pkg/kv"
	"github.com/StrathCole/oracle-trust/pkg/logging"
	"github.com/StrathCole/oracle-trust/pkg/metrics"
	"github.com/StrathCole/oracle-trust/pkg/pinstore"
	"github.com/StrathCole/oracle-trust/pkg/resolver"
)

// DefaultHistoryRetention is the number of history entries kept.
const DefaultHistoryRetention = 100

// Config holds monitor settings.
type Config struct {
	Providers        []resolver.Provider
	Namespace        string // key prefix for history and status records
	Timeout          time.Duration
	MaxHistory       int
	HistoryRetention int
}

// Monitor checks provider certificates.
type Monitor struct {
	cfg     Config
	pins    resolver.Pins
	store   kv.Store
	alerter alerts.Alerter
	logger  *logging.Logger
	now     func() time.Time
	fetch   func(ctx context.Context, p resolver.Provider) (*x509.Certificate, error)
}

// New creates a monitor.
func New(cfg Config, pins resolver.Pins, store kv.Store, alerter alerts.Alerter, logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	if alerter == nil {
		alerter = alerts.NewLogAlerter(logger)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxHistory < 1 {
		cfg.MaxHistory = pinstore.DefaultMaxHistory
	}
	if cfg.HistoryRetention < 1 {
		cfg.HistoryRetention = DefaultHistoryRetention
	}
	cfg.Providers = append([]resolver.Provider(nil), cfg.Providers...)

	m := &Monitor{
		cfg:     cfg,
		pins:    pins,
		store:   store,
		alerter: alerter,
		logger:  logger.With("component", "certmonitor"),
		now:     time.Now,
	}
	m.fetch = m.fetchLeaf
	return m
}

// Run checks every provider concurrently. The report is always returned; the error is
// non-nil only when the history or status record could not be written.
func (m *Monitor) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), StartedAt: m.now().UTC()}
	report.Statuses = make([]CertStatus, len(m.cfg.Providers))

	var history []HistoryEntry
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i, p := range m.cfg.Providers {
		wg.Add(1)
		go func(i int, p resolver.Provider) {
			defer wg.Done()
			st, entry := m.check(ctx, report.RunID, p)
			report.Statuses[i] = st
			metrics.RecordCertStatus(p.ID, string(st.Status), st.DaysLeft)
			if entry != nil {
				mu.Lock()
				history = append(history, *entry)
				mu.Unlock()
			}
		}(i, p)
	}
	wg.Wait()
	report.FinishedAt = m.now().UTC()

	m.logger.Info("Certificate check complete",
		"run", report.RunID,
		"valid", report.Count(StatusValid),
		"changed", report.Count(StatusChanged),
		"failed", report.Count(StatusFailed),
	)

	var errs []error
	if len(history) > 0 {
		if err := m.appendHistory(ctx, history); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.writeStatus(ctx, report); err != nil {
		errs = append(errs, err)
	}
	return report, errors.Join(errs...)
}

func (m *Monitor) check(ctx context.Context, runID string, p resolver.Provider) (CertStatus, *HistoryEntry) {
	st := CertStatus{Provider: p.ID, CheckedAt: m.now().UTC()}

	leaf, err := m.fetch(ctx, p)
	if err != nil {
		m.logger.Warn("Certificate fetch failed", "provider", p.ID, "error", err)
		st.Status = StatusFailed
		st.Error = err.Error()
		return st, nil
	}

	fp := pinstore.Fingerprint(leaf)
	st.Fingerprint = fp
	st.NotAfter = leaf.NotAfter.UTC()
	st.DaysLeft = int(math.Floor(leaf.NotAfter.Sub(m.now()).Hours() / 24))

	pins, err := m.pins.GetPins(ctx, p.ID)
	if err != nil && !errors.Is(err, pinstore.ErrNoPins) {
		st.Status = StatusFailed
		st.Error = err.Error()
		return st, nil
	}

	switch idx := pins.Index(fp); {
	case idx == 0:
		st.Status = StatusValid
		return st, nil

	case idx > 0:
		// A previously pinned certificate is back in service.
		if _, err := m.pins.UpdatePins(ctx, p.ID, fp, m.cfg.MaxHistory); err != nil {
			m.logger.Error("Failed to promote pin", "provider", p.ID, "error", err)
			st.Status = StatusFailed
			st.Error = err.Error()
			return st, nil
		}
		m.logger.Info("Promoted previously pinned certificate", "provider", p.ID, "position", idx)
		st.Status = StatusValid
		return st, nil
	}

	st.PreviousFingerprint = pins.Current()
	if _, err := m.pins.UpdatePins(ctx, p.ID, fp, m.cfg.MaxHistory); err != nil {
		m.logger.Error("Failed to record new pin", "provider", p.ID, "error", err)
		st.Status = StatusFailed
		st.Error = err.Error()
		return st, nil
	}
	st.Status = StatusChanged

	m.logger.Warn("Certificate fingerprint changed", "provider", p.ID, "old", st.PreviousFingerprint, "new", fp)
	alert := alerts.Alert{
		ID:       uuid.NewString(),
		Kind:     "cert_rotation",
		Severity: alerts.SeverityWarning,
		Subject:  p.ID,
		Message:  "DoH provider certificate fingerprint changed",
		Details: map[string]string{
			"old":       st.PreviousFingerprint,
			"new":       fp,
			"not_after": st.NotAfter.Format(time.RFC3339),
		},
		FiredAt: st.CheckedAt,
	}
	if err := m.alerter.Send(ctx, alert); err != nil {
		m.logger.Warn("Rotation alert not delivered", "provider", p.ID, "error", err)
	}

	return st, &HistoryEntry{
		ID:             uuid.NewString(),
		RunID:          runID,
		Provider:       p.ID,
		OldFingerprint: st.PreviousFingerprint,
		NewFingerprint: fp,
		NotAfter:       st.NotAfter,
		DetectedAt:     st.CheckedAt,
	}
}

// History returns the stored audit entries, oldest first.
func (m *Monitor) History(ctx context.Context) ([]HistoryEntry, error) {
	raw, err := m.store.Get(ctx, kv.Key(m.cfg.Namespace, "history"))
	if kv.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	var entries []HistoryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return entries, nil
}

// LastReport returns the status record of the previous run.
func (m *Monitor) LastReport(ctx context.Context) (*Report, error) {
	raw, err := m.store.Get(ctx, kv.Key(m.cfg.Namespace, "status"))
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &r, nil
}

func (m *Monitor) appendHistory(ctx context.Context, added []HistoryEntry) error {
	entries, err := m.History(ctx)
	if err != nil {
		// Unreadable history is replaced rather than blocking the audit trail.
		m.logger.Warn("Resetting unreadable history", "error", err)
		entries = nil
	}
	entries = append(entries, added...)
	if n := len(entries) - m.cfg.HistoryRetention; n > 0 {
		entries = entries[n:]
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := m.store.Set(ctx, kv.Key(m.cfg.Namespace, "history"), data, 0); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

func (m *Monitor) writeStatus(ctx context.Context, r *Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	if err := m.store.Set(ctx, kv.Key(m.cfg.Namespace, "status"), data, 0); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}

// fetchLeaf dials the provider and returns its leaf certificate without chain validation.
func (m *Monitor) fetchLeaf(ctx context.Context, p resolver.Provider) (*x509.Certificate, error) {
	u, err := url.Parse(p.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid provider url %q", p.URL)
	}

	addr := p.Address
	if addr == "" {
		addr = u.Host
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(addr, "443")
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			ServerName: u.Hostname(),
			MinVersion: tls.VersionTLS12,
			// The fingerprint comparison is the trust decision.
			InsecureSkipVerify: true, // #nosec G402
		},
	}

	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	certs := conn.(*tls.Conn).ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil, errors.New("no peer certificate")
	}
	return certs[0], nil
}
