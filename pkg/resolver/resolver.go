// Package resolver resolves hostnames over certificate-pinned DNS-over-HTTPS.
//
// Providers are tried in a fixed order. Each provider gets a bounded number of attempts with a
// backoff schedule; trust failures and hard connection errors skip straight to the next provider.
package resolver

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/StrathCole/oracle-trust/pkg/logging"
	"github.com/StrathCole/oracle-trust/pkg/metrics"
	"github.com/StrathCole/oracle-trust/pkg/pinstore"
	"github.com/StrathCole/oracle-trust/pkg/version"
)

const maxResponseSize = 1 << 20

// Pins is the subset of the pin store the resolver needs.
type Pins interface {
	GetPins(ctx context.Context, providerID string) (pinstore.PinSet, error)
	UpdatePins(ctx context.Context, providerID, fingerprint string, maxHistory int) (pinstore.PinSet, error)
}

// Config holds resolver settings.
type Config struct {
	Providers  []Provider
	Attempts   int
	Backoff    []time.Duration // wait before attempt i
	Timeout    time.Duration   // per attempt
	CacheTTL   time.Duration
	MaxHistory int
}

// Resolver is a pinned DoH client with provider fallback and an answer cache.
type Resolver struct {
	providers  []Provider
	attempts   int
	backoff    []time.Duration
	timeout    time.Duration
	maxHistory int

	pins   Pins
	cache  *cache
	logger *logging.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a resolver. The provider table is copied and never changes afterwards.
func New(cfg Config, pins Pins, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 3
	}
	if cfg.Backoff == nil {
		cfg.Backoff = []time.Duration{0, time.Second, 3 * time.Second}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.MaxHistory < 1 {
		cfg.MaxHistory = pinstore.DefaultMaxHistory
	}

	r := &Resolver{
		providers:  append([]Provider(nil), cfg.Providers...),
		attempts:   cfg.Attempts,
		backoff:    append([]time.Duration(nil), cfg.Backoff...),
		timeout:    cfg.Timeout,
		maxHistory: cfg.MaxHistory,
		pins:       pins,
		logger:     logger.With("component", "resolver"),
		now:        time.Now,
		sleep:      sleepContext,
	}
	r.cache = newCache(cfg.CacheTTL, func() time.Time { return r.now() })
	return r
}

// Resolve returns the answer for domain and record type (e.g. "A").
func (r *Resolver) Resolve(ctx context.Context, domain, recordType string, opts Options) (*Answer, error) {
	domain = strings.TrimSuffix(strings.ToLower(domain), ".")
	recordType = strings.ToUpper(recordType)

	if !opts.ForceRefresh {
		if a, ok := r.cache.get(domain, recordType); ok {
			metrics.RecordCacheHit()
			return a, nil
		}
	}

	var lastErr error
	for _, p := range r.providers {
		a, err := r.tryProvider(ctx, p, domain, recordType)
		if err == nil {
			r.cache.put(a)
			return a, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	metrics.RecordResolverExhausted()
	r.logger.Error("All DoH providers failed", "domain", domain, "type", recordType, "error", lastErr)
	return nil, fmt.Errorf("%w: %s %s: %w", ErrResolutionExhausted, domain, recordType, lastErr)
}

func (r *Resolver) tryProvider(ctx context.Context, p Provider, domain, recordType string) (*Answer, error) {
	pins, err := r.pins.GetPins(ctx, p.ID)
	if err != nil {
		r.logger.Warn("No pins for provider, skipping", "provider", p.ID, "error", err)
		metrics.RecordResolverAttempt(p.ID, "no_pins")
		return nil, fmt.Errorf("%w: %s: %w", ErrTrustVerification, p.ID, err)
	}

	var lastErr error
	for i := 0; i < r.attempts; i++ {
		if i < len(r.backoff) && r.backoff[i] > 0 {
			if err := r.sleep(ctx, r.backoff[i]); err != nil {
				return nil, err
			}
		}

		a, fp, err := r.query(ctx, p, pins, domain, recordType)
		if err == nil {
			metrics.RecordResolverAttempt(p.ID, "ok")
			if pins.Provenance == pinstore.ProvenanceBootstrap {
				r.persistBootstrap(ctx, p.ID, fp)
			}
			return a, nil
		}
		lastErr = err

		switch {
		case errors.Is(err, ErrTrustVerification):
			metrics.RecordResolverAttempt(p.ID, "trust")
			r.logger.Error("DoH provider failed trust verification", "provider", p.ID, "error", err)
			return nil, err
		case errors.Is(err, ErrTransientNetwork):
			metrics.RecordResolverAttempt(p.ID, "transient")
			r.logger.Warn("DoH attempt failed, retrying", "provider", p.ID, "attempt", i+1, "error", err)
		default:
			metrics.RecordResolverAttempt(p.ID, "rejected")
			r.logger.Warn("DoH provider unusable", "provider", p.ID, "error", err)
			return nil, err
		}
	}
	return nil, lastErr
}

// persistBootstrap records the verified fingerprint so later runs read pins from the store.
func (r *Resolver) persistBootstrap(ctx context.Context, providerID, fp string) {
	if fp == "" {
		return
	}
	if _, err := r.pins.UpdatePins(ctx, providerID, fp, r.maxHistory); err != nil {
		r.logger.Warn("Failed to persist bootstrap pin", "provider", providerID, "error", err)
		return
	}
	r.logger.Info("Persisted bootstrap pin", "provider", providerID)
}

// query performs one attempt and returns the answer and the verified fingerprint.
func (r *Resolver) query(ctx context.Context, p Provider, pins pinstore.PinSet, domain, recordType string) (*Answer, string, error) {
	u, err := url.Parse(p.URL)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: bad url: %v", ErrProviderRejected, p.ID, err)
	}
	q := u.Query()
	q.Set("name", domain)
	q.Set("type", recordType)
	u.RawQuery = q.Encode()

	verifier := &pinVerifier{pins: pins, host: u.Hostname(), now: r.now}
	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig:   verifier.tlsConfig(),
			DialContext:       dialOverride(p.Address, r.timeout),
			DisableKeepAlives: true,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %v", ErrProviderRejected, p.ID, err)
	}
	req.Header.Set("Accept", "application/dns-json")
	req.Header.Set("User-Agent", version.AgentString())

	resp, err := client.Do(req)
	if err != nil {
		if verr := verifier.failure(); verr != nil {
			return nil, "", fmt.Errorf("%w: %s: %v", ErrTrustVerification, p.ID, verr)
		}
		return nil, "", classifyNetError(p.ID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, "", fmt.Errorf("%w: %s: HTTP %d", ErrTransientNetwork, p.ID, resp.StatusCode)
	default:
		return nil, "", fmt.Errorf("%w: %s: HTTP %d", ErrProviderRejected, p.ID, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: read body: %v", ErrTransientNetwork, p.ID, err)
	}

	var a Answer
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, "", fmt.Errorf("%w: %s: decode: %v", ErrProviderRejected, p.ID, err)
	}
	if !a.usable() {
		return nil, "", fmt.Errorf("%w: %s: empty answer (status %d)", ErrProviderRejected, p.ID, a.Status)
	}

	a.Domain = domain
	a.Type = recordType
	a.Provider = p.ID
	a.CachedAt = r.now().UTC()
	return &a, verifier.verified, nil
}

// classifyNetError separates hard connection failures from retryable ones.
func classifyNetError(providerID string, err error) error {
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("%w: %s: connection refused: %v", ErrProviderRejected, providerID, err)
	case errors.As(err, &dnsErr) && dnsErr.IsNotFound:
		return fmt.Errorf("%w: %s: host not found: %v", ErrProviderRejected, providerID, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrTransientNetwork, providerID, err)
	}
}

func dialOverride(address string, timeout time.Duration) func(ctx context.Context, network, addr string) (net.Conn, error) {
	d := &net.Dialer{Timeout: timeout}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if address != "" {
			addr = address
		}
		return d.DialContext(ctx, network, addr)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// pinVerifier checks the leaf certificate during the handshake and remembers the outcome.
type pinVerifier struct {
	pins pinstore.PinSet
	host string
	now  func() time.Time

	err      error
	verified string
}

func (v *pinVerifier) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName: v.host,
		MinVersion: tls.VersionTLS12,
		// Chain validation is replaced by the pin check in VerifyConnection.
		InsecureSkipVerify: true, // #nosec G402
		VerifyConnection:   v.verify,
	}
}

func (v *pinVerifier) verify(cs tls.ConnectionState) error {
	if len(cs.PeerCertificates) == 0 {
		v.err = errors.New("no peer certificate")
		return v.err
	}
	leaf := cs.PeerCertificates[0]

	fp := pinstore.Fingerprint(leaf)
	if !v.pins.Contains(fp) {
		v.err = fmt.Errorf("fingerprint %s not pinned", fp)
		return v.err
	}
	now := v.now()
	if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
		v.err = fmt.Errorf("certificate outside validity window %s - %s",
			leaf.NotBefore.Format(time.RFC3339), leaf.NotAfter.Format(time.RFC3339))
		return v.err
	}
	if err := leaf.VerifyHostname(v.host); err != nil {
		v.err = err
		return v.err
	}

	v.verified = fp
	return nil
}

func (v *pinVerifier) failure() error { return v.err }
