package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/oracle-trust/pkg/kv"
	"github.com/StrathCole/oracle-trust/pkg/logging"
	"github.com/StrathCole/oracle-trust/pkg/pinstore"
)

const answerA = `{"Status":0,"Answer":[{"name":"api.example.","type":5,"TTL":300,"data":"edge.example."},{"name":"edge.example.","type":1,"TTL":300,"data":"127.0.0.1"}]}`

type dohServer struct {
	*httptest.Server
	conns    atomic.Int32
	requests atomic.Int32
}

func newDoH(t *testing.T, h http.HandlerFunc) *dohServer {
	t.Helper()
	d := &dohServer{}
	d.Server = httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.requests.Add(1)
		h(w, r)
	}))
	d.Config.ConnState = func(_ net.Conn, s http.ConnState) {
		if s == http.StateNew {
			d.conns.Add(1)
		}
	}
	d.Config.ErrorLog = log.New(io.Discard, "", 0)
	d.StartTLS()
	t.Cleanup(d.Close)
	return d
}

func (d *dohServer) pin() string { return pinstore.Fingerprint(d.Certificate()) }

func (d *dohServer) port() string {
	_, port, _ := net.SplitHostPort(d.Listener.Addr().String())
	return port
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/dns-json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func otherPin() string {
	sum := sha256.Sum256([]byte("someone else"))
	return base64.StdEncoding.EncodeToString(sum[:])
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return nil
}

func newTestResolver(t *testing.T, pins map[string][]string, providers ...Provider) (*Resolver, *pinstore.Store, *sleepRecorder) {
	t.Helper()
	ps := pinstore.New(kv.NewMemory(), "doh_pins", pins, logging.NewNoopLogger())
	r := New(Config{
		Providers: providers,
		Backoff:   []time.Duration{0, time.Second, 3 * time.Second},
		Timeout:   5 * time.Second,
		CacheTTL:  3 * time.Hour,
	}, ps, logging.NewNoopLogger())
	rec := &sleepRecorder{}
	r.sleep = rec.sleep
	return r, ps, rec
}

func TestResolve_Success(t *testing.T) {
	srv := newDoH(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/dns-json", r.Header.Get("Accept"))
		assert.Equal(t, "api.example", r.URL.Query().Get("name"))
		assert.Equal(t, "A", r.URL.Query().Get("type"))
		respond(http.StatusOK, answerA)(w, r)
	})

	r, _, _ := newTestResolver(t, map[string][]string{"a": {srv.pin()}},
		Provider{ID: "a", URL: srv.URL + "/dns-query"})

	a, err := r.Resolve(context.Background(), "API.example.", "a", Options{})
	require.NoError(t, err)
	assert.Equal(t, "a", a.Provider)
	assert.False(t, a.FromCache)
	assert.Equal(t, []string{"127.0.0.1"}, ExtractIPs(a))
}

func TestResolve_TrustFailureAdvancesWithoutRetry(t *testing.T) {
	bad := newDoH(t, respond(http.StatusOK, answerA))
	good := newDoH(t, respond(http.StatusOK, answerA))

	r, _, rec := newTestResolver(t,
		map[string][]string{"a": {otherPin()}, "b": {good.pin()}},
		Provider{ID: "a", URL: bad.URL}, Provider{ID: "b", URL: good.URL})

	a, err := r.Resolve(context.Background(), "api.example", "A", Options{})
	require.NoError(t, err)
	assert.Equal(t, "b", a.Provider)

	assert.Equal(t, int32(1), bad.conns.Load(), "pin mismatch must not be retried")
	assert.Equal(t, int32(0), bad.requests.Load(), "no request may be sent after a failed handshake check")
	assert.Empty(t, rec.waits)
}

func TestResolve_TransientErrorsRetryWithBackoff(t *testing.T) {
	flaky := newDoH(t, respond(http.StatusServiceUnavailable, "busy"))
	good := newDoH(t, respond(http.StatusOK, answerA))

	r, _, rec := newTestResolver(t,
		map[string][]string{"a": {flaky.pin()}, "b": {good.pin()}},
		Provider{ID: "a", URL: flaky.URL}, Provider{ID: "b", URL: good.URL})

	a, err := r.Resolve(context.Background(), "api.example", "A", Options{})
	require.NoError(t, err)
	assert.Equal(t, "b", a.Provider)
	assert.Equal(t, int32(3), flaky.requests.Load())
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second}, rec.waits)
}

func TestResolve_RateLimitIsTransient(t *testing.T) {
	var calls atomic.Int32
	srv := newDoH(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			respond(http.StatusTooManyRequests, "")(w, r)
			return
		}
		respond(http.StatusOK, answerA)(w, r)
	})

	r, _, rec := newTestResolver(t, map[string][]string{"a": {srv.pin()}}, Provider{ID: "a", URL: srv.URL})
	a, err := r.Resolve(context.Background(), "api.example", "A", Options{})
	require.NoError(t, err)
	assert.Equal(t, "a", a.Provider)
	assert.Equal(t, []time.Duration{time.Second}, rec.waits)
}

func TestResolve_ClientErrorIsNotRetried(t *testing.T) {
	notFound := newDoH(t, respond(http.StatusNotFound, ""))
	good := newDoH(t, respond(http.StatusOK, answerA))

	r, _, rec := newTestResolver(t,
		map[string][]string{"a": {notFound.pin()}, "b": {good.pin()}},
		Provider{ID: "a", URL: notFound.URL}, Provider{ID: "b", URL: good.URL})

	_, err := r.Resolve(context.Background(), "api.example", "A", Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), notFound.requests.Load())
	assert.Empty(t, rec.waits)
}

func TestResolve_EmptyAnswerAdvances(t *testing.T) {
	nx := newDoH(t, respond(http.StatusOK, `{"Status":3}`))
	good := newDoH(t, respond(http.StatusOK, answerA))

	r, _, _ := newTestResolver(t,
		map[string][]string{"a": {nx.pin()}, "b": {good.pin()}},
		Provider{ID: "a", URL: nx.URL}, Provider{ID: "b", URL: good.URL})

	a, err := r.Resolve(context.Background(), "api.example", "A", Options{})
	require.NoError(t, err)
	assert.Equal(t, "b", a.Provider)
	assert.Equal(t, int32(1), nx.requests.Load())
}

func TestResolve_AuthorityOnlyIsAccepted(t *testing.T) {
	srv := newDoH(t, respond(http.StatusOK,
		`{"Status":0,"Authority":[{"name":"example.","type":6,"TTL":900,"data":"ns.example. hostmaster.example. 1 2 3 4 5"}]}`))

	r, _, _ := newTestResolver(t, map[string][]string{"a": {srv.pin()}}, Provider{ID: "a", URL: srv.URL})
	a, err := r.Resolve(context.Background(), "example", "AAAA", Options{})
	require.NoError(t, err)
	assert.Len(t, a.Authority, 1)
	assert.Empty(t, ExtractIPs(a))
}

func TestResolve_ConnectionRefusedIsNotRetried(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	r, _, rec := newTestResolver(t, map[string][]string{"a": {otherPin()}}, Provider{ID: "a", URL: "https://" + addr})
	_, err = r.Resolve(context.Background(), "api.example", "A", Options{})
	assert.ErrorIs(t, err, ErrResolutionExhausted)
	assert.ErrorIs(t, err, ErrProviderRejected)
	assert.Empty(t, rec.waits)
}

func TestResolve_AllProvidersFail(t *testing.T) {
	a := newDoH(t, respond(http.StatusOK, answerA))
	b := newDoH(t, respond(http.StatusOK, answerA))

	r, _, _ := newTestResolver(t,
		map[string][]string{"a": {otherPin()}, "b": {otherPin()}},
		Provider{ID: "a", URL: a.URL}, Provider{ID: "b", URL: b.URL})

	_, err := r.Resolve(context.Background(), "api.example", "A", Options{})
	assert.ErrorIs(t, err, ErrResolutionExhausted)
	assert.ErrorIs(t, err, ErrTrustVerification)
}

func TestResolve_ProviderWithoutPinsIsSkipped(t *testing.T) {
	good := newDoH(t, respond(http.StatusOK, answerA))
	r, _, _ := newTestResolver(t, map[string][]string{"b": {good.pin()}},
		Provider{ID: "a", URL: good.URL}, Provider{ID: "b", URL: good.URL})

	a, err := r.Resolve(context.Background(), "api.example", "A", Options{})
	require.NoError(t, err)
	assert.Equal(t, "b", a.Provider)
	assert.Equal(t, int32(1), good.requests.Load())
}

func TestResolve_ExpiredCertificateFailsTrust(t *testing.T) {
	srv := newDoH(t, respond(http.StatusOK, answerA))
	r, _, _ := newTestResolver(t, map[string][]string{"a": {srv.pin()}}, Provider{ID: "a", URL: srv.URL})
	r.now = func() time.Time { return srv.Certificate().NotAfter.Add(time.Hour) }

	_, err := r.Resolve(context.Background(), "api.example", "A", Options{})
	assert.ErrorIs(t, err, ErrTrustVerification)
	assert.Equal(t, int32(0), srv.requests.Load())
}

func TestResolve_HostnameMismatchFailsTrust(t *testing.T) {
	srv := newDoH(t, respond(http.StatusOK, answerA))
	addr := srv.Listener.Addr().String()

	r, _, _ := newTestResolver(t, map[string][]string{"a": {srv.pin()}, "b": {srv.pin()}},
		Provider{ID: "a", URL: "https://wrong.test:" + srv.port(), Address: addr},
		Provider{ID: "b", URL: "https://example.com:" + srv.port(), Address: addr})

	a, err := r.Resolve(context.Background(), "api.example", "A", Options{})
	require.NoError(t, err)
	assert.Equal(t, "b", a.Provider, "the certificate only covers example.com")
}

func TestResolve_CacheAndForceRefresh(t *testing.T) {
	srv := newDoH(t, respond(http.StatusOK, answerA))
	r, _, _ := newTestResolver(t, map[string][]string{"a": {srv.pin()}}, Provider{ID: "a", URL: srv.URL})

	now := time.Now()
	r.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := r.Resolve(ctx, "api.example", "A", Options{})
	require.NoError(t, err)

	a, err := r.Resolve(ctx, "api.example", "A", Options{})
	require.NoError(t, err)
	assert.True(t, a.FromCache)
	assert.Equal(t, "a", a.Provider)
	assert.Equal(t, int32(1), srv.requests.Load())

	// Different record type is a different key.
	_, err = r.Resolve(ctx, "api.example", "AAAA", Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), srv.requests.Load())

	_, err = r.Resolve(ctx, "api.example", "A", Options{ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, int32(3), srv.requests.Load())

	// Past the TTL the entry is never served.
	now = now.Add(3*time.Hour + time.Second)
	a, err = r.Resolve(ctx, "api.example", "A", Options{})
	require.NoError(t, err)
	assert.False(t, a.FromCache)
	assert.Equal(t, int32(4), srv.requests.Load())
}

func TestResolve_PersistsBootstrapPin(t *testing.T) {
	srv := newDoH(t, respond(http.StatusOK, answerA))
	r, ps, _ := newTestResolver(t, map[string][]string{"a": {otherPin(), srv.pin()}}, Provider{ID: "a", URL: srv.URL})
	ctx := context.Background()

	_, err := r.Resolve(ctx, "api.example", "A", Options{})
	require.NoError(t, err)

	set, err := ps.GetPins(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, pinstore.ProvenanceStore, set.Provenance)
	assert.Equal(t, srv.pin(), set.Current())
	assert.Equal(t, []string{srv.pin(), otherPin()}, set.Fingerprints)
}

func TestExtractIPs(t *testing.T) {
	assert.Nil(t, ExtractIPs(nil))
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, ExtractIPs(&Answer{Answer: []Record{
		{Type: TypeCNAME, Data: "x."}, {Type: TypeA, Data: "10.0.0.1"}, {Type: TypeAAAA, Data: "::1"}, {Type: TypeA, Data: "10.0.0.2"},
	}}))
	assert.Equal(t, []string{"::1"}, ExtractIPs(&Answer{Answer: []Record{{Type: TypeCNAME, Data: "x."}, {Type: TypeAAAA, Data: "::1"}}}))
	assert.Equal(t, []string{"x."}, ExtractIPs(&Answer{Answer: []Record{{Type: TypeCNAME, Data: "x."}}}))
}

func TestHTTPClientDialsResolvedAddress(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "hello")
	}))
	defer target.Close()
	_, port, _ := net.SplitHostPort(target.Listener.Addr().String())

	doh := newDoH(t, respond(http.StatusOK, answerA))
	r, _, _ := newTestResolver(t, map[string][]string{"a": {doh.pin()}}, Provider{ID: "a", URL: doh.URL})

	resp, err := r.HTTPClient(5 * time.Second).Get("http://api.example:" + port + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "hello", strings.TrimSpace(string(body)))
}
