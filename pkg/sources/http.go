package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/StrathCole/oracle-trust/pkg/logging"
	"github.com/StrathCole/oracle-trust/pkg/metrics"
	"github.com/StrathCole/oracle-trust/pkg/version"
)

const maxBodySize = 1 << 20

var pathEscaper = strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)

// HTTPAdapter fetches a price from a JSON endpoint described by a Spec.
type HTTPAdapter struct {
	name   string
	spec   Spec
	client *http.Client
	logger *logging.Logger
	now    func() time.Time
}

// NewHTTPAdapter creates an adapter. A nil client gets a 10s default.
func NewHTTPAdapter(name string, spec Spec, client *http.Client, logger *logging.Logger) *HTTPAdapter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &HTTPAdapter{
		name:   name,
		spec:   spec,
		client: client,
		logger: logger.With("source", name),
		now:    time.Now,
	}
}

// New builds an adapter from a config entry.
func New(cfg Config, client *http.Client, logger *logging.Logger) (*HTTPAdapter, error) {
	name, spec, err := Resolve(cfg)
	if err != nil {
		return nil, err
	}
	return NewHTTPAdapter(name, spec, client, logger), nil
}

// Name returns the source name.
func (a *HTTPAdapter) Name() string { return a.name }

// Fetch requests the endpoint for symbol and extracts the price.
func (a *HTTPAdapter) Fetch(ctx context.Context, symbol string) (Price, error) {
	p, err := a.fetch(ctx, symbol)
	metrics.RecordSourceFetch(a.name, err == nil)
	if err != nil {
		a.logger.Warn("Price fetch failed", "symbol", symbol, "error", err)
		return Price{}, err
	}
	a.logger.Debug("Fetched price", "symbol", symbol, "price", p.Price.String())
	return p, nil
}

func (a *HTTPAdapter) fetch(ctx context.Context, symbol string) (Price, error) {
	endpoint := strings.ReplaceAll(a.spec.EndpointTemplate, "{symbol}", url.PathEscape(symbol))
	path := strings.ReplaceAll(a.spec.PricePath, "{symbol}", pathEscaper.Replace(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Price{}, fmt.Errorf("%w: %s: %v", ErrAdapterFailed, a.name, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.AgentString())
	if a.spec.AuthHeader != "" && a.spec.AuthValue != "" {
		req.Header.Set(a.spec.AuthHeader, a.spec.AuthValue)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return Price{}, fmt.Errorf("%w: %s: %v", ErrAdapterFailed, a.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Price{}, fmt.Errorf("%w: %s: HTTP %d", ErrAdapterFailed, a.name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Price{}, fmt.Errorf("%w: %s: read body: %v", ErrAdapterFailed, a.name, err)
	}
	if !gjson.ValidBytes(body) {
		return Price{}, fmt.Errorf("%w: %s: response is not JSON", ErrAdapterFailed, a.name)
	}

	res := gjson.GetBytes(body, path)
	if !res.Exists() {
		return Price{}, fmt.Errorf("%w: %s: no value at %q", ErrAdapterFailed, a.name, path)
	}

	raw := res.String()
	if res.Type == gjson.Number {
		raw = res.Raw // keep full precision
	}
	price, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return Price{}, fmt.Errorf("%w: %s: bad price %q: %v", ErrAdapterFailed, a.name, raw, err)
	}
	if !price.IsPositive() {
		return Price{}, fmt.Errorf("%w: %s: non-positive price %s", ErrAdapterFailed, a.name, price)
	}

	return Price{
		Source:    a.name,
		Symbol:    symbol,
		Price:     price,
		Timestamp: a.now().UTC(),
		Origin:    endpoint,
	}, nil
}
