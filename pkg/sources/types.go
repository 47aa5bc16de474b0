package sources

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Price is a single quote fetched from a source.
type Price struct {
	Source    string          `json:"source"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Origin    string          `json:"origin"` // URL the quote was read from
}

// Adapter fetches the current price of a symbol from one source.
type Adapter interface {
	// Name returns the unique name of this source
	Name() string

	// Fetch returns the current price for the source-specific symbol
	Fetch(ctx context.Context, symbol string) (Price, error)
}

// Spec describes an HTTP JSON price endpoint.
//
// EndpointTemplate and PricePath may contain {symbol}, which is replaced by the
// requested symbol. PricePath is a gjson path into the response body.
type Spec struct {
	EndpointTemplate string
	PricePath        string
	AuthHeader       string
	AuthValue        string
}

// Config selects a preset and/or overrides its fields.
type Config struct {
	Name       string
	Preset     string
	Endpoint   string
	PricePath  string
	AuthHeader string
	AuthValue  string
}
