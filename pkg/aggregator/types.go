// Package aggregator reduces multi-source price observations to a signed aggregate.
package aggregator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/oracle-trust/pkg/sources"
)

const (
	// EstimatorMean averages the retained observations.
	EstimatorMean = "mean"
	// EstimatorMedian takes the median of the retained observations.
	EstimatorMedian = "median"
)

// Source binds an adapter to the symbol it is queried with for one token.
type Source struct {
	Adapter sources.Adapter
	Symbol  string
}

// Observation is a retained, signed price quote.
type Observation struct {
	Source    string          `json:"source"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Origin    string          `json:"origin"`
	Signature string          `json:"signature"`
}

// Snapshot is the aggregate for one token at one point in time.
type Snapshot struct {
	TokenID      string          `json:"tokenId"`
	Price        decimal.Decimal `json:"price"`
	PriceFloat   float64         `json:"priceFloat"`
	Scaled       string          `json:"scaled"` // price * 10^decimals, rounded
	Decimals     int32           `json:"decimals"`
	Timestamp    time.Time       `json:"timestamp"`
	Algorithm    string          `json:"algorithm"`
	PublicKey    string          `json:"publicKey"`
	Signature    string          `json:"signature"` // over Scaled
	Observations []Observation   `json:"observations"`
	Rejected     int             `json:"rejected"`
	Failed       int             `json:"failed"`
}
