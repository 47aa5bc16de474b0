package aggregator

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/oracle-trust/pkg/logging"
	"github.com/StrathCole/oracle-trust/pkg/metrics"
	"github.com/StrathCole/oracle-trust/pkg/signer"
	"github.com/StrathCole/oracle-trust/pkg/sources"
)

// DefaultDecimals is the fixed-point scale the config layer applies when decimals is unset.
const DefaultDecimals int32 = 10

// Config holds aggregation settings. Decimals is used as given, zero included.
type Config struct {
	Threshold float64       // outlier cutoff in MADs
	Decimals  int32         // fixed-point scale of the signed value
	Estimator string        // mean or median
	Timeout   time.Duration // per adapter call
}

// Aggregator fans out to the adapters of a token and reduces the results.
type Aggregator struct {
	cfg    Config
	tokens map[string][]Source
	signer signer.Signer
	logger *logging.Logger
	now    func() time.Time
}

// New creates an aggregator. tokens maps a token id to its sources.
func New(cfg Config, tokens map[string][]Source, s signer.Signer, logger *logging.Logger) (*Aggregator, error) {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 2.5
	}
	if cfg.Decimals < 0 {
		return nil, fmt.Errorf("aggregator: decimals must not be negative, got %d", cfg.Decimals)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	switch cfg.Estimator {
	case "":
		cfg.Estimator = EstimatorMean
	case EstimatorMean, EstimatorMedian:
	default:
		return nil, fmt.Errorf("%w: %s (supported: mean, median)", ErrUnknownEstimator, cfg.Estimator)
	}

	copied := make(map[string][]Source, len(tokens))
	for id, srcs := range tokens {
		copied[id] = append([]Source(nil), srcs...)
	}

	return &Aggregator{
		cfg:    cfg,
		tokens: copied,
		signer: s,
		logger: logger.With("component", "aggregator"),
		now:    time.Now,
	}, nil
}

// Tokens returns the configured token ids in sorted order.
func (a *Aggregator) Tokens() []string {
	ids := make([]string, 0, len(a.tokens))
	for id := range a.tokens {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Aggregate fetches every source of tokenID concurrently, drops outliers and signs the result.
func (a *Aggregator) Aggregate(ctx context.Context, tokenID string) (*Snapshot, error) {
	start := time.Now()
	defer func() {
		metrics.RecordAggregation(tokenID, time.Since(start))
	}()

	srcs, ok := a.tokens[tokenID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, tokenID)
	}

	prices, failed := a.collect(ctx, srcs)
	if len(prices) == 0 {
		a.logger.Error("No source returned a price", "token", tokenID, "failed", failed)
		return nil, fmt.Errorf("%w: %s: all %d sources failed", ErrInsufficientData, tokenID, failed)
	}

	values := make([]decimal.Decimal, len(prices))
	for i, p := range prices {
		values[i] = p.Price
	}
	kept, m, mad := FilterOutliers(values, a.cfg.Threshold)
	rejected := len(prices) - len(kept)
	if rejected > 0 {
		metrics.RecordOutlierRejection(tokenID, rejected)
		for i, p := range prices {
			if !containsIndex(kept, i) {
				a.logger.Debug("Rejecting outlier",
					"token", tokenID,
					"source", p.Source,
					"price", p.Price.String(),
					"median", m.String(),
					"mad", mad.String())
			}
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("%w: %s: every observation rejected", ErrInsufficientData, tokenID)
	}

	retained := make([]decimal.Decimal, len(kept))
	observations := make([]Observation, len(kept))
	for i, idx := range kept {
		p := prices[idx]
		retained[i] = p.Price
		obs := Observation{Source: p.Source, Price: p.Price, Timestamp: p.Timestamp, Origin: p.Origin}
		sig, err := a.signer.Sign(ObservationMessage(obs))
		if err != nil {
			return nil, fmt.Errorf("sign observation from %s: %w", p.Source, err)
		}
		obs.Signature = sig
		observations[i] = obs
	}

	var price decimal.Decimal
	if a.cfg.Estimator == EstimatorMedian {
		price = median(retained)
	} else {
		price = mean(retained)
	}

	scaled := Scale(price, a.cfg.Decimals).StringFixed(0)
	sig, err := a.signer.Sign([]byte(scaled))
	if err != nil {
		return nil, fmt.Errorf("sign aggregate for %s: %w", tokenID, err)
	}
	f, _ := price.Float64()

	a.logger.Info("Aggregated price",
		"token", tokenID,
		"price", price.String(),
		"retained", len(kept),
		"rejected", rejected,
		"failed", failed)

	return &Snapshot{
		TokenID:      tokenID,
		Price:        price,
		PriceFloat:   f,
		Scaled:       scaled,
		Decimals:     a.cfg.Decimals,
		Timestamp:    a.now().UTC(),
		Algorithm:    a.signer.Algorithm(),
		PublicKey:    a.signer.PublicKey(),
		Signature:    sig,
		Observations: observations,
		Rejected:     rejected,
		Failed:       failed,
	}, nil
}

// collect queries all sources in parallel, each with its own deadline.
func (a *Aggregator) collect(ctx context.Context, srcs []Source) ([]sources.Price, int) {
	results := make([]*sources.Price, len(srcs))
	var wg sync.WaitGroup
	for i, s := range srcs {
		wg.Add(1)
		go func(i int, s Source) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
			defer cancel()
			p, err := s.Adapter.Fetch(callCtx, s.Symbol)
			if err != nil {
				a.logger.Warn("Source failed", "source", s.Adapter.Name(), "symbol", s.Symbol, "error", err)
				return
			}
			results[i] = &p
		}(i, s)
	}
	wg.Wait()

	prices := make([]sources.Price, 0, len(srcs))
	for _, p := range results {
		if p != nil {
			prices = append(prices, *p)
		}
	}
	return prices, len(srcs) - len(prices)
}

// ObservationMessage is the byte string signed for an observation.
func ObservationMessage(o Observation) []byte {
	return []byte(strings.Join([]string{
		o.Source,
		o.Price.String(),
		strconv.FormatInt(o.Timestamp.UnixMilli(), 10),
		o.Origin,
	}, "|"))
}

func containsIndex(idx []int, i int) bool {
	for _, v := range idx {
		if v == i {
			return true
		}
	}
	return false
}
