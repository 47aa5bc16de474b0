// Package metrics provides Prometheus metrics for the oracle trust pipeline.
package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	// ResolverAttemptsTotal is a counter of DoH attempts per provider and outcome.
	ResolverAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolver_attempts_total",
			Help: "Total number of DNS-over-HTTPS attempts",
		},
		[]string{"provider", "outcome"},
	)

	// ResolverCacheHitsTotal is a counter of answers served from cache.
	ResolverCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "resolver_cache_hits_total",
			Help: "Total number of resolutions served from the cache",
		},
	)

	// ResolverExhaustedTotal is a counter of resolutions where every provider failed.
	ResolverExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "resolver_exhausted_total",
			Help: "Total number of resolutions that exhausted all providers",
		},
	)

	// CertStatus is a gauge of the last monitor status per provider.
	CertStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cert_status",
			Help: "Last certificate check per provider (1 for the current status label)",
		},
		[]string{"provider", "status"},
	)

	// CertDaysLeft is a gauge of days until the live certificate expires.
	CertDaysLeft = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cert_days_left",
			Help: "Days until the provider certificate expires",
		},
		[]string{"provider"},
	)

	// SourceFetchesTotal is a counter of adapter fetches.
	SourceFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_fetches_total",
			Help: "Total number of price fetches from sources",
		},
		[]string{"source", "status"},
	)

	// PriceAggregationDuration is a histogram of price aggregation duration.
	PriceAggregationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "price_aggregation_duration_seconds",
			Help:    "Duration of price aggregation operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"token"},
	)

	// OutlierRejectionsTotal is a counter of rejected outlier prices.
	OutlierRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outlier_rejections_total",
			Help: "Total number of outlier prices rejected",
		},
		[]string{"token"},
	)

	// PublishTotal is a counter of publish outcomes.
	PublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_total",
			Help: "Total number of snapshot publications by status",
		},
		[]string{"status"},
	)

	// RetirementFailuresTotal is a counter of failed retirements.
	RetirementFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "retirement_failures_total",
			Help: "Total number of previous snapshots that could not be retired",
		},
	)
)

var initOnce sync.Once

// Init initializes Prometheus metrics registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			ResolverAttemptsTotal,
			ResolverCacheHitsTotal,
			ResolverExhaustedTotal,
			CertStatus,
			CertDaysLeft,
			SourceFetchesTotal,
			PriceAggregationDuration,
			OutlierRejectionsTotal,
			PublishTotal,
			RetirementFailuresTotal,
		)
	})
}

// ServeHTTP serves Prometheus metrics on the specified address and path.
func ServeHTTP(addr, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// Push sends the default registry to a Pushgateway. Batch jobs call it once before exiting.
func Push(url, job string) error {
	if err := push.New(url, job).Gatherer(prometheus.DefaultGatherer).Push(); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}

// RecordResolverAttempt records one DoH attempt.
func RecordResolverAttempt(provider, outcome string) {
	ResolverAttemptsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordCacheHit records a resolution served from cache.
func RecordCacheHit() {
	ResolverCacheHitsTotal.Inc()
}

// RecordResolverExhausted records a resolution that failed on every provider.
func RecordResolverExhausted() {
	ResolverExhaustedTotal.Inc()
}

// RecordCertStatus records the monitor outcome for a provider.
func RecordCertStatus(provider, status string, daysLeft int) {
	for _, s := range []string{"valid", "changed", "failed"} {
		val := 0.0
		if s == status {
			val = 1.0
		}
		CertStatus.WithLabelValues(provider, s).Set(val)
	}
	if status != "failed" {
		CertDaysLeft.WithLabelValues(provider).Set(float64(daysLeft))
	}
}

// RecordSourceFetch records a price fetch from a source.
func RecordSourceFetch(source string, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	SourceFetchesTotal.WithLabelValues(source, status).Inc()
}

// RecordAggregation records a price aggregation operation.
func RecordAggregation(token string, duration time.Duration) {
	PriceAggregationDuration.WithLabelValues(token).Observe(duration.Seconds())
}

// RecordOutlierRejection records outlier rejections for a token.
func RecordOutlierRejection(token string, n int) {
	OutlierRejectionsTotal.WithLabelValues(token).Add(float64(n))
}

// RecordPublish records a publish outcome.
func RecordPublish(status string) {
	PublishTotal.WithLabelValues(status).Inc()
}

// RecordRetirementFailure records a failed retirement.
func RecordRetirementFailure() {
	RetirementFailuresTotal.Inc()
}
