// Package metrics provides Prometheus instrumentation for the connector
// framework. Every capability call is counted by network, method, and
// provenance so operators can see when a connector has silently degraded from
// live data to scraped or simulated data.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchesTotal counts capability fetches by network, method, and the
	// provenance tier that ultimately served the result.
	FetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodewarden",
		Subsystem: "connector",
		Name:      "fetches_total",
		Help:      "Capability fetches by network, method, and provenance",
	}, []string{"network", "method", "provenance"})

	// FetchErrors counts fetches that exhausted every fallback tier.
	FetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodewarden",
		Subsystem: "connector",
		Name:      "fetch_errors_total",
		Help:      "Fetches that failed all fallback tiers",
	}, []string{"network", "method"})

	// FetchLatency observes end-to-end fetch latency.
	FetchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nodewarden",
		Subsystem: "connector",
		Name:      "fetch_duration_seconds",
		Help:      "End-to-end capability fetch latency",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"network", "method"})

	// CacheHits and CacheMisses track the cache tier.
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodewarden",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Cache hits by connector type",
	}, []string{"network"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodewarden",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Cache misses by connector type",
	}, []string{"network"})

	// RetryAttempts counts retries of live calls.
	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodewarden",
		Subsystem: "retry",
		Name:      "attempts_total",
		Help:      "Retry attempts against live APIs",
	}, []string{"network"})

	// RateLimitRejections counts acquisitions that timed out or overflowed.
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodewarden",
		Subsystem: "ratelimit",
		Name:      "rejections_total",
		Help:      "Token acquisitions rejected by the rate limiter",
	}, []string{"network"})

	// ScrapeFailures counts scraper-tier failures by class.
	ScrapeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodewarden",
		Subsystem: "scraper",
		Name:      "failures_total",
		Help:      "Scraper failures by class (navigation, selector)",
	}, []string{"network", "class"})
)

// Collector provides a connector-scoped view over the shared metric vectors.
// Each connector instance creates its own collector at initialization.
type Collector struct {
	network   string
	startTime time.Time
}

// NewCollector creates a metrics collector for a connector.
func NewCollector(network string) *Collector {
	return &Collector{
		network:   network,
		startTime: time.Now(),
	}
}

// StartTime returns when the collector was created.
func (c *Collector) StartTime() time.Time {
	return c.startTime
}

// RecordFetch records a completed fetch and its serving tier.
func (c *Collector) RecordFetch(method, provenance string, duration time.Duration) {
	FetchesTotal.WithLabelValues(c.network, method, provenance).Inc()
	FetchLatency.WithLabelValues(c.network, method).Observe(duration.Seconds())
}

// RecordFetchError records a fetch that failed all tiers.
func (c *Collector) RecordFetchError(method string) {
	FetchErrors.WithLabelValues(c.network, method).Inc()
}

// RecordCacheHit records a cache hit.
func (c *Collector) RecordCacheHit() {
	CacheHits.WithLabelValues(c.network).Inc()
}

// RecordCacheMiss records a cache miss.
func (c *Collector) RecordCacheMiss() {
	CacheMisses.WithLabelValues(c.network).Inc()
}

// RecordRetry records a retry attempt against the live API.
func (c *Collector) RecordRetry() {
	RetryAttempts.WithLabelValues(c.network).Inc()
}

// RecordRateLimited records a rejected token acquisition.
func (c *Collector) RecordRateLimited() {
	RateLimitRejections.WithLabelValues(c.network).Inc()
}

// RecordScrapeFailure records a scraper failure of the given class.
func (c *Collector) RecordScrapeFailure(class string) {
	ScrapeFailures.WithLabelValues(c.network, class).Inc()
}
