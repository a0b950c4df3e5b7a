// Package metrics exposes Prometheus collectors for the digest service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by the feed and export counters.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomeEmpty = "empty"
)

var (
	feedFetchTotal                *prometheus.CounterVec
	feedItemsTotal                prometheus.Counter
	resolutionsTotal              *prometheus.CounterVec
	resolveWorkerDurationSeconds  *prometheus.HistogramVec
	resolveRateLimitDelaysSeconds *prometheus.HistogramVec
	exportsTotal                  *prometheus.CounterVec
	activeSessions                prometheus.Gauge
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		feedFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsdigest_feed_fetch_total",
				Help: "Total number of keyword feed fetches, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		feedItemsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "newsdigest_feed_items_total",
				Help: "Total number of recent feed items accepted.",
			},
		)

		resolutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsdigest_resolutions_total",
				Help: "Total number of URL resolutions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		resolveWorkerDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newsdigest_resolve_worker_duration_seconds",
				Help:    "Histogram of resolution worker lifetimes, labeled by outcome.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45},
			},
			[]string{"outcome"},
		)

		resolveRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newsdigest_resolve_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit waits before launching a resolution worker.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		exportsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsdigest_exports_total",
				Help: "Total number of digest exports, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		activeSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "newsdigest_active_sessions",
				Help: "Number of sessions currently held in memory.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 60},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFeedFetch records one keyword fetch and the number of items it produced.
func ObserveFeedFetch(outcome string, items int) {
	Init()
	feedFetchTotal.WithLabelValues(outcome).Inc()
	if items > 0 {
		feedItemsTotal.Add(float64(items))
	}
}

// ObserveResolution increments the resolution counter for the given outcome.
func ObserveResolution(outcome string) {
	Init()
	resolutionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveWorker records how long a resolution worker ran before its outcome.
func ObserveWorker(outcome string, duration time.Duration) {
	Init()
	resolveWorkerDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	resolveRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveExport increments the export counter.
func ObserveExport(outcome string) {
	Init()
	exportsTotal.WithLabelValues(outcome).Inc()
}

// SetActiveSessions updates the session gauge.
func SetActiveSessions(n int) {
	Init()
	activeSessions.Set(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
