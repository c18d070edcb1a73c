// Package metrics exposes Prometheus collectors for the problem crawler.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch kinds used as the "kind" label.
const (
	KindPage  = "page"
	KindAsset = "asset"
)

var (
	crawlerRecordsTotal        *prometheus.CounterVec
	crawlerFetchAttemptsTotal  *prometheus.CounterVec
	crawlerAssetsTotal         *prometheus.CounterVec
	crawlerFetchDuration       *prometheus.HistogramVec
	crawlerActiveWorkers       prometheus.Gauge
	crawlerCheckpointFlushes   prometheus.Counter
	crawlerRateLimitDelays     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_records_total",
				Help: "Problem identifiers processed, labeled by final status.",
			},
			[]string{"status"},
		)

		crawlerFetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_attempts_total",
				Help: "HTTP attempts made by workers, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		crawlerAssetsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_assets_total",
				Help: "Images handled by the asset resolver, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlerFetchDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies including retries, labeled by kind.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"kind"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing an identifier.",
			},
		)

		crawlerCheckpointFlushes = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_checkpoint_flushes_total",
				Help: "Number of checkpoint documents written.",
			},
		)

		crawlerRateLimitDelays = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of shared host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests served, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRecord increments the record counter for the given status.
func ObserveRecord(status string) {
	Init()
	crawlerRecordsTotal.WithLabelValues(status).Inc()
}

// ObserveFetchAttempt counts one HTTP attempt.
func ObserveFetchAttempt(kind, outcome string) {
	Init()
	crawlerFetchAttemptsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveFetchDuration records the total latency of one fetch call.
func ObserveFetchDuration(kind string, duration time.Duration) {
	Init()
	crawlerFetchDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveAsset counts one image outcome: downloaded, reused or failed.
func ObserveAsset(outcome string) {
	Init()
	crawlerAssetsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCheckpointFlush counts one checkpoint write.
func ObserveCheckpointFlush() {
	Init()
	crawlerCheckpointFlushes.Inc()
}

// ObserveRateLimitDelay records the duration of a shared rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	crawlerRateLimitDelays.WithLabelValues(host).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
