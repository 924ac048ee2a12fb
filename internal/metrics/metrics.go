// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	feedsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedmill_feeds_total",
			Help: "Total number of feeds processed, labeled by outcome.",
		},
		[]string{"status"},
	)

	entriesCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedmill_entries_created_total",
			Help: "Total number of new entries persisted from feeds.",
		},
	)

	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedmill_fetches_total",
			Help: "Total number of content fetches, labeled by host and outcome.",
		},
		[]string{"host", "status"},
	)

	fetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedmill_fetch_bytes_total",
			Help: "Total number of content bytes fetched, labeled by host.",
		},
		[]string{"host"},
	)

	fetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedmill_fetch_duration_seconds",
			Help:    "Histogram of content fetch latencies, labeled by host.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	rateLimitWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedmill_rate_limit_wait_seconds",
			Help:    "Histogram of per-host rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	distillBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedmill_distill_batches_total",
			Help: "Total number of distillation runs dispatched, labeled by mode.",
		},
		[]string{"mode"},
	)

	distillDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feedmill_distill_duration_seconds",
			Help:    "Histogram of distillation run durations.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	taskRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedmill_task_retries_total",
			Help: "Total number of task attempt retries, labeled by task name.",
		},
		[]string{"task"},
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
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// SanitizeHost extracts a lowercase hostname from a URL or bare host string.
// It returns "unknown" when no hostname can be derived.
func SanitizeHost(raw string) string {
	if !strings.HasPrefix(raw, "http") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler exposing the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFeed counts one processed feed by outcome.
func ObserveFeed(status string) {
	feedsTotal.WithLabelValues(status).Inc()
}

// AddEntriesCreated counts newly persisted entries.
func AddEntriesCreated(n int) {
	if n > 0 {
		entriesCreatedTotal.Add(float64(n))
	}
}

// ObserveFetch records one content fetch attempt against a host.
func ObserveFetch(host, status string, bytesFetched int, duration time.Duration) {
	h := SanitizeHost(host)
	fetchesTotal.WithLabelValues(h, status).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(h).Add(float64(bytesFetched))
	}
	fetchDurationSeconds.WithLabelValues(h).Observe(duration.Seconds())
}

// ObserveRateLimitWait records the duration a fetch spent waiting for a
// per-host token.
func ObserveRateLimitWait(host string, duration time.Duration) {
	rateLimitWaitSeconds.WithLabelValues(SanitizeHost(host)).Observe(duration.Seconds())
}

// ObserveDistillBatch records one distillation run and its duration.
func ObserveDistillBatch(mode string, duration time.Duration) {
	distillBatchesTotal.WithLabelValues(mode).Inc()
	distillDurationSeconds.Observe(duration.Seconds())
}

// ObserveTaskRetry counts one retried task attempt.
func ObserveTaskRetry(task string) {
	taskRetriesTotal.WithLabelValues(task).Inc()
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
