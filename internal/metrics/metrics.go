// Package metrics exposes Prometheus collectors for the box-office crawler.
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

var (
	eventsTotal                *prometheus.CounterVec
	datesIngestedTotal         *prometheus.CounterVec
	reconcileActionsTotal      *prometheus.CounterVec
	batchFailuresTotal         *prometheus.CounterVec
	rowsSkippedTotal           *prometheus.CounterVec
	snapshotConflictsTotal     prometheus.Counter
	fetchDurationSeconds       *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		eventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boxoffice_events_total",
				Help: "Bus events handled, labeled by event type and status.",
			},
			[]string{"event_type", "status"},
		)

		datesIngestedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boxoffice_dates_ingested_total",
				Help: "Ranking dates processed by the ingestion pipeline, labeled by status.",
			},
			[]string{"status"},
		)

		reconcileActionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boxoffice_reconcile_actions_total",
				Help: "Per-movie reconcile outcomes, labeled by action.",
			},
			[]string{"action"},
		)

		batchFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boxoffice_batch_item_failures_total",
				Help: "Queue batch entries that failed, labeled by operation.",
			},
			[]string{"operation"},
		)

		rowsSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boxoffice_rows_skipped_total",
				Help: "Upstream rows dropped because they could not be parsed, labeled by page kind.",
			},
			[]string{"kind"},
		)

		snapshotConflictsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "boxoffice_snapshot_conflicts_total",
				Help: "Re-ingested snapshots whose content differed from the stored one.",
			},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "boxoffice_fetch_duration_seconds",
				Help:    "Histogram of upstream page fetch latencies, labeled by page kind.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"kind"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method, route pattern and code.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "boxoffice_active_workers",
				Help: "Number of workers currently processing a batch.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "boxoffice_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveEvent counts one handled bus event.
func ObserveEvent(eventType, status string) {
	Init()
	eventsTotal.WithLabelValues(eventType, status).Inc()
}

// ObserveDate counts one ingested ranking date.
func ObserveDate(status string) {
	Init()
	datesIngestedTotal.WithLabelValues(status).Inc()
}

// ObserveReconcile counts one reconcile outcome.
func ObserveReconcile(action string) {
	Init()
	reconcileActionsTotal.WithLabelValues(action).Inc()
}

// ObserveBatchFailures adds n failed batch entries for operation.
func ObserveBatchFailures(operation string, n int) {
	if n <= 0 {
		return
	}
	Init()
	batchFailuresTotal.WithLabelValues(operation).Add(float64(n))
}

// ObserveSkippedRow counts one unparseable upstream row.
func ObserveSkippedRow(kind string) {
	Init()
	rowsSkippedTotal.WithLabelValues(kind).Inc()
}

// ObserveSnapshotConflict counts a re-ingest whose bytes differ from the stored snapshot.
func ObserveSnapshotConflict() {
	Init()
	snapshotConflictsTotal.Inc()
}

// ObserveFetch records an upstream fetch latency.
func ObserveFetch(kind string, duration time.Duration) {
	Init()
	fetchDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
