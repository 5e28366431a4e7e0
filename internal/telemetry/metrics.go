// Package telemetry exposes Prometheus collectors for the audit service.
package telemetry

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
	scansTotal                 *prometheus.CounterVec
	scanDurationSeconds        prometheus.Histogram
	auditFailuresTotal         *prometheus.CounterVec
	poolSessions               prometheus.Gauge
	poolExhaustedTotal         prometheus.Counter
	rateLimitRejectedTotal     prometheus.Counter
	reportStoreEntries         prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scansTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewarden_scans_total",
				Help: "Total number of scans processed, labeled by outcome.",
			},
			[]string{"status"},
		)

		scanDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sitewarden_scan_duration_seconds",
				Help:    "Histogram of end-to-end scan durations.",
				Buckets: []float64{1, 2, 5, 10, 20, 45, 90, 180},
			},
		)

		auditFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewarden_audit_failures_total",
				Help: "Total number of individual audit failures, labeled by audit kind.",
			},
			[]string{"kind"},
		)

		poolSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitewarden_pool_sessions",
				Help: "Number of live browser sessions owned by the pool.",
			},
		)

		poolExhaustedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sitewarden_pool_exhausted_total",
				Help: "Total number of acquire attempts rejected at the session ceiling.",
			},
		)

		rateLimitRejectedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sitewarden_ratelimit_rejected_total",
				Help: "Total number of requests rejected by the sliding-window limiter.",
			},
		)

		reportStoreEntries = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitewarden_report_store_entries",
				Help: "Number of reports currently held by the report store.",
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"method", "route"},
		)
	})
}

// ObserveScan records one completed scan with its outcome label.
func ObserveScan(status string, duration time.Duration) {
	Init()
	scansTotal.WithLabelValues(status).Inc()
	scanDurationSeconds.Observe(duration.Seconds())
}

// ObserveAuditFailure counts a per-audit failure.
func ObserveAuditFailure(kind string) {
	Init()
	auditFailuresTotal.WithLabelValues(kind).Inc()
}

// SetPoolSessions records the current live-session count.
func SetPoolSessions(n int) {
	Init()
	poolSessions.Set(float64(n))
}

// ObservePoolExhausted counts a rejected acquire.
func ObservePoolExhausted() {
	Init()
	poolExhaustedTotal.Inc()
}

// ObserveRateLimitRejected counts a limiter rejection.
func ObserveRateLimitRejected() {
	Init()
	rateLimitRejectedTotal.Inc()
}

// SetReportStoreEntries records the report store size.
func SetReportStoreEntries(n int) {
	Init()
	reportStoreEntries.Set(float64(n))
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}
