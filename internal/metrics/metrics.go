// Package metrics exposes Prometheus collectors for the analysis service.
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
	jobsTotal                  *prometheus.CounterVec
	jobRetriesTotal            *prometheus.CounterVec
	sessionsTotal              *prometheus.CounterVec
	alertsTotal                *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewpulse_jobs_total",
				Help: "Total number of jobs processed, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		jobRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewpulse_job_retries_total",
				Help: "Total number of job retries scheduled, labeled by kind.",
			},
			[]string{"kind"},
		)

		sessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewpulse_sessions_total",
				Help: "Total number of sessions reaching a terminal state, labeled by status.",
			},
			[]string{"status"},
		)

		alertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewpulse_alerts_total",
				Help: "Total number of alert dispatch decisions, labeled by type and outcome.",
			},
			[]string{"type", "outcome"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "reviewpulse_active_workers",
				Help: "Number of workers currently processing a job.",
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

// ObserveJob increments the job counter for the given kind and outcome.
func ObserveJob(kind, outcome string) {
	jobsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveJobRetry increments the retry counter for the given kind.
func ObserveJobRetry(kind string) {
	jobRetriesTotal.WithLabelValues(kind).Inc()
}

// ObserveSessionTerminal increments the terminal-session counter.
func ObserveSessionTerminal(status string) {
	sessionsTotal.WithLabelValues(status).Inc()
}

// ObserveAlert increments the alert counter for the given type and outcome
// ("sent", "suppressed", or "failed").
func ObserveAlert(alertType, outcome string) {
	alertsTotal.WithLabelValues(alertType, outcome).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
