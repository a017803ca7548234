// Package metrics exposes Prometheus collectors for the gateway.
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
	workerDurationSeconds      prometheus.Histogram
	workerExitTotal            *prometheus.CounterVec
	resolveTotal               *prometheus.CounterVec
	lockWaitSeconds            prometheus.Histogram
	activeJobs                 prometheus.Gauge
	downloadsTotal             *prometheus.CounterVec
	rateLimitedTotal           *prometheus.CounterVec
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
				Name: "docgen_jobs_total",
				Help: "Total number of generation jobs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		workerDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "docgen_worker_duration_seconds",
				Help:    "Wall time of worker processes.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		)

		workerExitTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docgen_worker_exit_total",
				Help: "Worker exits, labeled by exit code.",
			},
			[]string{"code"},
		)

		resolveTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docgen_resolve_total",
				Help: "Artifact resolutions, labeled by match strength.",
			},
			[]string{"match"},
		)

		lockWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "docgen_output_lock_wait_seconds",
				Help:    "Time spent waiting for the output directory lock.",
				Buckets: []float64{0.001, 0.01, 0.1, 1, 5, 30, 120, 600},
			},
		)

		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "docgen_active_jobs",
				Help: "Number of jobs currently in flight.",
			},
		)

		downloadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docgen_downloads_total",
				Help: "Artifact download requests, labeled by status.",
			},
			[]string{"status"},
		)

		rateLimitedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docgen_rate_limited_total",
				Help: "Requests rejected by the per-client rate limiter, labeled by route.",
			},
			[]string{"route"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob counts a finished job by outcome.
func ObserveJob(outcome string) {
	Init()
	jobsTotal.WithLabelValues(outcome).Inc()
}

// ObserveWorker records one worker run.
func ObserveWorker(exitCode int, duration time.Duration) {
	Init()
	workerExitTotal.WithLabelValues(strconv.Itoa(exitCode)).Inc()
	workerDurationSeconds.Observe(duration.Seconds())
}

// ObserveResolve counts a resolution by match strength.
func ObserveResolve(match string) {
	Init()
	resolveTotal.WithLabelValues(match).Inc()
}

// ObserveLockWait records time spent waiting for the output lock.
func ObserveLockWait(d time.Duration) {
	Init()
	lockWaitSeconds.Observe(d.Seconds())
}

// IncActiveJobs increments the in-flight jobs gauge.
func IncActiveJobs() {
	Init()
	activeJobs.Inc()
}

// DecActiveJobs decrements the in-flight jobs gauge.
func DecActiveJobs() {
	Init()
	activeJobs.Dec()
}

// ObserveDownload counts a download attempt by HTTP status.
func ObserveDownload(status int) {
	Init()
	downloadsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// ObserveRateLimited counts a request turned away by the rate limiter.
func ObserveRateLimited(route string) {
	Init()
	rateLimitedTotal.WithLabelValues(route).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
