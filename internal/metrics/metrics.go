// Package metrics exposes Prometheus collectors for the scraping service.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsSubmittedTotal         *prometheus.CounterVec
	jobsFinishedTotal          *prometheus.CounterVec
	jobRetriesTotal            prometheus.Counter
	activeWorkers              prometheus.Gauge
	tasksDispatchedTotal       *prometheus.CounterVec
	extensionConnections       prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsSubmittedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopscrap_jobs_submitted_total",
				Help: "Total number of jobs submitted, labeled by job type.",
			},
			[]string{"type"},
		)

		jobsFinishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopscrap_jobs_finished_total",
				Help: "Total number of jobs reaching a terminal status, labeled by status.",
			},
			[]string{"status"},
		)

		jobRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "shopscrap_job_retries_total",
				Help: "Total number of job retry attempts.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "shopscrap_active_workers",
				Help: "Number of worker loops currently executing a job.",
			},
		)

		tasksDispatchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopscrap_extension_tasks_dispatched_total",
				Help: "Total number of tasks dispatched to extension workers, labeled by task type.",
			},
			[]string{"task_type"},
		)

		extensionConnections = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "shopscrap_extension_connections",
				Help: "Number of currently registered extension workers.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopscrap_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shopscrap_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// JobSubmitted increments the submitted counter for a job type.
func JobSubmitted(jobType string) {
	if jobsSubmittedTotal != nil {
		jobsSubmittedTotal.WithLabelValues(jobType).Inc()
	}
}

// JobFinished increments the terminal-status counter.
func JobFinished(status string) {
	if jobsFinishedTotal != nil {
		jobsFinishedTotal.WithLabelValues(status).Inc()
	}
}

// JobRetried counts one retry attempt.
func JobRetried() {
	if jobRetriesTotal != nil {
		jobRetriesTotal.Inc()
	}
}

// WorkerBusy adjusts the active worker gauge by delta.
func WorkerBusy(delta float64) {
	if activeWorkers != nil {
		activeWorkers.Add(delta)
	}
}

// TaskDispatched counts one remote task dispatch.
func TaskDispatched(taskType string) {
	if tasksDispatchedTotal != nil {
		tasksDispatchedTotal.WithLabelValues(taskType).Inc()
	}
}

// ExtensionConnected adjusts the registered-extension gauge by delta.
func ExtensionConnected(delta float64) {
	if extensionConnections != nil {
		extensionConnections.Add(delta)
	}
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, code, route string, duration time.Duration) {
	if httpRequestsTotal != nil {
		httpRequestsTotal.WithLabelValues(method, code).Inc()
	}
	if httpRequestDurationSeconds != nil {
		httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
	}
}
