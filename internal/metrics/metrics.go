// Package metrics exposes Prometheus collectors for report submission,
// pipeline stages and the job queue.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "renovation"

var (
	ReportsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_submitted_total",
			Help:      "Total number of report submissions, labeled by input kind and outcome (created, cached, invalid, dispatch_failed).",
		},
		[]string{"input_kind", "outcome"},
	)

	ReportsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_finished_total",
			Help:      "Total number of report runs reaching a terminal status.",
		},
		[]string{"status"},
	)

	ReportDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "report_duration_seconds",
			Help:      "Wall time of a report run from processing to its terminal status.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"status"},
	)

	StageAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_attempts_total",
			Help:      "Gateway calls made by pipeline stages, labeled by result (accepted, rejected, failed).",
		},
		[]string{"stage", "source", "result"},
	)

	StageAttemptSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_attempt_seconds",
			Help:      "Time from stage start to the end of each gateway call.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage", "source"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, labeled by route pattern and status code.",
		},
		[]string{"method", "route", "code"},
	)
)

func init() {
	prometheus.MustRegister(
		ReportsSubmittedTotal,
		ReportsFinishedTotal,
		ReportDurationSeconds,
		StageAttemptsTotal,
		StageAttemptSeconds,
		HTTPRequestsTotal,
	)
}

// PipelineObserver records pipeline measurements. Its zero value is ready
// to use.
type PipelineObserver struct{}

// Attempt records one gateway call.
func (PipelineObserver) Attempt(stage, source, result string, elapsed time.Duration) {
	StageAttemptsTotal.WithLabelValues(stage, source, result).Inc()
	StageAttemptSeconds.WithLabelValues(stage, source).Observe(elapsed.Seconds())
}

// Finished records a run reaching status.
func (PipelineObserver) Finished(status string, elapsed time.Duration) {
	ReportsFinishedTotal.WithLabelValues(status).Inc()
	ReportDurationSeconds.WithLabelValues(status).Observe(elapsed.Seconds())
}
