// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring.
// The package provides comprehensive observability features
// including metrics collection, distributed tracing, and logging.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// ScanJobsEnqueuedTotal counts scan jobs enqueued by trigger (manual,
	// scheduled_active, scheduled_moderate, behavior.created, etc).
	ScanJobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_jobs_enqueued_total",
			Help: "Total number of scan jobs enqueued",
		},
		[]string{"trigger"},
	)
	// ScanJobsProcessing is a gauge of scan jobs currently running.
	ScanJobsProcessing = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scan_jobs_processing",
			Help: "Number of scan jobs currently running",
		},
	)
	// ScanJobsCompletedTotal counts scan jobs completed successfully.
	ScanJobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_jobs_completed_total",
			Help: "Total number of scan jobs completed",
		},
		[]string{"trigger"},
	)
	// ScanJobsFailedTotal counts scan jobs that exhausted retries.
	ScanJobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_jobs_failed_total",
			Help: "Total number of scan jobs that failed permanently",
		},
		[]string{"trigger"},
	)

	// DriftEventsDetectedTotal counts persisted drift events by type and severity.
	DriftEventsDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drift_events_detected_total",
			Help: "Total number of drift events detected",
		},
		[]string{"drift_type", "severity"},
	)
	// DriftScoreHistogram is the distribution of persisted drift_score values.
	DriftScoreHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drift_score",
			Help:    "Distribution of drift_score values for persisted events",
			Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"drift_type"},
	)

	// StreamEntriesConsumedTotal counts inbound stream entries processed by
	// event type and outcome (acked, failed).
	StreamEntriesConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_entries_consumed_total",
			Help: "Total number of inbound stream entries processed",
		},
		[]string{"event_type", "outcome"},
	)
	// DeadLetteredEntriesTotal counts entries moved to the dead-letter stream.
	DeadLetteredEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dead_lettered_entries_total",
			Help: "Total number of stream entries moved to the dead-letter stream",
		},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(ScanJobsEnqueuedTotal)
	prometheus.MustRegister(ScanJobsProcessing)
	prometheus.MustRegister(ScanJobsCompletedTotal)
	prometheus.MustRegister(ScanJobsFailedTotal)
	prometheus.MustRegister(DriftEventsDetectedTotal)
	prometheus.MustRegister(DriftScoreHistogram)
	prometheus.MustRegister(StreamEntriesConsumedTotal)
	prometheus.MustRegister(DeadLetteredEntriesTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// EnqueueScanJob increments the enqueued scan jobs counter for the given trigger.
func EnqueueScanJob(trigger string) {
	ScanJobsEnqueuedTotal.WithLabelValues(trigger).Inc()
}

// StartProcessingScanJob increments the processing gauge.
func StartProcessingScanJob() {
	ScanJobsProcessing.Inc()
}

// CompleteScanJob marks a scan job complete.
func CompleteScanJob(trigger string) {
	ScanJobsProcessing.Dec()
	ScanJobsCompletedTotal.WithLabelValues(trigger).Inc()
}

// FailScanJob marks a scan job permanently failed.
func FailScanJob(trigger string) {
	ScanJobsProcessing.Dec()
	ScanJobsFailedTotal.WithLabelValues(trigger).Inc()
}

// ObserveDriftEvent records a persisted drift event's type, severity, and score.
func ObserveDriftEvent(driftType, severity string, score float64) {
	DriftEventsDetectedTotal.WithLabelValues(driftType, severity).Inc()
	if score >= 0 && score <= 1 {
		DriftScoreHistogram.WithLabelValues(driftType).Observe(score)
	}
}

// ObserveStreamEntry records the outcome of processing one inbound stream entry.
func ObserveStreamEntry(eventType, outcome string) {
	StreamEntriesConsumedTotal.WithLabelValues(eventType, outcome).Inc()
}

// ObserveDeadLettered records an entry moved to the dead-letter stream.
func ObserveDeadLettered() {
	DeadLetteredEntriesTotal.Inc()
}
