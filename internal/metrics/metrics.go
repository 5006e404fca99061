package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shorts_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shorts_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Job Metrics
	JobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shorts_jobs_enqueued_total",
			Help: "Total number of pipeline jobs enqueued",
		},
		[]string{"kind"},
	)

	JobsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shorts_jobs_finished_total",
			Help: "Total number of jobs that reached a terminal status",
		},
		[]string{"status"},
	)

	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shorts_jobs_active",
			Help: "Number of non-terminal jobs across all user queues",
		},
	)

	JobsCleared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shorts_jobs_cleared_total",
			Help: "Total number of jobs removed by manual cancellation",
		},
	)

	// Stage Metrics
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shorts_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17 minutes
		},
		[]string{"stage", "outcome"},
	)

	StageInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shorts_stage_in_flight",
			Help: "Number of pipeline stages currently running",
		},
		[]string{"stage"},
	)

	MediaPermitWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shorts_media_permit_wait_seconds",
			Help:    "Time spent waiting for the post-processing permit",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
	)

	// Scheduler Metrics
	SchedulerTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shorts_scheduler_ticks_total",
			Help: "Total number of scheduler ticks",
		},
	)

	SchedulerUsersSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shorts_scheduler_users_skipped_total",
			Help: "User passes skipped because the previous pass was still running",
		},
	)

	UserPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shorts_user_pass_duration_seconds",
			Help:    "Duration of one user's queue pass",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 12),
		},
	)

	// Batch Metrics
	BatchesCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shorts_batches_completed_total",
			Help: "Total number of completed batches",
		},
	)

	BatchSuccessRatio = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shorts_batch_success_ratio",
			Help:    "Share of succeeded jobs per completed batch",
			Buckets: []float64{0, 0.25, 0.5, 0.75, 0.9, 1.0},
		},
	)

	// Store Metrics
	StoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shorts_store_operations_total",
			Help: "Total number of queue store operations",
		},
		[]string{"operation", "status"},
	)

	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shorts_store_operation_duration_seconds",
			Help:    "Queue store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Notification Metrics
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shorts_notifications_total",
			Help: "Total number of batch notifications sent",
		},
		[]string{"channel", "status"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shorts_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordJobEnqueued records a job added to a queue
func RecordJobEnqueued(kind string) {
	JobsEnqueuedTotal.WithLabelValues(kind).Inc()
}

// RecordJobFinished records a job reaching a terminal status
func RecordJobFinished(status string) {
	JobsFinishedTotal.WithLabelValues(status).Inc()
}

// SetActiveJobs updates the active job gauge
func SetActiveJobs(n int) {
	JobsActive.Set(float64(n))
}

// RecordJobsCleared records jobs removed by cancellation
func RecordJobsCleared(n int) {
	JobsCleared.Add(float64(n))
}

// RecordStage records one pipeline stage execution
func RecordStage(stage, outcome string, duration float64) {
	StageDuration.WithLabelValues(stage, outcome).Observe(duration)
}

// StageStarted increments the in-flight gauge and returns its decrement
func StageStarted(stage string) func() {
	StageInFlight.WithLabelValues(stage).Inc()
	return func() {
		StageInFlight.WithLabelValues(stage).Dec()
	}
}

// RecordMediaPermitWait records time spent waiting for the media permit
func RecordMediaPermitWait(seconds float64) {
	MediaPermitWait.Observe(seconds)
}

// RecordTick records a scheduler tick
func RecordTick() {
	SchedulerTicksTotal.Inc()
}

// RecordUserSkipped records a user pass skipped because one is still running
func RecordUserSkipped() {
	SchedulerUsersSkipped.Inc()
}

// RecordUserPass records the duration of one user's pass
func RecordUserPass(seconds float64) {
	UserPassDuration.Observe(seconds)
}

// RecordBatchCompleted records a finished batch
func RecordBatchCompleted(succeeded, total int) {
	BatchesCompletedTotal.Inc()
	if total > 0 {
		BatchSuccessRatio.Observe(float64(succeeded) / float64(total))
	}
}

// RecordStoreOperation records a queue store operation
func RecordStoreOperation(operation, status string, duration float64) {
	StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	StoreOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordNotification records a notification delivery attempt
func RecordNotification(channel string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	NotificationsTotal.WithLabelValues(channel, status).Inc()
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
