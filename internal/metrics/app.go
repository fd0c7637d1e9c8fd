package metrics

import (
	"time"

	"github.com/docrewrite/docrewrite/internal/observability"
)

// Application-level metrics following Prometheus conventions
var (
	// Rewrite metrics
	RewriteCallsTotal     = "rewrite_calls_total"
	RewriteCallDuration   = "rewrite_call_duration_ms"
	PipelineSegmentsTotal = "pipeline_segments_total"

	// Admission metrics
	AdmissionDecisionsTotal = "admission_decisions_total"

	// Job metrics
	JobTransitionsTotal = "jobs_transitions_total"
	JobQueueDepth       = "jobs_queue_depth"

	// Health check metrics
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"

	// Server lifecycle metrics
	ServerStartTime = "app_server_start_time_seconds"
	ServerUptime    = "app_server_uptime_seconds"
)

// RecordRewriteCall records one provider rewrite call for a style.
func RecordRewriteCall(style string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	kind := "rewrite"
	if style == "cleanup" {
		kind = "cleanup"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			RewriteCallsTotal,
			1,
			map[string]string{
				"kind":   kind,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			RewriteCallDuration,
			duration,
			map[string]string{
				"kind": kind,
			},
		)
	}
}

// RecordPipelineSegment records a segment outcome: completed, failed, or skipped.
func RecordPipelineSegment(outcome string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			PipelineSegmentsTotal,
			1,
			map[string]string{
				"outcome": outcome,
			},
		)
	}
}

// RecordAdmission records an admission decision.
func RecordAdmission(allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			AdmissionDecisionsTotal,
			1,
			map[string]string{
				"result": result,
			},
		)
	}
}

// RecordJobTransition records a job entering status.
func RecordJobTransition(status string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			JobTransitionsTotal,
			1,
			map[string]string{
				"status": status,
			},
		)
	}
}

// SetJobQueueDepth sets the number of jobs waiting for a worker.
func SetJobQueueDepth(depth int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			JobQueueDepth,
			float64(depth),
			nil,
		)
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}

// SetServerUptime records the server uptime in seconds
func SetServerUptime(seconds int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerUptime,
			float64(seconds),
			nil,
		)
	}
}
