package errors

import (
	"errors"
	"time"

	"github.com/resilient-systems/wireline/internal/metrics"
)

const (
	// unknownValue is used when a metric label value is not available.
	unknownValue = "unknown"
)

// RecordErrorMetrics records error metrics based on ClientError details.
func RecordErrorMetrics(err *ClientError, registry *metrics.Registry) {
	if err == nil || registry == nil {
		return
	}

	// Get error code from context
	code := ""
	if codeVal, ok := err.Context["code"].(string); ok {
		code = codeVal
	}

	if code == "" {
		code = unknownValue
	}

	component := err.Component
	if component == "" {
		component = unknownValue
	}

	operation := err.Operation
	if operation == "" {
		operation = unknownValue
	}

	registry.IncrementErrors(code, component, operation)
	registry.IncrementErrorsByType(string(err.Type))
	registry.IncrementRetryableErrors(err.Retryable)
	registry.IncrementErrorsBySeverity(getSeverityString(err.Severity))
}

// RecordError is a helper to record error metrics if the error is a ClientError.
func RecordError(err error, registry *metrics.Registry) {
	var ce *ClientError
	if errors.As(err, &ce) {
		RecordErrorMetrics(ce, registry)
	}
}

// RecordErrorWithLatency records error metrics with latency measurement.
func RecordErrorWithLatency(err error, registry *metrics.Registry, startTime time.Time) {
	var ce *ClientError
	if errors.As(err, &ce) {
		RecordErrorMetrics(ce, registry)

		duration := time.Since(startTime)
		registry.RecordErrorLatency(string(ce.Type), ce.Component, duration)
	}
}

// getSeverityString converts severity enum to string.
func getSeverityString(severity Severity) string {
	switch severity {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return unknownValue
	}
}
