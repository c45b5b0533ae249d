// Package errors provides error handling utilities for the wireline
// reliability core. It includes error wrapping, classification, and
// context management.
package errors

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorType represents the category of an error.
type ErrorType string

const (
	// Stack capture configuration.
	stackSkipFrames = 2  // Number of stack frames to skip when capturing
	maxStackDepth   = 10 // Maximum stack depth to capture

	// Error types for classification.
	TypeTransport          ErrorType = "TRANSPORT"
	TypeTimeout            ErrorType = "TIMEOUT"
	TypeSerialization      ErrorType = "SERIALIZATION"
	TypeCircuitOpen        ErrorType = "CIRCUIT_OPEN"
	TypePoolExhausted      ErrorType = "POOL_EXHAUSTED"
	TypeReconnectExhausted ErrorType = "RECONNECT_EXHAUSTED"
	TypeValidation         ErrorType = "VALIDATION"
	TypeCanceled           ErrorType = "CANCELED"
	TypeInternal           ErrorType = "INTERNAL"
)

// Severity indicates how serious an error is for logging and alerting.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// ClientError is the base error type for all wireline errors.
type ClientError struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	Cause     error                  `json:"-"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Stack     []string               `json:"stack,omitempty"`
	Severity  Severity               `json:"severity"`
	Retryable bool                   `json:"retryable"`
	Component string                 `json:"component,omitempty"`
	Operation string                 `json:"operation,omitempty"`
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	var b strings.Builder

	if e.Component != "" {
		b.WriteString("[")
		b.WriteString(e.Component)
		b.WriteString("] ")
	}

	if e.Operation != "" {
		b.WriteString(e.Operation)
		b.WriteString(": ")
	}

	b.WriteString(string(e.Type))
	b.WriteString(": ")
	b.WriteString(e.Message)

	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}

	return b.String()
}

// Unwrap returns the underlying cause of the error.
func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for errors.Is.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}

	return e.Type == t.Type && e.Code == t.Code
}

// WithContext adds context information to the error.
func (e *ClientError) WithContext(key string, value interface{}) *ClientError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}

	e.Context[key] = value

	return e
}

// WithOperation sets the operation that caused the error.
func (e *ClientError) WithOperation(operation string) *ClientError {
	e.Operation = operation

	return e
}

// WithComponent sets the component that generated the error.
func (e *ClientError) WithComponent(component string) *ClientError {
	e.Component = component

	return e
}

// AsRetryable marks the error as retryable.
func (e *ClientError) AsRetryable() *ClientError {
	e.Retryable = true

	return e
}

// New creates a new ClientError with stack trace.
func New(errType ErrorType, message string) *ClientError {
	return &ClientError{
		Type:      errType,
		Message:   message,
		Stack:     captureStack(stackSkipFrames),
		Severity:  getSeverityForType(errType),
		Retryable: isRetryableType(errType),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, message string) *ClientError {
	if err == nil {
		return nil
	}

	// If it's already a ClientError, preserve its properties
	var ce *ClientError
	if errors.As(err, &ce) {
		return &ClientError{
			Type:      ce.Type,
			Message:   message,
			Cause:     ce,
			Context:   ce.Context,
			Stack:     captureStack(stackSkipFrames),
			Severity:  ce.Severity,
			Retryable: ce.Retryable,
			Component: ce.Component,
			Operation: ce.Operation,
		}
	}

	// Otherwise, create a new internal error
	return &ClientError{
		Type:      TypeInternal,
		Message:   message,
		Cause:     err,
		Stack:     captureStack(stackSkipFrames),
		Severity:  SeverityMedium,
		Retryable: false,
	}
}

// WrapWithType wraps an error with a specific type.
func WrapWithType(err error, errType ErrorType, message string) *ClientError {
	if err == nil {
		return nil
	}

	return &ClientError{
		Type:      errType,
		Message:   message,
		Cause:     err,
		Stack:     captureStack(stackSkipFrames),
		Severity:  getSeverityForType(errType),
		Retryable: isRetryableType(errType),
	}
}

// Wrapf wraps an error with formatted message.
func Wrapf(err error, format string, args ...interface{}) *ClientError {
	if err == nil {
		return nil
	}

	return Wrap(err, fmt.Sprintf(format, args...))
}

// IsType checks if an error is of a specific type.
func IsType(err error, errType ErrorType) bool {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Type == errType
	}

	return false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Retryable
	}

	// Check for standard retryable errors
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	// Check for temporary network errors
	if temp, ok := err.(interface{ Temporary() bool }); ok {
		return temp.Temporary()
	}

	return false
}

// Helper functions.

func captureStack(skip int) []string {
	var stack []string

	for i := skip; i < skip+maxStackDepth; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn != nil {
			stack = append(stack, fmt.Sprintf("%s:%d %s", file, line, fn.Name()))
		}
	}

	return stack
}

func getSeverityForType(errType ErrorType) Severity {
	switch errType {
	case TypeInternal:
		return SeverityHigh
	case TypeReconnectExhausted:
		return SeverityHigh
	case TypeTransport, TypeTimeout, TypePoolExhausted:
		return SeverityMedium
	case TypeCircuitOpen, TypeSerialization:
		return SeverityMedium
	case TypeValidation, TypeCanceled:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

func isRetryableType(errType ErrorType) bool {
	switch errType {
	case TypeTransport, TypeTimeout, TypePoolExhausted:
		return true
	case TypeSerialization, TypeCircuitOpen, TypeReconnectExhausted,
		TypeValidation, TypeCanceled, TypeInternal:
		return false
	default:
		return false
	}
}

// Standard sentinel errors.
var (
	ErrCircuitOpen        = New(TypeCircuitOpen, "circuit breaker is open")
	ErrPoolExhausted      = New(TypePoolExhausted, "connection pool exhausted")
	ErrSessionClosed      = New(TypeValidation, "session is closed")
	ErrReconnectExhausted = New(TypeReconnectExhausted, "reconnection attempts exhausted")
)
