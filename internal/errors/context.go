package errors

import (
	"context"
	"errors"
	"fmt"
)

// ContextKey is a type for context keys to avoid collisions.
type ContextKey string

const (
	// Context keys for error metadata.
	ContextKeyRequestID ContextKey = "request_id"
	ContextKeyHost      ContextKey = "host"
	ContextKeyEndpoint  ContextKey = "endpoint"
	ContextKeyMethod    ContextKey = "method"
	ContextKeyPath      ContextKey = "path"
	ContextKeySessionID ContextKey = "session_id"
)

// contextMapping defines a mapping between context keys and field names.
type contextMapping struct {
	key   ContextKey
	field string
}

func getContextMappings() []contextMapping {
	return []contextMapping{
		{ContextKeyRequestID, "request_id"},
		{ContextKeyHost, "host"},
		{ContextKeyEndpoint, "endpoint"},
		{ContextKeyMethod, "method"},
		{ContextKeyPath, "path"},
		{ContextKeySessionID, "session_id"},
	}
}

// FromContext extracts error context from a context.Context and adds it to the error.
func FromContext(ctx context.Context, err error) *ClientError {
	if err == nil {
		return nil
	}

	var ce *ClientError
	if !errors.As(err, &ce) {
		ce = Wrap(err, err.Error())
	}

	for _, mapping := range getContextMappings() {
		if value := ctx.Value(mapping.key); value != nil {
			ce = ce.WithContext(mapping.field, value)
		}
	}

	return ce
}

// WrapContext wraps an error with context information.
func WrapContext(ctx context.Context, err error, message string) *ClientError {
	if err == nil {
		return nil
	}

	return FromContext(ctx, Wrap(err, message))
}

// WrapContextf wraps an error with formatted message and context.
func WrapContextf(ctx context.Context, err error, format string, args ...interface{}) *ClientError {
	if err == nil {
		return nil
	}

	return FromContext(ctx, Wrap(err, fmt.Sprintf(format, args...)))
}

// NewWithContext creates a new error with context information.
func NewWithContext(ctx context.Context, errType ErrorType, message string) *ClientError {
	return FromContext(ctx, New(errType, message))
}

// EnrichWithRequest adds request information to the context.
func EnrichWithRequest(ctx context.Context, requestID, method, path string) context.Context {
	if requestID != "" {
		ctx = context.WithValue(ctx, ContextKeyRequestID, requestID)
	}

	if method != "" {
		ctx = context.WithValue(ctx, ContextKeyMethod, method)
	}

	if path != "" {
		ctx = context.WithValue(ctx, ContextKeyPath, path)
	}

	return ctx
}

// EnrichWithEndpoint adds endpoint information to the context.
func EnrichWithEndpoint(ctx context.Context, endpoint, sessionID string) context.Context {
	if endpoint != "" {
		ctx = context.WithValue(ctx, ContextKeyEndpoint, endpoint)
	}

	if sessionID != "" {
		ctx = context.WithValue(ctx, ContextKeySessionID, sessionID)
	}

	return ctx
}
