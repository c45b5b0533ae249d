package errors

import (
	"context"
	"errors"
	"time"
)

// Error codes for transport operations.
const (
	ErrCodeConnectFailed      = "TRANSPORT_CONNECT_FAILED"
	ErrCodeConnectTimeout     = "TRANSPORT_CONNECT_TIMEOUT"
	ErrCodeRequestFailed      = "TRANSPORT_REQUEST_FAILED"
	ErrCodeRequestTimeout     = "TRANSPORT_REQUEST_TIMEOUT"
	ErrCodeEncodeFailed       = "SERIALIZATION_ENCODE_FAILED"
	ErrCodeDecodeFailed       = "SERIALIZATION_DECODE_FAILED"
	ErrCodeCircuitOpen        = "CIRCUIT_OPEN_REJECTED"
	ErrCodePoolExhausted      = "POOL_EXHAUSTED"
	ErrCodeWebSocketDial      = "WEBSOCKET_DIAL_FAILED"
	ErrCodeWebSocketWrite     = "WEBSOCKET_WRITE_FAILED"
	ErrCodeWebSocketRead      = "WEBSOCKET_READ_FAILED"
	ErrCodeReconnectExhausted = "WEBSOCKET_RECONNECT_EXHAUSTED"
)

// CreateConnectError creates an error for connection establishment failures.
func CreateConnectError(host string, cause error) *ClientError {
	var err *ClientError
	if cause != nil {
		err = WrapWithType(cause, TypeTransport, "failed to establish connection")
	} else {
		err = New(TypeTransport, "failed to establish connection")
	}

	return err.
		WithComponent("pool").
		WithOperation("connect").
		WithContext("host", host).
		WithContext("code", ErrCodeConnectFailed).
		AsRetryable()
}

// CreateTimeoutError creates an error for operations that exceeded their deadline.
func CreateTimeoutError(operation string, timeout time.Duration, cause error) *ClientError {
	var err *ClientError
	if cause != nil {
		err = WrapWithType(cause, TypeTimeout, "operation "+operation+" timed out")
	} else {
		err = New(TypeTimeout, "operation "+operation+" timed out")
	}

	return err.
		WithOperation(operation).
		WithContext("timeout", timeout.String()).
		WithContext("code", ErrCodeRequestTimeout)
}

// CreatePoolExhaustedError creates an error when no connection can be acquired.
func CreatePoolExhaustedError(host string, poolSize, maxSize int) *ClientError {
	return New(TypePoolExhausted, "no available connections for host "+host).
		WithComponent("pool").
		WithOperation("acquire").
		WithContext("host", host).
		WithContext("pool_size", poolSize).
		WithContext("max_pool_size", maxSize).
		WithContext("code", ErrCodePoolExhausted)
}

// CreateCircuitOpenError creates an error for requests rejected by an open breaker.
func CreateCircuitOpenError(name string) *ClientError {
	return New(TypeCircuitOpen, "circuit breaker is open (failing fast)").
		WithComponent("circuit").
		WithOperation("execute").
		WithContext("breaker", name).
		WithContext("code", ErrCodeCircuitOpen)
}

// wrapTransport wraps a failure as a transport error. An existing
// ClientError keeps its classification, anything else becomes
// TypeTransport.
func wrapTransport(ctx context.Context, err error, message string) *ClientError {
	var ce *ClientError
	if errors.As(err, &ce) {
		return WrapContext(ctx, err, message)
	}

	return FromContext(ctx, WrapWithType(err, TypeTransport, message))
}

// WrapTransportError wraps an error from a failed HTTP exchange.
func WrapTransportError(ctx context.Context, err error, host string) *ClientError {
	return wrapTransport(ctx, err, "request to "+host+" failed").
		WithComponent("client").
		WithOperation("execute").
		WithContext("host", host).
		WithContext("code", ErrCodeRequestFailed)
}

// WrapEncodeError wraps a request body encoding failure.
func WrapEncodeError(err error, path string) *ClientError {
	return WrapWithType(err, TypeSerialization, "failed to encode request body").
		WithComponent("client").
		WithOperation("encode").
		WithContext("path", path).
		WithContext("code", ErrCodeEncodeFailed)
}

// WrapDecodeError wraps a response body decoding failure.
func WrapDecodeError(err error, path string) *ClientError {
	return WrapWithType(err, TypeSerialization, "failed to decode response body").
		WithComponent("client").
		WithOperation("decode").
		WithContext("path", path).
		WithContext("code", ErrCodeDecodeFailed)
}

// WrapDialError wraps a WebSocket dial failure.
func WrapDialError(ctx context.Context, err error, endpoint string) *ClientError {
	return wrapTransport(ctx, err, "WebSocket dial failed").
		WithComponent("wsession").
		WithOperation("dial").
		WithContext("endpoint", endpoint).
		WithContext("code", ErrCodeWebSocketDial).
		AsRetryable()
}

// WrapSendError wraps a WebSocket write failure.
func WrapSendError(ctx context.Context, err error, endpoint string) *ClientError {
	return wrapTransport(ctx, err, "WebSocket send failed").
		WithComponent("wsession").
		WithOperation("send").
		WithContext("endpoint", endpoint).
		WithContext("code", ErrCodeWebSocketWrite)
}

// WrapRecvError wraps a WebSocket read failure.
func WrapRecvError(ctx context.Context, err error, endpoint string) *ClientError {
	return wrapTransport(ctx, err, "WebSocket receive failed").
		WithComponent("wsession").
		WithOperation("recv").
		WithContext("endpoint", endpoint).
		WithContext("code", ErrCodeWebSocketRead)
}

// CreateReconnectExhaustedError creates an error after the maximum number of
// reconnection attempts has been spent.
func CreateReconnectExhaustedError(endpoint string, attempts int, cause error) *ClientError {
	var err *ClientError
	if cause != nil {
		err = WrapWithType(cause, TypeReconnectExhausted,
			"failed to reconnect after maximum attempts")
	} else {
		err = New(TypeReconnectExhausted, "failed to reconnect after maximum attempts")
	}

	return err.
		WithComponent("wsession").
		WithOperation("reconnect").
		WithContext("endpoint", endpoint).
		WithContext("attempts", attempts).
		WithContext("code", ErrCodeReconnectExhausted)
}
