package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	err := New(TypeTransport, "connection refused")

	if err.Type != TypeTransport {
		t.Errorf("Expected type TRANSPORT, got %s", err.Type)
	}

	if !err.Retryable {
		t.Error("Expected transport errors to be retryable")
	}

	if err.Severity != SeverityMedium {
		t.Errorf("Expected medium severity, got %s", err.Severity)
	}

	if len(err.Stack) == 0 {
		t.Error("Expected stack trace to be captured")
	}
}

func TestClientError_Error(t *testing.T) {
	err := New(TypeTimeout, "request timed out").
		WithComponent("client").
		WithOperation("execute")

	msg := err.Error()

	for _, want := range []string{"[client]", "execute:", "TIMEOUT", "request timed out"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected error string to contain %q, got %q", want, msg)
		}
	}
}

func TestWrap_PreservesClientErrorProperties(t *testing.T) {
	inner := New(TypePoolExhausted, "no connections").
		WithComponent("pool").
		WithContext("host", "api.example.com")

	wrapped := Wrap(inner, "request failed")

	if wrapped.Type != TypePoolExhausted {
		t.Errorf("Expected wrapped error to keep type, got %s", wrapped.Type)
	}

	if !wrapped.Retryable {
		t.Error("Expected wrapped error to keep retryability")
	}

	if wrapped.Component != "pool" {
		t.Errorf("Expected component pool, got %s", wrapped.Component)
	}

	if wrapped.Context["host"] != "api.example.com" {
		t.Error("Expected context to be preserved")
	}

	if !errors.Is(wrapped, inner) {
		t.Error("Expected errors.Is to match the wrapped error")
	}
}

func TestWrap_PlainError(t *testing.T) {
	cause := fmt.Errorf("socket closed")
	wrapped := Wrap(cause, "send failed")

	if wrapped.Type != TypeInternal {
		t.Errorf("Expected plain errors to wrap as INTERNAL, got %s", wrapped.Type)
	}

	if !errors.Is(wrapped, cause) {
		t.Error("Expected cause to be reachable through Unwrap")
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil, "nothing") != nil {
		t.Error("Expected wrapping nil to return nil")
	}

	if WrapWithType(nil, TypeTransport, "nothing") != nil {
		t.Error("Expected wrapping nil to return nil")
	}
}

func TestIsType(t *testing.T) {
	err := CreateConnectError("api.example.com", fmt.Errorf("refused"))

	if !IsType(err, TypeTransport) {
		t.Error("Expected connect error to classify as TRANSPORT")
	}

	if IsType(err, TypeTimeout) {
		t.Error("Expected connect error not to classify as TIMEOUT")
	}

	if IsType(fmt.Errorf("plain"), TypeTransport) {
		t.Error("Expected plain error not to classify")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(TypeTimeout, "slow")) {
		t.Error("Expected timeout to be retryable")
	}

	if IsRetryable(New(TypeValidation, "bad input")) {
		t.Error("Expected validation error not to be retryable")
	}

	if !IsRetryable(context.DeadlineExceeded) {
		t.Error("Expected deadline exceeded to be retryable")
	}
}

func TestSentinels(t *testing.T) {
	if !errors.Is(CreateCircuitOpenError("upstream"), ErrCircuitOpen) {
		t.Error("Expected circuit open errors to match the sentinel")
	}

	exhausted := CreatePoolExhaustedError("api.example.com", 10, 10)
	if !IsType(exhausted, TypePoolExhausted) {
		t.Error("Expected pool exhausted classification")
	}
}

func TestCreateTimeoutError(t *testing.T) {
	err := CreateTimeoutError("execute", 5*time.Second, context.DeadlineExceeded)

	if err.Type != TypeTimeout {
		t.Errorf("Expected TIMEOUT, got %s", err.Type)
	}

	if err.Context["timeout"] == nil {
		t.Error("Expected timeout in context")
	}
}

func TestCreateReconnectExhaustedError(t *testing.T) {
	cause := fmt.Errorf("dial tcp: refused")
	err := CreateReconnectExhaustedError("wss://api.example.com/ws", 5, cause)

	if err.Type != TypeReconnectExhausted {
		t.Errorf("Expected RECONNECT_EXHAUSTED, got %s", err.Type)
	}

	if err.Retryable {
		t.Error("Expected reconnect exhaustion not to be retryable")
	}

	if !errors.Is(err, cause) {
		t.Error("Expected cause to be preserved")
	}

	if err.Context["attempts"] != 5 {
		t.Errorf("Expected attempts=5 in context, got %v", err.Context["attempts"])
	}
}

func TestFromContext(t *testing.T) {
	ctx := EnrichWithRequest(context.Background(), "req-1", "GET", "/v1/models")
	err := FromContext(ctx, fmt.Errorf("boom"))

	if err.Context["request_id"] != "req-1" {
		t.Errorf("Expected request_id from context, got %v", err.Context["request_id"])
	}

	if err.Context["method"] != "GET" {
		t.Errorf("Expected method from context, got %v", err.Context["method"])
	}
}

func TestWrapContext(t *testing.T) {
	ctx := EnrichWithEndpoint(context.Background(), "wss://api.example.com/ws", "sess-9")

	err := WrapContext(ctx, fmt.Errorf("closed"), "recv failed")
	if err.Context["endpoint"] != "wss://api.example.com/ws" {
		t.Errorf("Expected endpoint from context, got %v", err.Context["endpoint"])
	}

	if err.Context["session_id"] != "sess-9" {
		t.Errorf("Expected session_id from context, got %v", err.Context["session_id"])
	}
}

func TestWrapTransportError_Classification(t *testing.T) {
	// Raw network failures classify as transport errors.
	err := WrapTransportError(context.Background(), fmt.Errorf("connection reset"), "api.example.com")
	if err.Type != TypeTransport {
		t.Errorf("Expected TRANSPORT for a plain cause, got %s", err.Type)
	}

	if !err.Retryable {
		t.Error("Expected transport errors to be retryable")
	}

	// An already classified error keeps its type through the wrap.
	timeout := CreateTimeoutError("request", time.Second, nil)

	wrapped := WrapDialError(context.Background(), timeout, "wss://api.example.com/ws")
	if wrapped.Type != TypeTimeout {
		t.Errorf("Expected TIMEOUT to survive the wrap, got %s", wrapped.Type)
	}
}
