package wsession

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/resilient-systems/wireline/internal/config"
	"github.com/resilient-systems/wireline/internal/errors"
)

var testUpgrader = websocket.Upgrader{}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func newEchoServer(t *testing.T) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		defer func() { _ = conn.Close() }()

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))

	t.Cleanup(ts.Close)

	return ts
}

func testWSConfig(endpoint string) config.WebSocketConfig {
	return config.WebSocketConfig{
		Endpoint:              endpoint,
		AutoReconnect:         true,
		MaxReconnectAttempts:  5,
		InitialReconnectDelay: 10 * time.Millisecond,
		MaxReconnectDelay:     50 * time.Millisecond,
		ConnectTimeout:        2 * time.Second,
		HeartbeatInterval:     25 * time.Millisecond,
		HealthCheckInterval:   20 * time.Millisecond,
		MessageBufferSize:     100,
		MaxSendAttempts:       3,
		MaxMessageSize:        1 << 20,
		EnableHeartbeat:       true,
		EnableBuffering:       true,
	}
}

func newTestSession(t *testing.T, cfg config.WebSocketConfig, opts ...Option) *Session {
	t.Helper()

	s, err := New(cfg, zap.NewNop(), nil, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

func TestSession_ConnectAndEcho(t *testing.T) {
	ts := newEchoServer(t)
	s := newTestSession(t, testWSConfig(wsURL(ts)))
	ctx := context.Background()

	require.NoError(t, s.Connect(ctx))
	require.Equal(t, StateConnected, s.State())

	require.NoError(t, s.Send(ctx, []byte("hello")))

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	data, err := s.Recv(recvCtx)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	stats := s.Stats()
	if stats.MessagesSent != 1 || stats.MessagesReceived != 1 {
		t.Errorf("Unexpected counters: %+v", stats)
	}

	if stats.ConnectAttempts != 1 {
		t.Errorf("Expected 1 connect attempt, got %d", stats.ConnectAttempts)
	}
}

func TestSession_ConnectIdempotent(t *testing.T) {
	ts := newEchoServer(t)
	s := newTestSession(t, testWSConfig(wsURL(ts)))
	ctx := context.Background()

	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Connect(ctx))

	if s.Stats().ConnectAttempts != 1 {
		t.Errorf("Expected second Connect to be a no-op, attempts=%d", s.Stats().ConnectAttempts)
	}
}

func TestSession_MissingEndpoint(t *testing.T) {
	_, err := New(config.WebSocketConfig{}, zap.NewNop(), nil)
	require.Error(t, err)
}

func TestSession_ConnectFailure(t *testing.T) {
	cfg := testWSConfig("ws://127.0.0.1:1/ws")
	cfg.MaxReconnectAttempts = 3
	cfg.InitialReconnectDelay = 5 * time.Millisecond
	cfg.MaxReconnectDelay = 20 * time.Millisecond

	var dials atomic.Int32

	s := newTestSession(t, cfg, WithDialFunc(func(context.Context) (*websocket.Conn, error) {
		dials.Add(1)

		return nil, context.DeadlineExceeded
	}))

	err := s.Connect(context.Background())
	require.Error(t, err)

	if !errors.IsType(err, errors.TypeReconnectExhausted) {
		t.Errorf("Expected RECONNECT_EXHAUSTED after spending all attempts, got %v", err)
	}

	if got := dials.Load(); got != 3 {
		t.Errorf("Expected 3 dial attempts, got %d", got)
	}

	require.Equal(t, StateFailed, s.State())
}

func TestSession_ConnectRetriesWithBackoff(t *testing.T) {
	ts := newEchoServer(t)
	cfg := testWSConfig(wsURL(ts))

	// Dials run serially on the connecting goroutine, no lock needed.
	var dialTimes []time.Time

	s := newTestSession(t, cfg, WithDialFunc(func(ctx context.Context) (*websocket.Conn, error) {
		dialTimes = append(dialTimes, time.Now())

		if len(dialTimes) < 3 {
			return nil, context.DeadlineExceeded
		}

		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, cfg.Endpoint, nil)
		if resp != nil {
			defer func() { _ = resp.Body.Close() }()
		}

		return conn, err
	}))

	start := time.Now()
	require.NoError(t, s.Connect(context.Background()))
	elapsed := time.Since(start)

	require.Equal(t, StateConnected, s.State())
	require.Len(t, dialTimes, 3)

	first := dialTimes[1].Sub(dialTimes[0])
	second := dialTimes[2].Sub(dialTimes[1])

	if first < 8*time.Millisecond {
		t.Errorf("Expected first retry delay near 10ms, got %v", first)
	}

	if second < 16*time.Millisecond {
		t.Errorf("Expected second retry delay near 20ms, got %v", second)
	}

	// Delays never shrink and stay within the configured ceiling.
	if second+2*time.Millisecond < first {
		t.Errorf("Expected non-decreasing delays, got %v then %v", first, second)
	}

	if second > cfg.MaxReconnectDelay+time.Second {
		t.Errorf("Expected delay capped at %v, got %v", cfg.MaxReconnectDelay, second)
	}

	if elapsed < 24*time.Millisecond {
		t.Errorf("Expected Connect to spend the backoff delays, returned after %v", elapsed)
	}

	stats := s.Stats()
	if stats.ConnectAttempts != 3 {
		t.Errorf("Expected 3 connect attempts, got %d", stats.ConnectAttempts)
	}

	if stats.Reconnections != 0 {
		t.Errorf("Initial connect retries must not count as reconnections, got %d", stats.Reconnections)
	}
}

func TestSession_CloseInterruptsBackoff(t *testing.T) {
	ts := newEchoServer(t)

	cfg := testWSConfig(wsURL(ts))
	cfg.InitialReconnectDelay = 2 * time.Second
	cfg.MaxReconnectDelay = 2 * time.Second

	var allowDial atomic.Bool

	allowDial.Store(true)

	s := newTestSession(t, cfg, WithDialFunc(func(ctx context.Context) (*websocket.Conn, error) {
		if !allowDial.Load() {
			return nil, context.DeadlineExceeded
		}

		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, cfg.Endpoint, nil)
		if resp != nil {
			defer func() { _ = resp.Body.Close() }()
		}

		return conn, err
	}))

	require.NoError(t, s.Connect(context.Background()))

	allowDial.Store(false)
	ts.CloseClientConnections()

	require.Eventually(t, func() bool {
		return s.State() == StateReconnecting
	}, 2*time.Second, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, s.Close())

	if took := time.Since(start); took > time.Second {
		t.Errorf("Expected Close to interrupt the backoff delay, took %v", took)
	}

	require.Equal(t, StateClosed, s.State())
}

func TestSession_FailsWithoutAutoReconnect(t *testing.T) {
	ts := newEchoServer(t)

	cfg := testWSConfig(wsURL(ts))
	cfg.AutoReconnect = false

	s := newTestSession(t, cfg)
	ctx := context.Background()

	require.NoError(t, s.Connect(ctx))

	ts.CloseClientConnections()

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err := s.Recv(recvCtx)
	require.Error(t, err)

	if !errors.IsType(err, errors.TypeTransport) {
		t.Errorf("Expected TRANSPORT receive error, got %v", err)
	}

	require.Equal(t, StateFailed, s.State())
}

func TestSession_ReconnectAfterDrop(t *testing.T) {
	var connCount atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		if connCount.Add(1) == 1 {
			// Drop the first connection immediately.
			_ = conn.Close()

			return
		}

		defer func() { _ = conn.Close() }()

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)

	s := newTestSession(t, testWSConfig(wsURL(ts)))
	ctx := context.Background()

	require.NoError(t, s.Connect(ctx))

	// The server drops the first connection; the session must come back
	// on its own.
	require.Eventually(t, func() bool {
		return s.Stats().Reconnections == 1 && s.State() == StateConnected
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Send(ctx, []byte("after-reconnect")))

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	data, err := s.Recv(recvCtx)
	require.NoError(t, err)
	require.Equal(t, "after-reconnect", string(data))

	stats := s.Stats()
	if stats.ConnectAttempts < 2 {
		t.Errorf("Expected at least 2 connect attempts, got %d", stats.ConnectAttempts)
	}
}

func TestSession_BuffersWhileDisconnected(t *testing.T) {
	received := make(chan string, 10)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		defer func() { _ = conn.Close() }()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			received <- string(data)
		}
	}))
	t.Cleanup(ts.Close)

	var allowDial atomic.Bool

	cfg := testWSConfig(wsURL(ts))
	s := newTestSession(t, cfg, WithDialFunc(func(ctx context.Context) (*websocket.Conn, error) {
		if !allowDial.Load() {
			return nil, context.DeadlineExceeded
		}

		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, cfg.Endpoint, nil)
		if resp != nil {
			defer func() { _ = resp.Body.Close() }()
		}

		return conn, err
	}))

	ctx := context.Background()

	// Never connected yet; sends are buffered, not errors.
	for _, msg := range []string{"one", "two", "three"} {
		require.NoError(t, s.Send(ctx, []byte(msg)))
	}

	if s.Stats().BufferedMessages != 3 {
		t.Fatalf("Expected 3 buffered messages, got %d", s.Stats().BufferedMessages)
	}

	allowDial.Store(true)
	require.NoError(t, s.Connect(ctx))

	// The background drain may deliver some of the backlog before
	// Flush runs; between the two, everything must arrive.
	s.Flush(ctx)

	for i := 0; i < 3; i++ {
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for buffered message delivery")
		}
	}

	if s.Stats().BufferedMessages != 0 {
		t.Errorf("Expected empty buffer after flush, got %d", s.Stats().BufferedMessages)
	}
}

func TestSession_SendWithoutBufferingFails(t *testing.T) {
	cfg := testWSConfig("ws://127.0.0.1:1/ws")
	cfg.EnableBuffering = false

	s := newTestSession(t, cfg)

	err := s.Send(context.Background(), []byte("nope"))
	require.Error(t, err)
}

func TestSession_ReconnectExhaustion(t *testing.T) {
	ts := newEchoServer(t)

	cfg := testWSConfig(wsURL(ts))
	cfg.MaxReconnectAttempts = 2
	cfg.ConnectTimeout = 200 * time.Millisecond

	s := newTestSession(t, cfg)
	ctx := context.Background()

	require.NoError(t, s.Connect(ctx))

	// Kill the server for good; recovery must give up after the
	// configured attempts.
	ts.CloseClientConnections()
	ts.Close()

	recvCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.Recv(recvCtx)
	require.Error(t, err)

	if !errors.IsType(err, errors.TypeReconnectExhausted) {
		t.Errorf("Expected RECONNECT_EXHAUSTED, got %v", err)
	}

	require.Equal(t, StateFailed, s.State())
}

func TestSession_Healthy(t *testing.T) {
	ts := newEchoServer(t)
	s := newTestSession(t, testWSConfig(wsURL(ts)))

	if s.Healthy() {
		t.Error("Expected session to be unhealthy before connecting")
	}

	require.NoError(t, s.Connect(context.Background()))

	if !s.Healthy() {
		t.Error("Expected session to be healthy right after connecting")
	}

	// Heartbeats keep the session healthy across several intervals.
	time.Sleep(4 * s.cfg.HeartbeatInterval)

	if !s.Healthy() {
		t.Error("Expected heartbeats to keep the session healthy")
	}
}

func TestSession_QualityDecaysWhileDisconnected(t *testing.T) {
	cfg := testWSConfig("ws://127.0.0.1:1/ws")
	s := newTestSession(t, cfg)

	require.Equal(t, 1.0, s.Quality())

	// Unhealthy samples pull the moving average down.
	s.evaluateHealth()
	s.evaluateHealth()

	quality := s.Quality()
	if quality >= 1.0 {
		t.Errorf("Expected quality to decay, got %v", quality)
	}

	expected := 0.9 * 0.9
	if quality < expected-0.001 || quality > expected+0.001 {
		t.Errorf("Expected quality %.3f after two bad samples, got %v", expected, quality)
	}
}

func TestSession_CloseIdempotent(t *testing.T) {
	ts := newEchoServer(t)
	s := newTestSession(t, testWSConfig(wsURL(ts)))

	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	require.Equal(t, StateClosed, s.State())

	err := s.Send(context.Background(), []byte("late"))
	require.Error(t, err)

	_, err = s.Recv(context.Background())
	require.Error(t, err)
}

func TestSession_StatsTracksBytes(t *testing.T) {
	ts := newEchoServer(t)
	s := newTestSession(t, testWSConfig(wsURL(ts)))
	ctx := context.Background()

	require.NoError(t, s.Connect(ctx))

	payload := []byte("0123456789")
	require.NoError(t, s.Send(ctx, payload))

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err := s.Recv(recvCtx)
	require.NoError(t, err)

	stats := s.Stats()
	if stats.BytesSent != 10 || stats.BytesReceived != 10 {
		t.Errorf("Unexpected byte counters: sent=%d received=%d", stats.BytesSent, stats.BytesReceived)
	}
}
