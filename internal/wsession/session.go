package wsession

import (
	"context"
	stderrors "errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/resilient-systems/wireline/internal/config"
	"github.com/resilient-systems/wireline/internal/errors"
	"github.com/resilient-systems/wireline/internal/logging"
	"github.com/resilient-systems/wireline/internal/metrics"
)

const (
	// processBatchSize bounds how many buffered messages one drain
	// pass sends.
	processBatchSize = 10

	// processInterval is how often the delivery loop drains the buffer.
	processInterval = 200 * time.Millisecond

	// heartbeatMissFactor is how many missed heartbeat intervals mark
	// the session unhealthy.
	heartbeatMissFactor = 3

	// Quality follows an exponential moving average of per-interval
	// health samples.
	qualityDecay = 0.9
	qualityGain  = 0.1

	// controlWriteTimeout bounds ping and close frame writes.
	controlWriteTimeout = 10 * time.Second
)

// DialFunc establishes the underlying WebSocket connection.
type DialFunc func(ctx context.Context) (*websocket.Conn, error)

// Option configures a Session.
type Option func(*Session)

// WithDialFunc overrides how the session dials its endpoint. Used by
// tests to point at local servers.
func WithDialFunc(dial DialFunc) Option {
	return func(s *Session) {
		s.dial = dial
	}
}

// Stats is a snapshot of session counters.
type Stats struct {
	State            string    `json:"state"`
	Endpoint         string    `json:"endpoint"`
	ConnectAttempts  uint64    `json:"connect_attempts"`
	Reconnections    uint64    `json:"reconnections"`
	MessagesSent     uint64    `json:"messages_sent"`
	MessagesReceived uint64    `json:"messages_received"`
	BytesSent        uint64    `json:"bytes_sent"`
	BytesReceived    uint64    `json:"bytes_received"`
	BufferedMessages int       `json:"buffered_messages"`
	DroppedMessages  uint64    `json:"dropped_messages"`
	Quality          float64   `json:"quality"`
	ConnectedSince   time.Time `json:"connected_since,omitempty"`
	LastHeartbeatAck time.Time `json:"last_heartbeat_ack,omitempty"`
}

type recvResult struct {
	data []byte
	err  error
}

// Session is a WebSocket connection that survives failures. Sends are
// buffered while disconnected, reconnection uses exponential backoff,
// and a quality score tracks link health over time.
type Session struct {
	cfg      config.WebSocketConfig
	logger   *zap.Logger
	registry *metrics.Registry
	dial     DialFunc

	mu               sync.RWMutex
	state            State
	conn             *websocket.Conn
	connectedSince   time.Time
	lastHeartbeatAck time.Time
	quality          float64

	// Serializes WebSocket writes, gorilla permits one writer at a time.
	writeMu sync.Mutex

	// Single permit, serializes connection establishment so concurrent
	// Connect calls and the reconnect loop cannot race.
	connectSem chan struct{}

	buffer *messageBuffer
	recvCh chan recvResult

	connectAttempts  uint64
	reconnections    uint64
	messagesSent     uint64
	messagesReceived uint64
	bytesSent        uint64
	bytesReceived    uint64
	droppedSends     uint64

	loopsOnce  sync.Once
	closeOnce  sync.Once
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// New creates a session for the configured endpoint. The session does
// not connect until Connect is called.
func New(cfg config.WebSocketConfig, logger *zap.Logger, registry *metrics.Registry, opts ...Option) (*Session, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New(errors.TypeValidation, "websocket endpoint is required").
			WithComponent("wsession")
	}

	s := &Session{
		cfg:        cfg,
		logger:     logger.With(zap.String("endpoint", cfg.Endpoint)),
		registry:   registry,
		state:      StateDisconnected,
		quality:    1.0,
		connectSem: make(chan struct{}, 1),
		buffer:     newMessageBuffer(cfg.MessageBufferSize),
		recvCh:     make(chan recvResult, cfg.MessageBufferSize),
		shutdownCh: make(chan struct{}),
	}

	s.dial = s.defaultDial

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *Session) defaultDial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: s.cfg.ConnectTimeout,
	}

	headers := http.Header{}
	for name, value := range s.cfg.Headers {
		headers.Set(name, value)
	}

	conn, resp, err := dialer.DialContext(ctx, s.cfg.Endpoint, headers)
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
	}

	if err != nil {
		return nil, err
	}

	return conn, nil
}

// Connect establishes the session, driving dial attempts through the
// backoff schedule until one succeeds or the attempt budget is spent.
// Concurrent calls are serialized; calling Connect on an already
// connected session is a no-op.
func (s *Session) Connect(ctx context.Context) error {
	select {
	case s.connectSem <- struct{}{}:
	case <-ctx.Done():
		return errors.WrapDialError(ctx, ctx.Err(), s.cfg.Endpoint)
	case <-s.shutdownCh:
		return errors.ErrSessionClosed
	}

	defer func() { <-s.connectSem }()

	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()

	if state == StateConnected {
		return nil
	}

	if state.terminal() {
		return errors.ErrSessionClosed
	}

	s.setState(StateConnecting)

	if err := s.connectWithRetry(ctx); err != nil {
		return err
	}

	s.startLoops()

	return nil
}

// establish performs one dial attempt and installs the connection on
// success. Callers hold the connect permit.
func (s *Session) establish(ctx context.Context) error {
	atomic.AddUint64(&s.connectAttempts, 1)

	dialCtx := ctx
	if s.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc

		dialCtx, cancel = context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		defer cancel()
	}

	conn, err := s.dial(dialCtx)
	if err != nil {
		return errors.WrapDialError(ctx, err, s.cfg.Endpoint)
	}

	if s.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageSize)
	}

	conn.SetPongHandler(func(string) error {
		s.touchHeartbeat()

		return nil
	})

	now := time.Now()

	s.mu.Lock()
	s.conn = conn
	s.state = StateConnected
	s.connectedSince = now
	s.lastHeartbeatAck = now
	s.mu.Unlock()

	s.wg.Add(1)

	go s.readPump(conn)

	s.logger.Info("websocket connected")

	return nil
}

// reconnect re-establishes the connection after a drop using the same
// backoff schedule as Connect.
func (s *Session) reconnect(ctx context.Context) error {
	select {
	case s.connectSem <- struct{}{}:
	case <-ctx.Done():
		return errors.WrapDialError(ctx, ctx.Err(), s.cfg.Endpoint)
	case <-s.shutdownCh:
		return errors.ErrSessionClosed
	}

	defer func() { <-s.connectSem }()

	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()

	if state == StateConnected || state.terminal() {
		return nil
	}

	s.setState(StateReconnecting)

	if err := s.connectWithRetry(ctx); err != nil {
		return err
	}

	atomic.AddUint64(&s.reconnections, 1)

	if s.registry != nil {
		s.registry.IncrementWebSocketReconnects()
	}

	s.logger.Info("websocket reconnected")

	return nil
}

// connectWithRetry drives dial attempts through the exponential backoff
// schedule, doubling the delay up to the configured maximum, until one
// succeeds, the attempt budget is spent (terminal Failed), or the
// session shuts down. Callers hold the connect permit.
func (s *Session) connectWithRetry(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unblock the backoff sleep when the session closes.
	watchDone := make(chan struct{})
	defer close(watchDone)

	go func() {
		select {
		case <-s.shutdownCh:
			cancel()
		case <-watchDone:
		}
	}()

	policy := s.backoffPolicy(ctx)
	attempts := 0

	operation := func() error {
		select {
		case <-s.shutdownCh:
			return backoff.Permanent(errors.ErrSessionClosed)
		default:
		}

		attempts++

		if err := s.establish(ctx); err != nil {
			s.setState(StateReconnecting)

			return err
		}

		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		select {
		case <-s.shutdownCh:
			return errors.ErrSessionClosed
		default:
		}

		if stderrors.Is(err, errors.ErrSessionClosed) {
			return errors.ErrSessionClosed
		}

		s.setState(StateFailed)

		return errors.CreateReconnectExhaustedError(s.cfg.Endpoint, attempts, err)
	}

	return nil
}

func (s *Session) backoffPolicy(ctx context.Context) backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = s.cfg.InitialReconnectDelay
	expo.MaxInterval = s.cfg.MaxReconnectDelay
	expo.Multiplier = 2
	expo.RandomizationFactor = 0
	expo.MaxElapsedTime = 0
	expo.Reset()

	var policy backoff.BackOff = expo
	if s.cfg.MaxReconnectAttempts > 0 {
		policy = backoff.WithMaxRetries(expo, uint64(s.cfg.MaxReconnectAttempts-1))
	}

	return backoff.WithContext(policy, ctx)
}

// Send delivers data over the session. While disconnected, messages are
// buffered for later delivery when buffering is enabled.
func (s *Session) Send(ctx context.Context, data []byte) error {
	return s.SendWithPriority(ctx, data, 0)
}

// SendWithPriority is Send with an explicit buffer priority. Higher
// priorities are delivered first after a reconnect.
func (s *Session) SendWithPriority(ctx context.Context, data []byte, priority int) error {
	select {
	case <-ctx.Done():
		return errors.WrapSendError(ctx, ctx.Err(), s.cfg.Endpoint)
	default:
	}

	s.mu.RLock()
	state := s.state
	conn := s.conn
	s.mu.RUnlock()

	if state.terminal() {
		return errors.ErrSessionClosed
	}

	if state != StateConnected || conn == nil {
		return s.bufferMessage(ctx, data, priority, nil)
	}

	if err := s.writeMessage(conn, data); err != nil {
		s.handleConnFailure(conn, err, "write")

		return s.bufferMessage(ctx, data, priority, err)
	}

	return nil
}

// bufferMessage queues data when buffering is enabled, otherwise the
// original failure surfaces.
func (s *Session) bufferMessage(ctx context.Context, data []byte, priority int, cause error) error {
	if !s.cfg.EnableBuffering {
		if cause != nil {
			return errors.WrapSendError(ctx, cause, s.cfg.Endpoint)
		}

		return errors.WrapSendError(ctx, errors.ErrSessionClosed, s.cfg.Endpoint).
			WithContext("reason", "not connected")
	}

	msg, evicted := s.buffer.add(data, priority)
	if evicted {
		s.logger.Warn("message buffer full, dropped oldest message")
	}

	if s.registry != nil {
		s.registry.SetWebSocketBufferedEvents(s.buffer.len())
		s.registry.IncrementWebSocketMessages("outbound", "buffered")
	}

	s.logger.Debug("message buffered",
		zap.String("message_id", msg.ID),
		zap.Int("buffered", s.buffer.len()))

	return nil
}

func (s *Session) writeMessage(conn *websocket.Conn, data []byte) error {
	s.writeMu.Lock()
	err := conn.WriteMessage(websocket.TextMessage, data)
	s.writeMu.Unlock()

	if err != nil {
		if s.registry != nil {
			s.registry.IncrementWebSocketMessages("outbound", "error")
		}

		return err
	}

	atomic.AddUint64(&s.messagesSent, 1)
	atomic.AddUint64(&s.bytesSent, uint64(len(data)))

	if s.registry != nil {
		s.registry.IncrementWebSocketMessages("outbound", "ok")
		s.registry.AddWebSocketBytes("outbound", len(data))
	}

	return nil
}

// Recv returns the next inbound message. Reads during a reconnect wait
// for the new connection rather than failing, so callers only see an
// error once recovery is off the table.
func (s *Session) Recv(ctx context.Context) ([]byte, error) {
	select {
	case res := <-s.recvCh:
		if res.err != nil {
			return nil, res.err
		}

		return res.data, nil
	case <-ctx.Done():
		return nil, errors.WrapRecvError(ctx, ctx.Err(), s.cfg.Endpoint)
	case <-s.shutdownCh:
		return nil, errors.ErrSessionClosed
	}
}

// Flush synchronously drains the message buffer over the live
// connection and returns how many messages were delivered.
func (s *Session) Flush(ctx context.Context) int {
	sent := 0

	for {
		select {
		case <-ctx.Done():
			return sent
		default:
		}

		batch := s.buffer.take(processBatchSize)
		if len(batch) == 0 {
			break
		}

		for i, msg := range batch {
			if err := s.sendBuffered(msg); err != nil {
				// Put the rest back untouched, only the failed
				// message accrues an attempt.
				for _, rest := range batch[i+1:] {
					s.buffer.requeue(rest)
				}

				s.reportBufferGauge()

				return sent
			}

			sent++
		}
	}

	s.reportBufferGauge()

	return sent
}

// sendBuffered attempts delivery of one buffered message, requeueing it
// while attempts remain.
func (s *Session) sendBuffered(msg *BufferedMessage) error {
	s.mu.RLock()
	state := s.state
	conn := s.conn
	s.mu.RUnlock()

	if state != StateConnected || conn == nil {
		s.buffer.requeue(msg)

		return errors.ErrSessionClosed
	}

	if err := s.writeMessage(conn, msg.Data); err != nil {
		msg.Attempts++

		if s.cfg.MaxSendAttempts > 0 && msg.Attempts >= s.cfg.MaxSendAttempts {
			atomic.AddUint64(&s.droppedSends, 1)
			s.logger.Warn("dropping message after repeated send failures",
				zap.String("message_id", msg.ID),
				zap.Int("attempts", msg.Attempts))
		} else {
			s.buffer.requeue(msg)
		}

		s.handleConnFailure(conn, err, "flush")

		return err
	}

	return nil
}

// readPump reads frames from one connection until it fails or the
// session shuts down. Each established connection gets its own pump.
func (s *Session) readPump(conn *websocket.Conn) {
	defer s.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleConnFailure(conn, err, "read")

			return
		}

		s.touchHeartbeat()
		atomic.AddUint64(&s.messagesReceived, 1)
		atomic.AddUint64(&s.bytesReceived, uint64(len(data)))

		if s.registry != nil {
			s.registry.IncrementWebSocketMessages("inbound", "ok")
			s.registry.AddWebSocketBytes("inbound", len(data))
		}

		select {
		case s.recvCh <- recvResult{data: data}:
		case <-s.shutdownCh:
			return
		}
	}
}

// handleConnFailure retires a failed connection and kicks off recovery.
// Stale calls against an already replaced connection are ignored.
func (s *Session) handleConnFailure(conn *websocket.Conn, err error, operation string) {
	select {
	case <-s.shutdownCh:
		return
	default:
	}

	s.mu.Lock()

	if s.conn != conn {
		s.mu.Unlock()

		return
	}

	s.conn = nil
	if s.state == StateConnected {
		s.state = StateDisconnected
	}
	s.mu.Unlock()

	_ = conn.Close()

	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		fields := append(logging.WithError(err), zap.String("operation", operation))
		s.logger.Warn("websocket connection failed", fields...)
	}

	if !s.cfg.AutoReconnect {
		s.setState(StateFailed)
		s.deliver(recvResult{err: errors.WrapRecvError(context.Background(), err, s.cfg.Endpoint)})

		return
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		if rerr := s.reconnect(context.Background()); rerr != nil &&
			!stderrors.Is(rerr, errors.ErrSessionClosed) {
			s.deliver(recvResult{err: rerr})
		}
	}()
}

func (s *Session) deliver(res recvResult) {
	select {
	case s.recvCh <- res:
	case <-s.shutdownCh:
	}
}

// startLoops launches the background loops once, on first successful
// connect.
func (s *Session) startLoops() {
	s.loopsOnce.Do(func() {
		s.wg.Add(2)

		go s.processLoop()
		go s.healthLoop()

		if s.cfg.EnableHeartbeat && s.cfg.HeartbeatInterval > 0 {
			s.wg.Add(1)

			go s.heartbeatLoop()
		}
	})
}

// processLoop periodically drains buffered messages in small batches so
// a large backlog cannot monopolize the connection.
func (s *Session) processLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(processInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdownCh:
			return
		case <-ticker.C:
			if s.State() != StateConnected || s.buffer.len() == 0 {
				continue
			}

			batch := s.buffer.take(processBatchSize)
			for _, msg := range batch {
				if err := s.sendBuffered(msg); err != nil {
					break
				}
			}

			s.reportBufferGauge()
		}
	}
}

// heartbeatLoop sends pings on the configured interval. Pong receipt is
// recorded by the pong handler installed at connect time.
func (s *Session) heartbeatLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdownCh:
			return
		case <-ticker.C:
			s.mu.RLock()
			state := s.state
			conn := s.conn
			s.mu.RUnlock()

			if state != StateConnected || conn == nil {
				continue
			}

			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil,
				time.Now().Add(controlWriteTimeout))
			s.writeMu.Unlock()

			if err != nil {
				s.logger.Warn("heartbeat ping failed", zap.Error(err))
				s.handleConnFailure(conn, err, "heartbeat")
			}
		}
	}
}

// healthLoop maintains the quality score as an exponential moving
// average of per-interval health samples and recycles connections whose
// score drops below the configured threshold.
func (s *Session) healthLoop() {
	defer s.wg.Done()

	interval := s.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdownCh:
			return
		case <-ticker.C:
			s.evaluateHealth()
		}
	}
}

func (s *Session) evaluateHealth() {
	s.mu.Lock()

	sample := 0.0
	if s.state == StateConnected && s.heartbeatFreshLocked() {
		sample = 1.0
	}

	s.quality = qualityDecay*s.quality + qualityGain*sample
	quality := s.quality
	connected := s.state == StateConnected
	conn := s.conn
	s.mu.Unlock()

	if s.registry != nil {
		s.registry.SetWebSocketQuality(s.cfg.Endpoint, quality)
	}

	if connected && s.cfg.QualityThreshold > 0 && quality < s.cfg.QualityThreshold {
		s.logger.Warn("connection quality below threshold, recycling connection",
			zap.Float64("quality", quality),
			zap.Float64("threshold", s.cfg.QualityThreshold))

		if conn != nil {
			// The read pump observes the close and drives reconnection.
			_ = conn.Close()
		}
	}
}

// heartbeatFreshLocked reports whether a heartbeat ack or message
// arrived within the allowed window. Caller holds mu.
func (s *Session) heartbeatFreshLocked() bool {
	if !s.cfg.EnableHeartbeat || s.cfg.HeartbeatInterval <= 0 {
		return true
	}

	return time.Since(s.lastHeartbeatAck) <= heartbeatMissFactor*s.cfg.HeartbeatInterval
}

func (s *Session) touchHeartbeat() {
	s.mu.Lock()
	s.lastHeartbeatAck = time.Now()
	s.mu.Unlock()
}

// Healthy reports whether the session is connected and heartbeats are
// current.
func (s *Session) Healthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state == StateConnected && s.heartbeatFreshLocked()
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// Quality returns the current connection quality score in [0, 1].
func (s *Session) Quality() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.quality
}

func (s *Session) setState(state State) {
	s.mu.Lock()

	if s.state == state {
		s.mu.Unlock()

		return
	}

	previous := s.state
	s.state = state
	s.mu.Unlock()

	s.logger.Debug("session state changed",
		zap.String("from", previous.String()),
		zap.String("to", state.String()))
}

// Stats returns a snapshot of session counters.
func (s *Session) Stats() Stats {
	s.mu.RLock()
	state := s.state
	quality := s.quality
	connectedSince := s.connectedSince
	lastAck := s.lastHeartbeatAck
	s.mu.RUnlock()

	return Stats{
		State:            state.String(),
		Endpoint:         s.cfg.Endpoint,
		ConnectAttempts:  atomic.LoadUint64(&s.connectAttempts),
		Reconnections:    atomic.LoadUint64(&s.reconnections),
		MessagesSent:     atomic.LoadUint64(&s.messagesSent),
		MessagesReceived: atomic.LoadUint64(&s.messagesReceived),
		BytesSent:        atomic.LoadUint64(&s.bytesSent),
		BytesReceived:    atomic.LoadUint64(&s.bytesReceived),
		BufferedMessages: s.buffer.len(),
		DroppedMessages:  s.buffer.droppedCount() + atomic.LoadUint64(&s.droppedSends),
		Quality:          quality,
		ConnectedSince:   connectedSince,
		LastHeartbeatAck: lastAck,
	}
}

func (s *Session) reportBufferGauge() {
	if s.registry != nil {
		s.registry.SetWebSocketBufferedEvents(s.buffer.len())
	}
}

// Close shuts the session down. Safe to call multiple times; later
// calls are no-ops.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		close(s.shutdownCh)

		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		s.mu.Unlock()

		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(controlWriteTimeout))
			_ = conn.Close()
		}

		s.wg.Wait()
		s.setState(StateClosed)
		s.logger.Info("websocket session closed")
	})

	return nil
}
