package pool

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/resilient-systems/wireline/internal/config"
	"github.com/resilient-systems/wireline/internal/errors"
	"github.com/resilient-systems/wireline/internal/metrics"
)

// Eviction reasons reported to metrics.
const (
	evictReasonIdle      = "idle"
	evictReasonAge       = "age"
	evictReasonUnhealthy = "unhealthy"
)

// hostPool holds the connections for a single host. pending counts
// in-flight creations so concurrent acquisitions cannot overshoot the
// per-host limit while the dial probe is running outside the lock.
type hostPool struct {
	connections []*Connection
	pending     int
	mu          sync.Mutex
}

// Manager owns per-host connection pools and the background maintenance
// loop. The manager is the sole mutator of the pool map.
type Manager struct {
	cfg      config.PoolConfig
	logger   *zap.Logger
	registry *metrics.Registry

	pools   map[string]*hostPool
	poolsMu sync.RWMutex

	nextID       uint64
	totalCreated uint64
	totalEvicted uint64
	totalReused  uint64

	// verifyDial probes reachability before handing out a brand new
	// connection; overridable in tests.
	verifyDial func(ctx context.Context, host string, timeout time.Duration) error

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	mu      sync.Mutex
}

// NewManager creates a connection manager and starts its maintenance loop.
// The registry may be nil. Callers must Close the manager when done.
func NewManager(cfg config.PoolConfig, logger *zap.Logger, registry *metrics.Registry) *Manager {
	m := &Manager{
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "pool")),
		registry:   registry,
		pools:      make(map[string]*hostPool),
		verifyDial: dialProbe,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}

	m.start()

	return m
}

func (m *Manager) start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return
	}

	m.started = true

	go m.maintenanceLoop()
}

func dialProbe(ctx context.Context, host string, timeout time.Duration) error {
	dialer := net.Dialer{Timeout: timeout}

	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return err
	}

	return conn.Close()
}

// Get returns a pooled, health-checked connection for the host, creating a
// new one under the configured limit if none is idle.
func (m *Manager) Get(ctx context.Context, host string) (*Connection, error) {
	pool := m.hostPool(host)

	pool.mu.Lock()

	// Look for an idle healthy connection first.
	for _, conn := range pool.connections {
		conn.mu.Lock()

		if !conn.inUse && conn.consecutiveFailures < m.cfg.FailureThreshold {
			conn.inUse = true
			conn.lastUsed = time.Now()
			conn.mu.Unlock()
			pool.mu.Unlock()

			atomic.AddUint64(&m.totalReused, 1)
			m.recordAcquire("reused")

			return conn, nil
		}

		conn.mu.Unlock()
	}

	// No idle connection; create one if under the limit.
	if len(pool.connections)+pool.pending >= m.cfg.MaxPerHost {
		size := len(pool.connections)
		pool.mu.Unlock()

		m.recordAcquire("failed")

		return nil, errors.CreatePoolExhaustedError(host, size, m.cfg.MaxPerHost)
	}

	pool.pending++
	pool.mu.Unlock()

	conn, err := m.createConnection(ctx, host)

	pool.mu.Lock()
	pool.pending--

	if err != nil {
		pool.mu.Unlock()
		m.recordAcquire("failed")

		return nil, err
	}

	conn.inUse = true
	pool.connections = append(pool.connections, conn)
	pool.mu.Unlock()

	m.recordAcquire("created")
	m.updateGauges()

	return conn, nil
}

// createConnection probes the host and builds a new connection.
func (m *Manager) createConnection(ctx context.Context, host string) (*Connection, error) {
	if err := m.verifyDial(ctx, host, m.cfg.ConnectTimeout); err != nil {
		return nil, errors.CreateConnectError(host, err)
	}

	id := atomic.AddUint64(&m.nextID, 1)
	conn := newConnection(id, host, m.cfg.ConnectTimeout, 0)

	atomic.AddUint64(&m.totalCreated, 1)

	if m.registry != nil {
		m.registry.IncrementConnectionsCreated()
	}

	m.logger.Debug("created connection",
		zap.String("host", host),
		zap.Uint64("connection_id", id))

	return conn, nil
}

// Release returns a borrowed connection to its host pool. Connections that
// crossed the failure threshold are evicted instead of pooled.
func (m *Manager) Release(conn *Connection) {
	if conn == nil {
		return
	}

	conn.mu.Lock()
	conn.inUse = false
	conn.lastUsed = time.Now()
	unhealthy := conn.consecutiveFailures >= m.cfg.FailureThreshold
	conn.mu.Unlock()

	if unhealthy {
		m.evict(conn, evictReasonUnhealthy)
	}

	m.updateGauges()
}

// evict removes a connection from its pool and closes its transport.
func (m *Manager) evict(conn *Connection, reason string) {
	pool := m.hostPool(conn.host)

	pool.mu.Lock()

	kept := pool.connections[:0]

	for _, c := range pool.connections {
		if c != conn {
			kept = append(kept, c)
		}
	}

	pool.connections = kept
	pool.mu.Unlock()

	conn.close()
	atomic.AddUint64(&m.totalEvicted, 1)

	if m.registry != nil {
		m.registry.IncrementConnectionsEvicted(reason)
	}

	m.logger.Debug("evicted connection",
		zap.String("host", conn.host),
		zap.Uint64("connection_id", conn.id),
		zap.String("reason", reason))
}

// maintenanceLoop evicts idle, aged, and unhealthy connections on an interval.
func (m *Manager) maintenanceLoop() {
	defer close(m.doneCh)

	interval := m.cfg.CleanupInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

// cleanup performs one maintenance pass over all pools.
func (m *Manager) cleanup() {
	m.poolsMu.RLock()
	pools := make(map[string]*hostPool, len(m.pools))

	for host, pool := range m.pools {
		pools[host] = pool
	}

	m.poolsMu.RUnlock()

	for _, pool := range pools {
		m.cleanupPool(pool)
	}

	m.updateGauges()
}

func (m *Manager) cleanupPool(pool *hostPool) {
	pool.mu.Lock()

	var (
		kept    []*Connection
		evicted []*Connection
		reasons []string
	)

	for _, conn := range pool.connections {
		conn.mu.RLock()
		inUse := conn.inUse
		idle := time.Since(conn.lastUsed)
		age := time.Since(conn.created)
		unhealthy := conn.consecutiveFailures >= m.cfg.FailureThreshold
		conn.mu.RUnlock()

		switch {
		case inUse:
			kept = append(kept, conn)
		case unhealthy:
			evicted = append(evicted, conn)
			reasons = append(reasons, evictReasonUnhealthy)
		case m.cfg.IdleTimeout > 0 && idle > m.cfg.IdleTimeout:
			evicted = append(evicted, conn)
			reasons = append(reasons, evictReasonIdle)
		case m.cfg.MaxAge > 0 && age > m.cfg.MaxAge:
			evicted = append(evicted, conn)
			reasons = append(reasons, evictReasonAge)
		default:
			kept = append(kept, conn)
		}
	}

	pool.connections = kept
	pool.mu.Unlock()

	for i, conn := range evicted {
		conn.close()
		atomic.AddUint64(&m.totalEvicted, 1)

		if m.registry != nil {
			m.registry.IncrementConnectionsEvicted(reasons[i])
		}
	}
}

// hostPool returns the pool for a host, creating it if absent.
func (m *Manager) hostPool(host string) *hostPool {
	m.poolsMu.RLock()
	pool, exists := m.pools[host]
	m.poolsMu.RUnlock()

	if exists {
		return pool
	}

	m.poolsMu.Lock()
	defer m.poolsMu.Unlock()

	if pool, exists = m.pools[host]; exists {
		return pool
	}

	pool = &hostPool{}
	m.pools[host] = pool

	return pool
}

// GetEfficiencyMetrics returns an aggregate view of pool effectiveness.
func (m *Manager) GetEfficiencyMetrics() metrics.PoolStats {
	active, idle, hosts := m.countConnections()

	created := atomic.LoadUint64(&m.totalCreated)
	reused := atomic.LoadUint64(&m.totalReused)

	stats := metrics.PoolStats{
		Hosts:             hosts,
		ActiveConnections: active,
		IdleConnections:   idle,
		TotalCreated:      created,
		TotalEvicted:      atomic.LoadUint64(&m.totalEvicted),
	}

	if total := created + reused; total > 0 {
		stats.ReuseRatio = float64(reused) / float64(total)
	}

	return stats
}

// GetAllStats returns per-connection statistics grouped by host.
func (m *Manager) GetAllStats() map[string][]ConnectionStats {
	m.poolsMu.RLock()
	defer m.poolsMu.RUnlock()

	all := make(map[string][]ConnectionStats, len(m.pools))

	for host, pool := range m.pools {
		pool.mu.Lock()

		stats := make([]ConnectionStats, 0, len(pool.connections))
		for _, conn := range pool.connections {
			stats = append(stats, conn.Stats())
		}

		pool.mu.Unlock()

		all[host] = stats
	}

	return all
}

func (m *Manager) countConnections() (active, idle, hosts int) {
	m.poolsMu.RLock()
	defer m.poolsMu.RUnlock()

	hosts = len(m.pools)

	for _, pool := range m.pools {
		pool.mu.Lock()

		for _, conn := range pool.connections {
			conn.mu.RLock()

			if conn.inUse {
				active++
			} else {
				idle++
			}

			conn.mu.RUnlock()
		}

		pool.mu.Unlock()
	}

	return active, idle, hosts
}

func (m *Manager) updateGauges() {
	if m.registry == nil {
		return
	}

	active, idle, _ := m.countConnections()
	m.registry.SetPoolGauges(active, idle)
}

func (m *Manager) recordAcquire(outcome string) {
	if m.registry != nil {
		m.registry.IncrementPoolAcquire(outcome)
	}
}

// Close stops the maintenance loop and releases all pooled connections.
func (m *Manager) Close() {
	m.mu.Lock()

	if !m.started {
		m.mu.Unlock()

		return
	}

	m.started = false
	close(m.stopCh)
	m.mu.Unlock()

	<-m.doneCh

	m.poolsMu.Lock()
	defer m.poolsMu.Unlock()

	for _, pool := range m.pools {
		pool.mu.Lock()

		for _, conn := range pool.connections {
			conn.close()
		}

		pool.connections = nil
		pool.mu.Unlock()
	}

	m.logger.Debug("connection manager closed")
}
