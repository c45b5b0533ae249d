// Package pool provides per-host connection pooling with health-checked
// acquisition and background maintenance.
package pool

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// Connection represents one pooled transport handle to a specific host.
// It is owned by the pool while idle and loaned exclusively to a single
// caller for the duration of a request.
type Connection struct {
	id     uint64
	host   string
	client *http.Client

	mu                  sync.RWMutex
	created             time.Time
	lastUsed            time.Time
	inUse               bool
	consecutiveFailures int
	successes           uint64
	failures            uint64
	totalLatency        time.Duration
}

// newConnection builds a connection with a dedicated transport so that two
// in-flight requests never share one underlying TCP stream.
func newConnection(id uint64, host string, connectTimeout, requestTimeout time.Duration) *Connection {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxConnsPerHost:     1,
		MaxIdleConnsPerHost: 1,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	now := time.Now()

	return &Connection{
		id:   id,
		host: host,
		client: &http.Client{
			Transport: transport,
			Timeout:   requestTimeout,
		},
		created:  now,
		lastUsed: now,
	}
}

// ID returns the connection identifier, unique within its manager.
func (c *Connection) ID() uint64 {
	return c.id
}

// Host returns the host this connection is bound to.
func (c *Connection) Host() string {
	return c.host
}

// Do executes an HTTP request on this connection's transport.
func (c *Connection) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}

// MarkSuccess records a successful exchange and its latency on the
// connection's own health counters.
func (c *Connection) MarkSuccess(latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.successes++
	c.consecutiveFailures = 0
	c.totalLatency += latency
	c.lastUsed = time.Now()
}

// MarkFailure records a failed exchange.
func (c *Connection) MarkFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures++
	c.consecutiveFailures++
	c.lastUsed = time.Now()
}

// Healthy reports whether the consecutive failure count is below threshold.
func (c *Connection) Healthy(failureThreshold int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.consecutiveFailures < failureThreshold
}

// Age returns the time since the connection was created.
func (c *Connection) Age() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return time.Since(c.created)
}

// IdleFor returns the time since the connection was last used.
func (c *Connection) IdleFor() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return time.Since(c.lastUsed)
}

// Stats returns a copy of the connection's health counters.
func (c *Connection) Stats() ConnectionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := ConnectionStats{
		ID:                  c.id,
		Host:                c.host,
		Created:             c.created,
		LastUsed:            c.lastUsed,
		InUse:               c.inUse,
		ConsecutiveFailures: c.consecutiveFailures,
		Successes:           c.successes,
		Failures:            c.failures,
	}

	if c.successes > 0 {
		stats.AverageLatency = c.totalLatency / time.Duration(c.successes) //nolint:gosec // successes > 0
	}

	return stats
}

// close releases the connection's idle transport resources.
func (c *Connection) close() {
	if transport, ok := c.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}

// ConnectionStats is a read-only view of one connection's counters.
type ConnectionStats struct {
	ID                  uint64        `json:"id"`
	Host                string        `json:"host"`
	Created             time.Time     `json:"created"`
	LastUsed            time.Time     `json:"last_used"`
	InUse               bool          `json:"in_use"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Successes           uint64        `json:"successes"`
	Failures            uint64        `json:"failures"`
	AverageLatency      time.Duration `json:"average_latency"`
}
