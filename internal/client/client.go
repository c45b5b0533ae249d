// Package client wires the pool, cache, circuit breaker, and metrics
// into a single managed HTTP client.
package client

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/resilient-systems/wireline/internal/cache"
	"github.com/resilient-systems/wireline/internal/config"
	"github.com/resilient-systems/wireline/internal/errors"
	"github.com/resilient-systems/wireline/internal/logging"
	"github.com/resilient-systems/wireline/internal/metrics"
	"github.com/resilient-systems/wireline/internal/pool"
	"github.com/resilient-systems/wireline/pkg/circuit"
)

// maxResponseBodySize caps bodies read into memory.
const maxResponseBodySize = 32 << 20 // 32 MiB

// Response is the materialized result of an executed request.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	FromCache  bool
	Latency    time.Duration
}

// Enhanced is an HTTP client layered with connection pooling, optional
// response caching, and an optional circuit breaker. It performs no
// internal retries; a failed call surfaces a typed error the caller can
// classify.
type Enhanced struct {
	cfg       config.ClientConfig
	baseURL   *url.URL
	pool      *pool.Manager
	cache     *cache.Cache
	breaker   *circuit.Breaker
	registry  *metrics.Registry
	collector *metrics.Collector
	logger    *zap.Logger
}

// New assembles a client from configuration. The cache and breaker are
// created only when their sections enable them; registry may be nil
// when metrics are off.
func New(cfg config.Config, registry *metrics.Registry, logger *zap.Logger) (*Enhanced, error) {
	base, err := url.Parse(cfg.Client.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid base URL").
			WithComponent("client").
			WithContext("base_url", cfg.Client.BaseURL)
	}

	if base.Host == "" {
		return nil, errors.New(errors.TypeValidation, "base URL must include a host").
			WithComponent("client").
			WithContext("base_url", cfg.Client.BaseURL)
	}

	collector := metrics.NewCollector(registry)

	responseCache, err := cache.New(cfg.Cache, collector, logger)
	if err != nil {
		return nil, err
	}

	var breaker *circuit.Breaker
	if cfg.Breaker.Enabled {
		opts := []circuit.Option{
			circuit.WithHalfOpenMaxCalls(cfg.Breaker.HalfOpenMaxCalls),
		}

		if registry != nil {
			opts = append(opts, circuit.WithStateChangeHook(func(name string, state circuit.State) {
				registry.SetCircuitBreakerState(name, float64(state))
			}))
		}

		breaker = circuit.NewBreaker(
			base.Host,
			cfg.Breaker.FailureThreshold,
			cfg.Breaker.SuccessThreshold,
			cfg.Breaker.ResetTimeout,
			opts...,
		)
	}

	return &Enhanced{
		cfg:       cfg.Client,
		baseURL:   base,
		pool:      pool.NewManager(cfg.Pool, logger, registry),
		cache:     responseCache,
		breaker:   breaker,
		registry:  registry,
		collector: collector,
		logger:    logger,
	}, nil
}

// Execute sends one request through the reliability layers and returns
// the materialized response. The caller owns the returned body.
func (c *Enhanced) Execute(ctx context.Context, method, path string, body []byte) (*Response, error) {
	return c.execute(ctx, method, path, body, false, 0)
}

// GetCached performs a GET, serving from the cache when a live entry
// exists and storing the response on success.
func (c *Enhanced) GetCached(ctx context.Context, path string) (*Response, error) {
	return c.execute(ctx, http.MethodGet, path, nil, true, 0)
}

// PostCached performs a POST with cache participation, keyed on the
// canonicalized body. Useful for idempotent query-style POST APIs. The
// TTL is the caller's explicit opt-in and must be positive; mutating
// calls that should bypass the cache go through Execute.
func (c *Enhanced) PostCached(ctx context.Context, path string, body []byte, ttl time.Duration) (*Response, error) {
	if ttl <= 0 {
		return nil, errors.New(errors.TypeValidation, "cached POST requires a positive TTL").
			WithComponent("client").
			WithOperation("post_cached").
			WithContext("path", path)
	}

	return c.execute(ctx, http.MethodPost, path, body, true, ttl)
}

func (c *Enhanced) execute(ctx context.Context, method, path string, body []byte, cacheable bool, ttl time.Duration) (*Response, error) {
	start := time.Now()
	ctx = errors.EnrichWithRequest(ctx, "", method, path)

	var key cache.Key
	if cacheable && c.cache != nil {
		key = cache.ComputeKey(method, path, body, nil)

		if entry, ok := c.cache.Get(ctx, key); ok {
			return &Response{
				StatusCode: entry.StatusCode,
				Headers:    headersFromEntry(entry),
				Body:       entry.Body,
				FromCache:  true,
				Latency:    time.Since(start),
			}, nil
		}
	}

	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		c.recordOutcome(method, classifyError(err), start, err)
		logging.LogError(c.logger, "request failed", err,
			zap.String("method", method),
			zap.String("path", path))

		return nil, err
	}

	c.recordOutcome(method, fmt.Sprintf("%d", resp.StatusCode), start, nil)

	if cacheable && c.cache != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		entry := &cache.Entry{
			StatusCode: resp.StatusCode,
			Headers:    entryHeaders(resp.Headers),
			Body:       resp.Body,
		}

		if err := c.cache.Put(ctx, key, entry, ttl); err != nil {
			c.logger.Warn("failed to cache response",
				zap.String("path", path),
				zap.Error(err))
		}
	}

	resp.Latency = time.Since(start)

	return resp, nil
}

// send acquires a pooled connection, performs the round trip (through
// the breaker when one is configured), and always returns the
// connection to the pool.
func (c *Enhanced) send(ctx context.Context, method, path string, body []byte) (*Response, error) {
	conn, err := c.pool.Get(ctx, c.baseURL.Host)
	if err != nil {
		return nil, err
	}

	defer c.pool.Release(conn)

	var resp *Response

	roundTrip := func() error {
		var tripErr error

		resp, tripErr = c.roundTrip(ctx, conn, method, path, body)

		return tripErr
	}

	if c.breaker != nil {
		err = c.breaker.Execute(roundTrip)
	} else {
		err = roundTrip()
	}

	if err != nil {
		return nil, err
	}

	return resp, nil
}

func (c *Enhanced) roundTrip(ctx context.Context, conn *pool.Connection, method, path string, body []byte) (*Response, error) {
	target := c.resolve(path)

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, errors.WrapWithType(err, errors.TypeValidation, "failed to build request").
			WithComponent("client").
			WithContext("url", target)
	}

	for name, value := range c.cfg.Headers {
		req.Header.Set(name, value)
	}

	if len(body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()

	httpResp, err := conn.Do(req)
	if err != nil {
		conn.MarkFailure()

		return nil, c.classifyTransportError(ctx, err)
	}

	defer func() {
		_ = httpResp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBodySize))
	if err != nil {
		conn.MarkFailure()

		return nil, errors.WrapDecodeError(err, path)
	}

	conn.MarkSuccess(time.Since(start))

	return &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       data,
	}, nil
}

// classifyTransportError maps transport failures onto the error
// taxonomy. Deadline and cancellation take precedence over the generic
// transport wrap.
func (c *Enhanced) classifyTransportError(ctx context.Context, err error) *errors.ClientError {
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.CreateTimeoutError("request", c.cfg.RequestTimeout, err)
	case stderrors.Is(err, context.Canceled):
		return errors.WrapWithType(err, errors.TypeCanceled, "request canceled").
			WithComponent("client")
	default:
		return errors.WrapTransportError(ctx, err, c.baseURL.Host)
	}
}

func (c *Enhanced) resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return c.baseURL.String() + path
	}

	return c.baseURL.ResolveReference(ref).String()
}

func (c *Enhanced) recordOutcome(method, status string, start time.Time, err error) {
	c.collector.RecordTiming(method, status, time.Since(start))

	if err != nil {
		c.collector.RecordError(status)

		if c.registry != nil {
			errors.RecordError(err, c.registry)
		}
	}
}

// classifyError reduces an error to its taxonomy label for timing and
// error counters.
func classifyError(err error) string {
	var clientErr *errors.ClientError
	if stderrors.As(err, &clientErr) {
		return strings.ToLower(string(clientErr.Type))
	}

	return "error"
}

// Snapshot aggregates metrics across the pool, cache, and breaker into
// one point-in-time view.
func (c *Enhanced) Snapshot(ctx context.Context) metrics.Snapshot {
	poolStats := c.pool.GetEfficiencyMetrics()

	var breakerStats *metrics.BreakerStats
	if c.breaker != nil {
		stats := c.breaker.GetStats()
		breakerStats = &metrics.BreakerStats{
			State:         stats.State,
			Failures:      stats.Failures,
			Successes:     stats.Successes,
			RejectedCalls: stats.RejectedCalls,
			StateChanges:  stats.StateChanges,
		}
	}

	cacheEntries := 0
	if c.cache != nil {
		cacheEntries = c.cache.Len(ctx)
	}

	return c.collector.CollectSnapshot(&poolStats, cacheEntries, breakerStats)
}

// Collector exposes the metrics collector for report generation and
// export.
func (c *Enhanced) Collector() *metrics.Collector {
	return c.collector
}

// Breaker returns the configured circuit breaker, or nil when disabled.
func (c *Enhanced) Breaker() *circuit.Breaker {
	return c.breaker
}

// Pool returns the connection manager.
func (c *Enhanced) Pool() *pool.Manager {
	return c.pool
}

// Close shuts down the pool, breaker, and cache backend.
func (c *Enhanced) Close() error {
	c.pool.Close()

	if c.breaker != nil {
		c.breaker.Close()
	}

	if c.cache != nil {
		return c.cache.Close()
	}

	return nil
}

func headersFromEntry(entry *cache.Entry) http.Header {
	headers := make(http.Header, len(entry.Headers))
	for name, value := range entry.Headers {
		headers.Set(name, value)
	}

	return headers
}

func entryHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for name := range headers {
		out[name] = headers.Get(name)
	}

	return out
}
