// Package metrics provides Prometheus metrics collection and reporting for
// the wireline reliability core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all Prometheus metrics.
type Registry struct {
	prom *prometheus.Registry

	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Connection pool metrics
	PoolConnectionsActive  prometheus.Gauge
	PoolConnectionsIdle    prometheus.Gauge
	PoolConnectionsCreated prometheus.Counter
	PoolConnectionsEvicted *prometheus.CounterVec
	PoolAcquireTotal       *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	CacheEntries     prometheus.Gauge
	CacheEvictions   prometheus.Counter

	// Circuit breaker metrics
	CircuitBreakerState    *prometheus.GaugeVec
	CircuitBreakerRejected *prometheus.CounterVec

	// WebSocket session metrics
	WebSocketMessagesTotal  *prometheus.CounterVec
	WebSocketBytesTotal     *prometheus.CounterVec
	WebSocketReconnects     prometheus.Counter
	WebSocketBufferedEvents prometheus.Gauge
	WebSocketQuality        *prometheus.GaugeVec

	// Error metrics
	ErrorsTotal      *prometheus.CounterVec
	ErrorsByType     *prometheus.CounterVec
	ErrorRetryable   *prometheus.CounterVec
	ErrorsBySeverity *prometheus.CounterVec
	ErrorLatency     *prometheus.HistogramVec
}

// createRequestMetrics creates request-related metrics.
// nolint:ireturn // Prometheus interfaces
func createRequestMetrics(
	factory promauto.Factory,
) (*prometheus.CounterVec, *prometheus.HistogramVec, prometheus.Gauge) {
	reqTotal := factory.NewCounterVec(prometheus.CounterOpts{
		Name: "wireline_requests_total",
		Help: "Total number of managed requests",
	}, []string{"method", "status"})
	reqDuration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wireline_request_duration_seconds",
		Help:    "Managed request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})
	reqInFlight := factory.NewGauge(prometheus.GaugeOpts{
		Name: "wireline_requests_in_flight",
		Help: "Number of requests currently being processed",
	})

	return reqTotal, reqDuration, reqInFlight
}

type poolMetricsSet struct {
	active  prometheus.Gauge
	idle    prometheus.Gauge
	created prometheus.Counter
	evicted *prometheus.CounterVec
	acquire *prometheus.CounterVec
}

func createPoolMetrics(factory promauto.Factory) poolMetricsSet {
	return poolMetricsSet{
		active: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wireline_pool_connections_active",
			Help: "Number of connections currently loaned out",
		}),
		idle: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wireline_pool_connections_idle",
			Help: "Number of idle pooled connections",
		}),
		created: factory.NewCounter(prometheus.CounterOpts{
			Name: "wireline_pool_connections_created_total",
			Help: "Total number of connections created",
		}),
		evicted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wireline_pool_connections_evicted_total",
			Help: "Total number of connections evicted by reason",
		}, []string{"reason"}),
		acquire: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wireline_pool_acquire_total",
			Help: "Connection acquisitions by outcome (reused, created, failed)",
		}, []string{"outcome"}),
	}
}

type cacheMetricsSet struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	entries   prometheus.Gauge
	evictions prometheus.Counter
}

func createCacheMetrics(factory promauto.Factory) cacheMetricsSet {
	return cacheMetricsSet{
		hits: factory.NewCounter(prometheus.CounterOpts{
			Name: "wireline_cache_hits_total",
			Help: "Total number of response cache hits",
		}),
		misses: factory.NewCounter(prometheus.CounterOpts{
			Name: "wireline_cache_misses_total",
			Help: "Total number of response cache misses",
		}),
		entries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wireline_cache_entries",
			Help: "Current number of response cache entries",
		}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "wireline_cache_evictions_total",
			Help: "Total number of cache entries evicted",
		}),
	}
}

type circuitMetricsSet struct {
	state    *prometheus.GaugeVec
	rejected *prometheus.CounterVec
}

func createCircuitMetrics(factory promauto.Factory) circuitMetricsSet {
	return circuitMetricsSet{
		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wireline_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wireline_circuit_breaker_rejected_total",
			Help: "Requests rejected while the circuit was open",
		}, []string{"name"}),
	}
}

type webSocketMetricsSet struct {
	messages   *prometheus.CounterVec
	bytes      *prometheus.CounterVec
	reconnects prometheus.Counter
	buffered   prometheus.Gauge
	quality    *prometheus.GaugeVec
}

func createWebSocketMetrics(factory promauto.Factory) webSocketMetricsSet {
	return webSocketMetricsSet{
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wireline_websocket_messages_total",
			Help: "Total WebSocket messages",
		}, []string{"direction", "outcome"}),
		bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wireline_websocket_bytes_total",
			Help: "Total WebSocket bytes transferred",
		}, []string{"direction"}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "wireline_websocket_reconnects_total",
			Help: "Total successful WebSocket reconnections",
		}),
		buffered: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wireline_websocket_buffered_events",
			Help: "Events currently held in the outbound buffer",
		}),
		quality: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wireline_websocket_connection_quality",
			Help: "Smoothed connection quality score (0-1)",
		}, []string{"endpoint"}),
	}
}

type errorMetricsSet struct {
	total      *prometheus.CounterVec
	byType     *prometheus.CounterVec
	retryable  *prometheus.CounterVec
	bySeverity *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

func createErrorMetrics(factory promauto.Factory) errorMetricsSet {
	return errorMetricsSet{
		total: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wireline_errors_total",
			Help: "Total number of errors by code and component",
		}, []string{"code", "component", "operation"}),
		byType: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wireline_errors_by_type_total",
			Help: "Total number of errors by error type",
		}, []string{"type"}),
		retryable: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wireline_errors_retryable_total",
			Help: "Total number of retryable vs non-retryable errors",
		}, []string{"retryable"}),
		bySeverity: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wireline_errors_by_severity_total",
			Help: "Total number of errors by severity level",
		}, []string{"severity"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wireline_error_handling_duration_seconds",
			Help:    "Time spent handling errors in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"error_type", "component"}),
	}
}

// InitializeRegistry creates and configures a metrics collection registry.
func InitializeRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	reqTotal, reqDuration, reqInFlight := createRequestMetrics(factory)
	poolMetrics := createPoolMetrics(factory)
	cacheMetrics := createCacheMetrics(factory)
	circuitMetrics := createCircuitMetrics(factory)
	wsMetrics := createWebSocketMetrics(factory)
	errorMetrics := createErrorMetrics(factory)

	return &Registry{
		prom:                    reg,
		RequestsTotal:           reqTotal,
		RequestDuration:         reqDuration,
		RequestsInFlight:        reqInFlight,
		PoolConnectionsActive:   poolMetrics.active,
		PoolConnectionsIdle:     poolMetrics.idle,
		PoolConnectionsCreated:  poolMetrics.created,
		PoolConnectionsEvicted:  poolMetrics.evicted,
		PoolAcquireTotal:        poolMetrics.acquire,
		CacheHitsTotal:          cacheMetrics.hits,
		CacheMissesTotal:        cacheMetrics.misses,
		CacheEntries:            cacheMetrics.entries,
		CacheEvictions:          cacheMetrics.evictions,
		CircuitBreakerState:     circuitMetrics.state,
		CircuitBreakerRejected:  circuitMetrics.rejected,
		WebSocketMessagesTotal:  wsMetrics.messages,
		WebSocketBytesTotal:     wsMetrics.bytes,
		WebSocketReconnects:     wsMetrics.reconnects,
		WebSocketBufferedEvents: wsMetrics.buffered,
		WebSocketQuality:        wsMetrics.quality,
		ErrorsTotal:             errorMetrics.total,
		ErrorsByType:            errorMetrics.byType,
		ErrorRetryable:          errorMetrics.retryable,
		ErrorsBySeverity:        errorMetrics.bySeverity,
		ErrorLatency:            errorMetrics.latency,
	}
}

// Prometheus returns the underlying registry for serving /metrics.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.prom
}

// IncrementRequests increments request count.
func (r *Registry) IncrementRequests(method, status string) {
	r.RequestsTotal.WithLabelValues(method, status).Inc()
}

// RecordRequestDuration records request duration.
func (r *Registry) RecordRequestDuration(method, status string, duration time.Duration) {
	r.RequestDuration.WithLabelValues(method, status).Observe(duration.Seconds())
}

// IncrementRequestsInFlight increments in-flight requests.
func (r *Registry) IncrementRequestsInFlight() {
	r.RequestsInFlight.Inc()
}

// DecrementRequestsInFlight decrements in-flight requests.
func (r *Registry) DecrementRequestsInFlight() {
	r.RequestsInFlight.Dec()
}

// SetPoolGauges updates the pool active/idle gauges.
func (r *Registry) SetPoolGauges(active, idle int) {
	r.PoolConnectionsActive.Set(float64(active))
	r.PoolConnectionsIdle.Set(float64(idle))
}

// IncrementConnectionsCreated increments the created-connection counter.
func (r *Registry) IncrementConnectionsCreated() {
	r.PoolConnectionsCreated.Inc()
}

// IncrementConnectionsEvicted increments eviction count for a reason.
func (r *Registry) IncrementConnectionsEvicted(reason string) {
	r.PoolConnectionsEvicted.WithLabelValues(reason).Inc()
}

// IncrementPoolAcquire increments acquisition count for an outcome.
func (r *Registry) IncrementPoolAcquire(outcome string) {
	r.PoolAcquireTotal.WithLabelValues(outcome).Inc()
}

// IncrementCacheHits increments the cache hit counter.
func (r *Registry) IncrementCacheHits() {
	r.CacheHitsTotal.Inc()
}

// IncrementCacheMisses increments the cache miss counter.
func (r *Registry) IncrementCacheMisses() {
	r.CacheMissesTotal.Inc()
}

// SetCacheEntries sets the current cache entry gauge.
func (r *Registry) SetCacheEntries(count int) {
	r.CacheEntries.Set(float64(count))
}

// IncrementCacheEvictions increments the cache eviction counter.
func (r *Registry) IncrementCacheEvictions() {
	r.CacheEvictions.Inc()
}

// SetCircuitBreakerState sets circuit breaker state.
func (r *Registry) SetCircuitBreakerState(name string, state float64) {
	r.CircuitBreakerState.WithLabelValues(name).Set(state)
}

// IncrementCircuitRejected increments the rejected-call counter.
func (r *Registry) IncrementCircuitRejected(name string) {
	r.CircuitBreakerRejected.WithLabelValues(name).Inc()
}

// IncrementWebSocketMessages increments WebSocket message count.
func (r *Registry) IncrementWebSocketMessages(direction, outcome string) {
	r.WebSocketMessagesTotal.WithLabelValues(direction, outcome).Inc()
}

// AddWebSocketBytes adds to WebSocket bytes counter.
func (r *Registry) AddWebSocketBytes(direction string, bytes int) {
	r.WebSocketBytesTotal.WithLabelValues(direction).Add(float64(bytes))
}

// IncrementWebSocketReconnects increments the successful reconnection counter.
func (r *Registry) IncrementWebSocketReconnects() {
	r.WebSocketReconnects.Inc()
}

// SetWebSocketBufferedEvents sets the outbound buffer gauge.
func (r *Registry) SetWebSocketBufferedEvents(count int) {
	r.WebSocketBufferedEvents.Set(float64(count))
}

// SetWebSocketQuality sets the smoothed connection quality gauge.
func (r *Registry) SetWebSocketQuality(endpoint string, quality float64) {
	r.WebSocketQuality.WithLabelValues(endpoint).Set(quality)
}

// IncrementErrors increments error count with detailed labels.
func (r *Registry) IncrementErrors(code, component, operation string) {
	r.ErrorsTotal.WithLabelValues(code, component, operation).Inc()
}

// IncrementErrorsByType increments errors by type.
func (r *Registry) IncrementErrorsByType(errorType string) {
	r.ErrorsByType.WithLabelValues(errorType).Inc()
}

// IncrementRetryableErrors increments retryable/non-retryable error count.
func (r *Registry) IncrementRetryableErrors(retryable bool) {
	retryableStr := "false"
	if retryable {
		retryableStr = "true"
	}

	r.ErrorRetryable.WithLabelValues(retryableStr).Inc()
}

// IncrementErrorsBySeverity increments errors by severity level.
func (r *Registry) IncrementErrorsBySeverity(severity string) {
	r.ErrorsBySeverity.WithLabelValues(severity).Inc()
}

// RecordErrorLatency records time spent handling an error.
func (r *Registry) RecordErrorLatency(errorType, component string, duration time.Duration) {
	r.ErrorLatency.WithLabelValues(errorType, component).Observe(duration.Seconds())
}
