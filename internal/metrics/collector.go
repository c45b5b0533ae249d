package metrics

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Histogram bucket upper bounds for request timing, in milliseconds.
var timingBucketBoundsMs = []int64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

const (
	healthyCacheHitRate = 0.5
	healthyErrorRate    = 0.05
)

// TimingStats is an immutable aggregate of recorded request durations.
type TimingStats struct {
	Count   uint64           `json:"count"`
	Min     time.Duration    `json:"min"`
	Max     time.Duration    `json:"max"`
	Mean    time.Duration    `json:"mean"`
	Buckets map[string]int64 `json:"buckets"`
}

// CacheStats is a point-in-time view of cache effectiveness.
type CacheStats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Entries int     `json:"entries"`
	HitRate float64 `json:"hit_rate"`
}

// PoolStats is supplied by the connection manager when collecting a snapshot.
type PoolStats struct {
	Hosts             int     `json:"hosts"`
	ActiveConnections int     `json:"active_connections"`
	IdleConnections   int     `json:"idle_connections"`
	TotalCreated      uint64  `json:"total_created"`
	TotalEvicted      uint64  `json:"total_evicted"`
	ReuseRatio        float64 `json:"reuse_ratio"`
}

// BreakerStats is supplied by the circuit breaker when collecting a snapshot.
type BreakerStats struct {
	State         string `json:"state"`
	Failures      int    `json:"failures"`
	Successes     int    `json:"successes"`
	RejectedCalls uint64 `json:"rejected_calls"`
	StateChanges  uint64 `json:"state_changes"`
}

// Snapshot is an immutable point-in-time aggregate. Optional sub-metrics not
// supplied at collection time are nil, never zeroed.
type Snapshot struct {
	CollectedAt time.Time         `json:"collected_at"`
	Timing      TimingStats       `json:"timing"`
	Errors      map[string]uint64 `json:"errors"`
	Cache       *CacheStats       `json:"cache,omitempty"`
	Pool        *PoolStats        `json:"pool,omitempty"`
	Breaker     *BreakerStats     `json:"breaker,omitempty"`
}

// AnalysisReport is a derived read-only interpretation of a snapshot.
type AnalysisReport struct {
	GeneratedAt  time.Time `json:"generated_at"`
	TotalErrors  uint64    `json:"total_errors"`
	ErrorRate    float64   `json:"error_rate"`
	CacheHitRate float64   `json:"cache_hit_rate,omitempty"`
	Findings     []string  `json:"findings"`
}

// Collector aggregates timing and error statistics on the request hot path
// and mirrors them into the Prometheus registry.
type Collector struct {
	registry *Registry

	// Hot-path counters; all atomic to avoid serializing concurrent requests.
	timingCount   uint64
	timingTotalNs int64
	timingMinNs   int64
	timingMaxNs   int64
	buckets       []int64 // one atomic counter per bound, plus overflow

	errorsMu sync.Mutex
	errors   map[string]uint64

	cacheHits   uint64
	cacheMisses uint64
}

// NewCollector creates a collector bound to a Prometheus registry.
// The registry may be nil, in which case only in-process aggregates are kept.
func NewCollector(registry *Registry) *Collector {
	return &Collector{
		registry:    registry,
		timingMinNs: int64(^uint64(0) >> 1),
		buckets:     make([]int64, len(timingBucketBoundsMs)+1),
		errors:      make(map[string]uint64),
	}
}

// RecordTiming records the duration of a completed request.
func (c *Collector) RecordTiming(method, status string, duration time.Duration) {
	atomic.AddUint64(&c.timingCount, 1)
	atomic.AddInt64(&c.timingTotalNs, int64(duration))

	updateAtomicMin(&c.timingMinNs, int64(duration))
	updateAtomicMax(&c.timingMaxNs, int64(duration))

	idx := len(timingBucketBoundsMs)

	for i, bound := range timingBucketBoundsMs {
		if duration.Milliseconds() <= bound {
			idx = i

			break
		}
	}

	atomic.AddInt64(&c.buckets[idx], 1)

	if c.registry != nil {
		c.registry.IncrementRequests(method, status)
		c.registry.RecordRequestDuration(method, status, duration)
	}
}

// RecordError records an error under its taxonomy category.
func (c *Collector) RecordError(category string) {
	c.errorsMu.Lock()
	c.errors[category]++
	c.errorsMu.Unlock()
}

// RecordCacheHit records a cache hit.
func (c *Collector) RecordCacheHit() {
	atomic.AddUint64(&c.cacheHits, 1)

	if c.registry != nil {
		c.registry.IncrementCacheHits()
	}
}

// RecordCacheMiss records a cache miss.
func (c *Collector) RecordCacheMiss() {
	atomic.AddUint64(&c.cacheMisses, 1)

	if c.registry != nil {
		c.registry.IncrementCacheMisses()
	}
}

// CollectSnapshot assembles a point-in-time view. Sub-metrics the caller
// does not supply are omitted from the snapshot.
func (c *Collector) CollectSnapshot(pool *PoolStats, cacheEntries int, breaker *BreakerStats) Snapshot {
	snap := Snapshot{
		CollectedAt: time.Now(),
		Timing:      c.timingStats(),
		Errors:      c.errorCounts(),
		Pool:        pool,
		Breaker:     breaker,
	}

	hits := atomic.LoadUint64(&c.cacheHits)
	misses := atomic.LoadUint64(&c.cacheMisses)

	if hits > 0 || misses > 0 || cacheEntries > 0 {
		cs := &CacheStats{Hits: hits, Misses: misses, Entries: cacheEntries}
		if total := hits + misses; total > 0 {
			cs.HitRate = float64(hits) / float64(total)
		}

		snap.Cache = cs
	}

	return snap
}

// GenerateAnalysisReport derives findings from the current counters without
// mutating collector state.
func (c *Collector) GenerateAnalysisReport(snapshot Snapshot) AnalysisReport {
	report := AnalysisReport{
		GeneratedAt: time.Now(),
	}

	for _, count := range snapshot.Errors {
		report.TotalErrors += count
	}

	if snapshot.Timing.Count > 0 {
		report.ErrorRate = float64(report.TotalErrors) / float64(snapshot.Timing.Count)
	}

	if report.ErrorRate > healthyErrorRate {
		report.Findings = append(report.Findings, "error rate exceeds 5% of requests")
	}

	if snapshot.Cache != nil {
		report.CacheHitRate = snapshot.Cache.HitRate
		if snapshot.Cache.HitRate < healthyCacheHitRate && snapshot.Cache.Hits+snapshot.Cache.Misses > 0 {
			report.Findings = append(report.Findings, "cache hit rate below 50%")
		}
	}

	if snapshot.Breaker != nil && snapshot.Breaker.State != "closed" {
		report.Findings = append(report.Findings, "circuit breaker is not closed: "+snapshot.Breaker.State)
	}

	if snapshot.Pool != nil && snapshot.Pool.ReuseRatio < healthyCacheHitRate && snapshot.Pool.TotalCreated > 0 {
		report.Findings = append(report.Findings, "connection reuse ratio below 50%")
	}

	if len(report.Findings) == 0 {
		report.Findings = []string{"all reliability indicators nominal"}
	}

	return report
}

// ExportJSON renders the gathered Prometheus metric families as JSON.
func (c *Collector) ExportJSON() (string, error) {
	families, err := c.gather()
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(families)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// ExportPrometheus renders the gathered metrics in the Prometheus text format.
func (c *Collector) ExportPrometheus() (string, error) {
	families, err := c.gather()
	if err != nil {
		return "", err
	}

	var b strings.Builder

	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(&b, family); err != nil {
			return "", err
		}
	}

	return b.String(), nil
}

func (c *Collector) gather() ([]*dto.MetricFamily, error) {
	if c.registry == nil {
		return nil, nil
	}

	families, err := c.registry.Prometheus().Gather()
	if err != nil {
		return nil, err
	}

	sort.Slice(families, func(i, j int) bool {
		return families[i].GetName() < families[j].GetName()
	})

	return families, nil
}

func (c *Collector) timingStats() TimingStats {
	count := atomic.LoadUint64(&c.timingCount)
	stats := TimingStats{
		Count:   count,
		Buckets: make(map[string]int64, len(c.buckets)),
	}

	if count == 0 {
		return stats
	}

	stats.Min = time.Duration(atomic.LoadInt64(&c.timingMinNs))
	stats.Max = time.Duration(atomic.LoadInt64(&c.timingMaxNs))
	stats.Mean = time.Duration(atomic.LoadInt64(&c.timingTotalNs) / int64(count)) //nolint:gosec // count > 0

	for i, bound := range timingBucketBoundsMs {
		stats.Buckets["le_"+time.Duration(bound*int64(time.Millisecond)).String()] = atomic.LoadInt64(&c.buckets[i])
	}

	stats.Buckets["overflow"] = atomic.LoadInt64(&c.buckets[len(timingBucketBoundsMs)])

	return stats
}

func (c *Collector) errorCounts() map[string]uint64 {
	c.errorsMu.Lock()
	defer c.errorsMu.Unlock()

	counts := make(map[string]uint64, len(c.errors))
	for category, count := range c.errors {
		counts[category] = count
	}

	return counts
}

func updateAtomicMin(addr *int64, value int64) {
	for {
		current := atomic.LoadInt64(addr)
		if value >= current {
			return
		}

		if atomic.CompareAndSwapInt64(addr, current, value) {
			return
		}
	}
}

func updateAtomicMax(addr *int64, value int64) {
	for {
		current := atomic.LoadInt64(addr)
		if value <= current {
			return
		}

		if atomic.CompareAndSwapInt64(addr, current, value) {
			return
		}
	}
}
