package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/resilient-systems/wireline/internal/config"
	"github.com/resilient-systems/wireline/internal/errors"
	"github.com/resilient-systems/wireline/internal/metrics"
)

// Entry is a cached response payload together with its expiry.
type Entry struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       []byte            `json:"body"`
	StoredAt   time.Time         `json:"stored_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// Expired reports whether the entry's TTL has elapsed.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Store is the storage backend behind the response cache.
type Store interface {
	// Get returns the entry for key, or nil when absent or expired.
	Get(ctx context.Context, key Key) (*Entry, error)

	// Put stores entry under key for the given TTL.
	Put(ctx context.Context, key Key, entry *Entry, ttl time.Duration) error

	// Delete removes key if present.
	Delete(ctx context.Context, key Key) error

	// Len returns the number of live entries.
	Len(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}

// Cache fronts a Store with hit/miss accounting and TTL defaulting.
type Cache struct {
	store      Store
	defaultTTL time.Duration
	collector  *metrics.Collector
	logger     *zap.Logger
}

// New builds a cache from configuration, selecting the backend by
// provider name. Returns nil when caching is disabled.
func New(cfg config.CacheConfig, collector *metrics.Collector, logger *zap.Logger) (*Cache, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var store Store
	switch cfg.Provider {
	case "", "memory":
		store = NewMemoryStore(cfg.MaxEntries)
	case "redis":
		redisStore, err := NewRedisStore(cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		store = redisStore
	default:
		return nil, errors.New(errors.TypeValidation,
			"unknown cache provider: "+cfg.Provider).
			WithComponent("cache").
			WithOperation("new")
	}

	return &Cache{
		store:      store,
		defaultTTL: cfg.DefaultTTL,
		collector:  collector,
		logger:     logger,
	}, nil
}

// NewWithStore wraps an existing store. Used by tests and by callers
// that construct backends themselves.
func NewWithStore(store Store, defaultTTL time.Duration, collector *metrics.Collector, logger *zap.Logger) *Cache {
	return &Cache{
		store:      store,
		defaultTTL: defaultTTL,
		collector:  collector,
		logger:     logger,
	}
}

// Get looks up key and records the hit or miss. Backend errors are
// logged and treated as misses so a degraded cache never fails a
// request.
func (c *Cache) Get(ctx context.Context, key Key) (*Entry, bool) {
	entry, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache lookup failed, treating as miss",
			zap.String("key", string(key)),
			zap.Error(err))
		c.recordMiss()

		return nil, false
	}

	if entry == nil {
		c.recordMiss()

		return nil, false
	}

	c.recordHit()

	return entry, true
}

// Put stores entry under key. A non-positive ttl falls back to the
// configured default.
func (c *Cache) Put(ctx context.Context, key Key, entry *Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	now := time.Now()
	entry.StoredAt = now
	entry.ExpiresAt = now.Add(ttl)

	if err := c.store.Put(ctx, key, entry, ttl); err != nil {
		return errors.Wrap(err, "failed to store cache entry").
			WithComponent("cache").
			WithOperation("put")
	}

	return nil
}

// Invalidate removes key from the cache.
func (c *Cache) Invalidate(ctx context.Context, key Key) error {
	return c.store.Delete(ctx, key)
}

// Len returns the current entry count, or 0 when the backend cannot
// report it.
func (c *Cache) Len(ctx context.Context) int {
	n, err := c.store.Len(ctx)
	if err != nil {
		return 0
	}

	return n
}

// Close shuts down the backing store.
func (c *Cache) Close() error {
	return c.store.Close()
}

func (c *Cache) recordHit() {
	if c.collector != nil {
		c.collector.RecordCacheHit()
	}
}

func (c *Cache) recordMiss() {
	if c.collector != nil {
		c.collector.RecordCacheMiss()
	}
}
