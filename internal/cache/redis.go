package cache

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/resilient-systems/wireline/internal/config"
	"github.com/resilient-systems/wireline/internal/errors"
)

// redisKeyPrefix namespaces cache entries inside a shared Redis database.
const redisKeyPrefix = "wireline:cache:"

const redisPingTimeout = 5 * time.Second

// RedisStore persists cache entries in Redis, letting the server enforce
// TTL expiry.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStore connects to Redis from configuration and verifies the
// connection with a ping.
func NewRedisStore(cfg config.RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if cfg.URL == "" {
		return nil, errors.New(errors.TypeValidation, "redis URL is required").
			WithComponent("cache")
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse redis URL").
			WithComponent("cache").
			WithContext("redis_url", cfg.URL)
	}

	if cfg.Password != "" {
		opt.Password = cfg.Password
	}

	if cfg.DB != 0 {
		opt.DB = cfg.DB
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to redis").
			WithComponent("cache").
			WithOperation("redis_connect")
	}

	return &RedisStore{client: client, logger: logger}, nil
}

// NewRedisStoreWithClient wraps an already constructed client. Used by
// tests running against an embedded server.
func NewRedisStoreWithClient(client *redis.Client, logger *zap.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

// Get returns the entry for key, or nil when Redis reports a miss.
func (s *RedisStore) Get(ctx context.Context, key Key) (*Entry, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+string(key)).Bytes()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, errors.Wrap(err, "redis get failed").
			WithComponent("cache").
			WithOperation("get")
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, errors.WrapWithType(err, errors.TypeSerialization,
			"failed to decode cache entry").
			WithComponent("cache")
	}

	if entry.Expired(time.Now()) {
		return nil, nil
	}

	return &entry, nil
}

// Put stores entry under key with the given TTL.
func (s *RedisStore) Put(ctx context.Context, key Key, entry *Entry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.WrapWithType(err, errors.TypeSerialization,
			"failed to encode cache entry").
			WithComponent("cache")
	}

	if err := s.client.Set(ctx, redisKeyPrefix+string(key), data, ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set failed").
			WithComponent("cache").
			WithOperation("put")
	}

	return nil
}

// Delete removes key if present.
func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := s.client.Del(ctx, redisKeyPrefix+string(key)).Err(); err != nil {
		return errors.Wrap(err, "redis del failed").
			WithComponent("cache").
			WithOperation("delete")
	}

	return nil
}

// Len counts cache keys under the wireline prefix.
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	var count int

	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}

	if err := iter.Err(); err != nil {
		return 0, errors.Wrap(err, "redis scan failed").
			WithComponent("cache").
			WithOperation("len")
	}

	return count, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
