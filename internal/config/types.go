// Package config defines the wireline configuration surface and defaults.
package config

import "time"

// Config is the root configuration for the reliability core.
type Config struct {
	Client    ClientConfig    `mapstructure:"client"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Breaker   BreakerConfig   `mapstructure:"circuit_breaker"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ClientConfig configures the managed HTTP client.
type ClientConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
	Headers        map[string]string `mapstructure:"headers"`
}

// PoolConfig configures per-host connection pooling.
type PoolConfig struct {
	MaxPerHost       int           `mapstructure:"max_per_host"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	MaxAge           time.Duration `mapstructure:"max_age"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval"`
}

// CacheConfig configures the optional response cache.
type CacheConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Provider   string        `mapstructure:"provider"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
	Redis      RedisConfig   `mapstructure:"redis"`
}

// RedisConfig configures the Redis cache provider.
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// BreakerConfig configures the optional circuit breaker.
type BreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
	HalfOpenMaxCalls int           `mapstructure:"half_open_max_calls"`
}

// WebSocketConfig configures the reliable WebSocket session.
type WebSocketConfig struct {
	Endpoint              string            `mapstructure:"endpoint"`
	Headers               map[string]string `mapstructure:"headers"`
	AutoReconnect         bool              `mapstructure:"auto_reconnect"`
	MaxReconnectAttempts  int               `mapstructure:"max_reconnect_attempts"`
	InitialReconnectDelay time.Duration     `mapstructure:"initial_reconnect_delay"`
	MaxReconnectDelay     time.Duration     `mapstructure:"max_reconnect_delay"`
	ConnectTimeout        time.Duration     `mapstructure:"connect_timeout"`
	HeartbeatInterval     time.Duration     `mapstructure:"heartbeat_interval"`
	HealthCheckInterval   time.Duration     `mapstructure:"health_check_interval"`
	QualityThreshold      float64           `mapstructure:"quality_threshold"`
	MessageBufferSize     int               `mapstructure:"message_buffer_size"`
	MaxSendAttempts       int               `mapstructure:"max_send_attempts"`
	MaxMessageSize        int64             `mapstructure:"max_message_size"`
	EnableHeartbeat       bool              `mapstructure:"enable_heartbeat"`
	EnableBuffering       bool              `mapstructure:"enable_buffering"`
}

// MetricsConfig configures metrics exposure.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
