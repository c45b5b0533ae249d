package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/resilient-systems/wireline/internal/errors"
)

const (
	defaultRequestTimeoutSeconds = 30
	defaultMaxPerHost            = 10
	defaultConnectTimeoutSeconds = 10
	defaultIdleTimeoutSeconds    = 90
	defaultMaxAgeMinutes         = 10
	defaultFailureThreshold      = 3
	defaultCleanupSeconds        = 30
	defaultCacheTTLMinutes       = 5
	defaultCacheMaxEntries       = 1000
	defaultBreakerFailures       = 5
	defaultBreakerSuccesses      = 2
	defaultBreakerResetSeconds   = 30
	defaultHalfOpenMaxCalls      = 1
	defaultReconnectAttempts     = 5
	defaultInitialDelaySeconds   = 1
	defaultMaxDelaySeconds       = 30
	defaultHeartbeatSeconds      = 30
	defaultHealthCheckSeconds    = 5
	defaultQualityThreshold      = 0.8
	defaultBufferSize            = 1000
	defaultMaxSendAttempts       = 3
	defaultMaxMessageBytes       = 1 << 20
	defaultMetricsPort           = 9090
	maxPort                      = 65535
)

// Load reads configuration from the given file, layering environment
// variables with the WIRELINE prefix over it.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("WIRELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Without a file, defaults plus environment variables apply.
	if configPath != "" {
		v.SetConfigFile(configPath)

		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "error reading config file").
				WithComponent("config").
				WithContext("path", configPath)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "error unmarshaling config").
			WithComponent("config")
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a configuration populated with documented defaults,
// suitable for embedding the core without a config file.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults are statically known; unmarshal cannot fail on them.
	_ = v.Unmarshal(&cfg)

	return &cfg
}

func setClientDefaults(v *viper.Viper) {
	v.SetDefault("client.request_timeout", defaultRequestTimeoutSeconds*time.Second)
	v.SetDefault("pool.max_per_host", defaultMaxPerHost)
	v.SetDefault("pool.connect_timeout", defaultConnectTimeoutSeconds*time.Second)
	v.SetDefault("pool.idle_timeout", defaultIdleTimeoutSeconds*time.Second)
	v.SetDefault("pool.max_age", defaultMaxAgeMinutes*time.Minute)
	v.SetDefault("pool.failure_threshold", defaultFailureThreshold)
	v.SetDefault("pool.cleanup_interval", defaultCleanupSeconds*time.Second)
}

func setCapabilityDefaults(v *viper.Viper) {
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.provider", "memory")
	v.SetDefault("cache.default_ttl", defaultCacheTTLMinutes*time.Minute)
	v.SetDefault("cache.max_entries", defaultCacheMaxEntries)
	v.SetDefault("circuit_breaker.enabled", false)
	v.SetDefault("circuit_breaker.failure_threshold", defaultBreakerFailures)
	v.SetDefault("circuit_breaker.success_threshold", defaultBreakerSuccesses)
	v.SetDefault("circuit_breaker.reset_timeout", defaultBreakerResetSeconds*time.Second)
	v.SetDefault("circuit_breaker.half_open_max_calls", defaultHalfOpenMaxCalls)
}

func setWebSocketDefaults(v *viper.Viper) {
	v.SetDefault("websocket.auto_reconnect", true)
	v.SetDefault("websocket.max_reconnect_attempts", defaultReconnectAttempts)
	v.SetDefault("websocket.initial_reconnect_delay", defaultInitialDelaySeconds*time.Second)
	v.SetDefault("websocket.max_reconnect_delay", defaultMaxDelaySeconds*time.Second)
	v.SetDefault("websocket.connect_timeout", defaultConnectTimeoutSeconds*time.Second)
	v.SetDefault("websocket.heartbeat_interval", defaultHeartbeatSeconds*time.Second)
	v.SetDefault("websocket.health_check_interval", defaultHealthCheckSeconds*time.Second)
	v.SetDefault("websocket.quality_threshold", defaultQualityThreshold)
	v.SetDefault("websocket.message_buffer_size", defaultBufferSize)
	v.SetDefault("websocket.max_send_attempts", defaultMaxSendAttempts)
	v.SetDefault("websocket.max_message_size", defaultMaxMessageBytes)
	v.SetDefault("websocket.enable_heartbeat", true)
	v.SetDefault("websocket.enable_buffering", true)
}

func setOperationalDefaults(v *viper.Viper) {
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", defaultMetricsPort)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func setDefaults(v *viper.Viper) {
	setClientDefaults(v)
	setCapabilityDefaults(v)
	setWebSocketDefaults(v)
	setOperationalDefaults(v)
}

// Validate checks the configuration for invalid combinations.
func Validate(cfg *Config) error {
	if err := validatePool(&cfg.Pool); err != nil {
		return err
	}

	if err := validateCache(&cfg.Cache); err != nil {
		return err
	}

	if err := validateBreaker(&cfg.Breaker); err != nil {
		return err
	}

	if err := validateWebSocket(&cfg.WebSocket); err != nil {
		return err
	}

	return validateMetrics(&cfg.Metrics)
}

func validatePool(cfg *PoolConfig) error {
	if cfg.MaxPerHost <= 0 {
		return errors.New(errors.TypeValidation, "pool.max_per_host must be positive").
			WithComponent("config").
			WithContext("max_per_host", cfg.MaxPerHost)
	}

	if cfg.FailureThreshold <= 0 {
		return errors.New(errors.TypeValidation, "pool.failure_threshold must be positive").
			WithComponent("config")
	}

	return nil
}

func validateCache(cfg *CacheConfig) error {
	if !cfg.Enabled {
		return nil
	}

	switch cfg.Provider {
	case "memory":
	case "redis":
		if cfg.Redis.URL == "" {
			return errors.New(errors.TypeValidation, "cache.redis.url is required for the redis provider").
				WithComponent("config")
		}
	default:
		return errors.New(errors.TypeValidation, "unsupported cache provider: "+cfg.Provider).
			WithComponent("config").
			WithContext("provider", cfg.Provider)
	}

	if cfg.MaxEntries <= 0 {
		return errors.New(errors.TypeValidation, "cache.max_entries must be positive").
			WithComponent("config")
	}

	return nil
}

func validateBreaker(cfg *BreakerConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.FailureThreshold <= 0 || cfg.SuccessThreshold <= 0 {
		return errors.New(errors.TypeValidation, "circuit breaker thresholds must be positive").
			WithComponent("config")
	}

	return nil
}

func validateWebSocket(cfg *WebSocketConfig) error {
	if cfg.QualityThreshold < 0 || cfg.QualityThreshold > 1 {
		return errors.New(errors.TypeValidation, "websocket.quality_threshold must be within [0, 1]").
			WithComponent("config").
			WithContext("quality_threshold", cfg.QualityThreshold)
	}

	if cfg.MaxReconnectAttempts < 0 {
		return errors.New(errors.TypeValidation, "websocket.max_reconnect_attempts must not be negative").
			WithComponent("config")
	}

	if cfg.InitialReconnectDelay > cfg.MaxReconnectDelay && cfg.MaxReconnectDelay > 0 {
		return errors.New(errors.TypeValidation, "websocket.initial_reconnect_delay exceeds max_reconnect_delay").
			WithComponent("config")
	}

	return nil
}

func validateMetrics(cfg *MetricsConfig) error {
	if cfg.Enabled && (cfg.Port <= 0 || cfg.Port > maxPort) {
		return errors.New(errors.TypeValidation, "invalid metrics port").
			WithComponent("config").
			WithContext("port", cfg.Port)
	}

	return nil
}
