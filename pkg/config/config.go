// Package config builds the typed BandHub configuration once at startup from
// defaults, an optional YAML file, and environment variables. Components
// never re-read the environment after construction.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMissingDatabaseURL is returned when no primary database URL is configured.
var ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")

// DatabaseConfig contains the primary/replica connection settings consumed by
// the read/write router. Timeouts and intervals are in milliseconds to match
// the environment variable contract.
type DatabaseConfig struct {
	URL        string `mapstructure:"url"`
	ReplicaURL string `mapstructure:"replica_url"`

	PoolSize        int `mapstructure:"pool_size"`
	ReplicaPoolSize int `mapstructure:"replica_pool_size"`
	MaxIdleConns    int `mapstructure:"max_idle_conns"`

	ConnectTimeoutMS        int `mapstructure:"connect_timeout_ms"`
	ReplicaConnectTimeoutMS int `mapstructure:"replica_connect_timeout_ms"`
	HealthCheckIntervalMS   int `mapstructure:"health_check_interval_ms"`
	MaxRetries              int `mapstructure:"max_retries"`
	RetryDelayMS            int `mapstructure:"retry_delay_ms"`

	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ConnectTimeout returns the primary connect timeout as a duration.
func (c DatabaseConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

// ReplicaConnectTimeout returns the replica connect timeout as a duration.
func (c DatabaseConfig) ReplicaConnectTimeout() time.Duration {
	return time.Duration(c.ReplicaConnectTimeoutMS) * time.Millisecond
}

// HealthCheckInterval returns the replica probe interval as a duration.
func (c DatabaseConfig) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalMS) * time.Millisecond
}

// RetryDelay returns the fixed delay between replica read retries.
func (c DatabaseConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMS) * time.Millisecond
}

// CacheConfig contains the Redis store settings.
type CacheConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	Database     int           `mapstructure:"database"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// WarmingConfig controls the cache warmer.
type WarmingConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Config holds the complete application configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Warming  WarmingConfig  `mapstructure:"warming"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	configFile := os.Getenv("BANDHUB_CONFIG_FILE")
	if configFile == "" {
		configFile = "configs/config.yaml"
	}
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("BANDHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind the documented environment names that don't follow the prefix.
	// Best effort - viper handles errors internally.
	_ = v.BindEnv("database.url", "DATABASE_URL")
	_ = v.BindEnv("database.replica_url", "DATABASE_REPLICA_URL")
	_ = v.BindEnv("database.pool_size", "DATABASE_POOL_SIZE")
	_ = v.BindEnv("database.replica_pool_size", "REPLICA_POOL_SIZE")
	_ = v.BindEnv("database.connect_timeout_ms", "DATABASE_CONNECT_TIMEOUT")
	_ = v.BindEnv("database.replica_connect_timeout_ms", "REPLICA_CONNECT_TIMEOUT")
	_ = v.BindEnv("database.health_check_interval_ms", "REPLICA_HEALTH_CHECK_INTERVAL")
	_ = v.BindEnv("database.max_retries", "REPLICA_MAX_RETRIES")
	_ = v.BindEnv("database.retry_delay_ms", "REPLICA_RETRY_DELAY")
	_ = v.BindEnv("cache.address", "REDIS_ADDR")
	_ = v.BindEnv("cache.address", "REDIS_ADDRESS")
	_ = v.BindEnv("cache.password", "REDIS_PASSWORD")
	_ = v.BindEnv("cache.database", "REDIS_DB")
	_ = v.BindEnv("warming.enabled", "CACHE_WARMING_ENABLED")
	_ = v.BindEnv("warming.interval", "CACHE_WARMING_INTERVAL")
	_ = v.BindEnv("logging.level", "LOG_LEVEL")

	v.AllowEmptyEnv(true)

	if err := v.ReadInConfig(); err != nil {
		// Config file is not required when environment variables are set
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Typed getters cast env-sourced strings to the target types.
	cfg := Config{
		Database: DatabaseConfig{
			URL:                     v.GetString("database.url"),
			ReplicaURL:              v.GetString("database.replica_url"),
			PoolSize:                v.GetInt("database.pool_size"),
			ReplicaPoolSize:         v.GetInt("database.replica_pool_size"),
			MaxIdleConns:            v.GetInt("database.max_idle_conns"),
			ConnectTimeoutMS:        v.GetInt("database.connect_timeout_ms"),
			ReplicaConnectTimeoutMS: v.GetInt("database.replica_connect_timeout_ms"),
			HealthCheckIntervalMS:   v.GetInt("database.health_check_interval_ms"),
			MaxRetries:              v.GetInt("database.max_retries"),
			RetryDelayMS:            v.GetInt("database.retry_delay_ms"),
			ConnMaxLifetime:         v.GetDuration("database.conn_max_lifetime"),
		},
		Cache: CacheConfig{
			Address:      v.GetString("cache.address"),
			Password:     v.GetString("cache.password"),
			Database:     v.GetInt("cache.database"),
			PoolSize:     v.GetInt("cache.pool_size"),
			MinIdleConns: v.GetInt("cache.min_idle_conns"),
			DialTimeout:  v.GetDuration("cache.dial_timeout"),
			ReadTimeout:  v.GetDuration("cache.read_timeout"),
			WriteTimeout: v.GetDuration("cache.write_timeout"),
		},
		Warming: WarmingConfig{
			Enabled:  v.GetBool("warming.enabled"),
			Interval: v.GetDuration("warming.interval"),
		},
		Logging: LoggingConfig{
			Level: v.GetString("logging.level"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required settings are present.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return ErrMissingDatabaseURL
	}
	if c.Database.MaxRetries < 1 {
		return fmt.Errorf("database max_retries must be at least 1, got %d", c.Database.MaxRetries)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.replica_pool_size", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.connect_timeout_ms", 10000)
	v.SetDefault("database.replica_connect_timeout_ms", 10000)
	v.SetDefault("database.health_check_interval_ms", 30000)
	v.SetDefault("database.max_retries", 3)
	v.SetDefault("database.retry_delay_ms", 1000)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("cache.address", "localhost:6379")
	v.SetDefault("cache.database", 0)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.min_idle_conns", 2)
	v.SetDefault("cache.dial_timeout", 5*time.Second)
	v.SetDefault("cache.read_timeout", 3*time.Second)
	v.SetDefault("cache.write_timeout", 3*time.Second)

	v.SetDefault("warming.enabled", true)
	v.SetDefault("warming.interval", 6*time.Hour)

	v.SetDefault("logging.level", "info")
}
