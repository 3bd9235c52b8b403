// Package config provides configuration loading for the ledger service.
package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the ledger service
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Consumer ConsumerConfig `mapstructure:"consumer"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ConnString renders the settings as a postgres:// URL.
func (p PostgresConfig) ConnString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     p.Host + ":" + strconv.Itoa(p.Port),
		Path:     "/" + p.Database,
		RawQuery: "sslmode=" + url.QueryEscape(p.SSLMode),
	}
	return u.String()
}

// PoolConfig holds connection pool sizing
type PoolConfig struct {
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// TimeoutsConfig bounds individual store calls
type TimeoutsConfig struct {
	Query time.Duration `mapstructure:"query"`
	Write time.Duration `mapstructure:"write"`
	Bulk  time.Duration `mapstructure:"bulk"`
}

// NATSConfig holds NATS JetStream settings
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Enabled       bool          `mapstructure:"enabled"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	Stream        string        `mapstructure:"stream"`
	Consumer      string        `mapstructure:"consumer"`
	MaxAge        time.Duration `mapstructure:"max_age"`
	Duplicates    time.Duration `mapstructure:"duplicates"`
	AckWait       time.Duration `mapstructure:"ack_wait"`
	MaxAckPending int           `mapstructure:"max_ack_pending"`
}

// ConsumerConfig holds worker pool settings
type ConsumerConfig struct {
	Workers        int           `mapstructure:"workers"`
	BatchSize      int           `mapstructure:"batch_size"`
	MaxWait        time.Duration `mapstructure:"max_wait"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	ProcessTimeout time.Duration `mapstructure:"process_timeout"`
}

// RedisConfig holds Redis settings for the distributed projection lock
type RedisConfig struct {
	URL        string        `mapstructure:"url"`
	Enabled    bool          `mapstructure:"enabled"`
	LockPrefix string        `mapstructure:"lock_prefix"`
	LockTTL    time.Duration `mapstructure:"lock_ttl"`
	MaxRetries int           `mapstructure:"max_retries"`
	PoolSize   int           `mapstructure:"pool_size"`
	LockRetry  time.Duration `mapstructure:"lock_retry"`
}

// AuthConfig holds read API authentication settings. An empty secret
// disables authentication.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "ledger")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "ledger")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.pool.max_conns", 20)
	v.SetDefault("database.pool.min_conns", 2)
	v.SetDefault("database.pool.max_conn_lifetime", "1h")
	v.SetDefault("database.pool.max_conn_idle_time", "30m")
	v.SetDefault("database.timeouts.query", "5s")
	v.SetDefault("database.timeouts.write", "10s")
	v.SetDefault("database.timeouts.bulk", "30s")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", true)
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.stream", "LEDGER_EVENTS")
	v.SetDefault("nats.consumer", "ledger-projector")
	v.SetDefault("nats.max_age", "168h")
	v.SetDefault("nats.duplicates", "2m")
	v.SetDefault("nats.ack_wait", "30s")
	v.SetDefault("nats.max_ack_pending", 1000)

	v.SetDefault("consumer.workers", 4)
	v.SetDefault("consumer.batch_size", 10)
	v.SetDefault("consumer.max_wait", "5s")
	v.SetDefault("consumer.retry_delay", "5s")
	v.SetDefault("consumer.process_timeout", "30s")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.lock_prefix", "ledger:lock:")
	v.SetDefault("redis.lock_ttl", "30s")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.lock_retry", "25ms")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/ledger")
	}

	// Environment variables override (LEDGER_SERVER_PORT, etc.)
	v.SetEnvPrefix("LEDGER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		// Only fail if a specific config path was given
		if configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	case c.Consumer.Workers <= 0:
		return fmt.Errorf("consumer.workers must be positive, got %d", c.Consumer.Workers)
	case c.Consumer.BatchSize <= 0:
		return fmt.Errorf("consumer.batch_size must be positive, got %d", c.Consumer.BatchSize)
	case c.NATS.Enabled && c.NATS.URL == "":
		return fmt.Errorf("nats.url is required when nats is enabled")
	case c.Redis.Enabled && c.Redis.URL == "":
		return fmt.Errorf("redis.url is required when redis is enabled")
	}
	return nil
}
