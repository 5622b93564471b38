package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/quote-api/internal/fallback"
	"github.com/jwalitptl/quote-api/pkg/messaging/redis"
)

const envPrefix = "QUOTE"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Fallback   FallbackConfig   `mapstructure:"fallback"`
	Downstream DownstreamConfig `mapstructure:"downstream"`
	Email      EmailConfig      `mapstructure:"email"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Security   SecurityConfig   `mapstructure:"security"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Worker     WorkerConfig     `mapstructure:"worker"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	// PublicBaseURL prefixes the tracking link sent to customers.
	PublicBaseURL string `mapstructure:"public_base_url"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

// FallbackConfig selects where undelivered quotes wait and how they are retried.
type FallbackConfig struct {
	// Store is one of memory, redis or sqlite.
	Store          string        `mapstructure:"store"`
	SQLitePath     string        `mapstructure:"sqlite_path"`
	KeyPrefix      string        `mapstructure:"key_prefix"`
	QueueKey       string        `mapstructure:"queue_key"`
	FlagKey        string        `mapstructure:"flag_key"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	FlagTTL        time.Duration `mapstructure:"flag_ttl"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	// SchedulerEnabled lets the API run retry passes itself. Turn it off when
	// a separate worker drains a shared store.
	SchedulerEnabled bool `mapstructure:"scheduler_enabled"`
}

// DownstreamConfig is the single contract of the admin system quotes are
// forwarded to.
type DownstreamConfig struct {
	// Mode is http, noop or disabled. Empty picks http when a URL is set.
	Mode               string        `mapstructure:"mode"`
	URL                string        `mapstructure:"url"`
	Method             string        `mapstructure:"method"`
	APIKey             string        `mapstructure:"api_key"`
	APIKeyHeader       string        `mapstructure:"api_key_header"`
	Timeout            time.Duration `mapstructure:"timeout"`
	BreakerMaxFailures int           `mapstructure:"breaker_max_failures"`
	BreakerTimeout     time.Duration `mapstructure:"breaker_timeout"`
}

type EmailConfig struct {
	Enabled         bool                `mapstructure:"enabled"`
	From            string              `mapstructure:"from"`
	AdminRecipients []string            `mapstructure:"admin_recipients"`
	CustomerConfirm bool                `mapstructure:"customer_confirmation"`
	Provider        EmailProviderConfig `mapstructure:"provider"`
	SMTP            SMTPConfig          `mapstructure:"smtp"`
}

// EmailProviderConfig is the primary transactional email API.
type EmailProviderConfig struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type BrokerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Channel string `mapstructure:"channel"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	Issuer      string `mapstructure:"issuer"`
	ExpiryHours int    `mapstructure:"expiry_hours"`
}

type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	TTL               time.Duration `mapstructure:"ttl"`
}

type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// ForwardAPIKey guards the retry-forwarding endpoint when set.
	ForwardAPIKey string `mapstructure:"forward_api_key"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool   `mapstructure:"prometheus_enabled"`
	MetricsPath       string `mapstructure:"metrics_path"`
	Namespace         string `mapstructure:"namespace"`
}

// WorkerConfig is used by the standalone retry worker.
type WorkerConfig struct {
	// HealthPort serves health and metrics for the worker process.
	HealthPort int `mapstructure:"health_port"`
}

// secrets are read with envconfig so they never have to live in the YAML file.
type secrets struct {
	DatabaseURL         string `envconfig:"DATABASE_URL"`
	RedisURL            string `envconfig:"REDIS_URL"`
	DownstreamURL       string `envconfig:"DOWNSTREAM_URL"`
	DownstreamAPIKey    string `envconfig:"DOWNSTREAM_API_KEY"`
	ForwardAPIKey       string `envconfig:"FORWARD_API_KEY"`
	JWTSecret           string `envconfig:"JWT_SECRET"`
	SMTPPassword        string `envconfig:"SMTP_PASSWORD"`
	EmailProviderAPIKey string `envconfig:"EMAIL_PROVIDER_API_KEY"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 20*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("fallback.store", "memory")
	v.SetDefault("fallback.sqlite_path", "data/fallback.db")
	v.SetDefault("fallback.key_prefix", "quote-api")
	v.SetDefault("fallback.queue_key", fallback.DefaultQueueKey)
	v.SetDefault("fallback.flag_key", fallback.DefaultFlagKey)
	v.SetDefault("fallback.max_retries", fallback.DefaultMaxRetries)
	v.SetDefault("fallback.retry_delay", fallback.DefaultRetryDelay)
	v.SetDefault("fallback.attempt_timeout", fallback.DefaultAttemptTimeout)
	v.SetDefault("fallback.flag_ttl", fallback.DefaultFlagTTL)
	v.SetDefault("fallback.sweep_interval", 5*time.Minute)
	v.SetDefault("fallback.scheduler_enabled", true)

	v.SetDefault("downstream.method", "POST")
	v.SetDefault("downstream.api_key_header", "X-API-Key")
	v.SetDefault("downstream.timeout", 10*time.Second)
	v.SetDefault("downstream.breaker_max_failures", 5)
	v.SetDefault("downstream.breaker_timeout", 30*time.Second)

	v.SetDefault("email.provider.timeout", 10*time.Second)
	v.SetDefault("email.smtp.port", 587)

	v.SetDefault("broker.channel", "quote-events")

	v.SetDefault("jwt.issuer", "quote-api")
	v.SetDefault("jwt.expiry_hours", 8)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 1.0)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("rate_limit.ttl", 10*time.Minute)

	v.SetDefault("security.allowed_origins", []string{"*"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", false)

	v.SetDefault("monitoring.prometheus_enabled", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")
	v.SetDefault("monitoring.namespace", "quote_api")

	v.SetDefault("worker.health_port", 8081)
}

// LoadConfig reads config.yaml from path, or from the usual search paths when
// path is empty, applies QUOTE_* environment overrides and validates the result.
// A missing file is fine when searching; defaults and env cover everything.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/app/config")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.applySecrets(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applySecrets() error {
	var s secrets
	if err := envconfig.Process(envPrefix, &s); err != nil {
		return fmt.Errorf("failed to read secrets from environment: %w", err)
	}
	overlay := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	overlay(&c.Database.URL, s.DatabaseURL)
	overlay(&c.Redis.URL, s.RedisURL)
	overlay(&c.Downstream.URL, s.DownstreamURL)
	overlay(&c.Downstream.APIKey, s.DownstreamAPIKey)
	overlay(&c.Security.ForwardAPIKey, s.ForwardAPIKey)
	overlay(&c.JWT.Secret, s.JWTSecret)
	overlay(&c.Email.SMTP.Password, s.SMTPPassword)
	overlay(&c.Email.Provider.APIKey, s.EmailProviderAPIKey)
	return nil
}

// Validate normalizes enum-like fields and rejects combinations that cannot run.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}

	c.Downstream.Mode = strings.ToLower(strings.TrimSpace(c.Downstream.Mode))
	if c.Downstream.Mode == "" {
		if c.Downstream.URL != "" {
			c.Downstream.Mode = "http"
		} else {
			c.Downstream.Mode = "disabled"
		}
	}
	switch c.Downstream.Mode {
	case "http":
		if c.Downstream.URL == "" {
			return fmt.Errorf("downstream.url is required in http mode")
		}
	case "noop", "disabled":
	default:
		return fmt.Errorf("unknown downstream.mode %q", c.Downstream.Mode)
	}

	c.Fallback.Store = strings.ToLower(strings.TrimSpace(c.Fallback.Store))
	switch c.Fallback.Store {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required for the redis fallback store")
		}
	case "sqlite":
		if c.Fallback.SQLitePath == "" {
			return fmt.Errorf("fallback.sqlite_path is required for the sqlite fallback store")
		}
	default:
		return fmt.Errorf("unknown fallback.store %q", c.Fallback.Store)
	}

	if c.Broker.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when the broker is enabled")
	}
	if c.Email.Enabled && c.Email.From == "" {
		return fmt.Errorf("email.from is required when email is enabled")
	}
	return nil
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}

func (c *FallbackConfig) ToQueueConfig() fallback.QueueConfig {
	return fallback.QueueConfig{
		Key:        c.QueueKey,
		MaxRetries: c.MaxRetries,
	}
}

func (c *FallbackConfig) ToSchedulerConfig() fallback.SchedulerConfig {
	return fallback.SchedulerConfig{
		Delay:          c.RetryDelay,
		AttemptTimeout: c.AttemptTimeout,
		FlagKey:        c.FlagKey,
		FlagTTL:        c.FlagTTL,
		SweepInterval:  c.SweepInterval,
	}
}
