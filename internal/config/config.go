// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Store     StoreConfig     `mapstructure:"store"`
	Extension ExtensionConfig `mapstructure:"extension"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// QueueConfig governs the worker pool and retry policy.
type QueueConfig struct {
	Workers           int `mapstructure:"workers"`
	MaxPending        int `mapstructure:"max_pending"`
	MaxRetries        int `mapstructure:"max_retries"`
	RetryDelaySeconds int `mapstructure:"retry_delay_seconds"`
	JobTimeoutSeconds int `mapstructure:"job_timeout_seconds"`
	PollIntervalMs    int `mapstructure:"poll_interval_ms"`
	ResultTTLHours    int `mapstructure:"result_ttl_hours"`
	CleanupIntervalS  int `mapstructure:"cleanup_interval_seconds"`
}

// StoreConfig selects the durable job store backend.
type StoreConfig struct {
	Provider      string `mapstructure:"provider"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// ExtensionConfig controls the remote-worker registry.
type ExtensionConfig struct {
	TaskTimeoutSeconds      int `mapstructure:"task_timeout_seconds"`
	HeartbeatTimeoutSeconds int `mapstructure:"heartbeat_timeout_seconds"`
	SweepIntervalSeconds    int `mapstructure:"sweep_interval_seconds"`
}

// ScraperConfig governs the scraping service and fetchers.
type ScraperConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	UserAgent       string `mapstructure:"user_agent"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	UseExtension    bool   `mapstructure:"use_extension"`
	HeadlessEnabled bool   `mapstructure:"headless_enabled"`
	MaxParallel     int    `mapstructure:"max_parallel"`
	NavTimeoutSec   int    `mapstructure:"nav_timeout_seconds"`
}

// RateLimitConfig controls the API token bucket.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// CORSConfig controls cross-origin request handling.
type CORSConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// AuditConfig selects the scrape audit log backend.
type AuditConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
}

// NotifyConfig configures the completed-job notification publisher.
type NotifyConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ArchiveConfig configures raw payload archival.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SHOPSCRAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("queue.workers", 3)
	v.SetDefault("queue.max_pending", 100)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.retry_delay_seconds", 2)
	v.SetDefault("queue.job_timeout_seconds", 600)
	v.SetDefault("queue.poll_interval_ms", 1000)
	v.SetDefault("queue.result_ttl_hours", 24)
	v.SetDefault("queue.cleanup_interval_seconds", 300)
	v.SetDefault("store.provider", "memory")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("extension.task_timeout_seconds", 300)
	v.SetDefault("extension.heartbeat_timeout_seconds", 90)
	v.SetDefault("extension.sweep_interval_seconds", 30)
	v.SetDefault("scraper.base_url", "https://shopee.co.id")
	v.SetDefault("scraper.user_agent", "shopscrap/0.1")
	v.SetDefault("scraper.timeout_seconds", 30)
	v.SetDefault("scraper.use_extension", false)
	v.SetDefault("scraper.headless_enabled", false)
	v.SetDefault("scraper.max_parallel", 1)
	v.SetDefault("scraper.nav_timeout_seconds", 30)
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.rps", 1.0)
	v.SetDefault("rate_limit.burst", 10)
	v.SetDefault("cors.enabled", true)
	v.SetDefault("cors.allow_origins", []string{"*"})
	v.SetDefault("audit.provider", "noop")
	v.SetDefault("notify.provider", "noop")
	v.SetDefault("archive.provider", "noop")
	v.SetDefault("archive.prefix", "scrapes")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be > 0")
	}
	if c.Queue.MaxRetries < 1 {
		return fmt.Errorf("queue.max_retries must be >= 1")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Store.Provider {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown store provider: %s", c.Store.Provider)
	}
	if c.Store.Provider == "redis" && c.Store.RedisAddr == "" {
		return fmt.Errorf("store.redis_addr must be set for the redis provider")
	}
	if c.Audit.Provider == "postgres" && c.Audit.DSN == "" {
		return fmt.Errorf("audit.dsn must be set for the postgres provider")
	}
	if c.Notify.Provider == "pubsub" && (c.Notify.ProjectID == "" || c.Notify.Topic == "") {
		return fmt.Errorf("notify.project_id and notify.topic must be set for the pubsub provider")
	}
	if c.Archive.Provider == "gcs" && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket must be set for the gcs provider")
	}
	return nil
}

// RetryDelay converts the retry knob into a duration.
func (c QueueConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// JobTimeout converts the job timeout knob into a duration.
func (c QueueConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

// PollInterval converts the poll knob into a duration.
func (c QueueConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// ResultTTL converts the result TTL knob into a duration.
func (c QueueConfig) ResultTTL() time.Duration {
	return time.Duration(c.ResultTTLHours) * time.Hour
}

// CleanupInterval converts the cleanup knob into a duration.
func (c QueueConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalS) * time.Second
}
