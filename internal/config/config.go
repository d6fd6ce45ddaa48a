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
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	DB       DBConfig       `mapstructure:"db"`
	Redis    RedisConfig    `mapstructure:"redis"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Pricing  PricingConfig  `mapstructure:"pricing"`
	Push     PushConfig     `mapstructure:"push"`
	Sessions SessionsConfig `mapstructure:"sessions"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	Logging  LoggingConfig  `mapstructure:"logging"`
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

// DBConfig controls access to the relational database. Provider is
// "postgres" or "memory".
type DBConfig struct {
	Provider     string `mapstructure:"provider"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MinConns     int    `mapstructure:"min_conns"`
}

// RedisConfig configures the alert throttle cache backend. Provider is
// "redis" or "memory".
type RedisConfig struct {
	Provider string `mapstructure:"provider"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PubSubConfig holds metadata for the analysis-completed event topic.
// Provider is "pubsub" or "noop".
type PubSubConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// StorageConfig configures the raw scrape payload archive. Provider is
// "gcs", "memory", or "noop".
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// ScraperConfig points at the external scraping provider.
type ScraperConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// AnalysisConfig points at the external analysis service.
type AnalysisConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PricingConfig points at the external price-analysis service. When base_url
// is empty the price-analysis job runs against a no-op client.
type PricingConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PushConfig configures the operator alert channel. Provider is
// "pushover" or "noop".
type PushConfig struct {
	Provider string `mapstructure:"provider"`
	Endpoint string `mapstructure:"endpoint"`
	Token    string `mapstructure:"token"`
	UserKey  string `mapstructure:"user_key"`
}

// SessionsConfig governs session retention and the cleanup sweeper.
type SessionsConfig struct {
	RetentionHours         int `mapstructure:"retention_hours"`
	CleanupIntervalMinutes int `mapstructure:"cleanup_interval_minutes"`
}

// WorkersConfig sets per-queue worker pool sizes. Each job family runs on
// its own pool so backlog in one cannot starve another.
type WorkersConfig struct {
	Scraping   int `mapstructure:"scraping"`
	Analysis   int `mapstructure:"analysis"`
	Pricing    int `mapstructure:"pricing"`
	Metadata   int `mapstructure:"metadata"`
	QueueDepth int `mapstructure:"queue_depth"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REVIEWPULSE")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("redis.provider", "memory")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("pubsub.provider", "noop")
	v.SetDefault("storage.provider", "noop")
	v.SetDefault("storage.prefix", "scrapes")
	v.SetDefault("scraper.timeout_seconds", 30)
	v.SetDefault("analysis.timeout_seconds", 60)
	v.SetDefault("pricing.timeout_seconds", 60)
	v.SetDefault("push.provider", "noop")
	v.SetDefault("push.endpoint", "https://api.pushover.net/1/messages.json")
	v.SetDefault("sessions.retention_hours", 24)
	v.SetDefault("sessions.cleanup_interval_minutes", 60)
	v.SetDefault("workers.scraping", 4)
	v.SetDefault("workers.analysis", 4)
	v.SetDefault("workers.pricing", 2)
	v.SetDefault("workers.metadata", 2)
	v.SetDefault("workers.queue_depth", 256)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.DB.Provider == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when db.provider is postgres")
	}
	if c.Redis.Provider == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be set when redis.provider is redis")
	}
	if c.PubSub.Provider == "pubsub" && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub.provider is pubsub")
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
	}
	if c.Push.Provider == "pushover" && (c.Push.Token == "" || c.Push.UserKey == "") {
		return fmt.Errorf("push.token and push.user_key must be set when push.provider is pushover")
	}
	if c.Sessions.RetentionHours <= 0 {
		return fmt.Errorf("sessions.retention_hours must be > 0")
	}
	if c.Workers.Scraping <= 0 || c.Workers.Analysis <= 0 || c.Workers.Pricing <= 0 || c.Workers.Metadata <= 0 {
		return fmt.Errorf("workers pool sizes must be > 0")
	}
	return nil
}

// Retention returns the session retention window as a duration.
func (c Config) Retention() time.Duration {
	return time.Duration(c.Sessions.RetentionHours) * time.Hour
}

// CleanupInterval returns how often the background sweeper runs.
func (c Config) CleanupInterval() time.Duration {
	return time.Duration(c.Sessions.CleanupIntervalMinutes) * time.Minute
}
