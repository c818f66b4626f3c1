// Package config turns viper settings into validated, typed configuration.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var validate = validator.New()

// Config is the complete catalogd configuration.
type Config struct {
	Database  DatabaseConfig            `mapstructure:"database"`
	Cache     CacheConfig               `mapstructure:"cache"`
	Mirror    MirrorConfig              `mapstructure:"mirror"`
	Feed      FeedConfig                `mapstructure:"feed"`
	Metrics   MetricsConfig             `mapstructure:"metrics"`
	Providers map[string]ProviderConfig `mapstructure:"providers" validate:"dive"`
}

// DatabaseConfig selects and locates the catalog database.
type DatabaseConfig struct {
	Driver         string        `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	Path           string        `mapstructure:"path" validate:"required_if=Driver sqlite"`
	DSN            string        `mapstructure:"dsn" validate:"required_if=Driver postgres"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"gte=0"`
}

// CacheConfig locates the HTTP response cache.
type CacheConfig struct {
	DBFile string        `mapstructure:"dbfile" validate:"required"`
	TTL    time.Duration `mapstructure:"ttl" validate:"gt=0"`
}

// MirrorConfig controls where cover thumbnails are written.
type MirrorConfig struct {
	Dir      string `mapstructure:"dir" validate:"required"`
	MaxWidth int    `mapstructure:"max_width" validate:"gte=16"`
}

// FeedConfig locates the availability feed.
type FeedConfig struct {
	File string `mapstructure:"file"`
}

// MetricsConfig controls the stdout metrics exporter.
type MetricsConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`
}

// ProviderConfig tunes the engine for one provider. Zero values fall back
// to the engine defaults.
type ProviderConfig struct {
	WorksetSize int `mapstructure:"workset_size" validate:"gte=0"`
	Concurrency int `mapstructure:"concurrency" validate:"gte=0"`
	// MaxAge makes records older than it stale. Zero means never stale.
	MaxAge    time.Duration `mapstructure:"max_age" validate:"gte=0"`
	RateLimit float64       `mapstructure:"rate_limit" validate:"gte=0"`
	// BaseURL points an HTTP provider at a different API root.
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`
	// Operation replaces the provider's default operation tag, keeping its
	// checkpoints apart from those written under the default.
	Operation string `mapstructure:"operation"`
}

// InitConfig registers defaults for every key Load reads.
func InitConfig() {
	viper.SetDefault("database.driver", DriverSQLite)
	viper.SetDefault("database.path", "catalogd.db")
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.connect_timeout", "30s")

	viper.SetDefault("cache.dbfile", "./cache.db")
	viper.SetDefault("cache.ttl", "720h")

	viper.SetDefault("mirror.dir", "covers")
	viper.SetDefault("mirror.max_width", 300)

	viper.SetDefault("feed.file", "feed.yaml")

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.interval", "10s")
}

// Load reads the current viper state into a validated Config.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Provider returns the settings for name, or zero settings if none exist.
func (c *Config) Provider(name string) ProviderConfig {
	return c.Providers[name]
}

// Cutoff returns the stale cutoff for a run starting at now.
func (p ProviderConfig) Cutoff(now time.Time) time.Time {
	if p.MaxAge <= 0 {
		return time.Time{}
	}
	return now.Add(-p.MaxAge)
}
