// Package config loads Conflux configuration from defaults, a TOML
// config file, and CONFLUX_-prefixed environment variables.
package config

// Config is the root configuration for the Conflux pipeline.
// Values are read once at construction; there is no hot-reload.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Retry     RetryConfig     `mapstructure:"retry"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the read-only query API.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SourcesConfig configures the ingestion adapters.
type SourcesConfig struct {
	CSV CSVSourceConfig   `mapstructure:"csv"`
	API []APISourceConfig `mapstructure:"api"`
	RSS RSSSourceConfig   `mapstructure:"rss"`
}

// CSVSourceConfig configures the batch-file adapter.
type CSVSourceConfig struct {
	Path     string `mapstructure:"path"`
	WatchDir string `mapstructure:"watch_dir"`
}

// APISourceConfig configures one paginated JSON API source.
type APISourceConfig struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	APIKey   string `mapstructure:"api_key"`
	PageSize int    `mapstructure:"page_size"`
}

// RSSSourceConfig configures the syndication-feed adapter.
type RSSSourceConfig struct {
	FeedURL string `mapstructure:"feed_url"`
}

// RetryConfig configures retry-with-backoff for adapter network calls.
// Backoff for attempt k is min(initial * multiplier^k, max), with
// optional ±25% jitter.
type RetryConfig struct {
	MaxRetries        int     `mapstructure:"max_retries"`
	InitialBackoffSec float64 `mapstructure:"initial_backoff_seconds"`
	MaxBackoffSec     float64 `mapstructure:"max_backoff_seconds"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
	Jitter            bool    `mapstructure:"jitter"`
}

// RateLimitConfig configures per-source call quotas. Sources absent
// from Quotas fall back to the default quota.
type RateLimitConfig struct {
	DefaultCallsPerPeriod int                    `mapstructure:"default_calls_per_period"`
	DefaultPeriodSeconds  int                    `mapstructure:"default_period_seconds"`
	Quotas                map[string]QuotaConfig `mapstructure:"quotas"`
}

// QuotaConfig is one source's sliding-window quota.
type QuotaConfig struct {
	CallsPerPeriod int `mapstructure:"calls_per_period"`
	PeriodSeconds  int `mapstructure:"period_seconds"`
}

// IngestConfig configures pipeline-wide ingestion behavior.
type IngestConfig struct {
	BatchSize int `mapstructure:"batch_size"`
	// SchemaFile optionally points at a YAML file of expected schemas
	// per source for drift detection.
	SchemaFile string `mapstructure:"schema_file"`
}
