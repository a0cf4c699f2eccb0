package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "conflux.db")

	// Server defaults
	v.SetDefault("server.port", 8080)

	// Source defaults
	v.SetDefault("sources.csv.path", "data/records.csv")
	v.SetDefault("sources.csv.watch_dir", "")
	v.SetDefault("sources.rss.feed_url", "")

	// Retry defaults
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_backoff_seconds", 1.0)
	v.SetDefault("retry.max_backoff_seconds", 60.0)
	v.SetDefault("retry.backoff_multiplier", 2.0)
	v.SetDefault("retry.jitter", true)

	// Rate limit defaults: safe quota for unconfigured sources
	v.SetDefault("rate_limit.default_calls_per_period", 100)
	v.SetDefault("rate_limit.default_period_seconds", 60)

	// Ingest defaults
	v.SetDefault("ingest.batch_size", 1000)
	v.SetDefault("ingest.schema_file", "")
}
