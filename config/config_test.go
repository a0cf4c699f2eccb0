package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, "conflux.db", cfg.Database.Path)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 1.0, cfg.Retry.InitialBackoffSec)
	assert.Equal(t, 60.0, cfg.Retry.MaxBackoffSec)
	assert.Equal(t, 2.0, cfg.Retry.BackoffMultiplier)
	assert.True(t, cfg.Retry.Jitter)
	assert.Equal(t, 100, cfg.RateLimit.DefaultCallsPerPeriod)
	assert.Equal(t, 60, cfg.RateLimit.DefaultPeriodSeconds)
	assert.Equal(t, 1000, cfg.Ingest.BatchSize)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conflux.toml")
	content := `
[database]
path = "/tmp/test.db"

[retry]
max_retries = 5
jitter = false

[rate_limit.quotas.api_coinstats]
calls_per_period = 2
period_seconds = 1

[[sources.api]]
name = "api_coinstats"
url = "https://api.example.com/coins"
page_size = 50
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.db", cfg.Database.Path)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.False(t, cfg.Retry.Jitter)
	// Defaults survive partial files
	assert.Equal(t, 60.0, cfg.Retry.MaxBackoffSec)

	quota, ok := cfg.RateLimit.Quotas["api_coinstats"]
	require.True(t, ok)
	assert.Equal(t, 2, quota.CallsPerPeriod)
	assert.Equal(t, 1, quota.PeriodSeconds)

	require.Len(t, cfg.Sources.API, 1)
	assert.Equal(t, "api_coinstats", cfg.Sources.API[0].Name)
	assert.Equal(t, 50, cfg.Sources.API[0].PageSize)
}

func TestLoadFromMissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
