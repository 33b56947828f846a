package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.Concurrency)
	assert.Equal(t, 30, cfg.TimeoutSec)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.True(t, cfg.Normalization.ForceHTTPS)
	assert.True(t, cfg.Normalization.StripTrailingSlash)
	assert.False(t, cfg.Normalization.IgnoreQueryParams)
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"concurrency floor", func(c *Config) { c.Concurrency = MinConcurrency }, true},
		{"concurrency ceiling", func(c *Config) { c.Concurrency = MaxConcurrency }, true},
		{"concurrency zero", func(c *Config) { c.Concurrency = 0 }, false},
		{"concurrency too high", func(c *Config) { c.Concurrency = 21 }, false},
		{"timeout too low", func(c *Config) { c.TimeoutSec = 4 }, false},
		{"timeout too high", func(c *Config) { c.TimeoutSec = 61 }, false},
		{"retries zero", func(c *Config) { c.MaxRetries = 0 }, false},
		{"retries too high", func(c *Config) { c.MaxRetries = 6 }, false},
		{"empty user agent", func(c *Config) { c.UserAgent = "" }, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
concurrency: 5
timeout_sec: 15
user_agent: "custom-bot/2.0"
normalization:
  ignore_query_params: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Concurrency)
	assert.Equal(t, 15, cfg.TimeoutSec)
	assert.Equal(t, "custom-bot/2.0", cfg.UserAgent)
	assert.True(t, cfg.Normalization.IgnoreQueryParams)

	// unset keys keep their defaults
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.True(t, cfg.Normalization.ForceHTTPS)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
