package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"canonical_validator/internal/models"
)

const (
	MinConcurrency = 1
	MaxConcurrency = 20
	MinTimeoutSec  = 5
	MaxTimeoutSec  = 60
	MinRetries     = 1
	MaxRetries     = 5
)

type Config struct {
	Concurrency   int                        `yaml:"concurrency"`
	TimeoutSec    int                        `yaml:"timeout_sec"`
	MaxRetries    int                        `yaml:"max_retries"`
	UserAgent     string                     `yaml:"user_agent"`
	Normalization models.NormalizationConfig `yaml:"normalization"`
}

func Default() *Config {
	return &Config{
		Concurrency: 10,
		TimeoutSec:  30,
		MaxRetries:  3,
		UserAgent:   "SEO-Canonical-Validator/1.0",
		Normalization: models.NormalizationConfig{
			ForceHTTPS:         true,
			StripTrailingSlash: true,
			IgnoreQueryParams:  false,
			CaseSensitivePath:  true,
		},
	}
}

// Load reads a yaml config file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects out-of-range run settings. Validation failures are the
// only errors fatal to starting a run.
func (c *Config) Validate() error {
	if c.Concurrency < MinConcurrency || c.Concurrency > MaxConcurrency {
		return fmt.Errorf("concurrency must be in [%d,%d], got %d", MinConcurrency, MaxConcurrency, c.Concurrency)
	}
	if c.TimeoutSec < MinTimeoutSec || c.TimeoutSec > MaxTimeoutSec {
		return fmt.Errorf("timeout_sec must be in [%d,%d], got %d", MinTimeoutSec, MaxTimeoutSec, c.TimeoutSec)
	}
	if c.MaxRetries < MinRetries || c.MaxRetries > MaxRetries {
		return fmt.Errorf("max_retries must be in [%d,%d], got %d", MinRetries, MaxRetries, c.MaxRetries)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent must not be empty")
	}
	return nil
}
