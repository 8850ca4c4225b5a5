// Package config loads the fetcher configuration: built-in defaults,
// overridden by an optional YAML file, overridden by environment
// variables. Credentials only ever come from the environment or flags,
// never from the config file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/registrykit/mastr-fetch/pkg/pipeline"
	"github.com/registrykit/mastr-fetch/pkg/registry"
)

// Environment variables carrying the registry credentials.
const (
	EnvAPIKey      = "API_KEY"
	EnvMastrNumber = "MASTR_NUMBER"
)

// Config is the complete fetcher configuration, mapped to the YAML
// config file through field tags.
type Config struct {
	API struct {
		Key         string        `yaml:"-"`
		MastrNumber string        `yaml:"-"`
		BaseURL     string        `yaml:"base_url"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"api"`

	Pipeline struct {
		Parallelism int    `yaml:"parallelism"`
		BatchSize   int    `yaml:"batch_size"`
		QueueSize   int    `yaml:"queue_size"`
		ErrorsLimit int    `yaml:"errors_limit"`
		ColumnIndex int    `yaml:"column_index"`
		OutputDir   string `yaml:"output_dir"`
		Compress    bool   `yaml:"compress"`
	} `yaml:"pipeline"`

	Retry struct {
		MaxAttempts int           `yaml:"max_attempts"`
		BaseDelay   time.Duration `yaml:"base_delay"`
		Factor      float64       `yaml:"factor"`
		MaxDelay    time.Duration `yaml:"max_delay"`
	} `yaml:"retry"`

	Cache struct {
		URL string        `yaml:"url"`
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"cache"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"metrics"`

	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}

	cfg.API.BaseURL = registry.DefaultBaseURL
	cfg.API.Timeout = registry.DefaultTimeout

	cfg.Pipeline.BatchSize = pipeline.DefaultBatchSize
	cfg.Pipeline.QueueSize = pipeline.DefaultQueueSize
	cfg.Pipeline.ErrorsLimit = pipeline.DefaultErrorsLimit
	cfg.Pipeline.OutputDir = "."

	policy := registry.DefaultRetryPolicy()
	cfg.Retry.MaxAttempts = policy.MaxAttempts
	cfg.Retry.BaseDelay = policy.BaseDelay
	cfg.Retry.Factor = policy.Factor
	cfg.Retry.MaxDelay = policy.MaxDelay

	cfg.Cache.TTL = registry.DefaultCacheTTL

	cfg.Metrics.Addr = ":9090"

	cfg.Logging.Level = "info"

	return cfg
}

// Load builds the configuration: defaults, then the YAML file at path
// (when path is non-empty), then the environment. A .env file in the
// working directory is folded into the environment first.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	_ = godotenv.Load()
	cfg.applyEnv()

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv(EnvAPIKey); ok {
		c.API.Key = v
	}
	if v, ok := os.LookupEnv(EnvMastrNumber); ok {
		c.API.MastrNumber = v
	}
}

// Validate checks the fields every fetch run needs.
func (c *Config) Validate() error {
	if c.API.Key == "" {
		return fmt.Errorf("API key is required (flag --api-key or env %s)", EnvAPIKey)
	}
	if c.API.MastrNumber == "" {
		return fmt.Errorf("MaStR number is required (flag --mastr-number or env %s)", EnvMastrNumber)
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive: %d", c.Pipeline.BatchSize)
	}
	if c.Pipeline.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive: %d", c.Pipeline.QueueSize)
	}
	if c.Pipeline.ErrorsLimit < 0 {
		return fmt.Errorf("errors limit must not be negative: %d", c.Pipeline.ErrorsLimit)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry attempts must be positive: %d", c.Retry.MaxAttempts)
	}
	return nil
}

// RetryPolicy builds the retry policy from the configured values.
func (c *Config) RetryPolicy() registry.RetryPolicy {
	return registry.RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		Factor:      c.Retry.Factor,
		MaxDelay:    c.Retry.MaxDelay,
	}
}
