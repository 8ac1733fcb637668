package pipeline

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/corda/corda-runtime-os-sub032/internal/checkpoint"
)

// Default configuration values.
const (
	DefaultMaxRetryDelay = 60 * time.Second
	DefaultMaxRetries    = 5
	DefaultMaxFlowSleep  = 60 * time.Second
)

// Config is the pipeline configuration, read from pipeline.yaml.
type Config struct {
	Retry RetrySection `yaml:"retry"`
	Sleep SleepSection `yaml:"sleep"`
}

// RetrySection configures transient failure handling.
type RetrySection struct {
	// MaxRetryDelay caps the exponential backoff.
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"`

	// MaxRetries is the number of consecutive transient failures tolerated
	// before the flow is failed.
	MaxRetries int `yaml:"max_retries"`
}

// SleepSection configures the per-pass sleep ceiling.
type SleepSection struct {
	MaxFlowSleep time.Duration `yaml:"max_flow_sleep"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Retry: RetrySection{MaxRetryDelay: DefaultMaxRetryDelay, MaxRetries: DefaultMaxRetries},
		Sleep: SleepSection{MaxFlowSleep: DefaultMaxFlowSleep},
	}
}

// LoadConfig reads a YAML config file. Absent keys keep their defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML config bytes over the defaults and validates the
// result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that every limit is positive.
func (c Config) Validate() error {
	if c.Retry.MaxRetryDelay <= 0 {
		return fmt.Errorf("invalid config: retry.max_retry_delay must be positive, got %s", c.Retry.MaxRetryDelay)
	}
	if c.Retry.MaxRetries <= 0 {
		return fmt.Errorf("invalid config: retry.max_retries must be positive, got %d", c.Retry.MaxRetries)
	}
	if c.Sleep.MaxFlowSleep <= 0 {
		return fmt.Errorf("invalid config: sleep.max_flow_sleep must be positive, got %s", c.Sleep.MaxFlowSleep)
	}
	return nil
}

// RetryConfig returns the limits a checkpoint.PipelineState needs.
func (c Config) RetryConfig() checkpoint.RetryConfig {
	return checkpoint.RetryConfig{
		MaxRetryDelay: c.Retry.MaxRetryDelay,
		MaxFlowSleep:  c.Sleep.MaxFlowSleep,
	}
}
