// Package config provides configuration loading and management for the
// substrate pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete substrate configuration
type Config struct {
	Governance GovernanceConfig `yaml:"governance"`
	Queue      QueueConfig      `yaml:"queue"`
	Ingest     IngestConfig     `yaml:"ingest"`
	NATS       NATSConfig       `yaml:"nats"`
}

// GovernanceConfig tunes proposal review and auto-approval
type GovernanceConfig struct {
	// AutoApproveThreshold is the minimum validator confidence for
	// agent-origin auto-approval (0.0-1.0, default: 0.7)
	AutoApproveThreshold float64 `yaml:"auto_approve_threshold"`
	// ConflictWindow is the trailing window for conflicts with
	// executed proposals (default: 5m)
	ConflictWindow time.Duration `yaml:"conflict_window"`
}

// QueueConfig tunes the capture processing queue
type QueueConfig struct {
	// MaxAttempts is the per-capture retry ceiling before dead-lettering
	MaxAttempts int `yaml:"max_attempts"`
	// MaxConcurrent is the number of captures processed in parallel
	MaxConcurrent int `yaml:"max_concurrent"`
	// BackoffBase is the first retry delay
	BackoffBase time.Duration `yaml:"backoff_base"`
	// BackoffMultiplier grows the delay per attempt
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	// MaxBackoff caps the retry delay
	MaxBackoff time.Duration `yaml:"max_backoff"`
	// StageTimeout bounds a single pipeline stage invocation
	StageTimeout time.Duration `yaml:"stage_timeout"`
}

// IngestConfig tunes the capture ingestion boundary
type IngestConfig struct {
	// MaxContentBytes is the largest accepted capture content
	MaxContentBytes int `yaml:"max_content_bytes"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server)
	URL string `yaml:"url"`
	// Embedded indicates whether to use embedded NATS
	Embedded bool `yaml:"embedded"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Governance: GovernanceConfig{
			AutoApproveThreshold: 0.7,
			ConflictWindow:       5 * time.Minute,
		},
		Queue: QueueConfig{
			MaxAttempts:       4,
			MaxConcurrent:     4,
			BackoffBase:       2 * time.Second,
			BackoffMultiplier: 2.0,
			MaxBackoff:        60 * time.Second,
			StageTimeout:      2 * time.Minute,
		},
		Ingest: IngestConfig{
			MaxContentBytes: 1 << 20,
		},
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Governance.AutoApproveThreshold < 0 || c.Governance.AutoApproveThreshold > 1 {
		return fmt.Errorf("governance.auto_approve_threshold must be between 0 and 1")
	}
	if c.Governance.ConflictWindow <= 0 {
		return fmt.Errorf("governance.conflict_window must be positive")
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be at least 1")
	}
	if c.Queue.MaxConcurrent < 1 {
		return fmt.Errorf("queue.max_concurrent must be at least 1")
	}
	if c.Queue.BackoffMultiplier < 1 {
		return fmt.Errorf("queue.backoff_multiplier must be at least 1")
	}
	if c.Queue.MaxBackoff < c.Queue.BackoffBase {
		return fmt.Errorf("queue.max_backoff must not be smaller than queue.backoff_base")
	}
	if c.Ingest.MaxContentBytes < 1 {
		return fmt.Errorf("ingest.max_content_bytes must be positive")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Governance
	if other.Governance.AutoApproveThreshold != 0 {
		c.Governance.AutoApproveThreshold = other.Governance.AutoApproveThreshold
	}
	if other.Governance.ConflictWindow != 0 {
		c.Governance.ConflictWindow = other.Governance.ConflictWindow
	}

	// Queue
	if other.Queue.MaxAttempts != 0 {
		c.Queue.MaxAttempts = other.Queue.MaxAttempts
	}
	if other.Queue.MaxConcurrent != 0 {
		c.Queue.MaxConcurrent = other.Queue.MaxConcurrent
	}
	if other.Queue.BackoffBase != 0 {
		c.Queue.BackoffBase = other.Queue.BackoffBase
	}
	if other.Queue.BackoffMultiplier != 0 {
		c.Queue.BackoffMultiplier = other.Queue.BackoffMultiplier
	}
	if other.Queue.MaxBackoff != 0 {
		c.Queue.MaxBackoff = other.Queue.MaxBackoff
	}
	if other.Queue.StageTimeout != 0 {
		c.Queue.StageTimeout = other.Queue.StageTimeout
	}

	// Ingest
	if other.Ingest.MaxContentBytes != 0 {
		c.Ingest.MaxContentBytes = other.Ingest.MaxContentBytes
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}
}
