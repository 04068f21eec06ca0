package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Governance.AutoApproveThreshold != 0.7 {
		t.Errorf("expected default auto-approve threshold 0.7, got %f", cfg.Governance.AutoApproveThreshold)
	}
	if cfg.Governance.ConflictWindow != 5*time.Minute {
		t.Errorf("expected default conflict window 5m, got %v", cfg.Governance.ConflictWindow)
	}
	if cfg.Queue.MaxAttempts != 4 {
		t.Errorf("expected default max attempts 4, got %d", cfg.Queue.MaxAttempts)
	}
	if !cfg.NATS.Embedded {
		t.Error("expected embedded NATS by default")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "threshold too high",
			modify:  func(c *Config) { c.Governance.AutoApproveThreshold = 1.1 },
			wantErr: true,
		},
		{
			name:    "threshold negative",
			modify:  func(c *Config) { c.Governance.AutoApproveThreshold = -0.1 },
			wantErr: true,
		},
		{
			name:    "zero conflict window",
			modify:  func(c *Config) { c.Governance.ConflictWindow = 0 },
			wantErr: true,
		},
		{
			name:    "zero max attempts",
			modify:  func(c *Config) { c.Queue.MaxAttempts = 0 },
			wantErr: true,
		},
		{
			name:    "shrinking backoff",
			modify:  func(c *Config) { c.Queue.BackoffMultiplier = 0.5 },
			wantErr: true,
		},
		{
			name:    "max backoff below base",
			modify:  func(c *Config) { c.Queue.MaxBackoff = time.Second },
			wantErr: true,
		},
		{
			name:    "zero content limit",
			modify:  func(c *Config) { c.Ingest.MaxContentBytes = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	// Create temp file with config
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
governance:
  auto_approve_threshold: 0.85
  conflict_window: 10m
queue:
  max_attempts: 6
  backoff_base: 5s
ingest:
  max_content_bytes: 2097152
nats:
  url: "nats://test:4222"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Governance.AutoApproveThreshold != 0.85 {
		t.Errorf("expected threshold 0.85, got %f", cfg.Governance.AutoApproveThreshold)
	}
	if cfg.Governance.ConflictWindow != 10*time.Minute {
		t.Errorf("expected conflict window 10m, got %v", cfg.Governance.ConflictWindow)
	}
	if cfg.Queue.MaxAttempts != 6 {
		t.Errorf("expected max attempts 6, got %d", cfg.Queue.MaxAttempts)
	}
	if cfg.Queue.BackoffBase != 5*time.Second {
		t.Errorf("expected backoff base 5s, got %v", cfg.Queue.BackoffBase)
	}
	// Unset fields keep their defaults
	if cfg.Queue.BackoffMultiplier != 2.0 {
		t.Errorf("expected default backoff multiplier 2.0, got %f", cfg.Queue.BackoffMultiplier)
	}
	if cfg.Ingest.MaxContentBytes != 2<<20 {
		t.Errorf("expected content limit 2MB, got %d", cfg.Ingest.MaxContentBytes)
	}
	if cfg.NATS.URL != "nats://test:4222" {
		t.Errorf("expected NATS URL nats://test:4222, got %s", cfg.NATS.URL)
	}
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		Governance: GovernanceConfig{
			AutoApproveThreshold: 0.9,
		},
		NATS: NATSConfig{
			URL: "nats://override:4222",
		},
	}

	base.Merge(override)

	if base.Governance.AutoApproveThreshold != 0.9 {
		t.Errorf("expected threshold 0.9, got %f", base.Governance.AutoApproveThreshold)
	}
	// Conflict window should remain from base since override didn't set it
	if base.Governance.ConflictWindow != 5*time.Minute {
		t.Errorf("expected conflict window to remain default, got %v", base.Governance.ConflictWindow)
	}
	if base.NATS.URL != "nats://override:4222" {
		t.Errorf("expected NATS URL nats://override:4222, got %s", base.NATS.URL)
	}
	if base.NATS.Embedded {
		t.Error("explicit NATS URL should disable embedded mode")
	}
}

func TestConfigSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.Governance.AutoApproveThreshold = 0.95

	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	// Verify file was created
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	// Load and verify
	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.Governance.AutoApproveThreshold != 0.95 {
		t.Errorf("expected threshold 0.95, got %f", loaded.Governance.AutoApproveThreshold)
	}
}
