package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.NATS.Embedded {
		t.Error("expected embedded NATS by default")
	}
	if cfg.HTTP.Timeout.Duration() != 120*time.Second {
		t.Errorf("expected default HTTP timeout 120s, got %s", cfg.HTTP.Timeout.Duration())
	}
	if cfg.Executor.MaxConcurrent != 4 {
		t.Errorf("expected default max_concurrent 4, got %d", cfg.Executor.MaxConcurrent)
	}
	if cfg.CatalogPath != "catalog.yaml" {
		t.Errorf("expected default catalog path catalog.yaml, got %s", cfg.CatalogPath)
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
			name:    "missing catalog path",
			modify:  func(c *Config) { c.CatalogPath = "" },
			wantErr: true,
		},
		{
			name:    "non-positive http timeout",
			modify:  func(c *Config) { c.HTTP.Timeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero max concurrent",
			modify:  func(c *Config) { c.Executor.MaxConcurrent = 0 },
			wantErr: true,
		},
		{
			name:    "non-positive handler timeout",
			modify:  func(c *Config) { c.Executor.HandlerTimeout = Duration(-time.Second) },
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
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `nats:
  url: nats://localhost:4222
http:
  timeout: 30s
  user_agent: procurer-test
executor:
  max_concurrent: 8
catalog_path: /etc/procurer/catalog.yaml
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("NATS.URL = %s", cfg.NATS.URL)
	}
	if cfg.HTTP.Timeout.Duration() != 30*time.Second {
		t.Errorf("HTTP.Timeout = %s", cfg.HTTP.Timeout.Duration())
	}
	if cfg.HTTP.UserAgent != "procurer-test" {
		t.Errorf("HTTP.UserAgent = %s", cfg.HTTP.UserAgent)
	}
	if cfg.Executor.MaxConcurrent != 8 {
		t.Errorf("Executor.MaxConcurrent = %d", cfg.Executor.MaxConcurrent)
	}
	// unset fields keep defaults
	if cfg.Executor.HandlerTimeout.Duration() != 10*time.Minute {
		t.Errorf("Executor.HandlerTimeout = %s", cfg.Executor.HandlerTimeout.Duration())
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestMerge(t *testing.T) {
	base := DefaultConfig()
	other := &Config{}
	other.NATS.URL = "nats://remote:4222"
	other.HTTP.UserAgent = "custom"

	base.Merge(other)

	if base.NATS.URL != "nats://remote:4222" {
		t.Errorf("NATS.URL = %s", base.NATS.URL)
	}
	if base.NATS.Embedded {
		t.Error("explicit URL should disable embedded NATS")
	}
	if base.HTTP.UserAgent != "custom" {
		t.Errorf("HTTP.UserAgent = %s", base.HTTP.UserAgent)
	}
	// untouched fields survive
	if base.Executor.MaxConcurrent != 4 {
		t.Errorf("Executor.MaxConcurrent = %d", base.Executor.MaxConcurrent)
	}
}
