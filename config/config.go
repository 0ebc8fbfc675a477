// Package config provides configuration loading and the procurement
// catalog for Procurer.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML unmarshaling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config represents the complete Procurer configuration
type Config struct {
	NATS     NATSConfig     `yaml:"nats"`
	HTTP     HTTPConfig     `yaml:"http"`
	Executor ExecutorConfig `yaml:"executor"`
	// CatalogPath points at the YAML catalog of suppliers, requisitions,
	// chains and credentials.
	CatalogPath string `yaml:"catalog_path"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server)
	URL string `yaml:"url"`
	// Embedded indicates whether to use embedded NATS
	Embedded bool `yaml:"embedded"`
	// StoreDir is the JetStream storage directory for the embedded server
	StoreDir string `yaml:"store_dir"`
}

// HTTPConfig configures outbound API calls
type HTTPConfig struct {
	// Timeout is the per-request HTTP timeout
	Timeout Duration `yaml:"timeout"`
	// UserAgent is sent on every outbound request
	UserAgent string `yaml:"user_agent"`
	// VirusTotalBaseURL overrides the production VirusTotal API base
	VirusTotalBaseURL string `yaml:"virustotal_base_url"`
}

// ExecutorConfig configures the link executor
type ExecutorConfig struct {
	// MaxConcurrent caps the number of links executed in parallel
	MaxConcurrent int `yaml:"max_concurrent"`
	// HandlerTimeout bounds a single handler call, excluding link countdowns
	HandlerTimeout Duration `yaml:"handler_timeout"`
	// AckWait is how long JetStream waits before redelivering an unacked task
	AckWait Duration `yaml:"ack_wait"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
		HTTP: HTTPConfig{
			Timeout:   Duration(120 * time.Second),
			UserAgent: "procurer/1.0",
		},
		Executor: ExecutorConfig{
			MaxConcurrent:  4,
			HandlerTimeout: Duration(10 * time.Minute),
			AckWait:        Duration(30 * time.Minute),
		},
		CatalogPath: "catalog.yaml",
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.CatalogPath == "" {
		return fmt.Errorf("catalog_path is required")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be positive")
	}
	if c.Executor.MaxConcurrent < 1 {
		return fmt.Errorf("executor.max_concurrent must be at least 1")
	}
	if c.Executor.HandlerTimeout <= 0 {
		return fmt.Errorf("executor.handler_timeout must be positive")
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

	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}
	if other.NATS.StoreDir != "" {
		c.NATS.StoreDir = other.NATS.StoreDir
	}

	if other.HTTP.Timeout != 0 {
		c.HTTP.Timeout = other.HTTP.Timeout
	}
	if other.HTTP.UserAgent != "" {
		c.HTTP.UserAgent = other.HTTP.UserAgent
	}
	if other.HTTP.VirusTotalBaseURL != "" {
		c.HTTP.VirusTotalBaseURL = other.HTTP.VirusTotalBaseURL
	}

	if other.Executor.MaxConcurrent != 0 {
		c.Executor.MaxConcurrent = other.Executor.MaxConcurrent
	}
	if other.Executor.HandlerTimeout != 0 {
		c.Executor.HandlerTimeout = other.Executor.HandlerTimeout
	}
	if other.Executor.AckWait != 0 {
		c.Executor.AckWait = other.Executor.AckWait
	}

	if other.CatalogPath != "" {
		c.CatalogPath = other.CatalogPath
	}
}
