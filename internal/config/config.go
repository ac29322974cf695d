// Package config loads and saves studybuddy configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all studybuddy configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Tutoring backend
	Backend BackendConfig `yaml:"backend"`

	// Chat behavior
	Chat ChatConfig `yaml:"chat"`

	// Local state (token, snapshot database, logs)
	State StateConfig `yaml:"state"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// BackendConfig configures the remote tutoring service.
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// ChatConfig configures history pagination and scroll handling.
type ChatConfig struct {
	// PageSize is the number of messages fetched per history page.
	PageSize int `yaml:"page_size"`

	// ScrollThrottle is the minimum interval between scroll-to-top checks.
	ScrollThrottle string `yaml:"scroll_throttle"`
}

// StateConfig configures where local state lives.
type StateConfig struct {
	// Dir is the state directory. Empty means ~/.study.
	Dir string `yaml:"dir"`

	// DatabaseFile is the snapshot database file name inside Dir.
	DatabaseFile string `yaml:"database_file"`
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "studybuddy",
		Version: "1.0.0",

		Backend: BackendConfig{
			BaseURL: "http://localhost:8000/api",
			Timeout: "60s",
		},

		Chat: ChatConfig{
			PageSize:       10,
			ScrollThrottle: "200ms",
		},

		State: StateConfig{
			DatabaseFile: "state.db",
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// DefaultPath returns the default config file location (~/.study/config.yaml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".study", "config.yaml")
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("STUDY_BACKEND_URL"); url != "" {
		c.Backend.BaseURL = url
	}
	if dir := os.Getenv("STUDY_STATE_DIR"); dir != "" {
		c.State.Dir = dir
	}
	if os.Getenv("STUDY_DEBUG") == "1" {
		c.Logging.DebugMode = true
		c.Logging.Level = "debug"
	}
}

// StateDir resolves the state directory, defaulting to ~/.study.
func (c *Config) StateDir() string {
	if c.State.Dir != "" {
		return c.State.Dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".study"
	}
	return filepath.Join(home, ".study")
}

// DatabasePath resolves the snapshot database path inside the state dir.
func (c *Config) DatabasePath() string {
	file := c.State.DatabaseFile
	if file == "" {
		file = "state.db"
	}
	return filepath.Join(c.StateDir(), file)
}

// BackendTimeout parses the backend timeout, falling back to 60s.
func (c *Config) BackendTimeout() time.Duration {
	d, err := time.ParseDuration(c.Backend.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// ScrollThrottle parses the scroll throttle interval, falling back to 200ms.
func (c *Config) ScrollThrottle() time.Duration {
	d, err := time.ParseDuration(c.Chat.ScrollThrottle)
	if err != nil || d <= 0 {
		return 200 * time.Millisecond
	}
	return d
}

// PageSize returns the history page size, falling back to 10.
func (c *Config) PageSize() int {
	if c.Chat.PageSize <= 0 {
		return 10
	}
	return c.Chat.PageSize
}
