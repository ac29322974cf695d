package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Backend.BaseURL != "http://localhost:8000/api" {
		t.Errorf("BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.PageSize() != 10 {
		t.Errorf("PageSize = %d, want 10", cfg.PageSize())
	}
	if cfg.ScrollThrottle() != 200*time.Millisecond {
		t.Errorf("ScrollThrottle = %v, want 200ms", cfg.ScrollThrottle())
	}
	if cfg.BackendTimeout() != 60*time.Second {
		t.Errorf("BackendTimeout = %v, want 60s", cfg.BackendTimeout())
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "studybuddy" {
		t.Errorf("Name = %q", cfg.Name)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
backend:
  base_url: https://tutor.example.com/api
  timeout: 30s
chat:
  page_size: 25
  scroll_throttle: 150ms
logging:
  debug_mode: true
  level: debug
`
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.BaseURL != "https://tutor.example.com/api" {
		t.Errorf("BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.BackendTimeout() != 30*time.Second {
		t.Errorf("BackendTimeout = %v", cfg.BackendTimeout())
	}
	if cfg.PageSize() != 25 {
		t.Errorf("PageSize = %d", cfg.PageSize())
	}
	if cfg.ScrollThrottle() != 150*time.Millisecond {
		t.Errorf("ScrollThrottle = %v", cfg.ScrollThrottle())
	}
	if !cfg.Logging.DebugMode {
		t.Error("DebugMode should be true")
	}
	// Unspecified fields keep their defaults.
	if cfg.State.DatabaseFile != "state.db" {
		t.Errorf("DatabaseFile = %q", cfg.State.DatabaseFile)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STUDY_BACKEND_URL", "http://override:9000/api")
	t.Setenv("STUDY_STATE_DIR", "/tmp/study-test")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.BaseURL != "http://override:9000/api" {
		t.Errorf("BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.StateDir() != "/tmp/study-test" {
		t.Errorf("StateDir = %q", cfg.StateDir())
	}
	if cfg.DatabasePath() != "/tmp/study-test/state.db" {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := DefaultConfig()
	cfg.Backend.BaseURL = "https://tutor.example.com/api"
	cfg.Chat.PageSize = 15
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Backend.BaseURL != cfg.Backend.BaseURL {
		t.Errorf("BaseURL = %q", loaded.Backend.BaseURL)
	}
	if loaded.Chat.PageSize != 15 {
		t.Errorf("PageSize = %d", loaded.Chat.PageSize)
	}
}

func TestDurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend.Timeout = "bogus"
	cfg.Chat.ScrollThrottle = "-5s"
	cfg.Chat.PageSize = 0

	if cfg.BackendTimeout() != 60*time.Second {
		t.Errorf("BackendTimeout = %v, want fallback 60s", cfg.BackendTimeout())
	}
	if cfg.ScrollThrottle() != 200*time.Millisecond {
		t.Errorf("ScrollThrottle = %v, want fallback 200ms", cfg.ScrollThrottle())
	}
	if cfg.PageSize() != 10 {
		t.Errorf("PageSize = %d, want fallback 10", cfg.PageSize())
	}
}
