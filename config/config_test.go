package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.BaseURL != "https://api.vaultkit.dev" {
		t.Errorf("BaseURL = %q", cfg.Server.BaseURL)
	}
	if cfg.StepUp.MaxPinFailures != 5 {
		t.Errorf("MaxPinFailures = %d, want 5", cfg.StepUp.MaxPinFailures)
	}
	if cfg.SessionTimeout() != 10*time.Second {
		t.Errorf("SessionTimeout = %v, want 10s", cfg.SessionTimeout())
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  base_url: https://staging.example.com
session:
  timeout_ms: 2500
step_up:
  max_pin_failures: 3
log:
  level: debug
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.BaseURL != "https://staging.example.com" {
		t.Errorf("BaseURL = %q", cfg.Server.BaseURL)
	}
	if cfg.SessionTimeout() != 2500*time.Millisecond {
		t.Errorf("SessionTimeout = %v, want 2.5s", cfg.SessionTimeout())
	}
	if cfg.StepUp.MaxPinFailures != 3 {
		t.Errorf("MaxPinFailures = %d, want 3", cfg.StepUp.MaxPinFailures)
	}
	// Untouched sections keep their defaults.
	if cfg.Session.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want 2", cfg.Session.MaxRetries)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [broken"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("LoadConfig accepted malformed yaml")
	}
}
