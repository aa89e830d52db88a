// Package config loads the client configuration from a YAML file, falling
// back to built-in defaults when no file is present.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the vault client configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Session configuration
	Session SessionConfig `yaml:"session"`

	// Step-up authentication configuration
	StepUp StepUpConfig `yaml:"step_up"`

	// Secure store configuration
	Store StoreConfig `yaml:"store"`

	// Logging configuration
	Log LogConfig `yaml:"log"`
}

// ServerConfig holds the API endpoint settings
type ServerConfig struct {
	BaseURL    string `yaml:"base_url"`
	AppVersion string `yaml:"app_version"`
}

// SessionConfig holds HTTP session settings
type SessionConfig struct {
	TimeoutMS    int `yaml:"timeout_ms"`
	MaxRetries   int `yaml:"max_retries"`
	RetryBaseMS  int `yaml:"retry_base_ms"`
}

// StepUpConfig holds elevation timing and lockout settings
type StepUpConfig struct {
	OtpTTLSeconds          int `yaml:"otp_ttl_seconds"`
	ResendCooldownSeconds  int `yaml:"resend_cooldown_seconds"`
	TicketTTLSeconds       int `yaml:"ticket_ttl_seconds"`
	BackgroundGraceSeconds int `yaml:"background_grace_seconds"`
	MaxPinFailures         int `yaml:"max_pin_failures"`
	PinLockoutSeconds      int `yaml:"pin_lockout_seconds"`
}

// StoreConfig holds secure store settings
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `yaml:"level"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Use defaults if no config file
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:    "https://api.vaultkit.dev",
			AppVersion: "dev",
		},
		Session: SessionConfig{
			TimeoutMS:   10000,
			MaxRetries:  2,
			RetryBaseMS: 300,
		},
		StepUp: StepUpConfig{
			OtpTTLSeconds:          300,
			ResendCooldownSeconds:  30,
			TicketTTLSeconds:       120,
			BackgroundGraceSeconds: 60,
			MaxPinFailures:         5,
			PinLockoutSeconds:      300,
		},
		Store: StoreConfig{
			Path: defaultStorePath(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// SessionTimeout converts the configured timeout to a duration.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Session.TimeoutMS) * time.Millisecond
}

// RetryBase converts the configured retry base delay to a duration.
func (c *Config) RetryBase() time.Duration {
	return time.Duration(c.Session.RetryBaseMS) * time.Millisecond
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "vaultkit.db"
	}
	return home + "/.vaultkit/store.db"
}
