// Package config provides configuration for the orchestrator. Configuration
// is an explicit value threaded through constructors; there is no process
// global.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the orchestrator configuration.
type Config struct {
	// Server settings
	HTTPPort int `yaml:"http_port"`

	// Storage
	EventLogURL string `yaml:"event_log_url"`
	QueueURL    string `yaml:"queue_url"`

	// Model
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt"`

	// Dispatch
	Workers       int           `yaml:"workers"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	LeaseDuration time.Duration `yaml:"lease_duration"`
	SnapshotEvery int           `yaml:"snapshot_every"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		HTTPPort:      getEnvInt("HTTP_PORT", 8080),
		EventLogURL:   getEnv("EVENT_LOG_URL", "file:orchestrator.db?cache=shared&mode=rwc"),
		QueueURL:      getEnv("QUEUE_URL", "file:orchestrator.db?cache=shared&mode=rwc"),
		Model:         getEnv("MODEL", "gpt-4o"),
		SystemPrompt:  getEnv("SYSTEM_PROMPT", "You are a helpful assistant."),
		Workers:       getEnvInt("WORKERS", 4),
		PollInterval:  time.Duration(getEnvInt("POLL_INTERVAL_MS", 100)) * time.Millisecond,
		LeaseDuration: time.Duration(getEnvInt("LEASE_DURATION_MS", 30000)) * time.Millisecond,
		SnapshotEvery: getEnvInt("SNAPSHOT_EVERY", 50),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}
}

// LoadFile overlays values from a YAML file onto the env-derived config.
// Zero values in the file leave the existing setting untouched for ints and
// strings handled by yaml's partial decoding into the same struct.
func LoadFile(path string) (*Config, error) {
	cfg := Load()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
