package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Storage   StorageConfig   `toml:"storage"`
	Logging   LoggingConfig   `toml:"logging"`
	Sessions  SessionsConfig  `toml:"sessions"`
	API       APIConfig       `toml:"api"`
	Auth      AuthConfig      `toml:"auth"`
	BatchJobs BatchJobsConfig `toml:"batchjobs"`
}

type ServerConfig struct {
	Port         int    `toml:"port"`
	Host         string `toml:"host"`
	WSThrottleMS int    `toml:"ws_throttle_ms"` // Min interval between websocket pushes per client; 0 disables
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// SessionsConfig tunes launcher lease expiry.
type SessionsConfig struct {
	ExpirySeconds int    `toml:"expiry_seconds"` // Heartbeat age before a session is reaped
	SweepSchedule string `toml:"sweep_schedule"` // Cron schedule for the expiry sweeper
}

// APIConfig bounds the query surface.
type APIConfig struct {
	MaxPageLimit     int `toml:"max_page_limit"`     // Upper bound on list page size
	DefaultPageLimit int `toml:"default_page_limit"` // Page size when the client sends none
}

// AuthConfig seeds API tokens at startup. Keys are tokens, values owner ids.
type AuthConfig struct {
	Tokens map[string]uint64 `toml:"tokens"`
}

// BatchJobsConfig tunes the scheduling-field freeze boundary.
type BatchJobsConfig struct {
	LenientFreeze bool `toml:"lenient_freeze"` // Freeze at running instead of queued
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "localhost",
			WSThrottleMS: 100,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Sessions: SessionsConfig{
			ExpirySeconds: 90,
			SweepSchedule: "@every 30s",
		},
		API: APIConfig{
			MaxPageLimit:     512,
			DefaultPageLimit: 100,
		},
		BatchJobs: BatchJobsConfig{
			LenientFreeze: false,
		},
	}
}

// LoadFromFile loads configuration with priority: defaults -> file -> env.
func LoadFromFile(path string) (*Config, error) {
	config := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if port := os.Getenv("LODESTAR_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("LODESTAR_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if badgerPath := os.Getenv("LODESTAR_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if level := os.Getenv("LODESTAR_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if throttle := os.Getenv("LODESTAR_WS_THROTTLE_MS"); throttle != "" {
		if ms, err := strconv.Atoi(throttle); err == nil && ms >= 0 {
			config.Server.WSThrottleMS = ms
		}
	}
	if expiry := os.Getenv("LODESTAR_SESSION_EXPIRY_SECONDS"); expiry != "" {
		if e, err := strconv.Atoi(expiry); err == nil && e > 0 {
			config.Sessions.ExpirySeconds = e
		}
	}
	if limit := os.Getenv("LODESTAR_API_MAX_PAGE_LIMIT"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil && l > 0 {
			config.API.MaxPageLimit = l
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// WSThrottle returns the per-client websocket push interval as a duration.
func (c *Config) WSThrottle() time.Duration {
	return time.Duration(c.Server.WSThrottleMS) * time.Millisecond
}

// SessionExpiry returns the lease expiry as a duration.
func (c *Config) SessionExpiry() time.Duration {
	return time.Duration(c.Sessions.ExpirySeconds) * time.Second
}
