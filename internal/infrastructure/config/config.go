// Package config loads daemon configuration from the environment.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all daemon configuration.
type Config struct {
	Server    ServerConfig
	Bridge    BridgeConfig
	Logging   LogConfig
	Limits    LimitsConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds the control socket configuration.
type ServerConfig struct {
	Host string `envconfig:"STREAMD_HOST" default:"0.0.0.0"`
	Port string `envconfig:"STREAMD_PORT" default:"9090"`
}

// BridgeConfig holds the secondary HTTP control-plane configuration.
type BridgeConfig struct {
	Enabled bool `envconfig:"STREAMD_BRIDGE_ENABLED" default:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"STREAMD_LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"STREAMD_LOG_DEV" default:"false"`
}

// LimitsConfig bounds resource usage.
type LimitsConfig struct {
	MaxPipelines       int `envconfig:"STREAMD_MAX_PIPELINES" default:"64"`
	MaxClients         int `envconfig:"STREAMD_MAX_CLIENTS" default:"128"`
	MaxDescriptionSize int `envconfig:"STREAMD_MAX_DESCRIPTION_SIZE" default:"65536"`
	EventBuffer        int `envconfig:"STREAMD_EVENT_BUFFER" default:"256"`
}

// RateLimitConfig holds bridge rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"STREAMD_RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"STREAMD_RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"STREAMD_RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from the environment or returns the
// defaults when loading fails.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "9090",
		},
		Bridge: BridgeConfig{
			Enabled: true,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Limits: LimitsConfig{
			MaxPipelines:       64,
			MaxClients:         128,
			MaxDescriptionSize: 64 * 1024,
			EventBuffer:        256,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
