package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	assert.True(t, cfg.Bridge.Enabled)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	assert.Equal(t, 64, cfg.Limits.MaxPipelines)
	assert.Equal(t, 128, cfg.Limits.MaxClients)
	assert.Equal(t, 64*1024, cfg.Limits.MaxDescriptionSize)
	assert.Equal(t, 256, cfg.Limits.EventBuffer)

	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"STREAMD_PORT":               "7070",
		"STREAMD_HOST":               "127.0.0.1",
		"STREAMD_BRIDGE_ENABLED":     "false",
		"STREAMD_LOG_LEVEL":          "debug",
		"STREAMD_LOG_DEV":            "true",
		"STREAMD_MAX_PIPELINES":      "8",
		"STREAMD_MAX_CLIENTS":        "4",
		"STREAMD_RATE_LIMIT_ENABLED": "false",
	}

	for key, value := range envVars {
		err := os.Setenv(key, value)
		require.NoError(t, err)
		defer os.Unsetenv(key)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.False(t, cfg.Bridge.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 8, cfg.Limits.MaxPipelines)
	assert.Equal(t, 4, cfg.Limits.MaxClients)
	assert.False(t, cfg.RateLimit.Enabled)
}
