package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServer_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadServer(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultServer(), cfg)
}

func TestLoadServer_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	data := "port: 9999\nturn_time: 5000\nlog_level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadServer(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, 5000, cfg.TurnTime)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Untouched keys keep their defaults.
	assert.Equal(t, 120_000, cfg.FleetSetupTime)
	assert.Equal(t, "0.0.0.0", cfg.BindAddress)
}

func TestLoadServer_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9999\n"), 0o644))

	t.Setenv("BATTLESHIP_PORT", "7777")
	t.Setenv("BATTLESHIP_FLOOD_PROTECTION", "false")

	cfg, err := LoadServer(path)
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Port)
	assert.False(t, cfg.FloodProtection)
}

func TestLoadServer_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [oops\n"), 0o644))

	_, err := LoadServer(path)
	assert.Error(t, err)
}

func TestServer_Timeouts(t *testing.T) {
	cfg := DefaultServer()
	assert.Equal(t, 2*time.Minute, cfg.FleetSetupTimeout())
	assert.Equal(t, time.Minute, cfg.TurnTimeout())
}

func TestServer_SlogLevel(t *testing.T) {
	tests := []struct {
		name  string
		level slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		cfg := Server{LogLevel: tt.name}
		assert.Equal(t, tt.level, cfg.SlogLevel(), tt.name)
	}
}
