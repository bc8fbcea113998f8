package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Server holds all configuration for the battleship server.
type Server struct {
	// Network
	BindAddress string `yaml:"bind_address" env:"BATTLESHIP_BIND_ADDRESS"`
	Port        int    `yaml:"port" env:"BATTLESHIP_PORT"`

	// Metrics HTTP endpoint, 0 disables it.
	MetricsPort int `yaml:"metrics_port" env:"BATTLESHIP_METRICS_PORT"`

	// Game timers
	FleetSetupTime int `yaml:"fleet_setup_time" env:"BATTLESHIP_FLEET_SETUP_TIME"` // ms
	TurnTime       int `yaml:"turn_time" env:"BATTLESHIP_TURN_TIME"`               // ms

	// Flood protection
	FloodProtection   bool `yaml:"flood_protection" env:"BATTLESHIP_FLOOD_PROTECTION"`
	MessagesPerSecond int  `yaml:"messages_per_second" env:"BATTLESHIP_MESSAGES_PER_SECOND"`
	MessageBurst      int  `yaml:"message_burst" env:"BATTLESHIP_MESSAGE_BURST"`

	// Logging
	LogLevel string `yaml:"log_level" env:"BATTLESHIP_LOG_LEVEL"`
}

// DefaultServer returns Server config with sensible defaults.
func DefaultServer() Server {
	return Server{
		BindAddress:       "0.0.0.0",
		Port:              8080,
		MetricsPort:       0,
		FleetSetupTime:    120_000,
		TurnTime:          60_000,
		FloodProtection:   true,
		MessagesPerSecond: 20,
		MessageBurst:      40,
		LogLevel:          "info",
	}
}

// LoadServer loads server config from a YAML file, then applies
// BATTLESHIP_* environment overrides. If the file doesn't exist,
// defaults are used as the base.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing environment: %w", err)
	}

	return cfg, nil
}

// FleetSetupTimeout returns the fleet setup timer as a duration.
func (s Server) FleetSetupTimeout() time.Duration {
	return time.Duration(s.FleetSetupTime) * time.Millisecond
}

// TurnTimeout returns the turn timer as a duration.
func (s Server) TurnTimeout() time.Duration {
	return time.Duration(s.TurnTime) * time.Millisecond
}

// SlogLevel maps the configured log level name to a slog level.
// Unknown names fall back to info.
func (s Server) SlogLevel() slog.Level {
	switch s.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
