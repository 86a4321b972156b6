// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Liveness  LivenessConfig
	Bot       BotConfig
	History   HistoryConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// LivenessConfig holds server-side connection probing configuration.
// Clients that fail to answer a probe within one interval are terminated.
type LivenessConfig struct {
	PingInterval time.Duration `envconfig:"WS_PING_INTERVAL" default:"20s"`
	WriteTimeout time.Duration `envconfig:"WS_WRITE_TIMEOUT" default:"10s"`
}

// BotConfig holds the external text-completion service configuration.
type BotConfig struct {
	URL     string        `envconfig:"BOT_URL" default:"http://localhost:9090/v1/complete"`
	Model   string        `envconfig:"BOT_MODEL" default:"campus-assistant-1"`
	Timeout time.Duration `envconfig:"BOT_TIMEOUT" default:"30s"`
}

// HistoryConfig bounds the per-user assistant conversation log.
type HistoryConfig struct {
	MaxTurns int `envconfig:"HISTORY_MAX_TURNS" default:"100"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
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
			Port: "8000",
			Host: "0.0.0.0",
		},
		Liveness: LivenessConfig{
			PingInterval: 20 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Bot: BotConfig{
			URL:     "http://localhost:9090/v1/complete",
			Model:   "campus-assistant-1",
			Timeout: 30 * time.Second,
		},
		History: HistoryConfig{
			MaxTurns: 100,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
