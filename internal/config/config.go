package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all client configuration.
type Config struct {
	Gateway GatewayConfig
	Chat    ChatConfig
	Logging LogConfig
}

// GatewayConfig holds conversation gateway endpoints.
type GatewayConfig struct {
	BaseURL string `envconfig:"GATEWAY_URL" default:"http://localhost:8000"`
	WSURL   string `envconfig:"GATEWAY_WS_URL" default:"ws://localhost:8000"`
}

// ChatConfig holds streaming channel behavior.
type ChatConfig struct {
	Model                string        `envconfig:"CHAT_MODEL" default:"quantdeck-analyst"`
	MaxReconnectAttempts int           `envconfig:"CHAT_MAX_RECONNECT" default:"5"`
	ReconnectDelay       time.Duration `envconfig:"CHAT_RECONNECT_DELAY" default:"2s"`
	HistoryLimit         int           `envconfig:"CHAT_HISTORY_LIMIT" default:"100"`
	ConnectTimeout       time.Duration `envconfig:"CHAT_CONNECT_TIMEOUT" default:"10s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
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
		Gateway: GatewayConfig{
			BaseURL: "http://localhost:8000",
			WSURL:   "ws://localhost:8000",
		},
		Chat: ChatConfig{
			Model:                "quantdeck-analyst",
			MaxReconnectAttempts: 5,
			ReconnectDelay:       2 * time.Second,
			HistoryLimit:         100,
			ConnectTimeout:       10 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
