package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "http://localhost:8000", cfg.Gateway.BaseURL)
	assert.Equal(t, "ws://localhost:8000", cfg.Gateway.WSURL)
	assert.Equal(t, "quantdeck-analyst", cfg.Chat.Model)
	assert.Equal(t, 5, cfg.Chat.MaxReconnectAttempts)
	assert.Equal(t, 2*time.Second, cfg.Chat.ReconnectDelay)
	assert.Equal(t, 100, cfg.Chat.HistoryLimit)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)
}

func TestLoadUsesDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, Default().Chat, cfg.Chat)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("GATEWAY_URL", "https://api.quantdeck.example")
	t.Setenv("CHAT_MODEL", "quantdeck-quant")
	t.Setenv("CHAT_MAX_RECONNECT", "9")
	t.Setenv("CHAT_RECONNECT_DELAY", "250ms")
	t.Setenv("LOG_DEV", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.quantdeck.example", cfg.Gateway.BaseURL)
	assert.Equal(t, "quantdeck-quant", cfg.Chat.Model)
	assert.Equal(t, 9, cfg.Chat.MaxReconnectAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Chat.ReconnectDelay)
	assert.True(t, cfg.Logging.Development)
}

func TestLoadOrDefaultOnBadEnvironment(t *testing.T) {
	t.Setenv("CHAT_MAX_RECONNECT", "not-a-number")

	cfg := LoadOrDefault()
	assert.Equal(t, Default().Chat.MaxReconnectAttempts, cfg.Chat.MaxReconnectAttempts)
}
