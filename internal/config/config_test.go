package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PORT", "9000")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("DEBUG_ROUTES", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.True(t, cfg.Server.DebugRoutes)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.WebSocket.AllowedOrigins)
	assert.Equal(t, 30, cfg.Limits.MessagesPerWin)
	assert.Equal(t, 15*time.Minute, cfg.Limits.EditWindow)
	assert.Equal(t, int64(10*1024), cfg.WebSocket.MaxFrameBytes)
	assert.False(t, cfg.IsProduction())
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: production
auth:
  mode: jwt
  jwt_secret: from-file
limits:
  window: 30s
  connections_per_window: 2
  messages_per_window: 10
  typing_per_window: 20
  max_content_chars: 100
  max_emoji_chars: 4
  edit_window: 5m
websocket:
  allowed_hosts: [rentals.example]
  max_frame_bytes: 2048
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, 30*time.Second, cfg.Limits.Window)
	assert.Equal(t, 10, cfg.Limits.MessagesPerWin)
	assert.Equal(t, []string{"rentals.example"}, cfg.WebSocket.AllowedHosts)
	assert.Equal(t, int64(2048), cfg.WebSocket.MaxFrameBytes)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := map[string]func(*Config){
		"missing jwt secret": func(c *Config) { c.Auth.JWTSecret = "" },
		"unknown auth mode":  func(c *Config) { c.Auth.Mode = "ldap" },
		"zero message limit": func(c *Config) { c.Limits.MessagesPerWin = 0 },
		"unknown store":      func(c *Config) { c.Store.Driver = "mongo" },
		"fanout without url": func(c *Config) { c.AMQP.FanoutEnabled = true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.Auth.JWTSecret = "secret"
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestInvalidBoolEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("FANOUT_ENABLED", "maybe")

	_, err := Load("")
	assert.Error(t, err)
}
