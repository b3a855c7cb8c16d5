package main

import (
	"path/filepath"
	"testing"

	"chatsync/backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useConfigFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	prev := configFile
	configFile = path
	t.Cleanup(func() { configFile = prev })
	return path
}

func TestLoadConfig_DefaultsWhenMissing(t *testing.T) {
	useConfigFile(t)

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.Server.URL)
	assert.Equal(t, "general", cfg.Session.DefaultRoom)
	assert.Equal(t, config.DefaultHistoryLimit, cfg.Session.HistoryLimit)
	assert.Empty(t, cfg.Auth.Token)
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	useConfigFile(t)

	cfg, err := loadConfig()
	require.NoError(t, err)
	require.NoError(t, setConfigValue(cfg, "server.url", "https://chat.example.org"))
	require.NoError(t, setConfigValue(cfg, "auth.token", "tok"))
	require.NoError(t, setConfigValue(cfg, "session.history_limit", "20"))
	require.NoError(t, saveConfig(cfg))

	loaded, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.org", loaded.Server.URL)
	assert.Equal(t, "tok", loaded.Auth.Token)
	assert.Equal(t, 20, loaded.Session.HistoryLimit)
}

func TestSetConfigValue_Rejects(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, setConfigValue(cfg, "url", "x"))
	assert.Error(t, setConfigValue(cfg, "server.port", "x"))
	assert.Error(t, setConfigValue(cfg, "db.url", "x"))
	assert.Error(t, setConfigValue(cfg, "session.history_limit", "-1"))
}

func TestRequireLogin_NoToken(t *testing.T) {
	useConfigFile(t)

	_, err := requireLogin()
	assert.ErrorContains(t, err, "not logged in")
}
