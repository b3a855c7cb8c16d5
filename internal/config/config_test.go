package config_test

import (
	"testing"
	"time"

	"chatsync/backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("PERSIST_TIMEOUT", "")

	cfg, _, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, config.DefaultPersistTimeout, cfg.PersistTimeout)
	assert.Equal(t, config.DefaultServerTypingTTL, cfg.TypingTTL)
	assert.Equal(t, config.DefaultTokenTTL, cfg.TokenTTL)
	assert.False(t, cfg.AllowDevTokens)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("PERSIST_TIMEOUT", "250ms")
	t.Setenv("TYPING_TTL", "1500")
	t.Setenv("ALLOW_DEV_TOKENS", "true")

	cfg, _, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 250*time.Millisecond, cfg.PersistTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.TypingTTL)
	assert.True(t, cfg.AllowDevTokens)
}

func TestLoad_MissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, _, err := config.Load()
	assert.Error(t, err)
}

func TestValidate_PingMustBeShorterThanPongWait(t *testing.T) {
	cfg := &config.Config{
		JWTSecret:      "x",
		PingInterval:   time.Minute,
		PongWait:       time.Second,
		PersistTimeout: time.Second,
	}
	assert.Error(t, cfg.Validate())
}
