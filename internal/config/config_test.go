package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLocalDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite://murmur.db", cfg.DatabaseURL)
	assert.NotEmpty(t, cfg.JWTSecret)
	assert.True(t, cfg.InlineWorker)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
}

func TestLoadRequiresSecretOutsideLocal(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsUnknownDatabaseScheme(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("DATABASE_URL", "mysql://localhost/murmur")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/murmur")
	t.Setenv("TOKEN_TTL", "90m")
	t.Setenv("RATE_LIMIT_BURST", "2")
	t.Setenv("INLINE_WORKER", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Minute, cfg.TokenTTL)
	assert.Equal(t, 2, cfg.RateLimitBurst)
	assert.True(t, cfg.InlineWorker)
	assert.False(t, cfg.IsLocal())
}
