package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "data/study.db", cfg.SQLite.Path)
	assert.Equal(t, time.Minute, cfg.Session.TickInterval)
	assert.Equal(t, 30*time.Minute, cfg.Session.IdleTimeout)
	assert.Equal(t, time.Local, cfg.App.Location)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
	assert.Equal(t, []string{"*"}, cfg.HTTP.AllowedOrigins)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("STORE_BACKEND", "Redis")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("APP_TIMEZONE", "Asia/Almaty")
	t.Setenv("SESSION_TICK_INTERVAL", "30s")
	t.Setenv("SESSION_IDLE_TIMEOUT", "0")
	t.Setenv("HTTP_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("IDENTITY_USER_ID", "u-42")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr())
	assert.Equal(t, "Asia/Almaty", cfg.App.Location.String())
	assert.Equal(t, 30*time.Second, cfg.Session.TickInterval)
	assert.Zero(t, cfg.Session.IdleTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, "u-42", cfg.Identity.UserID)
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("STORE_BACKEND=memory\nLOG_LEVEL=debug\n"), 0o600))
	// godotenv never overrides variables that are already set; make sure
	// these two are not.
	t.Setenv("STORE_BACKEND", "")
	os.Unsetenv("STORE_BACKEND")
	t.Setenv("LOG_LEVEL", "")
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("APP_ENV", "production")
	t.Setenv("APP_TIMEZONE", "Mars/Olympus")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("HTTP_PORT", "70000")
	t.Setenv("SESSION_IDLE_TIMEOUT", "-1m")

	_, err := Load()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "APP_TIMEZONE")
	assert.Contains(t, msg, "DATABASE_URL is required")
	assert.Contains(t, msg, "AUTH_JWT_SECRET")
	assert.Contains(t, msg, "HTTP_PORT")
	assert.Contains(t, msg, "SESSION_IDLE_TIMEOUT")
}

func TestValidate_UnknownBackend(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("STORE_BACKEND", "cassandra")

	_, err := Load()
	assert.ErrorContains(t, err, "STORE_BACKEND")
}
