package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_USER", "postgres")
	t.Setenv("DB_NAME", "marketplace")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("PAYMENT_SECRET_KEY", "sk_test_123")
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_PORT", "9090")
	t.Setenv("SHIPPING_FLAT_FEE", "2500")
	t.Setenv("PAYMENT_TIMEOUT", "3s")
	t.Setenv("APP_CORS_ORIGINS", "https://shop.example.com, https://admin.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.App.Port)
	assert.Equal(t, "localhost", cfg.Postgres.Host)
	assert.Equal(t, "5432", cfg.Postgres.Port, "default port should be kept")
	assert.Equal(t, int64(2500), cfg.Shipping.FlatFee)
	assert.Equal(t, int64(5_000_000), cfg.Shipping.FreeThreshold)
	assert.Equal(t, 3*time.Second, cfg.Payment.Timeout)
	assert.Equal(t, "NGN", cfg.Payment.Currency)
	assert.Equal(t, []string{"https://shop.example.com", "https://admin.example.com"}, cfg.App.CORSOrigins)
}

func TestLoad_YAMLFileIsOverriddenByEnv(t *testing.T) {
	setRequiredEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("shipping:\n  free_threshold: 100000\n  flat_fee: 700\nlog:\n  level: debug\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("SHIPPING_FLAT_FEE", "900")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(100000), cfg.Shipping.FreeThreshold)
	assert.Equal(t, int64(900), cfg.Shipping.FlatFee)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	cfg := defaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_HOST is required")
	assert.Contains(t, err.Error(), "JWT_SECRET is required")
	assert.Contains(t, err.Error(), "PAYMENT_SECRET_KEY is required")

	cfg.Postgres.Host = "db"
	cfg.Postgres.User = "u"
	cfg.Postgres.DBName = "d"
	cfg.Auth.JWTSecret = "s"
	cfg.Payment.SecretKey = "k"
	assert.NoError(t, cfg.Validate())

	cfg.Shipping.FlatFee = -1
	assert.ErrorContains(t, cfg.Validate(), "shipping amounts cannot be negative")
}
