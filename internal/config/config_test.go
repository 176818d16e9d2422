package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/go-oidc-provider/internal/config"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := config.Parse()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.GetPort())
	require.Equal(t, "http://localhost:8080", cfg.GetIssuer())
	require.Equal(t, config.StoreMemory, cfg.GetStoreDriver())
	require.Equal(t, time.Hour, cfg.GetAccessTokenLifetime())
	require.Equal(t, 5*time.Second, cfg.GetDevicePollingInterval())
	require.Empty(t, cfg.GetAllowedOrigins())
}

func TestParse_Environment(t *testing.T) {
	t.Setenv("PORT", ":9090")
	t.Setenv("ISSUER", "https://idp.example.com/")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("ACCESS_TOKEN_LIFETIME", "15m")
	t.Setenv("STORE_DRIVER", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := config.Parse()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.GetPort())
	require.Equal(t, "https://idp.example.com", cfg.GetIssuer())
	require.True(t, cfg.GetAllowedOrigins().IsAllowedOrigin("https://b.example.com"))
	require.Equal(t, 15*time.Minute, cfg.GetAccessTokenLifetime())
	require.Equal(t, "localhost:6379", cfg.GetRedisAddr())
}

func TestParse_Invalid(t *testing.T) {
	t.Run("unknown store driver", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", "mongo")
		_, err := config.Parse()
		require.Error(t, err)
	})

	t.Run("redis without address", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", "redis")
		t.Setenv("REDIS_ADDR", "")
		_, err := config.Parse()
		require.Error(t, err)
	})

	t.Run("malformed duration", func(t *testing.T) {
		t.Setenv("ACCESS_TOKEN_LIFETIME", "soon")
		_, err := config.Parse()
		require.Error(t, err)
	})
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(file, []byte("APP_NAME=From File\nLOG_LEVEL=debug\n"), 0o600))
	t.Setenv("LOG_LEVEL", "warn")
	t.Cleanup(func() { os.Unsetenv("APP_NAME") })

	cfg, err := config.Load(file)
	require.NoError(t, err)
	require.Equal(t, "From File", cfg.GetAppName())
	require.Equal(t, "warn", cfg.GetLogLevel(), "the environment wins over the file")

	_, err = config.Load(filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
}
