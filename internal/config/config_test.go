package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backlab.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8084", cfg.Server.Addr)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 10*time.Minute, cfg.Redis.TTL())
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Postgres.Enabled)
	assert.Equal(t, 0.001, cfg.Backtest.Fee)
	assert.Equal(t, 0.001, cfg.Backtest.Slippage)
	assert.Equal(t, 0, cfg.Backtest.Cooldown)
	assert.Greater(t, cfg.Binance.RequestsPerSecond, 0.0)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
redis:
  enabled: true
  addr: "redis:6379"
  ttl_secs: 300
backtest:
  fee: 0.0005
  cooldown: 3
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Redis.TTL())
	assert.Equal(t, 0.0005, cfg.Backtest.Fee)
	// fields absent from the file keep their defaults
	assert.Equal(t, 0.001, cfg.Backtest.Slippage)
	assert.Equal(t, 3, cfg.Backtest.Cooldown)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
`)
	t.Setenv("BACKLAB_SERVER_ADDR", ":9100")
	t.Setenv("BACKLAB_POSTGRES_DSN", "postgres://localhost/backlab?sslmode=disable")
	t.Setenv("BACKLAB_RATE_LIMIT", "5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Server.Addr)
	assert.True(t, cfg.Postgres.Enabled)
	assert.Equal(t, "postgres://localhost/backlab?sslmode=disable", cfg.Postgres.DSN)
	assert.Equal(t, 5.0, cfg.Binance.RequestsPerSecond)
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bad fee", "backtest:\n  fee: 1.5\n"},
		{"negative cooldown", "backtest:\n  cooldown: -1\n"},
		{"postgres without dsn", "postgres:\n  enabled: true\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
