package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const platformAccount = "0x00000000000000000000000000000000000000aa"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, "acdm.yaml", `
platform:
  account: "`+platformAccount+`"
  round_duration: 10m
server:
  listen: ":9090"
  rate_limit: 0
storage:
  backend: badger
  dir: /tmp/acdm
keeper:
  enabled: false
log:
  level: debug
  log_by_round: false
dev:
  faucet: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, platformAccount, cfg.Platform.Account)
	assert.Equal(t, 10*time.Minute, cfg.Platform.RoundDuration)
	assert.Equal(t, "ACDM", cfg.Platform.TokenSymbol)
	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.Equal(t, float64(0), cfg.Server.RateLimit)
	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.False(t, cfg.Keeper.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Log.LogByRound)
	assert.True(t, cfg.Log.Compress)
	assert.True(t, cfg.Dev.Faucet)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "acdm.json", `{"platform":{"account":"`+platformAccount+`"},"server":{"listen":":1"}}`)
	t.Setenv("ACDM_LISTEN", ":2")
	t.Setenv("ACDM_ROUND_DURATION", "1h")
	t.Setenv("ACDM_KEEPER_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":2", cfg.Server.Listen)
	assert.Equal(t, time.Hour, cfg.Platform.RoundDuration)
	assert.False(t, cfg.Keeper.Enabled)
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("ACDM_PLATFORM_ACCOUNT", platformAccount)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, cfg.Platform.RoundDuration)
	assert.Equal(t, "json", cfg.Storage.Backend)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate())

	cfg.Platform.Account = "not-an-address"
	assert.Error(t, cfg.Validate())

	cfg.Platform.Account = platformAccount
	require.NoError(t, cfg.Validate())

	cfg.Storage.Backend = "redis"
	assert.Error(t, cfg.Validate())
	cfg.Storage.Backend = "json"

	cfg.Server.RateBurst = 0
	assert.Error(t, cfg.Validate())
}

func TestLoad_RejectsUnknownExtension(t *testing.T) {
	path := writeFile(t, "acdm.toml", "x = 1")
	_, err := Load(path)
	assert.Error(t, err)
}
