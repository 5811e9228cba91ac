package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/tokpulse/internal/model"
)

func TestLoadFrom_MissingFileGivesDefaults(t *testing.T) {
	t.Setenv(EnvClaudeSessionKey, "")
	t.Setenv(EnvOpenRouterKey, "")
	t.Setenv(EnvDB, "")
	t.Setenv(EnvLogLevel, "")

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5*time.Second, cfg.RefreshInterval())
	assert.Equal(t, 120*time.Second, cfg.ActiveThreshold())
	assert.Equal(t, 24*time.Hour, cfg.SessionWindow())
	assert.Equal(t, time.Hour, cfg.PricingTTL())
	assert.Equal(t, 30*time.Second, cfg.MinPollInterval())
}

func TestLoadFrom_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[general]
refresh_interval_ms = 1000
active_threshold_ms = 60000
timezone = "UTC"

[providers.openrouter]
api_key = "from-file"

[activity]
decay_per_second = 0.5
spike_floor = 10

[pricing.overrides.my-model]
provider = "acme"
input_per_mtok = 2.0
output_per_mtok = 4.0
cache_read_per_mtok = 0.2
`), 0o600))

	t.Setenv(EnvOpenRouterKey, "from-env")
	t.Setenv(EnvDB, "/tmp/x.db")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvClaudeSessionKey, "")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, time.Second, cfg.RefreshInterval())
	assert.Equal(t, "from-env", cfg.Providers.OpenRouter.APIKey)
	assert.True(t, cfg.Providers.OpenRouter.Enabled)
	assert.Equal(t, "/tmp/x.db", cfg.StorePath())
	assert.Equal(t, "debug", cfg.Logging.Level)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	p := cfg.ActivityParams()
	assert.Equal(t, 0.5, p.DecayPerSecond)
	assert.Equal(t, 10.0, p.SpikeFloor)
	assert.Equal(t, 3.0, p.SpikeFactor)

	overrides := cfg.PricingOverrides()
	require.Len(t, overrides, 1)
	assert.Equal(t, "acme", overrides[0].Provider)
	assert.Equal(t, "my-model", overrides[0].Model)
	assert.Equal(t, 2.0, overrides[0].Input)
	require.NotNil(t, overrides[0].CacheRead)
	assert.Nil(t, overrides[0].CacheWrite)
	assert.Equal(t, model.PricingFallback, overrides[0].Source)
}

func TestLoadFrom_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[general\n"), 0o600))
	_, err := LoadFrom(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.General.RefreshIntervalMs = 0
	cfg.General.Timezone = "Nowhere/Special"
	cfg.Activity.DecayPerSecond = 1.5
	neg := -1.0
	cfg.Pricing.Overrides = map[string]ModelPricingOverride{"m": {InputPerMTok: &neg}}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"refresh_interval_ms", "timezone", "decay", "pricing.overrides.m"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestSaveToRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := DefaultConfig()
	budget := 150.0
	cfg.Budget.MonthlyUSD = &budget
	cfg.General.CodexDir = "/data/codex"

	require.NoError(t, SaveTo(path, cfg))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	t.Setenv(EnvDB, "")
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvClaudeSessionKey, "")
	t.Setenv(EnvOpenRouterKey, "")
	got, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
	assert.Equal(t, "/data/codex", got.CodexDir())
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, LoadEnvFile(filepath.Join(dir, "missing.env")))

	t.Setenv(EnvClaudeSessionKey, "")
	require.NoError(t, os.Unsetenv(EnvClaudeSessionKey))
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte(EnvClaudeSessionKey+"=sk-ant-sid01-dotenv\n"), 0o600))
	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "sk-ant-sid01-dotenv", os.Getenv(EnvClaudeSessionKey))
}
