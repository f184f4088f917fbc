package relayer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
listen = ":9090"
address = "relayer-1"
commitment_window = 120
min_deposit_bps = 250
confirmation_timeout = 45

[source]
key = "ethereum"
chain_id = 1
api_url = "https://eth.example"

[destination]
key = "osmosis"
chain_id = 10
decimals = 6

[redis]
channel = "swaps"

[retry]
initial_interval_ms = 200
max_elapsed_seconds = 30
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv(EnvRedisURL, "redis://localhost:6379/0")
	t.Setenv(EnvDB, "")

	cfg, err := LoadConfig(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "relayer-1", cfg.Address)
	assert.Equal(t, uint64(120), cfg.Settlement().CommitmentWindow)
	assert.Equal(t, uint64(250), cfg.Settlement().MinDepositBps)
	assert.Equal(t, 45*time.Second, cfg.ConfirmationTimeoutDuration())
	assert.Equal(t, "swaps", cfg.Redis.Channel)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 200, cfg.Retry.InitialIntervalMs)

	// untouched keys keep their defaults
	assert.Equal(t, "relayer.db", cfg.DB)
	assert.Equal(t, 10*time.Second, cfg.WatchIntervalDuration())
	assert.Equal(t, 4, cfg.Workers)

	entry, ok := cfg.Chain(10)
	require.True(t, ok)
	assert.Equal(t, "osmosis", entry.Key)
	_, ok = cfg.Chain(2)
	assert.False(t, ok)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv(EnvDB, "/tmp/override.db")
	t.Setenv(EnvPriceFeedKey, "demo-key")

	cfg, err := LoadConfig(writeConfig(t, testConfig))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.DB)
	assert.Equal(t, "demo-key", cfg.PriceFeed.Key)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "listen = "))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "[destination]\nchain_id = 1\n"))
	assert.ErrorContains(t, err, "must differ")

	_, err = LoadConfig(writeConfig(t, "min_deposit_bps = 5000\n"))
	assert.ErrorContains(t, err, "cap")

	assert.Panics(t, func() { MustLoadConfig(filepath.Join(t.TempDir(), "missing.toml")) })
}
