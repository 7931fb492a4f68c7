package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "GRID_ROUTING_STRATEGY=geographic\n" +
		"GRID_ROUND_TIMEOUT=750ms\n" +
		"GRID_MAX_SHARDS=8\n" +
		"GRID_CPU_UPPER=90.5\n" +
		"GRID_IN_MEMORY=true\n"
	require.NoError(t, os.WriteFile(envPath, []byte(content), 0o600))

	for _, k := range []string{"GRID_ROUTING_STRATEGY", "GRID_ROUND_TIMEOUT", "GRID_MAX_SHARDS", "GRID_CPU_UPPER", "GRID_IN_MEMORY"} {
		k := k
		t.Cleanup(func() { os.Unsetenv(k) })
	}

	cfg, err := LoadConfig(envPath)
	require.NoError(t, err)
	assert.Equal(t, "geographic", cfg.Strategy)
	assert.Equal(t, 750*time.Millisecond, cfg.RoundTimeout)
	assert.Equal(t, 8, cfg.MaxShards)
	assert.Equal(t, 90.5, cfg.CPUUpper)
	assert.True(t, cfg.InMemory)
	assert.Equal(t, DefaultMinShards, cfg.MinShards)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadConfigRejectsBadValue(t *testing.T) {
	t.Setenv("GRID_MAX_TX_PER_BLOCK", "many")
	_, err := LoadConfig("")
	assert.ErrorContains(t, err, "max-tx-per-block")

	t.Setenv("GRID_MAX_TX_PER_BLOCK", "10")
	t.Setenv("GRID_SCALE_COOLDOWN", "soon")
	_, err = LoadConfig("")
	assert.ErrorContains(t, err, "scale-cooldown")
}

func TestLoadConfigEnvOverridesDefaults(t *testing.T) {
	t.Setenv("GRID_DEV", "true")
	t.Setenv("GRID_KEY_PASSPHRASE", "hunter2")
	t.Setenv("GRID_SAMPLE_INTERVAL", "30s")
	t.Setenv("GRID_SUBMIT_RATE", "12.5")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.True(t, cfg.Development)
	assert.Equal(t, "hunter2", cfg.KeyPassphrase)
	assert.Equal(t, 30*time.Second, cfg.SampleInterval)
	assert.Equal(t, 12.5, cfg.SubmitRate)
	assert.Equal(t, DefaultMaxShards, cfg.MaxShards)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"strategy":       func(c *Config) { c.Strategy = "random" },
		"metrics addr":   func(c *Config) { c.MetricsAddr = "nohostport" },
		"max tx":         func(c *Config) { c.MaxTxPerBlock = 0 },
		"round timeout":  func(c *Config) { c.RoundTimeout = 0 },
		"reputation":     func(c *Config) { c.MissPenalty = 1.5 },
		"initial shards": func(c *Config) { c.InitialShards = c.MaxShards + 1 },
		"data dir":       func(c *Config) { c.DataDir = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	c := Default()
	c.MetricsAddr = "127.0.0.1:9100"
	assert.NoError(t, c.Validate())
}
