package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflexgg/lightsout/internal/sequence"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFullFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
  base_url: "https://example.test"
storage:
  backend: memory
game:
  light_count: 5
  light_interval_ms: 800
  min_delay_ms: 400
  max_delay_ms: 2500
anticheat:
  hourly_ceiling: 20
retry:
  max_attempts: 5
  breaker_threshold: 3
quota:
  value_limit_bytes: 131072
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, int64(800), cfg.Game.IntervalMS)
	assert.Equal(t, 20, cfg.Anticheat.HourlyCeiling)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, int64(131072), cfg.Quota.ValueLimitBytes)

	// Untouched sections keep defaults.
	assert.Equal(t, int64(10_000), cfg.Server.ShutdownTimeoutMS)
}

func TestParseEmptyIsDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejectsUnknownField(t *testing.T) {
	_, err := Parse([]byte("server:\n  address: \":8080\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address")
}

func TestParseRejectsBadBackend(t *testing.T) {
	_, err := Parse([]byte("storage:\n  backend: redis\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestValidateGameConfig(t *testing.T) {
	require.NoError(t, ValidateGameConfig(sequence.DefaultConfig()))

	t.Run("zero lights", func(t *testing.T) {
		cfg := sequence.DefaultConfig()
		cfg.LightCount = 0
		err := ValidateGameConfig(cfg)
		require.Error(t, err)
		assert.True(t, IsGameConfigError(err))
	})

	t.Run("delay window inverted", func(t *testing.T) {
		cfg := sequence.DefaultConfig()
		cfg.MinDelayMS = 3000
		cfg.MaxDelayMS = 500
		err := ValidateGameConfig(cfg)
		require.Error(t, err)
		assert.True(t, IsGameConfigError(err))
	})

	t.Run("interval too small", func(t *testing.T) {
		cfg := sequence.DefaultConfig()
		cfg.IntervalMS = 50
		assert.True(t, IsGameConfigError(ValidateGameConfig(cfg)))
	})

	t.Run("all violations collected", func(t *testing.T) {
		cfg := sequence.Config{LightCount: 0, IntervalMS: 5, MinDelayMS: 10, MaxDelayMS: 5}
		err := ValidateGameConfig(cfg)
		require.Error(t, err)

		var gce *GameConfigError
		require.ErrorAs(t, err, &gce)
		assert.GreaterOrEqual(t, len(gce.Problems), 2)
	})
}
