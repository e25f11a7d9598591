package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(2), cfg.Safety.DriftThreshold)
	assert.Equal(t, 3, cfg.Safety.RecoverySamples)
	assert.Equal(t, 10*time.Second, cfg.Safety.HeartbeatInterval)
	assert.Equal(t, 5*time.Second, cfg.Chain.PollInterval)
	assert.Equal(t, int64(1), cfg.Chain.ConfirmationDepth)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DRIFT_THRESHOLD", "5")
	t.Setenv("RECOVERY_SAMPLES", "7")
	t.Setenv("POLL_INTERVAL_MS", "250")
	t.Setenv("CHAIN_API_URL", "http://stacks.local:3999")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(5), cfg.Safety.DriftThreshold)
	assert.Equal(t, 7, cfg.Safety.RecoverySamples)
	assert.Equal(t, 250*time.Millisecond, cfg.Chain.PollInterval)
	assert.Equal(t, "http://stacks.local:3999", cfg.Chain.APIURL)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Tracing.Enabled)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"zero drift threshold", "DRIFT_THRESHOLD", "0"},
		{"negative recovery samples", "RECOVERY_SAMPLES", "-1"},
		{"zero poll interval", "POLL_INTERVAL_MS", "0"},
		{"port out of range", "SERVER_PORT", "70000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestMalformedIntFallsBackToDefault(t *testing.T) {
	t.Setenv("DRIFT_THRESHOLD", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(2), cfg.Safety.DriftThreshold)
}
