package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyEnvOverrides(t *testing.T) {
	t.Run("SCRIPTKEEPER_STATE_PATH overrides the default", func(t *testing.T) {
		t.Setenv("SCRIPTKEEPER_STATE_PATH", "/var/lib/scriptkeeper")

		cfg := Default()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/var/lib/scriptkeeper", cfg.Tcl.StatePath)
	})

	t.Run("SCRIPTKEEPER_EVAL_TIMEOUT_MS rejects non-positive values", func(t *testing.T) {
		t.Setenv("SCRIPTKEEPER_EVAL_TIMEOUT_MS", "-1")

		cfg := Default()
		want := cfg.Security.EvalTimeoutMs
		cfg.applyEnvOverrides()

		assert.Equal(t, want, cfg.Security.EvalTimeoutMs)
	})

	t.Run("SCRIPTKEEPER_GATEWAY_PORT overrides the configured port", func(t *testing.T) {
		t.Setenv("SCRIPTKEEPER_GATEWAY_PORT", "9999")

		cfg := Default()
		cfg.applyEnvOverrides()

		require.Equal(t, 9999, cfg.Gateway.Port)
		assert.Equal(t, "0.0.0.0:9999", cfg.GatewayAddr())
	})
}

func TestLoadMissingFileReturnsDefaultsWithEnvOverrides(t *testing.T) {
	t.Setenv("SCRIPTKEEPER_MAX_OUTPUT_LINES", "42")

	cfg, err := Load("/nonexistent/path/config.json5")
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.MaxOutputLines())
}
