package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Load_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "dev", cfg.AppEnv)
	require.True(t, cfg.IsDev())
	require.False(t, cfg.IsProd())
	require.Equal(t, 5, cfg.MinBehaviorsForDrift)
	require.InDelta(t, 0.3, cfg.DriftScoreThreshold, 0.0001)
	require.Equal(t, "behavior.events", cfg.InboundStream)
	require.Equal(t, "drift.events", cfg.OutboundStream)
}

func Test_Load_OverridesFromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("MIN_BEHAVIORS_FOR_DRIFT", "10")
	t.Setenv("DRIFT_SCORE_THRESHOLD", "0.45")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.IsProd())
	require.Equal(t, 10, cfg.MinBehaviorsForDrift)
	require.InDelta(t, 0.45, cfg.DriftScoreThreshold, 0.0001)
}
