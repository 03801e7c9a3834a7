package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_LoadTuningProfile_MissingFileIsNotError(t *testing.T) {
	profile, err := LoadTuningProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.NotNil(t, profile)

	cfg := Config{MinBehaviorsForDrift: 5}
	merged := profile.Apply(cfg)
	require.Equal(t, 5, merged.MinBehaviorsForDrift)
}

func Test_LoadTuningProfile_OverridesSelectedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	content := "min_behaviors_for_drift: 8\ndrift_score_threshold: 0.5\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	profile, err := LoadTuningProfile(path)
	require.NoError(t, err)

	cfg := Config{MinBehaviorsForDrift: 5, DriftScoreThreshold: 0.3, MinDaysOfHistory: 7}
	merged := profile.Apply(cfg)
	require.Equal(t, 8, merged.MinBehaviorsForDrift)
	require.InDelta(t, 0.5, merged.DriftScoreThreshold, 0.0001)
	require.Equal(t, 7, merged.MinDaysOfHistory)
}
