// Package config provides configuration loading utilities.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// TuningProfile holds detector thresholds that operators may want to tune
// per deployment without a restart-on-env-change cycle. It overlays onto
// Config's env-sourced defaults when present.
type TuningProfile struct {
	MinBehaviorsForDrift      *int     `yaml:"min_behaviors_for_drift"`
	MinDaysOfHistory          *int     `yaml:"min_days_of_history"`
	DriftScoreThreshold       *float64 `yaml:"drift_score_threshold"`
	EmergenceMinReinforcement *int     `yaml:"emergence_min_reinforcement"`
	RecencyWeightDays         *float64 `yaml:"recency_weight_days"`
	IntensityDeltaThreshold   *float64 `yaml:"intensity_delta_threshold"`
}

// LoadTuningProfile loads a tuning profile from a YAML file. A missing file
// is not an error: callers should treat it as "no overrides".
func LoadTuningProfile(path string) (*TuningProfile, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("op=config.LoadTuningProfile: %w", err)
	}
	// #nosec G304 -- tuning profile paths come from operator-controlled configuration.
	content, err := os.ReadFile(absPath)
	if os.IsNotExist(err) {
		return &TuningProfile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("op=config.LoadTuningProfile: %w", err)
	}
	var profile TuningProfile
	if err := yaml.Unmarshal(content, &profile); err != nil {
		return nil, fmt.Errorf("op=config.LoadTuningProfile: %w", err)
	}
	return &profile, nil
}

// Apply overlays non-nil tuning profile fields onto cfg, returning the
// merged Config.
func (p *TuningProfile) Apply(cfg Config) Config {
	if p == nil {
		return cfg
	}
	if p.MinBehaviorsForDrift != nil {
		cfg.MinBehaviorsForDrift = *p.MinBehaviorsForDrift
	}
	if p.MinDaysOfHistory != nil {
		cfg.MinDaysOfHistory = *p.MinDaysOfHistory
	}
	if p.DriftScoreThreshold != nil {
		cfg.DriftScoreThreshold = *p.DriftScoreThreshold
	}
	if p.EmergenceMinReinforcement != nil {
		cfg.EmergenceMinReinforcement = *p.EmergenceMinReinforcement
	}
	if p.RecencyWeightDays != nil {
		cfg.RecencyWeightDays = *p.RecencyWeightDays
	}
	if p.IntensityDeltaThreshold != nil {
		cfg.IntensityDeltaThreshold = *p.IntensityDeltaThreshold
	}
	return cfg
}
