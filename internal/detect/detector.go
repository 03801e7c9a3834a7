// Package detect implements the five behavioral drift detectors. Each is a
// pure function (reference, current) -> []Signal: no shared state, no I/O.
// The orchestrator holds them as values of the Detector interface and
// iterates, per the "polymorphism without inheritance" design note.
package detect

import "github.com/fairyhunter13/drift-detection-service/internal/domain"

// Detector is the common contract all five drift detectors implement.
type Detector interface {
	// Name identifies the detector in logs and evidence.
	Name() string
	// Detect compares a reference snapshot to a current snapshot and
	// returns zero or more pre-threshold signals.
	Detect(reference, current *domain.BehaviorSnapshot) ([]domain.Signal, error)
}

// Thresholds bundles the per-detector configuration values the five
// detectors read from config (§6). Grouping them keeps each detector's
// constructor small and avoids threading the full config.Config type into
// the detect package.
type Thresholds struct {
	EmergenceMinReinforcement   int
	RecencyWeightDays           float64
	AbandonmentMinReinforcement int
	AbandonmentSilenceDays      float64
	IntensityDeltaThreshold     float64
}

// All returns the five detectors in a fixed, stable order. The order here
// has no bearing on the aggregator's tie-break (which is by DriftType enum
// value, §9) but keeps orchestrator logs deterministic.
func All(t Thresholds) []Detector {
	return []Detector{
		NewTopicEmergenceDetector(t),
		NewTopicAbandonmentDetector(t),
		NewPreferenceReversalDetector(),
		NewIntensityShiftDetector(t),
		NewContextShiftDetector(),
	}
}
