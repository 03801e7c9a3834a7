package detect

import "github.com/fairyhunter13/drift-detection-service/internal/domain"

// PreferenceReversalDetector signals polarity flips recorded as conflicts
// (§4.5).
type PreferenceReversalDetector struct{}

// NewPreferenceReversalDetector constructs the detector.
func NewPreferenceReversalDetector() *PreferenceReversalDetector {
	return &PreferenceReversalDetector{}
}

// Name implements Detector.
func (d *PreferenceReversalDetector) Name() string { return "preference-reversal" }

// Detect implements Detector.
func (d *PreferenceReversalDetector) Detect(reference, current *domain.BehaviorSnapshot) ([]domain.Signal, error) {
	var signals []domain.Signal
	for _, c := range current.PolarityReversals() {
		old, ok := lookupBehavior(c.BehaviorID1, reference, current)
		if !ok {
			continue
		}
		newB, ok := lookupBehavior(c.BehaviorID2, current, reference)
		if !ok {
			continue
		}

		driftScore := (old.Credibility + newB.Credibility) / 2

		target := ""
		switch {
		case c.OldTarget != nil:
			target = *c.OldTarget
		case c.NewTarget != nil:
			target = *c.NewTarget
		case old.Target != "":
			target = old.Target
		default:
			target = newB.Target
		}

		evidence := domain.Evidence{
			"behavior_id_1":  c.BehaviorID1,
			"behavior_id_2":  c.BehaviorID2,
			"old_polarity":   string(*c.OldPolarity),
			"new_polarity":   string(*c.NewPolarity),
			"old_credibility": old.Credibility,
			"new_credibility": newB.Credibility,
		}
		if c.IsTargetMigration() {
			evidence["target_migration"] = true
			evidence["old_target"] = *c.OldTarget
			evidence["new_target"] = *c.NewTarget
		}

		signals = append(signals, domain.Signal{
			DriftType:       domain.DriftPreferenceReversal,
			DriftScore:      driftScore,
			AffectedTargets: []string{target},
			Confidence:      driftScore,
			Evidence:        evidence,
		})
	}
	return signals, nil
}

// lookupBehavior searches first in primary then secondary for id.
func lookupBehavior(id string, primary, secondary *domain.BehaviorSnapshot) (*domain.Behavior, bool) {
	if b, ok := primary.BehaviorByID(id); ok {
		return b, true
	}
	if b, ok := secondary.BehaviorByID(id); ok {
		return b, true
	}
	return nil, false
}
