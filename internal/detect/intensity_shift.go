package detect

import "github.com/fairyhunter13/drift-detection-service/internal/domain"

// IntensityShiftDetector signals credibility shifts on targets present in
// both windows (§4.6).
type IntensityShiftDetector struct {
	deltaThreshold float64
}

// NewIntensityShiftDetector constructs the detector from thresholds.
func NewIntensityShiftDetector(t Thresholds) *IntensityShiftDetector {
	return &IntensityShiftDetector{deltaThreshold: t.IntensityDeltaThreshold}
}

// Name implements Detector.
func (d *IntensityShiftDetector) Name() string { return "intensity-shift" }

// Detect implements Detector.
func (d *IntensityShiftDetector) Detect(reference, current *domain.BehaviorSnapshot) ([]domain.Signal, error) {
	var signals []domain.Signal
	for _, t := range intersectTargets(reference, current) {
		refCred := reference.AvgCredibility(t)
		curCred := current.AvgCredibility(t)
		delta := curCred - refCred
		absDelta := delta
		if absDelta < 0 {
			absDelta = -absDelta
		}
		if absDelta < d.deltaThreshold {
			continue
		}

		direction := "increase"
		if delta < 0 {
			direction = "decrease"
		}

		confidence := refCred
		if curCred < confidence {
			confidence = curCred
		}

		relativeChange := 0.0
		if refCred != 0 {
			relativeChange = delta / refCred
		}

		signals = append(signals, domain.Signal{
			DriftType:       domain.DriftIntensityShift,
			DriftScore:      absDelta,
			AffectedTargets: []string{t},
			Confidence:      confidence,
			Evidence: domain.Evidence{
				"reference_credibility": refCred,
				"current_credibility":   curCred,
				"delta":                 absDelta,
				"direction":             direction,
				"relative_change":       relativeChange,
			},
		})
	}
	return signals, nil
}

// intersectTargets returns targets present in both snapshots, sorted.
func intersectTargets(reference, current *domain.BehaviorSnapshot) []string {
	curSet := make(map[string]struct{})
	for _, t := range current.Targets() {
		curSet[t] = struct{}{}
	}
	var out []string
	for _, t := range reference.Targets() {
		if _, ok := curSet[t]; ok {
			out = append(out, t)
		}
	}
	return out
}
