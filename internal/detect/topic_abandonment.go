package detect

import (
	"time"

	"github.com/fairyhunter13/drift-detection-service/internal/domain"
)

// TopicAbandonmentDetector signals when a previously reinforced target has
// gone silent (§4.4).
type TopicAbandonmentDetector struct {
	minReinforcement int
	silenceDays      float64
}

// NewTopicAbandonmentDetector constructs the detector from thresholds.
func NewTopicAbandonmentDetector(t Thresholds) *TopicAbandonmentDetector {
	return &TopicAbandonmentDetector{
		minReinforcement: t.AbandonmentMinReinforcement,
		silenceDays:      t.AbandonmentSilenceDays,
	}
}

// Name implements Detector.
func (d *TopicAbandonmentDetector) Name() string { return "topic-abandonment" }

// Detect implements Detector.
func (d *TopicAbandonmentDetector) Detect(reference, current *domain.BehaviorSnapshot) ([]domain.Signal, error) {
	curTargets := make(map[string]struct{}, len(current.Targets()))
	for _, t := range current.Targets() {
		curTargets[t] = struct{}{}
	}

	now := time.Now().UTC()
	var signals []domain.Signal
	for _, t := range reference.Targets() {
		total := reference.ReinforcementCount(t)
		if total < d.minReinforcement {
			continue
		}
		if _, present := curTargets[t]; present {
			continue
		}
		maxLastSeen := reference.MaxLastSeenAt(t)
		daysSilent := now.Sub(maxLastSeen).Hours() / 24
		if daysSilent < d.silenceDays {
			continue
		}

		histW := float64(total) / 5
		if histW > 1 {
			histW = 1
		}
		silW := daysSilent / d.silenceDays
		if silW > 1 {
			silW = 1
		}

		signals = append(signals, domain.Signal{
			DriftType:       domain.DriftTopicAbandonment,
			DriftScore:      histW * silW,
			AffectedTargets: []string{t},
			Confidence:      histW,
			Evidence: domain.Evidence{
				"historical_reinforcement_count": total,
				"days_silent":                    daysSilent,
				"last_seen_at":                    maxLastSeen,
			},
		})
	}
	return signals, nil
}
