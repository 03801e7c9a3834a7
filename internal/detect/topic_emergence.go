package detect

import (
	"sort"
	"time"

	"github.com/fairyhunter13/drift-detection-service/internal/domain"
)

// TopicEmergenceDetector signals when a target appears in the current
// window but not the reference window with material activity (§4.3).
type TopicEmergenceDetector struct {
	minReinforcement  int
	recencyWeightDays float64
}

// NewTopicEmergenceDetector constructs the detector from thresholds.
func NewTopicEmergenceDetector(t Thresholds) *TopicEmergenceDetector {
	return &TopicEmergenceDetector{
		minReinforcement:  t.EmergenceMinReinforcement,
		recencyWeightDays: t.RecencyWeightDays,
	}
}

// Name implements Detector.
func (d *TopicEmergenceDetector) Name() string { return "topic-emergence" }

// Detect implements Detector.
func (d *TopicEmergenceDetector) Detect(reference, current *domain.BehaviorSnapshot) ([]domain.Signal, error) {
	refTargets := make(map[string]struct{}, len(reference.Targets()))
	for _, t := range reference.Targets() {
		refTargets[t] = struct{}{}
	}

	totalActive := current.TotalReinforcement()

	var signals []domain.Signal
	for _, t := range current.Targets() {
		if _, seen := refTargets[t]; seen {
			continue
		}
		r := current.ReinforcementCount(t)
		if r < d.minReinforcement {
			continue
		}

		importance := 0.0
		if totalActive > 0 {
			importance = float64(r) / float64(totalActive)
		}

		behaviors := current.BehaviorsForTarget(t)
		now := time.Now().UTC()
		var totalDays float64
		for _, b := range behaviors {
			totalDays += now.Sub(b.LastSeenAt).Hours() / 24
		}
		avgDaysSinceLastSeen := 0.0
		if len(behaviors) > 0 {
			avgDaysSinceLastSeen = totalDays / float64(len(behaviors))
		}

		recency := 1 - avgDaysSinceLastSeen/d.recencyWeightDays
		if recency < 0.1 {
			recency = 0.1
		}

		driftScore := importance * recency
		confidence := float64(r) / 5
		if confidence > 1.0 {
			confidence = 1.0
		}

		contexts := current.ContextsForTarget(t)
		contextList := make([]string, 0, len(contexts))
		for c := range contexts {
			contextList = append(contextList, c)
		}
		sort.Strings(contextList)

		signals = append(signals, domain.Signal{
			DriftType:       domain.DriftTopicEmergence,
			DriftScore:      driftScore,
			AffectedTargets: []string{t},
			Confidence:      confidence,
			Evidence: domain.Evidence{
				"reinforcement_count":      r,
				"behavior_count":           len(behaviors),
				"avg_credibility":          current.AvgCredibility(t),
				"avg_days_since_last_seen": avgDaysSinceLastSeen,
				"recency_weight_days":      d.recencyWeightDays,
				"importance":               importance,
				"contexts":                 contextList,
			},
		})
	}
	return signals, nil
}
