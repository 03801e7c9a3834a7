package detect

import (
	"sort"

	"github.com/fairyhunter13/drift-detection-service/internal/domain"
)

// ContextShiftDetector signals expansion (specific->general) or contraction
// (general->specific) of a target's recorded contexts (§4.7).
type ContextShiftDetector struct{}

// NewContextShiftDetector constructs the detector.
func NewContextShiftDetector() *ContextShiftDetector { return &ContextShiftDetector{} }

// Name implements Detector.
func (d *ContextShiftDetector) Name() string { return "context-shift" }

// Detect implements Detector.
func (d *ContextShiftDetector) Detect(reference, current *domain.BehaviorSnapshot) ([]domain.Signal, error) {
	var signals []domain.Signal
	for _, t := range intersectTargets(reference, current) {
		refCtx := reference.ContextsForTarget(t)
		curCtx := current.ContextsForTarget(t)

		_, refHasGeneral := refCtx[domain.GeneralContext]
		_, curHasGeneral := curCtx[domain.GeneralContext]

		var shiftType string
		switch {
		case !refHasGeneral && curHasGeneral:
			shiftType = "EXPANSION"
		case refHasGeneral && !curHasGeneral:
			shiftType = "CONTRACTION"
		default:
			continue
		}

		diversityChange := len(curCtx) - len(refCtx)
		if diversityChange < 0 {
			diversityChange = -diversityChange
		}

		driftScore := float64(diversityChange) / 5
		if driftScore > 1 {
			driftScore = 1
		}
		driftScore *= 1.5
		if driftScore > 1 {
			driftScore = 1
		}

		confidence := (float64(len(refCtx)) + float64(len(curCtx))) / 2 / 3
		if confidence > 1 {
			confidence = 1
		}

		added, removed := diffContexts(refCtx, curCtx)

		signals = append(signals, domain.Signal{
			DriftType:       contextShiftDriftType(shiftType),
			DriftScore:      driftScore,
			AffectedTargets: []string{t},
			Confidence:      confidence,
			Evidence: domain.Evidence{
				"shift_type":          shiftType,
				"reference_contexts":  sortedKeys(refCtx),
				"current_contexts":    sortedKeys(curCtx),
				"added_contexts":      added,
				"removed_contexts":    removed,
			},
		})
	}
	return signals, nil
}

func contextShiftDriftType(shiftType string) domain.DriftType {
	if shiftType == "EXPANSION" {
		return domain.DriftContextExpansion
	}
	return domain.DriftContextContraction
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func diffContexts(ref, cur map[string]struct{}) (added, removed []string) {
	for c := range cur {
		if _, ok := ref[c]; !ok {
			added = append(added, c)
		}
	}
	for c := range ref {
		if _, ok := cur[c]; !ok {
			removed = append(removed, c)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
