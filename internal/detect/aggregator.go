package detect

import (
	"log/slog"
	"sort"

	"github.com/fairyhunter13/drift-detection-service/internal/domain"
)

// Aggregate deduplicates detector signals per target (highest score wins),
// thresholds on drift_score_threshold and "weak and above" severity, and
// sorts the result by drift_score descending (§4.8).
//
// Ties for the max score on a target are broken by DriftType enum order,
// never by arbitrary input order or object identity (§9 redesign note).
func Aggregate(signals []domain.Signal, threshold float64) []domain.Signal {
	bestByTarget := make(map[string]domain.Signal)
	for _, sig := range signals {
		if len(sig.AffectedTargets) == 0 {
			slog.Warn("aggregator skipping signal with no affected targets", slog.String("drift_type", sig.DriftType.String()))
			continue
		}
		for _, t := range sig.AffectedTargets {
			cur, ok := bestByTarget[t]
			if !ok || isBetter(sig, cur) {
				bestByTarget[t] = sig
			}
		}
	}

	deduped := make([]domain.Signal, 0, len(bestByTarget))
	byIdentity := make(map[string]bool)
	for _, sig := range bestByTarget {
		key := identityKey(sig)
		if byIdentity[key] {
			continue
		}
		byIdentity[key] = true
		deduped = append(deduped, sig)
	}

	out := make([]domain.Signal, 0, len(deduped))
	for _, sig := range deduped {
		if sig.DriftScore < threshold {
			continue
		}
		if domain.SeverityForScore(sig.DriftScore).Rank() < domain.SeverityWeak.Rank() {
			continue
		}
		out = append(out, sig)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DriftScore > out[j].DriftScore
	})
	return out
}

// isBetter reports whether candidate should replace incumbent as the best
// signal for a target: strictly higher score wins; on an exact tie, lower
// DriftType enum value wins (deterministic tie-break per §9).
func isBetter(candidate, incumbent domain.Signal) bool {
	if candidate.DriftScore != incumbent.DriftScore {
		return candidate.DriftScore > incumbent.DriftScore
	}
	return candidate.DriftType < incumbent.DriftType
}

// identityKey gives dedup a stable key for "the same signal appears under
// multiple targets" without relying on pointer identity.
func identityKey(sig domain.Signal) string {
	targets := append([]string(nil), sig.AffectedTargets...)
	sort.Strings(targets)
	key := sig.DriftType.String()
	for _, t := range targets {
		key += "|" + t
	}
	return key
}
