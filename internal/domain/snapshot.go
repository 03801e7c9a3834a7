package domain

import (
	"sort"
	"time"
)

// BehaviorSnapshot is an immutable view of a user's behaviors and
// conflicts within a time window, plus the derived distributions detectors
// read. Per the redesign note in §9, an index from BehaviorID to the
// matching Behavior is built once at construction time so detectors never
// fall back to a linear search.
type BehaviorSnapshot struct {
	UserID            string
	Window            Window
	IncludeSuperseded bool
	Behaviors         []Behavior
	Conflicts         []Conflict

	byID              map[string]*Behavior
	topicDist         map[string]float64
	intentDist        map[string]float64
	polarityByTarget  map[string]Polarity
	byTarget          map[string][]*Behavior
}

// NewBehaviorSnapshot builds a snapshot and eagerly computes its derived
// structures (§4.2).
func NewBehaviorSnapshot(userID string, window Window, includeSuperseded bool, behaviors []Behavior, conflicts []Conflict) *BehaviorSnapshot {
	s := &BehaviorSnapshot{
		UserID:            userID,
		Window:            window,
		IncludeSuperseded: includeSuperseded,
		Behaviors:         behaviors,
		Conflicts:         conflicts,
		byID:              make(map[string]*Behavior, len(behaviors)),
		byTarget:          make(map[string][]*Behavior),
	}
	for i := range s.Behaviors {
		b := &s.Behaviors[i]
		s.byID[b.BehaviorID] = b
		s.byTarget[b.Target] = append(s.byTarget[b.Target], b)
	}
	s.computeDistributions()
	return s
}

// relevant reports whether a behavior contributes to this snapshot's
// derived structures under the relevance rule of §4.2: active-only unless
// IncludeSuperseded.
func (s *BehaviorSnapshot) relevant(b *Behavior) bool {
	return s.IncludeSuperseded || b.State == BehaviorActive
}

func (s *BehaviorSnapshot) computeDistributions() {
	totalReinforcement := 0
	var relevantBehaviors []*Behavior
	for i := range s.Behaviors {
		b := &s.Behaviors[i]
		if !s.relevant(b) {
			continue
		}
		relevantBehaviors = append(relevantBehaviors, b)
		totalReinforcement += b.ReinforcementCount
	}

	s.topicDist = make(map[string]float64)
	if totalReinforcement > 0 {
		byTarget := make(map[string]int)
		for _, b := range relevantBehaviors {
			byTarget[b.Target] += b.ReinforcementCount
		}
		for t, r := range byTarget {
			s.topicDist[t] = float64(r) / float64(totalReinforcement)
		}
	}

	s.intentDist = make(map[string]float64)
	if len(relevantBehaviors) > 0 {
		byIntent := make(map[Intent]int)
		for _, b := range relevantBehaviors {
			byIntent[b.Intent]++
		}
		for in, c := range byIntent {
			s.intentDist[string(in)] = float64(c) / float64(len(relevantBehaviors))
		}
	}

	s.polarityByTarget = make(map[string]Polarity)
	best := make(map[string]*Behavior)
	for _, b := range relevantBehaviors {
		cur, ok := best[b.Target]
		if !ok {
			best[b.Target] = b
			continue
		}
		if b.LastSeenAt.After(cur.LastSeenAt) ||
			(b.LastSeenAt.Equal(cur.LastSeenAt) && b.BehaviorID < cur.BehaviorID) {
			best[b.Target] = b
		}
	}
	for t, b := range best {
		s.polarityByTarget[t] = b.Polarity
	}
}

// Targets returns the distinct targets present in this snapshot's relevant
// behaviors, in a stable (sorted) order.
func (s *BehaviorSnapshot) Targets() []string {
	out := make([]string, 0, len(s.topicDist))
	for t := range s.topicDist {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// HasTarget reports whether t has any relevant behaviors in this snapshot.
func (s *BehaviorSnapshot) HasTarget(t string) bool {
	_, ok := s.topicDist[t]
	return ok
}

// BehaviorsForTarget returns the relevant behaviors for a target.
func (s *BehaviorSnapshot) BehaviorsForTarget(t string) []*Behavior {
	var out []*Behavior
	for _, b := range s.byTarget[t] {
		if s.relevant(b) {
			out = append(out, b)
		}
	}
	return out
}

// ReinforcementCount sums ReinforcementCount over relevant behaviors of a
// target.
func (s *BehaviorSnapshot) ReinforcementCount(t string) int {
	total := 0
	for _, b := range s.BehaviorsForTarget(t) {
		total += b.ReinforcementCount
	}
	return total
}

// TotalReinforcement sums ReinforcementCount over all relevant behaviors in
// the snapshot; used by detectors to normalize per-target importance.
func (s *BehaviorSnapshot) TotalReinforcement() int {
	total := 0
	for t := range s.topicDist {
		total += s.ReinforcementCount(t)
	}
	return total
}

// ContextsForTarget returns the set of distinct contexts recorded for a
// target among relevant behaviors.
func (s *BehaviorSnapshot) ContextsForTarget(t string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, b := range s.BehaviorsForTarget(t) {
		out[b.Context] = struct{}{}
	}
	return out
}

// AvgCredibility averages Credibility over relevant behaviors of a target;
// zero when the target has none.
func (s *BehaviorSnapshot) AvgCredibility(t string) float64 {
	bs := s.BehaviorsForTarget(t)
	if len(bs) == 0 {
		return 0
	}
	sum := 0.0
	for _, b := range bs {
		sum += b.Credibility
	}
	return sum / float64(len(bs))
}

// MaxLastSeenAt returns the latest LastSeenAt among relevant behaviors of a
// target, or the zero time if none.
func (s *BehaviorSnapshot) MaxLastSeenAt(t string) time.Time {
	var max time.Time
	for _, b := range s.BehaviorsForTarget(t) {
		if b.LastSeenAt.After(max) {
			max = b.LastSeenAt
		}
	}
	return max
}

// BehaviorByID looks up a behavior by id in O(1); this is the index the
// design notes (§9) require instead of a linear scan across snapshots.
func (s *BehaviorSnapshot) BehaviorByID(id string) (*Behavior, bool) {
	b, ok := s.byID[id]
	return b, ok
}

// PolarityForTarget returns the polarity of the behavior with maximum
// LastSeenAt for a target (ties broken by BehaviorID lexicographic, §4.2).
func (s *BehaviorSnapshot) PolarityForTarget(t string) (Polarity, bool) {
	p, ok := s.polarityByTarget[t]
	return p, ok
}

// PolarityReversals filters the snapshot's conflicts to those whose
// derived IsPolarityReversal is true.
func (s *BehaviorSnapshot) PolarityReversals() []Conflict {
	var out []Conflict
	for _, c := range s.Conflicts {
		if c.IsPolarityReversal() {
			out = append(out, c)
		}
	}
	return out
}

// TargetMigrations filters the snapshot's conflicts to those whose derived
// IsTargetMigration is true.
func (s *BehaviorSnapshot) TargetMigrations() []Conflict {
	var out []Conflict
	for _, c := range s.Conflicts {
		if c.IsTargetMigration() {
			out = append(out, c)
		}
	}
	return out
}
