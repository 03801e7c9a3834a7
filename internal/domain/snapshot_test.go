package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/drift-detection-service/internal/domain"
)

func mkBehavior(target string, reinforcement int, cred float64, lastSeen time.Time, state domain.BehaviorState, id string) domain.Behavior {
	return domain.Behavior{
		UserID:             "u1",
		BehaviorID:         id,
		Target:             target,
		Intent:             domain.IntentPreference,
		Context:            "general",
		Polarity:           domain.PolarityPositive,
		Credibility:        cred,
		ReinforcementCount: reinforcement,
		State:              state,
		CreatedAt:          lastSeen,
		LastSeenAt:         lastSeen,
	}
}

func TestSnapshot_TopicDistribution(t *testing.T) {
	now := time.Now().UTC()
	behaviors := []domain.Behavior{
		mkBehavior("python", 3, 0.8, now, domain.BehaviorActive, "b1"),
		mkBehavior("go", 1, 0.5, now, domain.BehaviorActive, "b2"),
	}
	snap := domain.NewBehaviorSnapshot("u1", domain.Window{Start: now.Add(-time.Hour), End: now}, false, behaviors, nil)

	assert.ElementsMatch(t, []string{"go", "python"}, snap.Targets())
	assert.InDelta(t, 0.75, float64(snap.ReinforcementCount("python"))/float64(snap.TotalReinforcement()), 0)
	assert.InDelta(t, 0.25, float64(snap.ReinforcementCount("go"))/float64(snap.TotalReinforcement()), 0.001)
}

func TestSnapshot_RelevanceRule_ExcludesSuperseded(t *testing.T) {
	now := time.Now().UTC()
	behaviors := []domain.Behavior{
		mkBehavior("python", 5, 0.8, now, domain.BehaviorSuperseded, "b1"),
	}
	current := domain.NewBehaviorSnapshot("u1", domain.Window{Start: now.Add(-time.Hour), End: now}, false, behaviors, nil)
	assert.False(t, current.HasTarget("python"))

	reference := domain.NewBehaviorSnapshot("u1", domain.Window{Start: now.Add(-time.Hour), End: now}, true, behaviors, nil)
	assert.True(t, reference.HasTarget("python"))
}

func TestSnapshot_PolarityForTarget_TieBreaksByBehaviorID(t *testing.T) {
	now := time.Now().UTC()
	behaviors := []domain.Behavior{
		mkBehavior("python", 1, 0.5, now, domain.BehaviorActive, "b2"),
		mkBehavior("python", 1, 0.5, now, domain.BehaviorActive, "b1"),
	}
	behaviors[0].Polarity = domain.PolarityNegative
	behaviors[1].Polarity = domain.PolarityPositive

	snap := domain.NewBehaviorSnapshot("u1", domain.Window{Start: now.Add(-time.Hour), End: now}, false, behaviors, nil)
	p, ok := snap.PolarityForTarget("python")
	require.True(t, ok)
	assert.Equal(t, domain.PolarityPositive, p)
}

func TestSnapshot_BehaviorByID_NoLinearSearch(t *testing.T) {
	now := time.Now().UTC()
	behaviors := []domain.Behavior{
		mkBehavior("python", 1, 0.5, now, domain.BehaviorActive, "b1"),
	}
	snap := domain.NewBehaviorSnapshot("u1", domain.Window{Start: now.Add(-time.Hour), End: now}, false, behaviors, nil)
	b, ok := snap.BehaviorByID("b1")
	require.True(t, ok)
	assert.Equal(t, "python", b.Target)

	_, ok = snap.BehaviorByID("missing")
	assert.False(t, ok)
}

func TestConflict_DerivedFlags(t *testing.T) {
	pos := domain.PolarityPositive
	neg := domain.PolarityNegative
	c := domain.Conflict{OldPolarity: &pos, NewPolarity: &neg}
	assert.True(t, c.IsPolarityReversal())
	assert.False(t, c.IsTargetMigration())

	tOld, tNew := "a", "b"
	c2 := domain.Conflict{OldTarget: &tOld, NewTarget: &tNew}
	assert.True(t, c2.IsTargetMigration())
}

func TestSeverityForScore(t *testing.T) {
	cases := []struct {
		score float64
		want  domain.Severity
	}{
		{0.0, domain.SeverityNone},
		{0.29, domain.SeverityNone},
		{0.3, domain.SeverityWeak},
		{0.59, domain.SeverityWeak},
		{0.6, domain.SeverityModerate},
		{0.79, domain.SeverityModerate},
		{0.8, domain.SeverityStrong},
		{1.0, domain.SeverityStrong},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, domain.SeverityForScore(c.score), "score=%v", c.score)
	}
}

func TestSeverity_MonotoneInScore(t *testing.T) {
	scores := []float64{0, 0.1, 0.3, 0.5, 0.6, 0.7, 0.8, 0.95}
	for i := 0; i < len(scores)-1; i++ {
		s1 := domain.SeverityForScore(scores[i])
		s2 := domain.SeverityForScore(scores[i+1])
		assert.LessOrEqual(t, s1.Rank(), s2.Rank())
	}
}
