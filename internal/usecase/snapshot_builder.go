// Package usecase contains the application business logic: the detection
// orchestrator, event writer, and inbound event handler that together
// drive the event -> snapshot -> detection -> event loop.
package usecase

import (
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/drift-detection-service/internal/domain"
)

// SnapshotBuilder loads behaviors and conflicts from the repositories and
// constructs the reference/current BehaviorSnapshot pair a scan needs
// (§4.2).
type SnapshotBuilder struct {
	Behaviors domain.BehaviorRepository
	Conflicts domain.ConflictRepository
	Clock     domain.Clock

	CurrentWindowDays  int
	ReferenceStartDays int
	ReferenceEndDays   int

	MinBehaviorsForDrift int
	MinDaysOfHistory     int
}

// NewSnapshotBuilder constructs a SnapshotBuilder.
func NewSnapshotBuilder(behaviors domain.BehaviorRepository, conflicts domain.ConflictRepository, clock domain.Clock) *SnapshotBuilder {
	return &SnapshotBuilder{Behaviors: behaviors, Conflicts: conflicts, Clock: clock}
}

// HasSufficientData implements the sufficient-data gate of §4.2: enough
// active behaviors and enough elapsed history for detection to be
// meaningful.
func (b *SnapshotBuilder) HasSufficientData(ctx domain.Context, userID string) (bool, error) {
	count, err := b.Behaviors.CountActive(ctx, userID)
	if err != nil {
		return false, err
	}
	if count < b.MinBehaviorsForDrift {
		return false, nil
	}
	earliest, err := b.Behaviors.EarliestCreatedAt(ctx, userID)
	if err != nil {
		return false, err
	}
	if earliest == nil {
		return false, nil
	}
	days := b.Clock.Now().Sub(*earliest).Hours() / 24
	return days >= float64(b.MinDaysOfHistory), nil
}

// BuildReferenceAndCurrent builds the reference window
// [now-S, now-E] (includeSuperseded=true) and the current window
// [now-C, now] (includeSuperseded=false), per §4.2.
func (b *SnapshotBuilder) BuildReferenceAndCurrent(ctx domain.Context, userID string) (reference, current *domain.BehaviorSnapshot, err error) {
	tracer := otel.Tracer("usecase.snapshot_builder")
	ctx, span := tracer.Start(ctx, "SnapshotBuilder.BuildReferenceAndCurrent")
	defer span.End()

	now := b.Clock.Now()
	refWindow := domain.Window{
		Start: now.Add(-time.Duration(b.ReferenceStartDays) * 24 * time.Hour),
		End:   now.Add(-time.Duration(b.ReferenceEndDays) * 24 * time.Hour),
	}
	curWindow := domain.Window{
		Start: now.Add(-time.Duration(b.CurrentWindowDays) * 24 * time.Hour),
		End:   now,
	}

	reference, err = b.build(ctx, userID, refWindow, true)
	if err != nil {
		return nil, nil, err
	}
	current, err = b.build(ctx, userID, curWindow, false)
	if err != nil {
		return nil, nil, err
	}
	return reference, current, nil
}

func (b *SnapshotBuilder) build(ctx domain.Context, userID string, window domain.Window, includeSuperseded bool) (*domain.BehaviorSnapshot, error) {
	behaviors, err := b.Behaviors.ListInWindow(ctx, userID, domain.BehaviorFilter{
		Start:             window.Start,
		End:               window.End,
		IncludeSuperseded: includeSuperseded,
	})
	if err != nil {
		return nil, err
	}
	conflicts, err := b.Conflicts.ListInWindow(ctx, userID, window.Start, window.End)
	if err != nil {
		return nil, err
	}
	return domain.NewBehaviorSnapshot(userID, window, includeSuperseded, behaviors, conflicts), nil
}
