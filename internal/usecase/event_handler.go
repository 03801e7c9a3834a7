package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/drift-detection-service/internal/domain"
)

const (
	eventBehaviorCreated          = "behavior.created"
	eventBehaviorReinforced       = "behavior.reinforced"
	eventBehaviorSuperseded       = "behavior.superseded"
	eventBehaviorConflictResolved = "behavior.conflict.resolved"
)

// EventHandler applies one parsed inbound behavior event to the store and
// decides whether to enqueue a scan (§4.11).
type EventHandler struct {
	Behaviors domain.BehaviorRepository
	Conflicts domain.ConflictRepository
	ScanJobs  domain.ScanJobRepository
	Clock     domain.Clock
	Idem      *IdempotencyCache

	ScanCooldown         time.Duration
	MinBehaviorsForDrift int
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(behaviors domain.BehaviorRepository, conflicts domain.ConflictRepository, scanJobs domain.ScanJobRepository, clock domain.Clock, idem *IdempotencyCache) *EventHandler {
	return &EventHandler{Behaviors: behaviors, Conflicts: conflicts, ScanJobs: scanJobs, Clock: clock, Idem: idem}
}

// Handle dispatches an inbound event by its event_type. Handling the same
// event_id twice is a no-op (§4.11, §8 handler idempotency).
func (h *EventHandler) Handle(ctx domain.Context, evt domain.InboundEvent) error {
	tracer := otel.Tracer("usecase.event_handler")
	ctx, span := tracer.Start(ctx, "EventHandler.Handle")
	defer span.End()
	span.SetAttributes(attribute.String("event.type", evt.EventType), attribute.String("event.id", evt.ID))

	if h.Idem.Seen(evt.ID) {
		slog.Debug("duplicate inbound event; skipping", slog.String("event_id", evt.ID))
		return nil
	}

	var err error
	switch evt.EventType {
	case eventBehaviorCreated:
		err = h.handleCreated(ctx, evt.Fields)
	case eventBehaviorReinforced:
		err = h.handleReinforced(ctx, evt.Fields)
	case eventBehaviorSuperseded:
		err = h.handleSuperseded(ctx, evt.Fields)
	case eventBehaviorConflictResolved:
		err = h.handleConflictResolved(ctx, evt.Fields)
	default:
		slog.Warn("unknown inbound event type; dropping", slog.String("event_type", evt.EventType), slog.String("event_id", evt.ID))
		return nil
	}
	if err != nil {
		return err
	}
	// Only mark as seen once the event has actually been applied: a
	// transient failure here must still be visible for redelivery/DLQ,
	// not silently swallowed as a duplicate (§4.12, §4.15).
	h.Idem.Mark(evt.ID)
	return nil
}

func (h *EventHandler) handleCreated(ctx domain.Context, f map[string]any) error {
	userID := stringField(f, "user_id", "")
	behaviorID := stringField(f, "behavior_id", "")
	if userID == "" || behaviorID == "" {
		return fmt.Errorf("op=event_handler.created: %w: user_id and behavior_id required", domain.ErrValidation)
	}

	now := h.Clock.Now()
	createdAt := timeField(f, "created_at", now)
	lastSeenAt := timeField(f, "last_seen_at", createdAt)

	b := domain.Behavior{
		UserID:             userID,
		BehaviorID:         behaviorID,
		Target:             stringField(f, "target", ""),
		Intent:             domain.Intent(stringField(f, "intent", string(domain.IntentPreference))),
		Context:            stringField(f, "context", domain.GeneralContext),
		Polarity:           domain.Polarity(stringField(f, "polarity", string(domain.PolarityNeutral))),
		Credibility:        floatField(f, "credibility", 0.5),
		ReinforcementCount: intField(f, "reinforcement_count", 1),
		State:              domain.BehaviorActive,
		CreatedAt:          createdAt,
		LastSeenAt:         lastSeenAt,
	}
	if err := h.Behaviors.Upsert(ctx, b); err != nil {
		return fmt.Errorf("op=event_handler.created: %w", err)
	}
	h.maybeEnqueueScan(ctx, userID, eventBehaviorCreated, domain.PriorityNormal)
	return nil
}

func (h *EventHandler) handleReinforced(ctx domain.Context, f map[string]any) error {
	userID := stringField(f, "user_id", "")
	behaviorID := stringField(f, "behavior_id", "")
	if userID == "" || behaviorID == "" {
		return fmt.Errorf("op=event_handler.reinforced: %w: user_id and behavior_id required", domain.ErrValidation)
	}

	existing, err := h.Behaviors.Get(ctx, userID, behaviorID)
	if err != nil {
		if isNotFound(err) {
			slog.Warn("reinforced event for unknown behavior; dropping", slog.String("user_id", userID), slog.String("behavior_id", behaviorID))
			return nil
		}
		return fmt.Errorf("op=event_handler.reinforced: %w", err)
	}

	newCount := intField(f, "new_reinforcement_count", existing.ReinforcementCount+1)
	newCred := floatField(f, "new_credibility", existing.Credibility)
	lastSeenAt := timeField(f, "last_seen_at", h.Clock.Now())

	patch := domain.BehaviorPatch{
		ReinforcementCount: &newCount,
		Credibility:        &newCred,
		LastSeenAt:         &lastSeenAt,
	}
	if err := h.Behaviors.Update(ctx, userID, behaviorID, patch); err != nil {
		return fmt.Errorf("op=event_handler.reinforced: %w", err)
	}
	h.maybeEnqueueScan(ctx, userID, eventBehaviorReinforced, domain.PriorityNormal)
	return nil
}

func (h *EventHandler) handleSuperseded(ctx domain.Context, f map[string]any) error {
	userID := stringField(f, "user_id", "")
	behaviorID := stringField(f, "old_behavior_id", "")
	if userID == "" || behaviorID == "" {
		return fmt.Errorf("op=event_handler.superseded: %w: user_id and old_behavior_id required", domain.ErrValidation)
	}

	state := domain.BehaviorSuperseded
	if err := h.Behaviors.Update(ctx, userID, behaviorID, domain.BehaviorPatch{State: &state}); err != nil {
		if isNotFound(err) {
			slog.Warn("superseded event for unknown behavior; dropping", slog.String("user_id", userID), slog.String("behavior_id", behaviorID))
			return nil
		}
		return fmt.Errorf("op=event_handler.superseded: %w", err)
	}
	h.maybeEnqueueScan(ctx, userID, eventBehaviorSuperseded, domain.PriorityNormal)
	return nil
}

func (h *EventHandler) handleConflictResolved(ctx domain.Context, f map[string]any) error {
	userID := stringField(f, "user_id", "")
	conflictID := stringField(f, "conflict_id", "")
	if userID == "" || conflictID == "" {
		return fmt.Errorf("op=event_handler.conflict_resolved: %w: user_id and conflict_id required", domain.ErrValidation)
	}

	c := domain.Conflict{
		UserID:           userID,
		ConflictID:       conflictID,
		BehaviorID1:      stringField(f, "behavior_id_1", ""),
		BehaviorID2:      stringField(f, "behavior_id_2", ""),
		ConflictType:     stringField(f, "conflict_type", ""),
		ResolutionStatus: stringField(f, "resolution_status", ""),
		OldTarget:        optionalStringField(f, "old_target"),
		NewTarget:        optionalStringField(f, "new_target"),
		CreatedAt:        timeField(f, "created_at", h.Clock.Now()),
	}
	if p := optionalStringField(f, "old_polarity"); p != nil {
		pol := domain.Polarity(*p)
		c.OldPolarity = &pol
	}
	if p := optionalStringField(f, "new_polarity"); p != nil {
		pol := domain.Polarity(*p)
		c.NewPolarity = &pol
	}

	if err := h.Conflicts.Insert(ctx, c); err != nil {
		return fmt.Errorf("op=event_handler.conflict_resolved: %w", err)
	}
	h.maybeEnqueueScan(ctx, userID, eventBehaviorConflictResolved, domain.PriorityHigh)
	return nil
}

// maybeEnqueueScan is the scan-enqueue gate of §4.11: enqueue iff no
// non-terminal job exists, the cooldown has elapsed, and the user has
// enough active behaviors. Failures are logged, never propagated — a
// missed scan trigger is recoverable by the scheduler's periodic sweeps.
func (h *EventHandler) maybeEnqueueScan(ctx domain.Context, userID, trigger string, priority domain.ScanJobPriority) {
	hasNonTerminal, err := h.ScanJobs.HasNonTerminal(ctx, userID)
	if err != nil {
		slog.Error("scan gate: HasNonTerminal failed", slog.String("user_id", userID), slog.Any("error", err))
		return
	}
	if hasNonTerminal {
		return
	}

	lastCompleted, err := h.ScanJobs.LastCompletedAt(ctx, userID)
	if err != nil {
		slog.Error("scan gate: LastCompletedAt failed", slog.String("user_id", userID), slog.Any("error", err))
		return
	}
	if lastCompleted != nil && h.Clock.Now().Sub(*lastCompleted) < h.ScanCooldown {
		return
	}

	count, err := h.Behaviors.CountActive(ctx, userID)
	if err != nil {
		slog.Error("scan gate: CountActive failed", slog.String("user_id", userID), slog.Any("error", err))
		return
	}
	if count < h.MinBehaviorsForDrift {
		return
	}

	if _, err := h.ScanJobs.Enqueue(ctx, userID, trigger, priority); err != nil {
		slog.Error("scan gate: enqueue failed", slog.String("user_id", userID), slog.Any("error", err))
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
