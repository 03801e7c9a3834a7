package usecase

import (
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/drift-detection-service/internal/domain"
)

// EventWriter persists drift events then publishes them downstream,
// treating the store as the authoritative record (§4.10).
type EventWriter struct {
	DriftEvents domain.DriftEventRepository
	Publisher   domain.OutboundPublisher
}

// NewEventWriter constructs an EventWriter.
func NewEventWriter(repo domain.DriftEventRepository, pub domain.OutboundPublisher) *EventWriter {
	return &EventWriter{DriftEvents: repo, Publisher: pub}
}

// Write persists each event and collects those that succeeded; it never
// aborts the batch on an individual insert failure. Successfully persisted
// events are then published; publish failure is logged but does not
// un-persist the event. Returns the persisted events with their assigned
// DriftEventID set.
func (w *EventWriter) Write(ctx domain.Context, events []domain.DriftEvent) []domain.DriftEvent {
	tracer := otel.Tracer("usecase.event_writer")
	ctx, span := tracer.Start(ctx, "EventWriter.Write")
	defer span.End()

	var persisted []domain.DriftEvent
	for _, e := range events {
		id, err := w.DriftEvents.Insert(ctx, e)
		if err != nil {
			slog.Error("failed to persist drift event",
				slog.String("user_id", e.UserID),
				slog.String("drift_type", e.DriftType.String()),
				slog.Any("error", err))
			continue
		}
		e.DriftEventID = id
		persisted = append(persisted, e)
	}

	if w.Publisher != nil {
		for _, e := range persisted {
			if err := w.Publisher.PublishDriftEvent(ctx, e); err != nil {
				slog.Error("failed to publish drift event",
					slog.String("drift_event_id", e.DriftEventID),
					slog.String("user_id", e.UserID),
					slog.Any("error", err))
			}
		}
	}
	return persisted
}
