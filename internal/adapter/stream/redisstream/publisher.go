// Package redisstream adapts the inbound/outbound behavior and drift event
// streams onto Redis Streams consumer-group semantics (§4.12, §6).
package redisstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/drift-detection-service/internal/domain"
	obs "github.com/fairyhunter13/drift-detection-service/internal/observability"
)

// Publisher publishes materialized drift events onto a capped outbound
// stream (§4.10, §6). XAdd calls are wrapped in an adaptive-timeout,
// tracing, metrics-emitting client so a struggling broker degrades into
// timed-out failures (returned to the caller; EventWriter logs them)
// instead of hanging the orchestrator pipeline.
type Publisher struct {
	Client *redis.Client
	Stream string
	MaxLen int64

	observable *obs.IntegratedObservableClient
}

// NewPublisher constructs a Publisher.
func NewPublisher(client *redis.Client, stream string, maxLen int64) *Publisher {
	return &Publisher{
		Client: client,
		Stream: stream,
		MaxLen: maxLen,
		observable: obs.NewIntegratedObservableClient(
			obs.ConnectionTypeQueue, obs.OperationTypePublish, stream, "redis_stream_publisher",
			2*time.Second, 200*time.Millisecond, 5*time.Second,
		),
	}
}

// PublishDriftEvent implements domain.OutboundPublisher. Evidence is
// JSON-encoded as a single string and the two windows as nested
// {start,end} objects, per §6.
func (p *Publisher) PublishDriftEvent(ctx domain.Context, e domain.DriftEvent) error {
	evidence, err := json.Marshal(e.Evidence)
	if err != nil {
		return fmt.Errorf("op=publisher.publish_drift_event.marshal_evidence: %w", err)
	}
	refWindow, err := json.Marshal(map[string]any{"start": e.ReferenceWindow.Start, "end": e.ReferenceWindow.End})
	if err != nil {
		return fmt.Errorf("op=publisher.publish_drift_event.marshal_reference_window: %w", err)
	}
	curWindow, err := json.Marshal(map[string]any{"start": e.CurrentWindow.Start, "end": e.CurrentWindow.End})
	if err != nil {
		return fmt.Errorf("op=publisher.publish_drift_event.marshal_current_window: %w", err)
	}
	affectedTargets, err := json.Marshal(e.AffectedTargets)
	if err != nil {
		return fmt.Errorf("op=publisher.publish_drift_event.marshal_affected_targets: %w", err)
	}

	values := map[string]any{
		"type":             "drift.detected",
		"drift_event_id":   e.DriftEventID,
		"user_id":          e.UserID,
		"drift_type":       e.DriftType.String(),
		"drift_score":      e.DriftScore,
		"confidence":       e.Confidence,
		"severity":         string(e.Severity),
		"affected_targets": string(affectedTargets),
		"evidence":         string(evidence),
		"reference_window": string(refWindow),
		"current_window":   string(curWindow),
		"detected_at":      e.DetectedAt.Unix(),
	}

	args := &redis.XAddArgs{
		Stream: p.Stream,
		MaxLen: p.MaxLen,
		Approx: true,
		Values: values,
	}
	err = p.observable.ExecuteWithMetrics(ctx, "xadd", func(opCtx context.Context) error {
		return p.Client.XAdd(opCtx, args).Err()
	})
	if err != nil {
		return fmt.Errorf("op=publisher.publish_drift_event.xadd: %w", err)
	}
	return nil
}
