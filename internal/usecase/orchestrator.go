package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/drift-detection-service/internal/detect"
	"github.com/fairyhunter13/drift-detection-service/internal/domain"
)

// Orchestrator is the single entry point DetectDrift(user) -> []DriftEvent
// (§4.9): it runs the pre-flight gates, builds snapshots, fans out to the
// detectors, aggregates, materializes events, and persists them.
type Orchestrator struct {
	Snapshots   *SnapshotBuilder
	DriftEvents domain.DriftEventRepository
	Writer      *EventWriter
	Detectors   []detect.Detector
	Clock       domain.Clock

	ScanCooldown        time.Duration
	DriftScoreThreshold float64
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(
	snapshots *SnapshotBuilder,
	driftEvents domain.DriftEventRepository,
	writer *EventWriter,
	detectors []detect.Detector,
	clock domain.Clock,
) *Orchestrator {
	return &Orchestrator{
		Snapshots:   snapshots,
		DriftEvents: driftEvents,
		Writer:      writer,
		Detectors:   detectors,
		Clock:       clock,
	}
}

// DetectDrift runs the full detection pipeline for a single user and
// returns every DriftEvent it persisted. The expected gates return wrapped
// sentinel errors (domain.ErrInsufficientData, domain.ErrCooldown) that
// callers distinguish with errors.Is; a scan with no surviving signals
// returns an empty result and no error.
func (o *Orchestrator) DetectDrift(ctx domain.Context, userID string) ([]domain.DriftEvent, error) {
	return o.detectDrift(ctx, userID, false)
}

// DetectDriftForce runs the pipeline bypassing only the cooldown gate,
// for callers (the manual POST /detect?force=true route) that want a scan
// even if one ran within scan_cooldown_seconds. The sufficient-data gate
// remains an invariant regardless of force.
func (o *Orchestrator) DetectDriftForce(ctx domain.Context, userID string) ([]domain.DriftEvent, error) {
	return o.detectDrift(ctx, userID, true)
}

func (o *Orchestrator) detectDrift(ctx domain.Context, userID string, force bool) ([]domain.DriftEvent, error) {
	tracer := otel.Tracer("usecase.orchestrator")
	ctx, span := tracer.Start(ctx, "Orchestrator.DetectDrift")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	if userID == "" {
		return nil, fmt.Errorf("op=orchestrator.detect_drift: %w: empty user id", domain.ErrValidation)
	}

	sufficient, err := o.Snapshots.HasSufficientData(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("op=orchestrator.detect_drift.sufficient_data: %w", err)
	}
	if !sufficient {
		return nil, fmt.Errorf("op=orchestrator.detect_drift: %w", domain.ErrInsufficientData)
	}

	latest, err := o.DriftEvents.LatestDetectedAt(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("op=orchestrator.detect_drift.latest_detected_at: %w", err)
	}
	now := o.Clock.Now()
	if !force && latest != nil && now.Sub(*latest) < o.ScanCooldown {
		return nil, fmt.Errorf("op=orchestrator.detect_drift: %w", domain.ErrCooldown)
	}

	reference, current, err := o.Snapshots.BuildReferenceAndCurrent(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("op=orchestrator.detect_drift.build_snapshots: %w", err)
	}

	var signals []domain.Signal
	for _, d := range o.Detectors {
		sigs, err := d.Detect(reference, current)
		if err != nil {
			slog.Error("detector failed; continuing with remaining detectors",
				slog.String("detector", d.Name()),
				slog.String("user_id", userID),
				slog.Any("error", err))
			continue
		}
		signals = append(signals, sigs...)
	}

	aggregated := detect.Aggregate(signals, o.DriftScoreThreshold)
	if len(aggregated) == 0 {
		return nil, nil
	}

	events := make([]domain.DriftEvent, 0, len(aggregated))
	for _, sig := range aggregated {
		events = append(events, domain.FromSignal(sig, userID, reference.Window, current.Window, now, nil, nil))
	}

	return o.Writer.Write(ctx, events), nil
}
