package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/drift-detection-service/internal/domain"
)

// DriftEventRepo persists and loads drift events from PostgreSQL.
type DriftEventRepo struct{ Pool PgxPool }

// NewDriftEventRepo constructs a DriftEventRepo with the given pool.
func NewDriftEventRepo(p PgxPool) *DriftEventRepo { return &DriftEventRepo{Pool: p} }

// Insert stores a new drift event, assigning an id if absent, and returns
// the persisted id.
func (r *DriftEventRepo) Insert(ctx domain.Context, e domain.DriftEvent) (string, error) {
	tracer := otel.Tracer("repo.drift_events")
	ctx, span := tracer.Start(ctx, "drift_events.Insert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "drift_events"),
	)

	id := e.DriftEventID
	if id == "" {
		id = uuid.New().String()
	}
	evidence, err := json.Marshal(e.Evidence)
	if err != nil {
		return "", fmt.Errorf("op=drift_event.insert.marshal_evidence: %w", err)
	}
	q := `INSERT INTO drift_events
		(drift_event_id, user_id, drift_type, drift_score, confidence, severity, affected_targets, evidence,
		 reference_window_start, reference_window_end, current_window_start, current_window_end,
		 detected_at, acknowledged_at, behavior_ref_ids, conflict_ref_ids)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`
	_, err = r.Pool.Exec(ctx, q,
		id, e.UserID, e.DriftType.String(), e.DriftScore, e.Confidence, string(e.Severity),
		e.AffectedTargets, evidence,
		e.ReferenceWindow.Start, e.ReferenceWindow.End, e.CurrentWindow.Start, e.CurrentWindow.End,
		e.DetectedAt, e.AcknowledgedAt, e.BehaviorRefIDs, e.ConflictRefIDs,
	)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("op=drift_event.insert: %w", err)
	}
	return id, nil
}

// Get loads a single drift event by id.
func (r *DriftEventRepo) Get(ctx domain.Context, id string) (domain.DriftEvent, error) {
	tracer := otel.Tracer("repo.drift_events")
	ctx, span := tracer.Start(ctx, "drift_events.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "drift_events"),
	)

	q := `SELECT drift_event_id, user_id, drift_type, drift_score, confidence, severity, affected_targets, evidence,
		reference_window_start, reference_window_end, current_window_start, current_window_end,
		detected_at, acknowledged_at, behavior_ref_ids, conflict_ref_ids
		FROM drift_events WHERE drift_event_id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	e, err := scanDriftEvent(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.DriftEvent{}, fmt.Errorf("op=drift_event.get: %w", domain.ErrNotFound)
		}
		return domain.DriftEvent{}, fmt.Errorf("op=drift_event.get: %w", err)
	}
	return e, nil
}

// ListByUser returns drift events for a user matching filters, newest
// first, per §4.1.
func (r *DriftEventRepo) ListByUser(ctx domain.Context, userID string, filters domain.DriftEventFilters, limit, offset int) ([]domain.DriftEvent, error) {
	tracer := otel.Tracer("repo.drift_events")
	ctx, span := tracer.Start(ctx, "drift_events.ListByUser")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "drift_events"),
	)

	q := `SELECT drift_event_id, user_id, drift_type, drift_score, confidence, severity, affected_targets, evidence,
		reference_window_start, reference_window_end, current_window_start, current_window_end,
		detected_at, acknowledged_at, behavior_ref_ids, conflict_ref_ids
		FROM drift_events WHERE user_id=$1`
	args := []any{userID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filters.DriftType != nil {
		q += " AND drift_type=" + arg(filters.DriftType.String())
	}
	if filters.Severity != nil {
		q += " AND severity=" + arg(string(*filters.Severity))
	}
	if filters.Start != nil {
		q += " AND detected_at >= " + arg(*filters.Start)
	}
	if filters.End != nil {
		q += " AND detected_at <= " + arg(*filters.End)
	}
	q += " ORDER BY detected_at DESC LIMIT " + arg(limit) + " OFFSET " + arg(offset)

	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=drift_event.list_by_user: %w", err)
	}
	defer rows.Close()

	var out []domain.DriftEvent
	for rows.Next() {
		e, err := scanDriftEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("op=drift_event.list_by_user_scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=drift_event.list_by_user_rows: %w", err)
	}
	return out, nil
}

// LatestDetectedAt returns the most recent detected_at for a user, or nil
// if they have no drift events yet. Backs the orchestrator's cooldown gate
// (§4.9).
func (r *DriftEventRepo) LatestDetectedAt(ctx domain.Context, userID string) (*time.Time, error) {
	tracer := otel.Tracer("repo.drift_events")
	ctx, span := tracer.Start(ctx, "drift_events.LatestDetectedAt")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "drift_events"),
	)

	q := `SELECT MAX(detected_at) FROM drift_events WHERE user_id=$1`
	row := r.Pool.QueryRow(ctx, q, userID)
	var t *time.Time
	if err := row.Scan(&t); err != nil {
		return nil, fmt.Errorf("op=drift_event.latest_detected_at: %w", err)
	}
	return t, nil
}

// SetAcknowledged stamps a drift event's acknowledged_at.
func (r *DriftEventRepo) SetAcknowledged(ctx domain.Context, id string, ts time.Time) error {
	tracer := otel.Tracer("repo.drift_events")
	ctx, span := tracer.Start(ctx, "drift_events.SetAcknowledged")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "drift_events"),
	)

	q := `UPDATE drift_events SET acknowledged_at=$2 WHERE drift_event_id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, ts)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("op=drift_event.set_acknowledged: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=drift_event.set_acknowledged: %w", domain.ErrNotFound)
	}
	return nil
}

// CountAll returns the total number of drift events across all users, for
// the admin dashboard (§10).
func (r *DriftEventRepo) CountAll(ctx domain.Context) (int64, error) {
	tracer := otel.Tracer("repo.drift_events")
	ctx, span := tracer.Start(ctx, "drift_events.CountAll")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "drift_events"),
	)

	var count int64
	row := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM drift_events`)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("op=drift_event.count_all: %w", err)
	}
	return count, nil
}

func scanDriftEvent(row pgx.Row) (domain.DriftEvent, error) {
	var e domain.DriftEvent
	var driftType, severity string
	var evidence []byte
	if err := row.Scan(
		&e.DriftEventID, &e.UserID, &driftType, &e.DriftScore, &e.Confidence, &severity,
		&e.AffectedTargets, &evidence,
		&e.ReferenceWindow.Start, &e.ReferenceWindow.End, &e.CurrentWindow.Start, &e.CurrentWindow.End,
		&e.DetectedAt, &e.AcknowledgedAt, &e.BehaviorRefIDs, &e.ConflictRefIDs,
	); err != nil {
		return domain.DriftEvent{}, err
	}
	e.DriftType = driftTypeFromString(driftType)
	e.Severity = domain.Severity(severity)
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &e.Evidence); err != nil {
			return domain.DriftEvent{}, fmt.Errorf("unmarshal evidence: %w", err)
		}
	}
	return e, nil
}

func driftTypeFromString(s string) domain.DriftType {
	for _, dt := range []domain.DriftType{
		domain.DriftTopicEmergence, domain.DriftTopicAbandonment, domain.DriftPreferenceReversal,
		domain.DriftIntensityShift, domain.DriftContextExpansion, domain.DriftContextContraction,
	} {
		if dt.String() == s {
			return dt
		}
	}
	return domain.DriftTopicEmergence
}
