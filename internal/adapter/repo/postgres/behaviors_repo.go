// Package postgres provides PostgreSQL database adapters.
//
// It implements repository interfaces for data persistence.
// The package provides type-safe database operations with
// connection pooling and transaction support.
package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/drift-detection-service/internal/domain"
)

// BehaviorRepo persists and loads behaviors from PostgreSQL.
type BehaviorRepo struct{ Pool PgxPool }

// NewBehaviorRepo constructs a BehaviorRepo with the given pool.
func NewBehaviorRepo(p PgxPool) *BehaviorRepo { return &BehaviorRepo{Pool: p} }

// Upsert inserts or updates a behavior keyed by (user_id, behavior_id).
func (r *BehaviorRepo) Upsert(ctx domain.Context, b domain.Behavior) error {
	tracer := otel.Tracer("repo.behaviors")
	ctx, span := tracer.Start(ctx, "behaviors.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "behaviors"),
	)

	q := `INSERT INTO behaviors
		(user_id, behavior_id, target, intent, context, polarity, credibility, reinforcement_count, state, created_at, last_seen_at, snapshot_updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
		ON CONFLICT (user_id, behavior_id) DO UPDATE SET
			target = EXCLUDED.target,
			intent = EXCLUDED.intent,
			context = EXCLUDED.context,
			polarity = EXCLUDED.polarity,
			credibility = EXCLUDED.credibility,
			reinforcement_count = GREATEST(behaviors.reinforcement_count, EXCLUDED.reinforcement_count),
			state = EXCLUDED.state,
			last_seen_at = EXCLUDED.last_seen_at,
			snapshot_updated_at = EXCLUDED.snapshot_updated_at`
	_, err := r.Pool.Exec(ctx, q,
		b.UserID, b.BehaviorID, b.Target, string(b.Intent), b.Context, string(b.Polarity),
		b.Credibility, b.ReinforcementCount, string(b.State), b.CreatedAt, b.LastSeenAt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("op=behavior.upsert: %w", err)
	}
	return nil
}

// Get loads a single behavior by its natural key.
func (r *BehaviorRepo) Get(ctx domain.Context, userID, behaviorID string) (domain.Behavior, error) {
	tracer := otel.Tracer("repo.behaviors")
	ctx, span := tracer.Start(ctx, "behaviors.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "behaviors"),
	)

	q := `SELECT user_id, behavior_id, target, intent, context, polarity, credibility, reinforcement_count, state, created_at, last_seen_at, snapshot_updated_at
		FROM behaviors WHERE user_id=$1 AND behavior_id=$2`
	row := r.Pool.QueryRow(ctx, q, userID, behaviorID)
	b, err := scanBehavior(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Behavior{}, fmt.Errorf("op=behavior.get: %w", domain.ErrNotFound)
		}
		return domain.Behavior{}, fmt.Errorf("op=behavior.get: %w", err)
	}
	return b, nil
}

// Update applies a partial patch to an existing behavior.
func (r *BehaviorRepo) Update(ctx domain.Context, userID, behaviorID string, patch domain.BehaviorPatch) error {
	tracer := otel.Tracer("repo.behaviors")
	ctx, span := tracer.Start(ctx, "behaviors.Update")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "behaviors"),
	)

	sets := make([]string, 0, 8)
	args := make([]any, 0, 10)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if patch.Target != nil {
		sets = append(sets, "target="+arg(*patch.Target))
	}
	if patch.Intent != nil {
		sets = append(sets, "intent="+arg(string(*patch.Intent)))
	}
	if patch.Context != nil {
		sets = append(sets, "context="+arg(*patch.Context))
	}
	if patch.Polarity != nil {
		sets = append(sets, "polarity="+arg(string(*patch.Polarity)))
	}
	if patch.Credibility != nil {
		sets = append(sets, "credibility="+arg(*patch.Credibility))
	}
	if patch.ReinforcementCount != nil {
		sets = append(sets, "reinforcement_count="+arg(*patch.ReinforcementCount))
	}
	if patch.State != nil {
		sets = append(sets, "state="+arg(string(*patch.State)))
	}
	if patch.LastSeenAt != nil {
		sets = append(sets, "last_seen_at="+arg(*patch.LastSeenAt))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, userID, behaviorID)
	q := fmt.Sprintf(
		"UPDATE behaviors SET %s WHERE user_id=$%d AND behavior_id=$%d",
		strings.Join(sets, ", "), len(args)-1, len(args),
	)
	tag, err := r.Pool.Exec(ctx, q, args...)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("op=behavior.update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=behavior.update: %w", domain.ErrNotFound)
	}
	return nil
}

// ListActive returns every active behavior for a user.
func (r *BehaviorRepo) ListActive(ctx domain.Context, userID string) ([]domain.Behavior, error) {
	tracer := otel.Tracer("repo.behaviors")
	ctx, span := tracer.Start(ctx, "behaviors.ListActive")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "behaviors"),
	)

	q := `SELECT user_id, behavior_id, target, intent, context, polarity, credibility, reinforcement_count, state, created_at, last_seen_at, snapshot_updated_at
		FROM behaviors WHERE user_id=$1 AND state=$2`
	rows, err := r.Pool.Query(ctx, q, userID, string(domain.BehaviorActive))
	if err != nil {
		return nil, fmt.Errorf("op=behavior.list_active: %w", err)
	}
	return scanBehaviors(rows)
}

// ListInWindow returns behaviors created in [filter.Start, filter.End],
// honoring the §4.2 relevance rule via filter.IncludeSuperseded.
func (r *BehaviorRepo) ListInWindow(ctx domain.Context, userID string, filter domain.BehaviorFilter) ([]domain.Behavior, error) {
	tracer := otel.Tracer("repo.behaviors")
	ctx, span := tracer.Start(ctx, "behaviors.ListInWindow")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "behaviors"),
	)

	q := `SELECT user_id, behavior_id, target, intent, context, polarity, credibility, reinforcement_count, state, created_at, last_seen_at, snapshot_updated_at
		FROM behaviors WHERE user_id=$1 AND created_at BETWEEN $2 AND $3`
	args := []any{userID, filter.Start, filter.End}
	if !filter.IncludeSuperseded {
		q += " AND state=$4"
		args = append(args, string(domain.BehaviorActive))
	}
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=behavior.list_in_window: %w", err)
	}
	return scanBehaviors(rows)
}

// CountActive returns the number of active behaviors for a user.
func (r *BehaviorRepo) CountActive(ctx domain.Context, userID string) (int, error) {
	tracer := otel.Tracer("repo.behaviors")
	ctx, span := tracer.Start(ctx, "behaviors.CountActive")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "behaviors"),
	)

	q := `SELECT COUNT(*) FROM behaviors WHERE user_id=$1 AND state=$2`
	row := r.Pool.QueryRow(ctx, q, userID, string(domain.BehaviorActive))
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("op=behavior.count_active: %w", err)
	}
	return count, nil
}

// EarliestCreatedAt returns the earliest created_at among a user's
// behaviors, or nil if they have none.
func (r *BehaviorRepo) EarliestCreatedAt(ctx domain.Context, userID string) (*time.Time, error) {
	tracer := otel.Tracer("repo.behaviors")
	ctx, span := tracer.Start(ctx, "behaviors.EarliestCreatedAt")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "behaviors"),
	)

	q := `SELECT MIN(created_at) FROM behaviors WHERE user_id=$1`
	row := r.Pool.QueryRow(ctx, q, userID)
	var t *time.Time
	if err := row.Scan(&t); err != nil {
		return nil, fmt.Errorf("op=behavior.earliest_created_at: %w", err)
	}
	return t, nil
}

// ListByTarget returns all behaviors for a user and target, regardless of
// state.
func (r *BehaviorRepo) ListByTarget(ctx domain.Context, userID, target string) ([]domain.Behavior, error) {
	tracer := otel.Tracer("repo.behaviors")
	ctx, span := tracer.Start(ctx, "behaviors.ListByTarget")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "behaviors"),
	)

	q := `SELECT user_id, behavior_id, target, intent, context, polarity, credibility, reinforcement_count, state, created_at, last_seen_at, snapshot_updated_at
		FROM behaviors WHERE user_id=$1 AND target=$2`
	rows, err := r.Pool.Query(ctx, q, userID, target)
	if err != nil {
		return nil, fmt.Errorf("op=behavior.list_by_target: %w", err)
	}
	return scanBehaviors(rows)
}

// CountAll returns the total number of behaviors across all users, for the
// admin dashboard (§10).
func (r *BehaviorRepo) CountAll(ctx domain.Context) (int64, error) {
	tracer := otel.Tracer("repo.behaviors")
	ctx, span := tracer.Start(ctx, "behaviors.CountAll")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "behaviors"),
	)

	var count int64
	row := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM behaviors`)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("op=behavior.count_all: %w", err)
	}
	return count, nil
}

func scanBehavior(row pgx.Row) (domain.Behavior, error) {
	var b domain.Behavior
	var intent, polarity, state string
	if err := row.Scan(
		&b.UserID, &b.BehaviorID, &b.Target, &intent, &b.Context, &polarity,
		&b.Credibility, &b.ReinforcementCount, &state, &b.CreatedAt, &b.LastSeenAt, &b.SnapshotUpdatedAt,
	); err != nil {
		return domain.Behavior{}, err
	}
	b.Intent = domain.Intent(intent)
	b.Polarity = domain.Polarity(polarity)
	b.State = domain.BehaviorState(state)
	return b, nil
}

func scanBehaviors(rows pgx.Rows) ([]domain.Behavior, error) {
	defer rows.Close()
	var out []domain.Behavior
	for rows.Next() {
		b, err := scanBehavior(rows)
		if err != nil {
			return nil, fmt.Errorf("op=behavior.scan: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=behavior.rows: %w", err)
	}
	return out, nil
}
