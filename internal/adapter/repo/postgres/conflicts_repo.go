package postgres

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/drift-detection-service/internal/domain"
)

// ConflictRepo persists and loads conflicts from PostgreSQL.
type ConflictRepo struct{ Pool PgxPool }

// NewConflictRepo constructs a ConflictRepo with the given pool.
func NewConflictRepo(p PgxPool) *ConflictRepo { return &ConflictRepo{Pool: p} }

// Insert stores a new conflict row.
func (r *ConflictRepo) Insert(ctx domain.Context, c domain.Conflict) error {
	tracer := otel.Tracer("repo.conflicts")
	ctx, span := tracer.Start(ctx, "conflicts.Insert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "conflicts"),
	)

	q := `INSERT INTO conflicts
		(user_id, conflict_id, behavior_id_1, behavior_id_2, old_polarity, new_polarity, old_target, new_target, conflict_type, resolution_status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err := r.Pool.Exec(ctx, q,
		c.UserID, c.ConflictID, c.BehaviorID1, c.BehaviorID2,
		polarityPtr(c.OldPolarity), polarityPtr(c.NewPolarity), c.OldTarget, c.NewTarget,
		c.ConflictType, c.ResolutionStatus, c.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("op=conflict.insert: %w", err)
	}
	return nil
}

// ListInWindow returns every conflict created within [start, end] for a
// user.
func (r *ConflictRepo) ListInWindow(ctx domain.Context, userID string, start, end time.Time) ([]domain.Conflict, error) {
	return r.listWhere(ctx, "conflicts.ListInWindow",
		`SELECT user_id, conflict_id, behavior_id_1, behavior_id_2, old_polarity, new_polarity, old_target, new_target, conflict_type, resolution_status, created_at
		FROM conflicts WHERE user_id=$1 AND created_at BETWEEN $2 AND $3`,
		userID, start, end)
}

// ListPolarityReversalsInWindow returns conflicts whose old/new polarity
// are both present and differ.
func (r *ConflictRepo) ListPolarityReversalsInWindow(ctx domain.Context, userID string, start, end time.Time) ([]domain.Conflict, error) {
	return r.listWhere(ctx, "conflicts.ListPolarityReversalsInWindow",
		`SELECT user_id, conflict_id, behavior_id_1, behavior_id_2, old_polarity, new_polarity, old_target, new_target, conflict_type, resolution_status, created_at
		FROM conflicts WHERE user_id=$1 AND created_at BETWEEN $2 AND $3
		AND old_polarity IS NOT NULL AND new_polarity IS NOT NULL AND old_polarity <> new_polarity`,
		userID, start, end)
}

// ListTargetMigrationsInWindow returns conflicts whose old/new target are
// both present and differ.
func (r *ConflictRepo) ListTargetMigrationsInWindow(ctx domain.Context, userID string, start, end time.Time) ([]domain.Conflict, error) {
	return r.listWhere(ctx, "conflicts.ListTargetMigrationsInWindow",
		`SELECT user_id, conflict_id, behavior_id_1, behavior_id_2, old_polarity, new_polarity, old_target, new_target, conflict_type, resolution_status, created_at
		FROM conflicts WHERE user_id=$1 AND created_at BETWEEN $2 AND $3
		AND old_target IS NOT NULL AND new_target IS NOT NULL AND old_target <> new_target`,
		userID, start, end)
}

func (r *ConflictRepo) listWhere(ctx domain.Context, spanName, q string, args ...any) ([]domain.Conflict, error) {
	tracer := otel.Tracer("repo.conflicts")
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "conflicts"),
	)
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=conflict.list: %w", err)
	}
	defer rows.Close()

	var out []domain.Conflict
	for rows.Next() {
		var c domain.Conflict
		var oldPolarity, newPolarity *string
		if err := rows.Scan(
			&c.UserID, &c.ConflictID, &c.BehaviorID1, &c.BehaviorID2,
			&oldPolarity, &newPolarity, &c.OldTarget, &c.NewTarget,
			&c.ConflictType, &c.ResolutionStatus, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("op=conflict.scan: %w", err)
		}
		c.OldPolarity = polarityFromPtr(oldPolarity)
		c.NewPolarity = polarityFromPtr(newPolarity)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=conflict.rows: %w", err)
	}
	return out, nil
}

// CountAll returns the total number of conflicts across all users, for the
// admin dashboard (§10).
func (r *ConflictRepo) CountAll(ctx domain.Context) (int64, error) {
	tracer := otel.Tracer("repo.conflicts")
	ctx, span := tracer.Start(ctx, "conflicts.CountAll")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "conflicts"),
	)

	var count int64
	row := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM conflicts`)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("op=conflict.count_all: %w", err)
	}
	return count, nil
}

func polarityPtr(p *domain.Polarity) *string {
	if p == nil {
		return nil
	}
	s := string(*p)
	return &s
}

func polarityFromPtr(s *string) *domain.Polarity {
	if s == nil {
		return nil
	}
	p := domain.Polarity(*s)
	return &p
}
