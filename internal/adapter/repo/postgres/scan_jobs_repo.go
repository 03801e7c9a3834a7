package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/drift-detection-service/internal/domain"
)

// ScanJobRepo persists and loads scan jobs from PostgreSQL.
type ScanJobRepo struct{ Pool PgxPool }

// NewScanJobRepo constructs a ScanJobRepo with the given pool.
func NewScanJobRepo(p PgxPool) *ScanJobRepo { return &ScanJobRepo{Pool: p} }

// Enqueue inserts a new pending scan job and returns its id.
func (r *ScanJobRepo) Enqueue(ctx domain.Context, userID, triggerEvent string, priority domain.ScanJobPriority) (string, error) {
	tracer := otel.Tracer("repo.scan_jobs")
	ctx, span := tracer.Start(ctx, "scan_jobs.Enqueue")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "scan_jobs"),
	)

	id := uuid.New().String()
	q := `INSERT INTO scan_jobs (job_id, user_id, trigger_event, status, priority, scheduled_at)
		VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := r.Pool.Exec(ctx, q, id, userID, triggerEvent, string(domain.ScanPending), string(priority), time.Now().UTC())
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("op=scan_job.enqueue: %w", err)
	}
	return id, nil
}

// ClaimNextPending atomically selects and marks up to limit pending jobs as
// running, ordered by (priority desc, scheduled_at asc), so no two workers
// claim the same row (§4.1).
func (r *ScanJobRepo) ClaimNextPending(ctx domain.Context, limit int) ([]domain.ScanJob, error) {
	tracer := otel.Tracer("repo.scan_jobs")
	ctx, span := tracer.Start(ctx, "scan_jobs.ClaimNextPending")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "scan_jobs"),
		attribute.Int("scan_jobs.limit", limit),
	)

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("op=scan_job.claim_next_pending.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	selectQ := `SELECT job_id FROM scan_jobs
		WHERE status=$1
		ORDER BY
			CASE priority WHEN 'high' THEN 0 WHEN 'normal' THEN 1 ELSE 2 END ASC,
			scheduled_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`
	rows, err := tx.Query(ctx, selectQ, string(domain.ScanPending), limit)
	if err != nil {
		return nil, fmt.Errorf("op=scan_job.claim_next_pending.select: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("op=scan_job.claim_next_pending.scan: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=scan_job.claim_next_pending.rows: %w", err)
	}
	if len(ids) == 0 {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("op=scan_job.claim_next_pending.commit: %w", err)
		}
		committed = true
		return nil, nil
	}

	now := time.Now().UTC()
	updateQ := `UPDATE scan_jobs SET status=$1, started_at=$2 WHERE job_id = ANY($3)
		RETURNING job_id, user_id, trigger_event, status, priority, scheduled_at, started_at, completed_at, error_message`
	updRows, err := tx.Query(ctx, updateQ, string(domain.ScanRunning), now, ids)
	if err != nil {
		return nil, fmt.Errorf("op=scan_job.claim_next_pending.update: %w", err)
	}
	jobs, err := scanScanJobs(updRows)
	updRows.Close()
	if err != nil {
		return nil, fmt.Errorf("op=scan_job.claim_next_pending.update_scan: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("op=scan_job.claim_next_pending.commit: %w", err)
	}
	committed = true
	return jobs, nil
}

// Get loads a scan job by id.
func (r *ScanJobRepo) Get(ctx domain.Context, jobID string) (domain.ScanJob, error) {
	tracer := otel.Tracer("repo.scan_jobs")
	ctx, span := tracer.Start(ctx, "scan_jobs.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "scan_jobs"),
	)

	q := `SELECT job_id, user_id, trigger_event, status, priority, scheduled_at, started_at, completed_at, error_message
		FROM scan_jobs WHERE job_id=$1`
	row := r.Pool.QueryRow(ctx, q, jobID)
	j, err := scanScanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ScanJob{}, fmt.Errorf("op=scan_job.get: %w", domain.ErrNotFound)
		}
		return domain.ScanJob{}, fmt.Errorf("op=scan_job.get: %w", err)
	}
	return j, nil
}

// UpdateStatus transitions a job's status, stamping started_at/completed_at
// as appropriate and recording errMsg when failing.
func (r *ScanJobRepo) UpdateStatus(ctx domain.Context, jobID string, status domain.ScanJobStatus, errMsg string) error {
	tracer := otel.Tracer("repo.scan_jobs")
	ctx, span := tracer.Start(ctx, "scan_jobs.UpdateStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "scan_jobs"),
		attribute.String("scan_jobs.status", string(status)),
	)

	now := time.Now().UTC()
	var q string
	var args []any
	switch status {
	case domain.ScanRunning:
		q = `UPDATE scan_jobs SET status=$1, started_at=$2 WHERE job_id=$3`
		args = []any{string(status), now, jobID}
	case domain.ScanDone, domain.ScanFailed:
		q = `UPDATE scan_jobs SET status=$1, completed_at=$2, error_message=$3 WHERE job_id=$4`
		args = []any{string(status), now, errMsg, jobID}
	default:
		q = `UPDATE scan_jobs SET status=$1 WHERE job_id=$2`
		args = []any{string(status), jobID}
	}
	tag, err := r.Pool.Exec(ctx, q, args...)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("op=scan_job.update_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=scan_job.update_status: %w", domain.ErrNotFound)
	}
	return nil
}

// HasNonTerminal reports whether a user has a pending or running job,
// enforcing the at-most-one-non-terminal-job invariant (§3, §4.8).
func (r *ScanJobRepo) HasNonTerminal(ctx domain.Context, userID string) (bool, error) {
	tracer := otel.Tracer("repo.scan_jobs")
	ctx, span := tracer.Start(ctx, "scan_jobs.HasNonTerminal")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "scan_jobs"),
	)

	q := `SELECT COUNT(*) FROM scan_jobs WHERE user_id=$1 AND status IN ($2,$3)`
	row := r.Pool.QueryRow(ctx, q, userID, string(domain.ScanPending), string(domain.ScanRunning))
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("op=scan_job.has_non_terminal: %w", err)
	}
	return count > 0, nil
}

// LastCompletedAt returns the most recent completed_at among done/failed
// jobs for a user, or nil.
func (r *ScanJobRepo) LastCompletedAt(ctx domain.Context, userID string) (*time.Time, error) {
	tracer := otel.Tracer("repo.scan_jobs")
	ctx, span := tracer.Start(ctx, "scan_jobs.LastCompletedAt")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "scan_jobs"),
	)

	q := `SELECT MAX(completed_at) FROM scan_jobs WHERE user_id=$1 AND status IN ($2,$3)`
	row := r.Pool.QueryRow(ctx, q, userID, string(domain.ScanDone), string(domain.ScanFailed))
	var t *time.Time
	if err := row.Scan(&t); err != nil {
		return nil, fmt.Errorf("op=scan_job.last_completed_at: %w", err)
	}
	return t, nil
}

// ClassifyScannable buckets users by recent behavior activity for the
// scheduler's tiered scans (§4.14).
func (r *ScanJobRepo) ClassifyScannable(ctx domain.Context, activeSince, moderateSince time.Time) (domain.ScannableUsers, error) {
	tracer := otel.Tracer("repo.scan_jobs")
	ctx, span := tracer.Start(ctx, "scan_jobs.ClassifyScannable")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "behaviors"),
	)

	q := `SELECT user_id, MAX(last_seen_at) AS last_seen
		FROM behaviors GROUP BY user_id`
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return domain.ScannableUsers{}, fmt.Errorf("op=scan_job.classify_scannable: %w", err)
	}
	defer rows.Close()

	var out domain.ScannableUsers
	for rows.Next() {
		var userID string
		var lastSeen time.Time
		if err := rows.Scan(&userID, &lastSeen); err != nil {
			return domain.ScannableUsers{}, fmt.Errorf("op=scan_job.classify_scannable_scan: %w", err)
		}
		switch {
		case lastSeen.After(activeSince) || lastSeen.Equal(activeSince):
			out.Active = append(out.Active, userID)
		case lastSeen.After(moderateSince) || lastSeen.Equal(moderateSince):
			out.Moderate = append(out.Moderate, userID)
		}
	}
	if err := rows.Err(); err != nil {
		return domain.ScannableUsers{}, fmt.Errorf("op=scan_job.classify_scannable_rows: %w", err)
	}
	return out, nil
}

// ListStuckRunning returns jobs still marked running whose started_at is
// older than startedBefore, for the stuck-job sweeper.
func (r *ScanJobRepo) ListStuckRunning(ctx domain.Context, startedBefore time.Time) ([]domain.ScanJob, error) {
	tracer := otel.Tracer("repo.scan_jobs")
	ctx, span := tracer.Start(ctx, "scan_jobs.ListStuckRunning")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "scan_jobs"),
	)

	q := `SELECT job_id, user_id, trigger_event, status, priority, scheduled_at, started_at, completed_at, error_message
		FROM scan_jobs WHERE status=$1 AND started_at < $2`
	rows, err := r.Pool.Query(ctx, q, string(domain.ScanRunning), startedBefore)
	if err != nil {
		return nil, fmt.Errorf("op=scan_job.list_stuck_running: %w", err)
	}
	defer rows.Close()
	jobs, err := scanScanJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("op=scan_job.list_stuck_running_scan: %w", err)
	}
	return jobs, nil
}

// CountByStatus returns the number of jobs currently in status, for the
// admin dashboard and worker statistics (§10, cf. jobs_repo.go CountByStatus).
func (r *ScanJobRepo) CountByStatus(ctx domain.Context, status domain.ScanJobStatus) (int64, error) {
	tracer := otel.Tracer("repo.scan_jobs")
	ctx, span := tracer.Start(ctx, "scan_jobs.CountByStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "scan_jobs"),
		attribute.String("scan_jobs.status", string(status)),
	)

	var count int64
	row := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM scan_jobs WHERE status=$1`, string(status))
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("op=scan_job.count_by_status: %w", err)
	}
	return count, nil
}

// ListRecent returns jobs ordered newest-first, optionally filtered by
// status, for the paginated admin job listing (§10).
func (r *ScanJobRepo) ListRecent(ctx domain.Context, status *domain.ScanJobStatus, limit, offset int) ([]domain.ScanJob, error) {
	tracer := otel.Tracer("repo.scan_jobs")
	ctx, span := tracer.Start(ctx, "scan_jobs.ListRecent")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "scan_jobs"),
		attribute.Int("scan_jobs.limit", limit),
		attribute.Int("scan_jobs.offset", offset),
	)

	const cols = `job_id, user_id, trigger_event, status, priority, scheduled_at, started_at, completed_at, error_message`
	var rows pgx.Rows
	var err error
	if status != nil {
		q := `SELECT ` + cols + ` FROM scan_jobs WHERE status=$1 ORDER BY scheduled_at DESC LIMIT $2 OFFSET $3`
		rows, err = r.Pool.Query(ctx, q, string(*status), limit, offset)
	} else {
		q := `SELECT ` + cols + ` FROM scan_jobs ORDER BY scheduled_at DESC LIMIT $1 OFFSET $2`
		rows, err = r.Pool.Query(ctx, q, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("op=scan_job.list_recent: %w", err)
	}
	defer rows.Close()
	jobs, err := scanScanJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("op=scan_job.list_recent_scan: %w", err)
	}
	return jobs, nil
}

func scanScanJob(row pgx.Row) (domain.ScanJob, error) {
	var j domain.ScanJob
	var status, priority string
	var errMsg *string
	if err := row.Scan(
		&j.JobID, &j.UserID, &j.TriggerEvent, &status, &priority,
		&j.ScheduledAt, &j.StartedAt, &j.CompletedAt, &errMsg,
	); err != nil {
		return domain.ScanJob{}, err
	}
	j.Status = domain.ScanJobStatus(status)
	j.Priority = domain.ScanJobPriority(priority)
	if errMsg != nil {
		j.ErrorMessage = *errMsg
	}
	return j, nil
}

func scanScanJobs(rows pgx.Rows) ([]domain.ScanJob, error) {
	var out []domain.ScanJob
	for rows.Next() {
		j, err := scanScanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
