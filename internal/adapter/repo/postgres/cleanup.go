package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// CleanupService enforces the data retention window by deleting conflicts
// created before the cutoff, superseded behaviors last seen before it, and
// terminal scan jobs scheduled before it. Drift events are never deleted
// (they are the durable audit trail).
type CleanupService struct {
	Pool          PgxPool
	RetentionDays int
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(pool PgxPool, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90 // default 90 days
	}
	return &CleanupService{Pool: pool, RetentionDays: retentionDays}
}

// CleanupOldData removes data older than the retention period.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.RetentionDays)

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("op=cleanup.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	var deletedConflicts, deletedBehaviors, deletedJobs int64

	if err := tx.QueryRow(ctx, `
		WITH d AS (DELETE FROM conflicts WHERE created_at < $1 RETURNING 1)
		SELECT count(*) FROM d
	`, cutoff).Scan(&deletedConflicts); err != nil {
		slog.Debug("no conflicts to delete", slog.Any("error", err))
	}

	if err := tx.QueryRow(ctx, `
		WITH d AS (DELETE FROM behaviors WHERE state = 'superseded' AND last_seen_at < $1 RETURNING 1)
		SELECT count(*) FROM d
	`, cutoff).Scan(&deletedBehaviors); err != nil {
		slog.Debug("no behaviors to delete", slog.Any("error", err))
	}

	if err := tx.QueryRow(ctx, `
		WITH d AS (DELETE FROM scan_jobs WHERE status IN ('done','failed','skipped') AND scheduled_at < $1 RETURNING 1)
		SELECT count(*) FROM d
	`, cutoff).Scan(&deletedJobs); err != nil {
		slog.Debug("no scan jobs to delete", slog.Any("error", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=cleanup.commit: %w", err)
	}
	committed = true

	slog.Info("data cleanup completed",
		slog.Int64("deleted_behaviors", deletedBehaviors),
		slog.Int64("deleted_conflicts", deletedConflicts),
		slog.Int64("deleted_scan_jobs", deletedJobs),
		slog.Time("cutoff", cutoff),
	)

	return nil
}

// RunPeriodic starts a periodic cleanup loop.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour // daily by default
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}
