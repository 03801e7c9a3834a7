package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/drift-detection-service/internal/domain"
)

// RunResult summarizes the outcome of a single RunDriftScan call.
type RunResult struct {
	JobID       string
	EventsFound int
	Skipped     bool
}

// WorkerPool claims pending scan jobs and runs the detection pipeline for
// each, enforcing job lifecycle transitions and a bounded retry policy
// (§4.13).
type WorkerPool struct {
	ScanJobs     domain.ScanJobRepository
	Orchestrator *Orchestrator
	Clock        domain.Clock
	Retry        domain.RetryConfig

	SoftTimeLimit time.Duration
	HardTimeLimit time.Duration
}

// NewWorkerPool constructs a WorkerPool.
func NewWorkerPool(scanJobs domain.ScanJobRepository, orchestrator *Orchestrator, clock domain.Clock, retry domain.RetryConfig, softLimit, hardLimit time.Duration) *WorkerPool {
	return &WorkerPool{
		ScanJobs:      scanJobs,
		Orchestrator:  orchestrator,
		Clock:         clock,
		Retry:         retry,
		SoftTimeLimit: softLimit,
		HardTimeLimit: hardLimit,
	}
}

// RunDriftScan executes the full job lifecycle for a single job id (§4.13
// steps 1-6): load, verify pending, mark running, invoke the orchestrator,
// mark done/failed, and retry on retryable failures with exponential
// jittered backoff capped at Retry.MaxDelay.
func (p *WorkerPool) RunDriftScan(ctx domain.Context, jobID string) (RunResult, error) {
	tracer := otel.Tracer("usecase.worker_pool")
	ctx, span := tracer.Start(ctx, "WorkerPool.RunDriftScan")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	job, err := p.ScanJobs.Get(ctx, jobID)
	if err != nil {
		return RunResult{}, fmt.Errorf("op=worker_pool.run_drift_scan.get: %w", err)
	}
	if job.Status != domain.ScanPending {
		slog.Info("job not pending; skipping", slog.String("job_id", jobID), slog.String("status", string(job.Status)))
		return RunResult{JobID: jobID, Skipped: true}, nil
	}

	if err := p.ScanJobs.UpdateStatus(ctx, jobID, domain.ScanRunning, ""); err != nil {
		return RunResult{}, fmt.Errorf("op=worker_pool.run_drift_scan.mark_running: %w", err)
	}

	hardCtx, cancel := context.WithTimeout(ctx, p.HardTimeLimit)
	defer cancel()

	events, runErr := p.runWithSoftLimit(hardCtx, job.UserID)
	if runErr == nil {
		if err := p.ScanJobs.UpdateStatus(ctx, jobID, domain.ScanDone, ""); err != nil {
			slog.Error("failed to mark job done", slog.String("job_id", jobID), slog.Any("error", err))
		}
		return RunResult{JobID: jobID, EventsFound: len(events)}, nil
	}

	retryInfo := &domain.RetryInfo{}
	for retryInfo.ShouldRetry(runErr, p.Retry) {
		retryInfo.RecordAttempt(runErr)
		delay := p.backoffDelay(retryInfo.AttemptCount)
		slog.Warn("drift scan failed; retrying",
			slog.String("job_id", jobID), slog.Int("attempt", retryInfo.AttemptCount), slog.Duration("delay", delay), slog.Any("error", runErr))
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			goto exhausted
		case <-time.After(delay):
		}
		events, runErr = p.runWithSoftLimit(hardCtx, job.UserID)
		if runErr == nil {
			if err := p.ScanJobs.UpdateStatus(ctx, jobID, domain.ScanDone, ""); err != nil {
				slog.Error("failed to mark job done", slog.String("job_id", jobID), slog.Any("error", err))
			}
			return RunResult{JobID: jobID, EventsFound: len(events)}, nil
		}
	}

exhausted:
	retryInfo.MarkExhausted()
	errMsg := truncateError(runErr, 500)
	if err := p.ScanJobs.UpdateStatus(ctx, jobID, domain.ScanFailed, errMsg); err != nil {
		slog.Error("failed to mark job failed", slog.String("job_id", jobID), slog.Any("error", err))
	}
	return RunResult{}, fmt.Errorf("op=worker_pool.run_drift_scan: %w", runErr)
}

// runWithSoftLimit invokes the orchestrator, treating the soft limit
// timeout itself as a failure so the job is marked failed before the hard
// kill lands.
func (p *WorkerPool) runWithSoftLimit(ctx domain.Context, userID string) ([]domain.DriftEvent, error) {
	softCtx, cancel := context.WithTimeout(ctx, p.SoftTimeLimit)
	defer cancel()

	events, err := p.Orchestrator.DetectDrift(softCtx, userID)
	if errors.Is(softCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("soft time limit exceeded: %w", domain.ErrTransient)
	}
	if errors.Is(err, domain.ErrInsufficientData) || errors.Is(err, domain.ErrCooldown) {
		return nil, nil
	}
	return events, err
}

func (p *WorkerPool) backoffDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Retry.InitialDelay
	b.Multiplier = p.Retry.Multiplier
	b.MaxInterval = p.Retry.MaxDelay
	b.RandomizationFactor = 0
	if p.Retry.Jitter {
		b.RandomizationFactor = 0.5
	}
	b.Reset()
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if d > p.Retry.MaxDelay {
		return p.Retry.MaxDelay
	}
	return d
}

func truncateError(err error, max int) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	if len(s) > max {
		return s[:max]
	}
	return s
}

// ProcessPendingJobs claims up to limit pending jobs and dispatches each to
// RunDriftScan (§4.13 step 7).
func (p *WorkerPool) ProcessPendingJobs(ctx domain.Context, limit int) ([]RunResult, error) {
	jobs, err := p.ScanJobs.ClaimNextPending(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("op=worker_pool.process_pending_jobs.claim: %w", err)
	}
	results := make([]RunResult, 0, len(jobs))
	for _, job := range jobs {
		res, err := p.RunDriftScan(ctx, job.JobID)
		if err != nil {
			slog.Error("drift scan failed permanently", slog.String("job_id", job.JobID), slog.Any("error", err))
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

// ScanStatistics tallies scan jobs by lifecycle status for the admin
// dashboard and operational introspection (§10, cf. scan_worker.py
// get_scan_statistics).
type ScanStatistics struct {
	Pending int64
	Running int64
	Done    int64
	Failed  int64
	Skipped int64
}

// GetScanStatistics counts jobs in each lifecycle status.
func (p *WorkerPool) GetScanStatistics(ctx domain.Context) (ScanStatistics, error) {
	var stats ScanStatistics
	for status, dst := range map[domain.ScanJobStatus]*int64{
		domain.ScanPending: &stats.Pending,
		domain.ScanRunning: &stats.Running,
		domain.ScanDone:    &stats.Done,
		domain.ScanFailed:  &stats.Failed,
		domain.ScanSkipped: &stats.Skipped,
	} {
		count, err := p.ScanJobs.CountByStatus(ctx, status)
		if err != nil {
			return ScanStatistics{}, fmt.Errorf("op=worker_pool.get_scan_statistics: %w", err)
		}
		*dst = count
	}
	return stats, nil
}

// ScanUser enqueues and dispatches a scan for a single user in one step,
// honoring the non-terminal-job gate.
func (p *WorkerPool) ScanUser(ctx domain.Context, userID string, trigger string, priority domain.ScanJobPriority) (RunResult, error) {
	hasNonTerminal, err := p.ScanJobs.HasNonTerminal(ctx, userID)
	if err != nil {
		return RunResult{}, fmt.Errorf("op=worker_pool.scan_user.has_non_terminal: %w", err)
	}
	if hasNonTerminal {
		return RunResult{Skipped: true}, nil
	}

	jobID, err := p.ScanJobs.Enqueue(ctx, userID, trigger, priority)
	if err != nil {
		return RunResult{}, fmt.Errorf("op=worker_pool.scan_user.enqueue: %w", err)
	}
	return p.RunDriftScan(ctx, jobID)
}
