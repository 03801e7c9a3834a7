package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/drift-detection-service/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// ScanJobSweeper periodically marks scan jobs stuck in "running" (e.g. a
// worker crashed mid-scan) as failed, so they stop blocking the
// enqueue-exclusivity gate (§4.8) for their user.
type ScanJobSweeper struct {
	jobs             domain.ScanJobRepository
	maxProcessingAge time.Duration
	interval         time.Duration
}

// NewScanJobSweeper constructs a ScanJobSweeper.
func NewScanJobSweeper(jobs domain.ScanJobRepository, maxProcessingAge, interval time.Duration) *ScanJobSweeper {
	if jobs == nil {
		return nil
	}
	if maxProcessingAge <= 0 {
		maxProcessingAge = 6 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &ScanJobSweeper{
		jobs:             jobs,
		maxProcessingAge: maxProcessingAge,
		interval:         interval,
	}
}

// Run sweeps immediately, then on a ticker, until ctx is cancelled.
func (s *ScanJobSweeper) Run(ctx context.Context) {
	if s == nil || s.jobs == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scan job sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *ScanJobSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("jobs.sweeper")
	ctx, span := tracer.Start(ctx, "ScanJobSweeper.sweepOnce")
	defer span.End()

	cutoff := time.Now().Add(-s.maxProcessingAge)
	span.SetAttributes(attribute.Float64("jobs.max_processing_age_seconds", s.maxProcessingAge.Seconds()))

	jobs, err := s.jobs.ListStuckRunning(ctx, cutoff)
	if err != nil {
		span.RecordError(err)
		slog.Error("stuck job sweep failed to list jobs", slog.Any("error", err))
		return
	}

	marked := 0
	for _, j := range jobs {
		msg := fmt.Sprintf("job processing exceeded maximum age %v; marked failed by sweeper", s.maxProcessingAge)
		if err := s.jobs.UpdateStatus(ctx, j.JobID, domain.ScanFailed, msg); err != nil {
			slog.Error("stuck job sweep failed to update job status", slog.String("job_id", j.JobID), slog.Any("error", err))
			continue
		}
		marked++
	}

	span.SetAttributes(
		attribute.Int("jobs.total_checked", len(jobs)),
		attribute.Int("jobs.total_marked_failed", marked),
	)
	if marked > 0 {
		slog.Info("stuck job sweep marked jobs failed", slog.Int("count", marked))
	}
}
