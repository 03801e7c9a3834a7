package usecase

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fairyhunter13/drift-detection-service/internal/domain"
)

// Scheduler drives the three periodic triggers of §4.14 off a single
// shared clock: active-tier scans, moderate-tier scans, and dead-letter
// reaps. Each trigger guards itself against overlapping runs
// (max_instances=1) with an atomic flag rather than a distributed lock,
// matching the single-scheduler-process deployment model of §5.
type Scheduler struct {
	ScanJobs domain.ScanJobRepository
	Workers  *WorkerPool
	Reaper   DeadLetterReaper
	Clock    domain.Clock

	ActiveTierInterval   time.Duration
	ModerateTierInterval time.Duration
	DeadLetterInterval   time.Duration

	ActiveUserDays   time.Duration
	ModerateUserDays time.Duration

	activeRunning     atomic.Bool
	moderateRunning   atomic.Bool
	deadLetterRunning atomic.Bool
}

// DeadLetterReaper is the subset of the stream adapter's reaper this
// package needs, kept minimal so usecase does not import the Redis
// adapter.
type DeadLetterReaper interface {
	ReapOnce(ctx domain.Context) (int, error)
}

// NewScheduler constructs a Scheduler.
func NewScheduler(scanJobs domain.ScanJobRepository, workers *WorkerPool, reaper DeadLetterReaper, clock domain.Clock, activeInterval, moderateInterval, deadLetterInterval, activeUserDays, moderateUserDays time.Duration) *Scheduler {
	return &Scheduler{
		ScanJobs:             scanJobs,
		Workers:              workers,
		Reaper:               reaper,
		Clock:                clock,
		ActiveTierInterval:   activeInterval,
		ModerateTierInterval: moderateInterval,
		DeadLetterInterval:   deadLetterInterval,
		ActiveUserDays:       activeUserDays,
		ModerateUserDays:     moderateUserDays,
	}
}

// Run starts all three periodic triggers on independent tickers and blocks
// until ctx is cancelled.
func (s *Scheduler) Run(ctx domain.Context) {
	activeTicker := time.NewTicker(s.ActiveTierInterval)
	moderateTicker := time.NewTicker(s.ModerateTierInterval)
	deadLetterTicker := time.NewTicker(s.DeadLetterInterval)
	defer activeTicker.Stop()
	defer moderateTicker.Stop()
	defer deadLetterTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopping")
			return
		case <-activeTicker.C:
			go s.runGuarded(&s.activeRunning, "active_tier_scan", func() { s.runActiveTierScan(ctx) })
		case <-moderateTicker.C:
			go s.runGuarded(&s.moderateRunning, "moderate_tier_scan", func() { s.runModerateTierScan(ctx) })
		case <-deadLetterTicker.C:
			go s.runGuarded(&s.deadLetterRunning, "dead_letter_reap", func() { s.runDeadLetterReap(ctx) })
		}
	}
}

// runGuarded enforces max_instances=1 for a trigger: if the previous run
// of this trigger is still in flight, this tick is skipped and logged.
func (s *Scheduler) runGuarded(running *atomic.Bool, name string, fn func()) {
	if !running.CompareAndSwap(false, true) {
		slog.Warn("scheduler trigger still running; skipping this tick", slog.String("trigger", name))
		return
	}
	defer running.Store(false)
	fn()
}

func (s *Scheduler) runActiveTierScan(ctx domain.Context) {
	now := s.Clock.Now()
	users, err := s.ScanJobs.ClassifyScannable(ctx, now.Add(-s.ActiveUserDays), now.Add(-s.ModerateUserDays))
	if err != nil {
		slog.Error("active tier scan classification failed", slog.Any("error", err))
		return
	}
	s.enqueueTier(ctx, users.Active, "scheduled_active")
}

func (s *Scheduler) runModerateTierScan(ctx domain.Context) {
	now := s.Clock.Now()
	users, err := s.ScanJobs.ClassifyScannable(ctx, now.Add(-s.ActiveUserDays), now.Add(-s.ModerateUserDays))
	if err != nil {
		slog.Error("moderate tier scan classification failed", slog.Any("error", err))
		return
	}
	s.enqueueTier(ctx, users.Moderate, "scheduled_moderate")
}

func (s *Scheduler) enqueueTier(ctx domain.Context, userIDs []string, trigger string) {
	for _, userID := range userIDs {
		res, err := s.Workers.ScanUser(ctx, userID, trigger, domain.PriorityNormal)
		if err != nil {
			slog.Error("scheduled scan failed", slog.String("user_id", userID), slog.String("trigger", trigger), slog.Any("error", err))
			continue
		}
		if res.Skipped {
			continue
		}
		slog.Info("scheduled scan completed", slog.String("user_id", userID), slog.String("trigger", trigger), slog.Int("events_found", res.EventsFound))
	}
}

func (s *Scheduler) runDeadLetterReap(ctx domain.Context) {
	n, err := s.Reaper.ReapOnce(ctx)
	if err != nil {
		slog.Error("dead letter reap failed", slog.Any("error", err))
		return
	}
	if n > 0 {
		slog.Info("dead letter reap moved entries", slog.Int("count", n))
	}
}
