// Command worker runs the job worker pool and tiered scheduler (§4.13,
// §4.14) as a standalone process, separate from the HTTP-facing server.
// It exposes only a Prometheus /metrics endpoint.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/drift-detection-service/internal/adapter/observability"
	"github.com/fairyhunter13/drift-detection-service/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/drift-detection-service/internal/adapter/stream/redisstream"
	"github.com/fairyhunter13/drift-detection-service/internal/app"
	"github.com/fairyhunter13/drift-detection-service/internal/config"
	"github.com/fairyhunter13/drift-detection-service/internal/detect"
	"github.com/fairyhunter13/drift-detection-service/internal/domain"
	"github.com/fairyhunter13/drift-detection-service/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}
	if profile, perr := config.LoadTuningProfile(os.Getenv("TUNING_PROFILE_PATH")); perr == nil {
		cfg = profile.Apply(cfg)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.PrometheusAddr, mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	pool, err := postgres.NewPool(ctx, cfg.DBURL, cfg.DBMaxConns, cfg.DBMaxConnIdleTime)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid redis url", slog.Any("error", err))
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() {
		if err := redisClient.Close(); err != nil {
			slog.Error("failed to close redis client", slog.Any("error", err))
		}
	}()

	behaviors := postgres.NewBehaviorRepo(pool)
	conflicts := postgres.NewConflictRepo(pool)
	driftEvents := postgres.NewDriftEventRepo(pool)
	scanJobs := postgres.NewScanJobRepo(pool)

	clock := domain.SystemClock{}

	snapshots := &usecase.SnapshotBuilder{
		Behaviors:            behaviors,
		Conflicts:            conflicts,
		Clock:                clock,
		CurrentWindowDays:    cfg.CurrentWindowDays,
		ReferenceStartDays:   cfg.ReferenceStartDays,
		ReferenceEndDays:     cfg.ReferenceEndDays,
		MinBehaviorsForDrift: cfg.MinBehaviorsForDrift,
		MinDaysOfHistory:     cfg.MinDaysOfHistory,
	}

	publisher := redisstream.NewPublisher(redisClient, cfg.OutboundStream, cfg.OutboundStreamCap)
	writer := usecase.NewEventWriter(driftEvents, publisher)

	thresholds := detect.Thresholds{
		EmergenceMinReinforcement:   cfg.EmergenceMinReinforcement,
		RecencyWeightDays:           cfg.RecencyWeightDays,
		AbandonmentMinReinforcement: cfg.AbandonmentMinReinforcement,
		AbandonmentSilenceDays:      cfg.AbandonmentSilenceDays,
		IntensityDeltaThreshold:     cfg.IntensityDeltaThreshold,
	}

	orchestrator := &usecase.Orchestrator{
		Snapshots:           snapshots,
		DriftEvents:         driftEvents,
		Writer:              writer,
		Detectors:           detect.All(thresholds),
		Clock:               clock,
		ScanCooldown:        time.Duration(cfg.ScanCooldownSeconds) * time.Second,
		DriftScoreThreshold: cfg.DriftScoreThreshold,
	}

	retryCfg := domain.RetryConfig{
		MaxRetries:   cfg.RetryMaxRetries,
		InitialDelay: cfg.RetryInitialDelay,
		MaxDelay:     cfg.RetryMaxDelay,
		Multiplier:   cfg.RetryMultiplier,
		Jitter:       cfg.RetryJitter,
	}
	workers := usecase.NewWorkerPool(scanJobs, orchestrator, clock, retryCfg, cfg.JobSoftTimeLimit, cfg.JobHardTimeLimit)

	reaper := redisstream.NewDeadLetterReaper(
		redisClient, cfg.InboundStream, cfg.ConsumerGroup, cfg.ConsumerName,
		time.Duration(cfg.DeadLetterIdleThresholdMS)*time.Millisecond, cfg.DeadLetterMaxDeliveryAttempts, cfg.DeadLetterStreamCap,
	)

	scheduler := usecase.NewScheduler(
		scanJobs, workers, reaper, clock,
		cfg.ActiveTierScanInterval, cfg.ModerateTierScanInterval, cfg.DeadLetterReapInterval,
		time.Duration(cfg.ActiveUserDays)*24*time.Hour, time.Duration(cfg.ModerateUserDays)*24*time.Hour,
	)

	sweeper := app.NewScanJobSweeper(scanJobs, cfg.StuckJobMaxProcessingAge, cfg.StuckJobSweepInterval)

	go sweeper.Run(ctx)
	go scheduler.Run(ctx)

	// Dedicated pending-job drain loop: the scheduler's tier scans enqueue
	// and run their own jobs (WorkerPool.ScanUser); pending jobs enqueued
	// elsewhere are claimed and run here, continuously, at a fixed cadence
	// independent of the scheduler's own tickers.
	drainInterval := cfg.WorkerScalingInterval
	if drainInterval <= 0 {
		drainInterval = 2 * time.Second
	}
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	slog.Info("worker started successfully, waiting for shutdown signal",
		slog.Int("worker_pool_size", cfg.WorkerPoolSize))

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopping")
			return
		case <-ticker.C:
			if _, err := workers.ProcessPendingJobs(ctx, cfg.WorkerPoolSize); err != nil {
				slog.Error("process pending jobs failed", slog.Any("error", err))
			}
		}
	}
}
