// Command server starts the behavioral drift detection service: the thin
// HTTP surface (§6), the inbound stream consumer (§4.12), the dead-letter
// reaper (§4.15), the job worker pool (§4.13), and the tiered scheduler
// (§4.14) all run in this one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	httpserver "github.com/fairyhunter13/drift-detection-service/internal/adapter/httpserver"
	"github.com/fairyhunter13/drift-detection-service/internal/adapter/observability"
	"github.com/fairyhunter13/drift-detection-service/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/drift-detection-service/internal/adapter/stream/redisstream"
	"github.com/fairyhunter13/drift-detection-service/internal/app"
	"github.com/fairyhunter13/drift-detection-service/internal/config"
	"github.com/fairyhunter13/drift-detection-service/internal/detect"
	"github.com/fairyhunter13/drift-detection-service/internal/domain"
	"github.com/fairyhunter13/drift-detection-service/internal/service/ratelimiter"
	"github.com/fairyhunter13/drift-detection-service/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if profile, perr := config.LoadTuningProfile(os.Getenv("TUNING_PROFILE_PATH")); perr == nil {
		cfg = profile.Apply(cfg)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

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

	idem := usecase.NewIdempotencyCache(10000)
	eventHandler := usecase.NewEventHandler(behaviors, conflicts, scanJobs, clock, idem)
	eventHandler.ScanCooldown = time.Duration(cfg.ScanCooldownSeconds) * time.Second
	eventHandler.MinBehaviorsForDrift = cfg.MinBehaviorsForDrift

	consumer := redisstream.NewConsumer(
		redisClient, eventHandler, cfg.InboundStream, cfg.ConsumerGroup, cfg.ConsumerName,
		cfg.ConsumerBlock, cfg.ConsumerBatchSize, cfg.ConsumerMaxReconnectAttempts, cfg.ConsumerReconnectMaxBackoff,
	)

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
	cleanup := postgres.NewCleanupService(pool, cfg.DataRetentionDays)

	go consumer.Run(ctx)
	go scheduler.Run(ctx)
	go sweeper.Run(ctx)
	go cleanup.RunPeriodic(ctx, cfg.CleanupInterval)
	go func() {
		if _, err := workers.ProcessPendingJobs(ctx, cfg.WorkerPoolSize); err != nil {
			slog.Error("initial pending job drain failed", slog.Any("error", err))
		}
	}()

	dbCheck, redisCheck := app.BuildReadinessChecks(pool, redisClient)
	detectLimiter := ratelimiter.NewRedisLuaLimiter(redisClient, nil, nil)
	srv := &httpserver.Server{
		Cfg:             cfg,
		Workers:         workers,
		Behaviors:       behaviors,
		Conflicts:       conflicts,
		DriftEvents:     driftEvents,
		DeadLetters:     reaper,
		Clock:           clock,
		DBCheck:         dbCheck,
		RedisCheck:      redisCheck,
		DetectLimiter:   detectLimiter,
		DetectRateLimit: ratelimiter.NewBucketConfigFromPerMinute(cfg.RateLimitPerMin),
	}
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
