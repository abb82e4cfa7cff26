package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vidgen/internal/adapter/repo"
	"vidgen/internal/infra"
	"vidgen/internal/pipeline"
	"vidgen/internal/providers"
	"vidgen/internal/providers/openrouter"
	"vidgen/internal/queue"
	"vidgen/internal/storage"
	"vidgen/internal/worker"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer dbpool.Close()

	if err := repo.EnsureSchema(ctx, dbpool); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to prepare schema")
	}

	redisClient, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: redis connection failed")
	}
	defer redisClient.Close()

	store, sweeper, err := buildStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	manager := providers.NewManager(logger, cfg.ProviderRequestsPerMin)
	if cfg.OpenRouterAPIKey != "" {
		manager.Register(openrouter.New(openrouter.Options{
			APIKey:         cfg.OpenRouterAPIKey,
			BaseURL:        cfg.OpenRouterBaseURL,
			DefaultModel:   cfg.OpenRouterVideoModel,
			Logger:         logger,
			RequestTimeout: cfg.ProviderTimeout,
		}))
	}

	jobs := repo.NewJobRepository(dbpool)
	health := repo.NewProviderHealthRepository(dbpool)
	taskQueue := queue.New(redisClient, logger, "")

	pipe := pipeline.New(pipeline.Options{
		Selector:      manager,
		Store:         store,
		Logger:        logger,
		PublicBaseURL: cfg.PublicBaseURL,
		APIVersion:    cfg.APIVersion,
		FallbackOrder: cfg.ProviderFallbackOrder,
		FetchTimeout:  cfg.ProviderTimeout,
		RetentionDays: cfg.RetentionDays,
	})

	runner := worker.NewRunner(worker.RunnerOptions{
		Jobs:        jobs,
		Health:      health,
		Pipeline:    pipe,
		Retries:     taskQueue,
		Logger:      logger,
		MaxAttempts: cfg.TaskMaxAttempts,
		RetryBase:   cfg.TaskRetryBase,
		TimeLimit:   cfg.TaskTimeLimit,
	})

	pool := worker.NewPool(worker.PoolOptions{
		Queue:         taskQueue,
		Runner:        runner,
		Logger:        logger,
		Workers:       cfg.WorkerCount,
		Sweeper:       sweeper,
		Retention:     time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		SweepInterval: cfg.CleanupInterval,
		ReclaimAfter:  2 * cfg.TaskTimeLimit,
	})

	logger.Info().Int("workers", cfg.WorkerCount).Msg("worker pool starting")
	if err := pool.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("worker pool stopped with error")
	}
	logger.Info().Msg("worker stopped")
}

func buildStore(cfg *infra.Config) (storage.VideoStore, storage.Sweeper, error) {
	if cfg.StorageBackend == "s3" {
		s3store, err := storage.NewS3Store(storage.S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			KeyPrefix: cfg.S3KeyPrefix,
		})
		// Retention on S3 is handled by bucket lifecycle rules.
		return s3store, nil, err
	}
	fileStore, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		return nil, nil, err
	}
	return fileStore, fileStore, nil
}
