package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"vidgen/internal/adapter/repo"
	"vidgen/internal/http/handlers"
	"vidgen/internal/http/httpapi"
	"vidgen/internal/infra"
	"vidgen/internal/infra/geoip"
	"vidgen/internal/middleware"
	"vidgen/internal/providers"
	"vidgen/internal/providers/openrouter"
	"vidgen/internal/queue"
	"vidgen/internal/ratelimit"
	"vidgen/internal/storage"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	if err := repo.EnsureSchema(ctx, dbpool); err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare schema")
	}

	redisClient, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer redisClient.Close()

	store, err := buildStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
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

	var countryLookup middleware.CountryLookup
	if cfg.GeoIPDBPath != "" {
		resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
		if err != nil {
			logger.Warn().Err(err).Msg("geoip database unavailable")
		} else {
			countryLookup = resolver.CountryCode
		}
	}

	app := &handlers.App{
		Logger:            logger,
		Jobs:              repo.NewJobRepository(dbpool),
		ProviderHealth:    repo.NewProviderHealthRepository(dbpool),
		Providers:         manager,
		Queue:             queue.New(redisClient, logger, ""),
		Store:             store,
		MaxActivePerUser:  cfg.MaxActivePerUser,
		DefaultMaxRetries: cfg.TaskMaxAttempts,
	}

	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		Logger:        logger,
		DefaultLocale: cfg.DefaultLocale,
		CountryLookup: countryLookup,
		SubmitLimiter: ratelimit.NewPerMinuteLimiter(cfg.SubmitRatePerMin),
	})

	server := infra.NewHTTPServer(cfg, router)
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("api listening")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func buildStore(cfg *infra.Config) (storage.VideoStore, error) {
	if cfg.StorageBackend == "s3" {
		return storage.NewS3Store(storage.S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			KeyPrefix: cfg.S3KeyPrefix,
		})
	}
	return storage.NewFileStore(cfg.StoragePath)
}
