package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/clinicopsdashboard/internal/adapters/cache"
	"github.com/zatekoja/clinicopsdashboard/internal/adapters/events"
	"github.com/zatekoja/clinicopsdashboard/internal/api/handlers"
	"github.com/zatekoja/clinicopsdashboard/internal/api/middleware"
	"github.com/zatekoja/clinicopsdashboard/internal/api/routes"
	"github.com/zatekoja/clinicopsdashboard/internal/application/services"
	"github.com/zatekoja/clinicopsdashboard/internal/domain/providers"
	"github.com/zatekoja/clinicopsdashboard/internal/infrastructure/clients/recordsapi"
	"github.com/zatekoja/clinicopsdashboard/internal/infrastructure/clients/redis"
	"github.com/zatekoja/clinicopsdashboard/internal/infrastructure/observability"
	"github.com/zatekoja/clinicopsdashboard/internal/query/adapters"
	"github.com/zatekoja/clinicopsdashboard/pkg/config"
	"github.com/zatekoja/clinicopsdashboard/pkg/secrets"
)

func main() {
	// Export Vault secrets before configuration reads the environment
	vaultResult, err := secrets.ApplyVaultSecrets(context.Background(), secrets.LoadVaultConfigFromEnv(""))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load vault secrets")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry if enabled
	otelReady := false
	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, observability.SetupOptions{
			ServiceName:    cfg.OTEL.ServiceName,
			ServiceVersion: cfg.OTEL.ServiceVersion,
			Endpoint:       cfg.OTEL.Endpoint,
			Logs:           cfg.OTEL.LogsEnabled,
		})
		if err != nil {
			log.Warn().Err(err).Msg("failed to set up OpenTelemetry")
		} else {
			otelReady = true
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					log.Error().Err(err).Msg("error shutting down OpenTelemetry")
				}
			}()
		}
	}

	observability.InitLogger(observability.LoggerOptions{
		ServiceName: cfg.OTEL.ServiceName,
		Env:         cfg.Log.Env,
		Level:       cfg.Log.Level,
		OTel:        otelReady && cfg.OTEL.LogsEnabled,
	})

	if vaultResult.Enabled {
		log.Info().
			Str("path", vaultResult.Path).
			Int("loaded", vaultResult.Loaded).
			Int("skipped", vaultResult.Skipped).
			Msg("vault secrets applied")
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize metrics")
	}

	recordsClient := recordsapi.NewClient(recordsapi.OptionsFromConfig(cfg, metrics))
	log.Info().Str("base_url", cfg.Records.BaseURL).Msg("records client initialized")

	// Shared sweep cache and invalidation bus: Redis when configured, in-process otherwise
	var (
		cacheProvider providers.CacheProvider
		eventBus      providers.EventBus
	)
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(&cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize Redis client, falling back to in-process cache")
		} else {
			defer redisClient.Close()
			cacheProvider = cache.NewRedisAdapter(redisClient)
			eventBus = events.NewRedisEventBus(redisClient)
			log.Info().Str("addr", cfg.Redis.RedisAddr()).Msg("redis client initialized")
		}
	}
	if cacheProvider == nil {
		cacheProvider = cache.NewMemoryAdapter(cfg.Cache.MemorySize, cfg.Cache.TTL)
		eventBus = events.NewMemoryEventBus()
	}

	viewService := services.NewViewService(
		recordsClient,
		adapters.NewSweepCache(cacheProvider),
		eventBus,
		metrics,
		services.ViewServiceConfig{
			Endpoints:        cfg.Records.Endpoints(),
			PageSize:         cfg.Query.PageSize,
			PageWindow:       cfg.Query.PageWindow,
			Debounce:         cfg.Query.Debounce,
			IdleTTL:          cfg.Query.SessionIdleTTL,
			CacheTTL:         cfg.Cache.TTL,
			SweepPageSize:    cfg.Records.SweepPageSize,
			SweepConcurrency: cfg.Records.SweepConcurrency,
		},
	)
	if err := viewService.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start view service")
	}

	router := routes.NewRouter(
		handlers.NewViewHandler(viewService, 0),
		handlers.NewSSEHandler(viewService, cfg.Server.SSEHeartbeat),
		middleware.NewCacheMiddleware(cacheProvider, metrics, nil),
		cfg.Server.AllowedOrigins,
		metrics,
	)

	// Requests inherit baseCtx so shutdown can end open view streams
	baseCtx, cancelRequests := context.WithCancel(ctx)
	defer cancelRequests()

	serverAddr := cfg.Server.ServerAddr()
	server := &http.Server{
		Addr:        serverAddr,
		Handler:     router.SetupRoutes(),
		BaseContext: func(net.Listener) context.Context { return baseCtx },
		ReadTimeout: 15 * time.Second,
		// No write timeout: view streams are long-lived
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	server.RegisterOnShutdown(cancelRequests)

	go func() {
		log.Info().Str("addr", serverAddr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	viewService.Stop()

	if err := eventBus.Close(); err != nil {
		log.Error().Err(err).Msg("error closing event bus")
	}

	log.Info().Msg("server stopped")
}
