package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/sitenotify/dispatch/docs"
	"github.com/sitenotify/dispatch/internal/adapter"
	"github.com/sitenotify/dispatch/internal/bus"
	"github.com/sitenotify/dispatch/internal/config"
	"github.com/sitenotify/dispatch/internal/domain"
	"github.com/sitenotify/dispatch/internal/handler"
	"github.com/sitenotify/dispatch/internal/metrics"
	"github.com/sitenotify/dispatch/internal/middleware"
	"github.com/sitenotify/dispatch/internal/repository/postgres"
	"github.com/sitenotify/dispatch/internal/repository/redis"
	"github.com/sitenotify/dispatch/internal/retry"
	"github.com/sitenotify/dispatch/internal/service"
	"github.com/sitenotify/dispatch/internal/tenant"
	"github.com/sitenotify/dispatch/internal/worker"
)

// @title Dispatch API
// @version 1.0
// @description Multi-tenant notification dispatch platform.
// @termsOfService http://swagger.io/terms/

// @contact.name API Support

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /v1

var allChannels = []domain.Channel{domain.ChannelEmail, domain.ChannelWhatsApp, domain.ChannelSMS, domain.ChannelPush}

func main() {
	cfg := config.Load()

	logLevel := slog.LevelInfo
	if cfg.App.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting dispatch service", "env", cfg.App.Env, "port", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := postgres.Migrate(cfg.Database); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	db, err := postgres.New(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to PostgreSQL")

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	logger.Info("connected to Redis")

	dispatchBus, err := bus.Connect(ctx, cfg.Bus, allChannels, logger)
	if err != nil {
		logger.Error("failed to connect to dispatch bus", "error", err)
		os.Exit(1)
	}
	defer dispatchBus.Close()
	logger.Info("connected to dispatch bus")

	// Repositories. TransactionStore commits a MessageLog status update
	// and its history row in one transaction; it is wrapped once here so
	// every caller — intake, scheduler, worker — records status-change
	// metrics through the exact same call, never individually.
	messageRepo := postgres.NewMessageLogRepository(db)
	templateRepo := postgres.NewTemplateRepository(db)
	tenantConfigRepo := postgres.NewTenantConfigRepository(db)
	historyRepo := postgres.NewHistoryRepository(db)
	transactionStore := postgres.NewTransactionStore(db, messageRepo, historyRepo)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	transitionStore := metrics.NewRecordingStatusTransitionStore(transactionStore, m)

	// CredentialCache sits in front of tenantConfigRepo so the worker
	// pool's per-send credential lookup only reaches Postgres on a cache
	// miss or after the TTL expires.
	credentialCache := redis.NewCredentialCache(redisClient, tenantConfigRepo, cfg.Tenant.CredentialCacheTTL)
	rateLimiter := redis.NewRateLimiter(redisClient, cfg.Worker.RateLimitPerSec)
	sessionStore := redis.NewSessionStore(redisClient, cfg.Admin, cfg.Tenant.CredentialCacheTTL)

	adapterRegistry := adapter.NewRegistry(map[domain.Channel]domain.ChannelAdapter{
		domain.ChannelEmail:    adapter.NewWebhookAdapter(domain.ChannelEmail, cfg.Webhook.URL, cfg.Adapter.Timeout[domain.ChannelEmail]),
		domain.ChannelWhatsApp: adapter.NewWebhookAdapter(domain.ChannelWhatsApp, cfg.Webhook.URL, cfg.Adapter.Timeout[domain.ChannelWhatsApp]),
		domain.ChannelSMS:      adapter.NewWebhookAdapter(domain.ChannelSMS, cfg.Webhook.URL, cfg.Adapter.Timeout[domain.ChannelSMS]),
		domain.ChannelPush:     adapter.NewWebhookAdapter(domain.ChannelPush, cfg.Webhook.URL, cfg.Adapter.Timeout[domain.ChannelPush]),
	})

	retryPolicy := retry.NewPolicy(cfg.Retry)

	templateService := service.NewTemplateService(templateRepo, logger)
	intakeService := service.NewIntakeService(messageRepo, historyRepo, transitionStore, templateRepo, dispatchBus, logger)
	schedulerService := service.NewSchedulerService(messageRepo, transitionStore, dispatchBus, logger, cfg.Worker.SchedulerInterval)

	wsHub := handler.NewWebSocketHub(logger)
	go wsHub.Run()

	statusBroadcast := func(msg *domain.MessageLog) { wsHub.BroadcastStatus(msg) }
	intakeService.SetStatusBroadcast(statusBroadcast)

	workerPool := worker.NewPool(adapterRegistry, credentialCache, cfg.Tenant.PlatformDefaultChannels, rateLimiter, messageRepo, transitionStore, retryPolicy, dispatchBus, logger, cfg.Worker)
	workerPool.SetStatusBroadcast(statusBroadcast)

	intakeHandler := handler.NewIntakeHandler(intakeService)
	templateHandler := handler.NewTemplateHandler(templateService)
	healthHandler := handler.NewHealthHandler()
	healthHandler.AddChecker("postgres", db)
	healthHandler.AddChecker("redis", redisClient)

	metricsHandler := handler.NewMetricsHandler(m, dispatchBus, allChannels)
	wsHandler := handler.NewWebSocketHandler(wsHub)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Correlation)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics(m))
	r.Use(chimiddleware.Compress(5))

	r.Get("/health", healthHandler.Health)
	r.Get("/health/live", healthHandler.Liveness)
	r.Get("/health/ready", healthHandler.Readiness)

	r.Handle("/metrics", metricsHandler.Handler())
	r.Get("/metrics/realtime", metricsHandler.RealtimeMetrics)

	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	r.Group(func(r chi.Router) {
		r.Use(tenant.Middleware(sessionStore, sessionStore))

		r.Get("/ws", wsHandler.HandleWebSocket)

		r.Route("/v1/notifications", func(r chi.Router) {
			intakeHandler.RegisterRoutes(r)
		})

		r.Route("/v1/templates", func(r chi.Router) {
			templateHandler.RegisterRoutes(r)
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := workerPool.Start(ctx); err != nil {
		logger.Error("failed to start worker pool", "error", err)
		os.Exit(1)
	}

	if err := schedulerService.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	schedulerService.Stop()
	workerPool.Stop()

	cancel()

	logger.Info("server stopped")
}
