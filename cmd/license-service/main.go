/**
 * @description
 * This is the main entry point for the license-service. It wires configuration,
 * storage, the quota store, notifiers and the HTTP router, then serves until a
 * termination signal arrives.
 *
 * @notes
 * - Without DATABASE_URL the service runs on the in-memory store, which is only
 *   meant for local development.
 * - Redis, RabbitMQ, Resend and OpenAI are optional; each missing one degrades
 *   a single feature and is logged at startup.
 */
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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/skyvaultex/chrono-license-service/internal/api"
	"github.com/skyvaultex/chrono-license-service/internal/app"
	"github.com/skyvaultex/chrono-license-service/internal/config"
	"github.com/skyvaultex/chrono-license-service/internal/metrics"
	"github.com/skyvaultex/chrono-license-service/internal/notify"
	"github.com/skyvaultex/chrono-license-service/internal/ratelimit"
	"github.com/skyvaultex/chrono-license-service/internal/store"
	"github.com/skyvaultex/chrono-license-service/internal/tracing"
	"github.com/skyvaultex/chrono-license-service/pkg/advisorclient"
	"github.com/skyvaultex/chrono-license-service/pkg/mailer"
	"github.com/skyvaultex/chrono-license-service/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, "license-service", cfg.OTelEndpoint)
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		dbpool, err := store.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("unable to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbpool.Close()
		logger.Info("database connection established")

		if cfg.AutoMigrate {
			if err := store.EnsureSchema(ctx, dbpool); err != nil {
				logger.Error("failed to apply schema", "error", err)
				os.Exit(1)
			}
			logger.Info("database schema is up to date")
		}
		repo = store.NewPostgresRepository(dbpool)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		repo = store.NewMemoryRepository()
	}

	var quotaStore ratelimit.Store
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("unable to reach redis", "error", err)
			os.Exit(1)
		}
		quotaStore = ratelimit.NewRedisStore(rdb, cfg.RedisRateLimitPrefix)
		logger.Info("advisor quotas stored in redis")
	} else {
		memStore := ratelimit.NewMemoryStore()
		go memStore.RunJanitor(ctx, 10*time.Minute)
		quotaStore = memStore
		logger.Warn("REDIS_URL not set, advisor quotas are per instance")
	}
	limiter := ratelimit.NewLimiter(quotaStore, cfg.RateLimitLocation)

	var notifiers notify.Multi
	if cfg.ResendAPIKey != "" {
		mail := mailer.NewClient(cfg.ResendAPIURL, cfg.ResendAPIKey, cfg.FromEmail)
		notifiers = append(notifiers, notify.NewEmailNotifier(mail, cfg.AppURL, logger))
	} else {
		logger.Warn("RESEND_API_KEY not set, license emails are disabled")
	}
	if cfg.RabbitMQURL != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		notifiers = append(notifiers, notify.NewEventNotifier(producer, cfg.LicenseEventsExchange))
	}
	var notifier app.Notifier
	if len(notifiers) > 0 {
		notifier = notifiers
	}
	notifications := app.NewNotifications(notifier, logger, m)

	licenses := app.NewLicenseService(repo, notifications, logger).
		WithMetrics(m).
		WithEntitlements(app.NewEntitlementSigner(cfg.EntitlementTokenSecret, cfg.EntitlementTokenTTL()))
	if cfg.WebhookSecret == "" {
		logger.Warn("LEMONSQUEEZY_WEBHOOK_SECRET not set, webhooks will be refused")
	}
	webhooks := app.NewWebhookProcessor(cfg.WebhookSecret, repo, licenses, notifications, logger).WithMetrics(m)

	var advisor *app.AdvisorService
	if cfg.OpenAIAPIKey != "" {
		completer := advisorclient.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, "")
		advisor = app.NewAdvisorService(repo, limiter, completer, logger).WithMetrics(m)
	} else {
		logger.Warn("OPENAI_API_KEY not set, advisor is disabled")
	}
	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN not set, admin API is locked")
	}

	throttle := api.NewIPThrottle(cfg.ClientRequestsPerSecond, cfg.ClientRequestBurst)
	go throttle.RunJanitor(ctx, 5*time.Minute)

	handler := api.NewHandler(licenses, webhooks, advisor, logger)
	router := api.NewRouter(handler, api.RouterConfig{
		AdminToken: cfg.AdminToken,
		Throttle:   throttle,
		Gatherer:   registry,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed to start", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, gracefully shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	notifications.Wait()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
