/**
 * @description
 * This is the main entry point for the license-scheduler. It is a non-HTTP,
 * long-running process that runs license maintenance on cron schedules:
 * the expiry sweep and expiring-soon notices.
 */
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/skyvaultex/chrono-license-service/internal/app"
	"github.com/skyvaultex/chrono-license-service/internal/config"
	"github.com/skyvaultex/chrono-license-service/internal/notify"
	"github.com/skyvaultex/chrono-license-service/internal/store"
	"github.com/skyvaultex/chrono-license-service/pkg/mailer"
	"github.com/skyvaultex/chrono-license-service/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required for the scheduler")
		os.Exit(1)
	}

	ctx := context.Background()

	dbpool, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	var notifiers notify.Multi
	if cfg.ResendAPIKey != "" {
		mail := mailer.NewClient(cfg.ResendAPIURL, cfg.ResendAPIKey, cfg.FromEmail)
		notifiers = append(notifiers, notify.NewEmailNotifier(mail, cfg.AppURL, logger))
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
	} else {
		logger.Warn("no notifier configured, expiry warnings will only be logged")
	}
	notifications := app.NewNotifications(notifier, logger, nil)

	repository := store.NewPostgresRepository(dbpool)
	jobs := app.NewJobs(repository, notifications, cfg.ExpiryWarningDays, logger)
	scheduler := app.NewScheduler(jobs, logger, app.ScheduleConfig{
		ExpirySweep:   cfg.ExpirySweepSchedule,
		ExpiryWarning: cfg.ExpiryWarningSchedule,
		Location:      cfg.RateLimitLocation,
	})

	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	logger.Info("scheduler started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, stopping scheduler")
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	notifications.Wait()
	logger.Info("scheduler stopped gracefully")
}
