/**
 * @description
 * Scheduled license maintenance: status sweep for lapsed licenses and
 * expiring-soon notices.
 */
package app

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skyvaultex/chrono-license-service/internal/domain"
	"github.com/skyvaultex/chrono-license-service/internal/store"
)

const noticeConcurrency = 4

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo          store.LicenseStore
	notifications *Notifications
	logger        *slog.Logger
	warningDays   int
	now           func() time.Time
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo store.LicenseStore, notifications *Notifications, warningDays int, logger *slog.Logger) *Jobs {
	return &Jobs{
		repo:          repo,
		notifications: notifications,
		logger:        logger,
		warningDays:   warningDays,
		now:           time.Now,
	}
}

func (j *Jobs) WithClock(now func() time.Time) *Jobs {
	j.now = now
	return j
}

// ExpireLapsedLicenses marks active licenses past their expiry as expired.
func (j *Jobs) ExpireLapsedLicenses() {
	j.logger.Info("starting license expiry sweep")
	ctx := context.Background()

	n, err := j.repo.ExpireLapsedLicenses(ctx, j.now())
	if err != nil {
		j.logger.Error("license expiry sweep failed", "error", err)
		return
	}
	j.logger.Info("license expiry sweep finished", "expired", n)
}

// SendExpiryWarnings notifies owners whose license expires in warningDays.
// The window is one day wide so a daily schedule warns each license once.
func (j *Jobs) SendExpiryWarnings() {
	j.logger.Info("starting expiry warning job", "days", j.warningDays)
	sent, failed, err := j.sendExpiryWarnings(context.Background())
	if err != nil {
		j.logger.Error("expiry warning job failed", "error", err)
		return
	}
	j.logger.Info("expiry warning job finished", "sent", sent, "failed", failed)
}

func (j *Jobs) sendExpiryWarnings(ctx context.Context) (sent, failed int64, err error) {
	from := j.now().AddDate(0, 0, j.warningDays)
	to := from.Add(24 * time.Hour)

	licenses, err := j.repo.ListLicensesExpiringBetween(ctx, from, to)
	if err != nil {
		return 0, 0, err
	}

	var sentCount, failedCount atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(noticeConcurrency)
	for _, license := range licenses {
		license := license
		if license.Email == nil || *license.Email == "" {
			continue
		}
		g.Go(func() error {
			err := j.notifications.Expiring(gctx, domain.LicenseNotice{
				License:  license,
				Email:    *license.Email,
				DaysLeft: j.warningDays,
			})
			if err != nil {
				failedCount.Add(1)
				return nil
			}
			sentCount.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return sentCount.Load(), failedCount.Load(), nil
}
