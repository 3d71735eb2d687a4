package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/skyvaultex/chrono-license-service/internal/domain"
	"github.com/skyvaultex/chrono-license-service/internal/metrics"
)

// Notifier delivers lifecycle notices to customers or other services.
type Notifier interface {
	LicenseIssued(ctx context.Context, notice domain.LicenseNotice) error
	LicenseRevoked(ctx context.Context, notice domain.LicenseNotice) error
	LicenseExpiring(ctx context.Context, notice domain.LicenseNotice) error
}

// Notifications sends notices after the license mutation has committed.
// Failures are logged and counted, never returned to the mutation's caller.
type Notifications struct {
	notifier Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	wg       sync.WaitGroup
}

// NewNotifications wraps notifier. A nil notifier turns every notice into a no-op.
func NewNotifications(notifier Notifier, logger *slog.Logger, m *metrics.Metrics) *Notifications {
	return &Notifications{notifier: notifier, logger: logger, metrics: m}
}

// Issued sends the license key to its owner in the background.
func (n *Notifications) Issued(ctx context.Context, notice domain.LicenseNotice) {
	n.goSend(ctx, "issued", notice, func(ctx context.Context) error {
		return n.notifier.LicenseIssued(ctx, notice)
	})
}

// Revoked tells the owner and other services that a license is gone.
func (n *Notifications) Revoked(ctx context.Context, notice domain.LicenseNotice) {
	n.goSend(ctx, "revoked", notice, func(ctx context.Context) error {
		return n.notifier.LicenseRevoked(ctx, notice)
	})
}

// Expiring sends an expiring-soon notice and waits for the result.
func (n *Notifications) Expiring(ctx context.Context, notice domain.LicenseNotice) error {
	if n == nil || n.notifier == nil {
		return nil
	}
	err := n.notifier.LicenseExpiring(ctx, notice)
	n.record("expiring", notice, err)
	return err
}

// Wait blocks until background notices have finished.
func (n *Notifications) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}

func (n *Notifications) goSend(ctx context.Context, kind string, notice domain.LicenseNotice, send func(context.Context) error) {
	if n == nil || n.notifier == nil {
		return
	}
	// The request context is cancelled once the response is written.
	detached := context.WithoutCancel(ctx)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.record(kind, notice, send(detached))
	}()
}

func (n *Notifications) record(kind string, notice domain.LicenseNotice, err error) {
	if err != nil {
		n.metrics.Notification(kind, "failed")
		n.logger.Warn("license notification failed",
			"kind", kind,
			"license_id", notice.License.ID,
			"error", err,
		)
		return
	}
	n.metrics.Notification(kind, "sent")
	n.logger.Info("license notification sent", "kind", kind, "license_id", notice.License.ID)
}
