package notify

import (
	"context"
	"errors"

	"github.com/skyvaultex/chrono-license-service/internal/app"
	"github.com/skyvaultex/chrono-license-service/internal/domain"
)

// Multi fans a notice out to every notifier and joins their errors.
type Multi []app.Notifier

var _ app.Notifier = Multi(nil)

func (m Multi) LicenseIssued(ctx context.Context, notice domain.LicenseNotice) error {
	return m.each(func(n app.Notifier) error { return n.LicenseIssued(ctx, notice) })
}

func (m Multi) LicenseRevoked(ctx context.Context, notice domain.LicenseNotice) error {
	return m.each(func(n app.Notifier) error { return n.LicenseRevoked(ctx, notice) })
}

func (m Multi) LicenseExpiring(ctx context.Context, notice domain.LicenseNotice) error {
	return m.each(func(n app.Notifier) error { return n.LicenseExpiring(ctx, notice) })
}

func (m Multi) each(send func(app.Notifier) error) error {
	var errs []error
	for _, n := range m {
		if err := send(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
