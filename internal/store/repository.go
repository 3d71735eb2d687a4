/**
 * @description
 * Persistence contracts for licenses, device activations and webhook
 * idempotency markers. PostgresRepository is the production implementation;
 * MemoryRepository backs tests and database-less local runs.
 */
package store

import (
	"context"
	"errors"
	"time"

	"github.com/skyvaultex/chrono-license-service/internal/domain"
)

// CreateLicenseParams holds the fields supplied when issuing a license.
type CreateLicenseParams struct {
	LicenseKey     string
	Tier           domain.Tier
	Email          *string
	CustomerID     *string
	OrderID        *string
	SubscriptionID *string
	MaxActivations int
	ExpiresAt      *time.Time
}

// LicenseStore owns license rows. Lookups return domain.ErrLicenseNotFound when
// nothing matches.
type LicenseStore interface {
	CreateLicense(ctx context.Context, params CreateLicenseParams) (*domain.License, error)
	FindLicenseByKey(ctx context.Context, licenseKey string) (*domain.License, error)
	FindLicenseByID(ctx context.Context, id string) (*domain.License, error)
	FindLicenseByOrderID(ctx context.Context, orderID string) (*domain.License, error)
	FindLicenseBySubscriptionID(ctx context.Context, subscriptionID string) (*domain.License, error)
	SetLicenseStatus(ctx context.Context, id string, status domain.LicenseStatus) error
	SetLicenseExpiry(ctx context.Context, id string, expiresAt *time.Time) error
	SearchLicenses(ctx context.Context, query string, limit int) ([]domain.License, error)
	ListLicenses(ctx context.Context, limit, offset int) ([]domain.License, error)
	ExpireLapsedLicenses(ctx context.Context, now time.Time) (int64, error)
	ListLicensesExpiringBetween(ctx context.Context, from, to time.Time) ([]domain.License, error)
}

// ActivationLedger enforces the per-license device cap.
type ActivationLedger interface {
	ListActivations(ctx context.Context, licenseID string) ([]domain.Activation, error)
	CountActivations(ctx context.Context, licenseID string) (int, error)
	// TryActivate checks the slot count and inserts in one critical section.
	TryActivate(ctx context.Context, licenseID, deviceID string, deviceName *string) (domain.ActivationResult, error)
	// Deactivate is a no-op when the device holds no slot.
	Deactivate(ctx context.Context, licenseID, deviceID string) error
	RevokeAll(ctx context.Context, licenseID string) error
	// RevokeLicense marks the license revoked and drops its activations atomically.
	RevokeLicense(ctx context.Context, licenseID string) (*domain.License, error)
}

// WebhookEventStore records which provider deliveries have been handled.
type WebhookEventStore interface {
	// ClaimWebhookEvent returns true when the caller won the right to process
	// eventID. A claim that was never completed can be taken over once it is
	// older than the lease.
	ClaimWebhookEvent(ctx context.Context, eventID, eventType string, lease time.Duration) (bool, error)
	CompleteWebhookEvent(ctx context.Context, eventID string) error
	// ReleaseWebhookEvent expires an unfinished claim so a redelivery can retry it.
	ReleaseWebhookEvent(ctx context.Context, eventID string) error
	FindWebhookEvent(ctx context.Context, eventID string) (*domain.WebhookEvent, error)
}

// Repository is everything the license service persists.
type Repository interface {
	LicenseStore
	ActivationLedger
	WebhookEventStore
}

// ErrWebhookEventNotFound is returned by FindWebhookEvent.
var ErrWebhookEventNotFound = errors.New("webhook event not found")

func normaliseMaxActivations(n int) int {
	if n <= 0 {
		return domain.DefaultMaxActivations
	}
	return n
}

func normaliseLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 200:
		return 200
	default:
		return limit
	}
}
