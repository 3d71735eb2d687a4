/**
 * @description
 * License use cases exposed to desktop clients and administrators:
 * activation, deactivation, validation, issuance, search and revocation.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/skyvaultex/chrono-license-service/internal/domain"
	"github.com/skyvaultex/chrono-license-service/internal/metrics"
	"github.com/skyvaultex/chrono-license-service/internal/store"
)

var tracer trace.Tracer = otel.Tracer("github.com/skyvaultex/chrono-license-service/internal/app")

func failSpan(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}

const keyGenerationAttempts = 5

// LicenseService orchestrates the license store, the activation ledger and
// the validity rules.
type LicenseService struct {
	repo          store.Repository
	notifications *Notifications
	entitlements  *EntitlementSigner
	metrics       *metrics.Metrics
	logger        *slog.Logger
	now           func() time.Time
}

// NewLicenseService creates a license service.
func NewLicenseService(repo store.Repository, notifications *Notifications, logger *slog.Logger) *LicenseService {
	return &LicenseService{
		repo:          repo,
		notifications: notifications,
		logger:        logger,
		now:           time.Now,
	}
}

// WithEntitlements enables signed entitlement tokens in validation results.
func (s *LicenseService) WithEntitlements(signer *EntitlementSigner) *LicenseService {
	s.entitlements = signer
	return s
}

func (s *LicenseService) WithMetrics(m *metrics.Metrics) *LicenseService {
	s.metrics = m
	return s
}

func (s *LicenseService) WithClock(now func() time.Time) *LicenseService {
	s.now = now
	return s
}

// ActivationStatus is the slot usage of a license as seen by one device.
type ActivationStatus struct {
	Count       int  `json:"count"`
	Max         int  `json:"max"`
	IsActivated bool `json:"is_activated"`
	CanActivate bool `json:"can_activate"`
}

// ActivateResult is returned by a successful activation.
type ActivateResult struct {
	License *domain.License
	Limits  domain.FeatureLimits
	Outcome domain.ActivationOutcome
	Count   int
	Max     int
}

// Activate binds a device to the license identified by licenseKey.
func (s *LicenseService) Activate(ctx context.Context, licenseKey, deviceID string, deviceName *string) (*ActivateResult, error) {
	ctx, span := tracer.Start(ctx, "LicenseService.Activate")
	defer span.End()

	license, err := s.repo.FindLicenseByKey(ctx, NormaliseLicenseKey(licenseKey))
	if err != nil {
		s.metrics.ActivationAttempt("not_found")
		return nil, err
	}
	span.SetAttributes(attribute.String("license.id", license.ID))

	if validity := CheckValidity(license, s.now()); !validity.Valid {
		s.metrics.ActivationAttempt("invalid")
		return nil, validity.Reason
	}

	result, err := s.repo.TryActivate(ctx, license.ID, strings.TrimSpace(deviceID), deviceName)
	if err != nil {
		if !domain.IsForbidden(err) && !errors.Is(err, domain.ErrLicenseNotFound) {
			failSpan(span, err, "activation failed")
		}
		s.metrics.ActivationAttempt("error")
		return nil, err
	}
	s.metrics.ActivationAttempt(result.Outcome.String())

	if result.Outcome == domain.ActivationLimitReached {
		return nil, &domain.ActivationLimitError{Count: result.Count, Max: result.Max}
	}

	s.logger.Info("device activated",
		"license_id", license.ID,
		"device_id", deviceID,
		"outcome", result.Outcome.String(),
		"count", result.Count,
	)

	return &ActivateResult{
		License: license,
		Limits:  domain.LimitsFor(license.Tier),
		Outcome: result.Outcome,
		Count:   result.Count,
		Max:     result.Max,
	}, nil
}

// Deactivate frees the device's slot. Unknown devices are ignored.
func (s *LicenseService) Deactivate(ctx context.Context, licenseKey, deviceID string) (*ActivationStatus, error) {
	license, err := s.repo.FindLicenseByKey(ctx, NormaliseLicenseKey(licenseKey))
	if err != nil {
		return nil, err
	}
	if err := s.repo.Deactivate(ctx, license.ID, strings.TrimSpace(deviceID)); err != nil {
		return nil, err
	}
	count, err := s.repo.CountActivations(ctx, license.ID)
	if err != nil {
		return nil, err
	}
	return &ActivationStatus{
		Count:       count,
		Max:         license.MaxActivations,
		CanActivate: CanActivate(license, false, count),
	}, nil
}

// ValidationResult is the full entitlement answer for a license and device.
type ValidationResult struct {
	License          *domain.License
	Validity         Validity
	Limits           domain.FeatureLimits
	Activation       *ActivationStatus
	EntitlementToken string
}

// Validate answers whether the license is usable and what it unlocks. An
// unknown key is reported as domain.ErrLicenseNotFound; every other outcome,
// including invalid licenses, is a result.
func (s *LicenseService) Validate(ctx context.Context, licenseKey, deviceID string) (*ValidationResult, error) {
	ctx, span := tracer.Start(ctx, "LicenseService.Validate")
	defer span.End()

	license, err := s.repo.FindLicenseByKey(ctx, NormaliseLicenseKey(licenseKey))
	if err != nil {
		return nil, err
	}

	now := s.now()
	validity := CheckValidity(license, now)
	if !validity.Valid {
		return &ValidationResult{
			License:  license,
			Validity: validity,
			Limits:   domain.LimitsFor(domain.TierFree),
		}, nil
	}

	activations, err := s.repo.ListActivations(ctx, license.ID)
	if err != nil {
		return nil, err
	}
	deviceID = strings.TrimSpace(deviceID)
	isActivated := false
	for _, a := range activations {
		if deviceID != "" && a.DeviceID == deviceID {
			isActivated = true
			break
		}
	}

	result := &ValidationResult{
		License:  license,
		Validity: validity,
		Limits:   domain.LimitsFor(license.Tier),
		Activation: &ActivationStatus{
			Count:       len(activations),
			Max:         license.MaxActivations,
			IsActivated: isActivated,
			CanActivate: CanActivate(license, isActivated, len(activations)),
		},
	}

	if s.entitlements != nil && isActivated {
		token, err := s.entitlements.Sign(license, deviceID, now)
		if err != nil {
			s.logger.Error("failed to sign entitlement token", "license_id", license.ID, "error", err)
		} else {
			result.EntitlementToken = token
		}
	}
	return result, nil
}

// IssueInput describes a license to create.
type IssueInput struct {
	// LicenseKey is generated from the tier when empty.
	LicenseKey     string
	Tier           domain.Tier
	Email          *string
	CustomerID     *string
	OrderID        *string
	SubscriptionID *string
	MaxActivations int
	ExpiresAt      *time.Time
}

// Issue creates a license. Generated keys are retried on collision; an
// explicit key or an order that already has a license yields ErrLicenseConflict.
func (s *LicenseService) Issue(ctx context.Context, input IssueInput) (*domain.License, error) {
	if !input.Tier.Valid() {
		return nil, fmt.Errorf("%w: unknown tier %q", domain.ErrInvalidInput, input.Tier)
	}
	if input.MaxActivations < 0 {
		return nil, fmt.Errorf("%w: max_activations must be positive", domain.ErrInvalidInput)
	}

	explicitKey := strings.TrimSpace(input.LicenseKey) != ""
	for attempt := 1; attempt <= keyGenerationAttempts; attempt++ {
		key := NormaliseLicenseKey(input.LicenseKey)
		if !explicitKey {
			generated, err := GenerateLicenseKey(input.Tier)
			if err != nil {
				return nil, err
			}
			key = generated
		}

		license, err := s.repo.CreateLicense(ctx, store.CreateLicenseParams{
			LicenseKey:     key,
			Tier:           input.Tier,
			Email:          input.Email,
			CustomerID:     input.CustomerID,
			OrderID:        input.OrderID,
			SubscriptionID: input.SubscriptionID,
			MaxActivations: input.MaxActivations,
			ExpiresAt:      input.ExpiresAt,
		})
		if err == nil {
			s.logger.Info("license issued", "license_id", license.ID, "tier", license.Tier)
			return license, nil
		}
		if !errors.Is(err, domain.ErrLicenseConflict) || explicitKey {
			return nil, err
		}
		if input.OrderID != nil {
			if _, findErr := s.repo.FindLicenseByOrderID(ctx, *input.OrderID); findErr == nil {
				return nil, err
			}
		}
		s.logger.Warn("license key collision, regenerating", "attempt", attempt)
	}
	return nil, fmt.Errorf("%w: could not generate a unique license key", domain.ErrLicenseConflict)
}

// LicenseDetail is a license with its activations.
type LicenseDetail struct {
	License     *domain.License     `json:"license"`
	Activations []domain.Activation `json:"activations"`
}

// GetLicense returns a license and its devices by id.
func (s *LicenseService) GetLicense(ctx context.Context, id string) (*LicenseDetail, error) {
	license, err := s.repo.FindLicenseByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	activations, err := s.repo.ListActivations(ctx, license.ID)
	if err != nil {
		return nil, err
	}
	return &LicenseDetail{License: license, Activations: activations}, nil
}

// ListLicenses searches by key or email when query is set, otherwise pages
// through every license. Both are newest first.
func (s *LicenseService) ListLicenses(ctx context.Context, query string, limit, offset int) ([]domain.License, error) {
	if q := strings.TrimSpace(query); q != "" {
		return s.repo.SearchLicenses(ctx, q, limit)
	}
	return s.repo.ListLicenses(ctx, limit, offset)
}

// Revoke ends a license for good and drops its activations. contact is used
// for the notice when the license has no email on file.
func (s *LicenseService) Revoke(ctx context.Context, id string, reason domain.NoticeReason, contact domain.Purchaser) (*domain.License, error) {
	ctx, span := tracer.Start(ctx, "LicenseService.Revoke")
	defer span.End()

	license, err := s.repo.RevokeLicense(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	s.logger.Info("license revoked", "license_id", license.ID, "reason", string(reason))

	notice := domain.LicenseNotice{License: *license, Reason: reason, Email: contact.Email, Name: contact.Name}
	if license.Email != nil && *license.Email != "" {
		notice.Email = *license.Email
	}
	s.notifications.Revoked(ctx, notice)
	return license, nil
}
