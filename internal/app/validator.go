package app

import (
	"time"

	"github.com/skyvaultex/chrono-license-service/internal/domain"
)

// Validity is the entitlement decision for a license at a point in time.
type Validity struct {
	Valid  bool
	Reason error
}

// CheckValidity applies the status and expiry rules in order: revoked,
// expired status, then an expiry timestamp in the past. The timestamp wins
// over a stale active status.
func CheckValidity(license *domain.License, now time.Time) Validity {
	switch {
	case license.Status == domain.StatusRevoked:
		return Validity{Reason: domain.ErrLicenseRevoked}
	case license.Status == domain.StatusExpired:
		return Validity{Reason: domain.ErrLicenseExpired}
	case license.ExpiresAt != nil && license.ExpiresAt.Before(now):
		return Validity{Reason: domain.ErrLicenseExpired}
	default:
		return Validity{Valid: true}
	}
}

// ReasonText is the short reason code shown to clients.
func (v Validity) ReasonText() string {
	switch v.Reason {
	case nil:
		return ""
	case domain.ErrLicenseRevoked:
		return "License has been revoked"
	case domain.ErrLicenseExpired:
		return "License has expired"
	default:
		return v.Reason.Error()
	}
}

// CanActivate reports whether a device may use the license: it already holds
// a slot, or a slot is free.
func CanActivate(license *domain.License, isActivated bool, activationCount int) bool {
	return isActivated || activationCount < license.MaxActivations
}
