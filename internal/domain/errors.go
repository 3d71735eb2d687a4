package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrLicenseNotFound is returned when a key, id, order or subscription reference
	// does not resolve to a license.
	ErrLicenseNotFound = errors.New("license not found")
	// ErrLicenseConflict is returned when a license key or order reference already exists.
	ErrLicenseConflict = errors.New("license already exists")
	ErrLicenseRevoked  = errors.New("license has been revoked")
	ErrLicenseExpired  = errors.New("license has expired")
	// ErrActivationLimitReached is wrapped by ActivationLimitError.
	ErrActivationLimitReached = errors.New("maximum activations reached")
	ErrDeviceNotActivated     = errors.New("device is not activated for this license")
	ErrInvalidSignature       = errors.New("invalid webhook signature")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrRateLimited            = errors.New("daily limit reached")
	// ErrUpstreamUnavailable marks failures of third-party calls (email, completions, broker).
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")
	ErrInvalidInput        = errors.New("invalid input")
)

// ActivationLimitError carries the slot usage of a license that has no free slot.
type ActivationLimitError struct {
	Count int
	Max   int
}

func (e *ActivationLimitError) Error() string {
	return fmt.Sprintf("maximum activations reached (%d). Deactivate another device first.", e.Max)
}

func (e *ActivationLimitError) Unwrap() error { return ErrActivationLimitReached }

// IsForbidden reports whether err is one of the business-rule refusals.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrLicenseRevoked) ||
		errors.Is(err, ErrLicenseExpired) ||
		errors.Is(err, ErrActivationLimitReached) ||
		errors.Is(err, ErrDeviceNotActivated)
}
