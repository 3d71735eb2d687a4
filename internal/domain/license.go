/**
 * @description
 * Core domain models for the license service: licenses, device activations
 * and the tier/status enums that drive the lifecycle state machine.
 */
package domain

import "time"

// Tier is the subscription tier a license grants.
type Tier string

const (
	TierFree     Tier = "free"
	TierPro      Tier = "pro"
	TierLifetime Tier = "lifetime"
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPro, TierLifetime:
		return true
	}
	return false
}

// KeyPrefix is the license key prefix that encodes the tier.
func (t Tier) KeyPrefix() string {
	if t == TierLifetime {
		return "LIFE"
	}
	return "PRO"
}

// DisplayName is the tier as shown in customer-facing copy.
func (t Tier) DisplayName() string {
	switch t {
	case TierLifetime:
		return "Lifetime"
	case TierPro:
		return "Pro"
	default:
		return "Free"
	}
}

// LicenseStatus is the persisted lifecycle status of a license.
type LicenseStatus string

const (
	StatusActive  LicenseStatus = "active"
	StatusExpired LicenseStatus = "expired"
	StatusRevoked LicenseStatus = "revoked"
)

// Valid reports whether s is one of the known statuses.
func (s LicenseStatus) Valid() bool {
	switch s {
	case StatusActive, StatusExpired, StatusRevoked:
		return true
	}
	return false
}

// DefaultMaxActivations is the number of device slots a license gets unless told otherwise.
const DefaultMaxActivations = 3

// License maps to a row of the licenses table.
type License struct {
	ID             string        `json:"id"`
	LicenseKey     string        `json:"license_key"`
	Tier           Tier          `json:"tier"`
	Status         LicenseStatus `json:"status"`
	Email          *string       `json:"email,omitempty"`
	CustomerID     *string       `json:"customer_id,omitempty"`
	OrderID        *string       `json:"order_id,omitempty"`
	SubscriptionID *string       `json:"subscription_id,omitempty"`
	MaxActivations int           `json:"max_activations"`
	ActivatedAt    *time.Time    `json:"activated_at,omitempty"`
	ExpiresAt      *time.Time    `json:"expires_at"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Activation is one device bound to one license.
type Activation struct {
	ID          string    `json:"id"`
	LicenseID   string    `json:"license_id"`
	DeviceID    string    `json:"device_id"`
	DeviceName  *string   `json:"device_name,omitempty"`
	ActivatedAt time.Time `json:"activated_at"`
}

// ActivationOutcome says what TryActivate did.
type ActivationOutcome int

const (
	// ActivationCreated means a new slot was consumed.
	ActivationCreated ActivationOutcome = iota + 1
	// ActivationRefreshed means the device already held a slot; only its timestamp moved.
	ActivationRefreshed
	// ActivationLimitReached means every slot is taken and nothing was written.
	ActivationLimitReached
)

func (o ActivationOutcome) String() string {
	switch o {
	case ActivationCreated:
		return "created"
	case ActivationRefreshed:
		return "refreshed"
	case ActivationLimitReached:
		return "limit_reached"
	default:
		return "unknown"
	}
}

// ActivationResult is the result of an atomic activation attempt.
type ActivationResult struct {
	Outcome ActivationOutcome
	Count   int
	Max     int
}

// Activated reports whether the device holds a slot after the attempt.
func (r ActivationResult) Activated() bool {
	return r.Outcome == ActivationCreated || r.Outcome == ActivationRefreshed
}

// WebhookEvent is the idempotency marker for one provider delivery.
type WebhookEvent struct {
	ID          string     `json:"id"`
	EventID     string     `json:"event_id"`
	EventType   string     `json:"event_type"`
	ClaimedAt   time.Time  `json:"claimed_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}
