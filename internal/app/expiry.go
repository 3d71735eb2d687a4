package app

import (
	"strings"
	"time"

	"github.com/skyvaultex/chrono-license-service/internal/domain"
)

// RenewalGraceDays covers payment processing delay after a renewal date.
const RenewalGraceDays = 3

// CalculateExpiry picks the access end for a subscription: the scheduled end
// if there is one, otherwise the renewal date plus the grace period, otherwise
// no expiry.
func CalculateExpiry(renewsAt, endsAt *time.Time) *time.Time {
	if endsAt != nil {
		t := *endsAt
		return &t
	}
	if renewsAt != nil {
		t := renewsAt.AddDate(0, 0, RenewalGraceDays)
		return &t
	}
	return nil
}

// TierFromLineItem derives the tier of a one-off purchase from its variant
// name, falling back to the product name.
func TierFromLineItem(item domain.OrderLineItem) domain.Tier {
	name := item.VariantName
	if strings.TrimSpace(name) == "" {
		name = item.ProductName
	}
	if strings.Contains(strings.ToLower(name), "lifetime") {
		return domain.TierLifetime
	}
	return domain.TierPro
}
