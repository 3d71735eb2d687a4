/**
 * @description
 * Daily quota limiter for metered per-device features. Buckets reset at the
 * next midnight in the configured zone rather than sliding over 24 hours.
 * Counter state lives behind Store so the in-process map can be swapped for
 * Redis when more than one instance serves traffic.
 */
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Counter is the state of one bucket.
type Counter struct {
	Count   int64
	ResetAt time.Time
}

// Store holds bucket counters.
type Store interface {
	// Get returns the live counter for key. found is false when there is no
	// counter or it has expired.
	Get(ctx context.Context, key string, now time.Time) (counter Counter, found bool, err error)
	// IncrementBelow adds one to key unless the count already reached limit.
	// A missing or expired counter starts again from zero and expires at resetAt.
	IncrementBelow(ctx context.Context, key string, limit int64, resetAt, now time.Time) (counter Counter, incremented bool, err error)
}

// Decision is the outcome of CheckAndConsume.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter applies daily quotas on top of a Store.
type Limiter struct {
	store    Store
	location *time.Location
	now      func() time.Time
}

// NewLimiter creates a limiter whose windows end at midnight in loc.
func NewLimiter(store Store, loc *time.Location) *Limiter {
	if loc == nil {
		loc = time.UTC
	}
	return &Limiter{store: store, location: loc, now: time.Now}
}

// WithClock overrides the limiter's time source.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Key builds the bucket key for a license and device pair.
func Key(licenseKey, deviceID string) string {
	return strings.TrimSpace(licenseKey) + ":" + strings.TrimSpace(deviceID)
}

// NextMidnight returns the first midnight in loc strictly after now.
func NextMidnight(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
}

// CheckAndConsume spends one unit of key's quota if any is left.
func (l *Limiter) CheckAndConsume(ctx context.Context, key string, quota int) (Decision, error) {
	now := l.now()
	resetAt := NextMidnight(now, l.location)

	counter, incremented, err := l.store.IncrementBelow(ctx, key, int64(quota), resetAt, now)
	if err != nil {
		return Decision{}, fmt.Errorf("consume quota for %s: %w", key, err)
	}

	remaining := quota - int(counter.Count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   incremented,
		Limit:     quota,
		Remaining: remaining,
		ResetAt:   counter.ResetAt,
	}, nil
}

// Peek reports the current state of key without consuming anything.
func (l *Limiter) Peek(ctx context.Context, key string, quota int) (Decision, error) {
	now := l.now()
	counter, found, err := l.store.Get(ctx, key, now)
	if err != nil {
		return Decision{}, fmt.Errorf("read quota for %s: %w", key, err)
	}
	if !found {
		return Decision{Allowed: quota > 0, Limit: quota, Remaining: quota, ResetAt: NextMidnight(now, l.location)}, nil
	}
	remaining := quota - int(counter.Count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: remaining > 0, Limit: quota, Remaining: remaining, ResetAt: counter.ResetAt}, nil
}
