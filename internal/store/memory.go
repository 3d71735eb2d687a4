package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skyvaultex/chrono-license-service/internal/domain"
)

// MemoryRepository is an in-process Repository. A single mutex is the
// serialisation point for every mutation, which gives it the same atomicity
// as the Postgres implementation within one process.
type MemoryRepository struct {
	mu          sync.Mutex
	now         func() time.Time
	licenses    map[string]*domain.License
	activations map[string][]domain.Activation
	events      map[string]*domain.WebhookEvent
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		now:         time.Now,
		licenses:    make(map[string]*domain.License),
		activations: make(map[string][]domain.Activation),
		events:      make(map[string]*domain.WebhookEvent),
	}
}

// WithClock overrides the time source used for timestamps.
func (r *MemoryRepository) WithClock(now func() time.Time) *MemoryRepository {
	r.now = now
	return r
}

func cloneLicense(l *domain.License) *domain.License {
	c := *l
	return &c
}

func (r *MemoryRepository) CreateLicense(_ context.Context, params CreateLicenseParams) (*domain.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.licenses {
		if existing.LicenseKey == params.LicenseKey {
			return nil, fmt.Errorf("%w: license key %s", domain.ErrLicenseConflict, params.LicenseKey)
		}
		if params.OrderID != nil && existing.OrderID != nil && *existing.OrderID == *params.OrderID {
			return nil, fmt.Errorf("%w: order %s", domain.ErrLicenseConflict, *params.OrderID)
		}
	}

	now := r.now()
	license := &domain.License{
		ID:             uuid.NewString(),
		LicenseKey:     params.LicenseKey,
		Tier:           params.Tier,
		Status:         domain.StatusActive,
		Email:          params.Email,
		CustomerID:     params.CustomerID,
		OrderID:        params.OrderID,
		SubscriptionID: params.SubscriptionID,
		MaxActivations: normaliseMaxActivations(params.MaxActivations),
		ExpiresAt:      params.ExpiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.licenses[license.ID] = license
	return cloneLicense(license), nil
}

func (r *MemoryRepository) findLocked(match func(*domain.License) bool) (*domain.License, error) {
	var found *domain.License
	for _, l := range r.licenses {
		if !match(l) {
			continue
		}
		if found == nil || l.CreatedAt.Before(found.CreatedAt) {
			found = l
		}
	}
	if found == nil {
		return nil, domain.ErrLicenseNotFound
	}
	return cloneLicense(found), nil
}

func (r *MemoryRepository) FindLicenseByKey(_ context.Context, licenseKey string) (*domain.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(func(l *domain.License) bool { return l.LicenseKey == licenseKey })
}

func (r *MemoryRepository) FindLicenseByID(_ context.Context, id string) (*domain.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.licenses[id]
	if !ok {
		return nil, domain.ErrLicenseNotFound
	}
	return cloneLicense(l), nil
}

func (r *MemoryRepository) FindLicenseByOrderID(_ context.Context, orderID string) (*domain.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(func(l *domain.License) bool { return l.OrderID != nil && *l.OrderID == orderID })
}

func (r *MemoryRepository) FindLicenseBySubscriptionID(_ context.Context, subscriptionID string) (*domain.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(func(l *domain.License) bool {
		return l.SubscriptionID != nil && *l.SubscriptionID == subscriptionID
	})
}

func (r *MemoryRepository) SetLicenseStatus(_ context.Context, id string, status domain.LicenseStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.licenses[id]
	if !ok {
		return domain.ErrLicenseNotFound
	}
	l.Status = status
	l.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) SetLicenseExpiry(_ context.Context, id string, expiresAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.licenses[id]
	if !ok {
		return domain.ErrLicenseNotFound
	}
	if expiresAt != nil {
		t := *expiresAt
		expiresAt = &t
	}
	l.ExpiresAt = expiresAt
	l.UpdatedAt = r.now()
	return nil
}

// sortedLocked returns matching licenses newest first.
func (r *MemoryRepository) sortedLocked(match func(*domain.License) bool) []domain.License {
	out := make([]domain.License, 0, len(r.licenses))
	for _, l := range r.licenses {
		if match(l) {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r *MemoryRepository) SearchLicenses(_ context.Context, query string, limit int) ([]domain.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	needle := strings.ToLower(strings.TrimSpace(query))
	matches := r.sortedLocked(func(l *domain.License) bool {
		if strings.Contains(strings.ToLower(l.LicenseKey), needle) {
			return true
		}
		return l.Email != nil && strings.Contains(strings.ToLower(*l.Email), needle)
	})
	if limit = normaliseLimit(limit); len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (r *MemoryRepository) ListLicenses(_ context.Context, limit, offset int) ([]domain.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := r.sortedLocked(func(*domain.License) bool { return true })
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []domain.License{}, nil
	}
	all = all[offset:]
	if limit = normaliseLimit(limit); len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *MemoryRepository) ExpireLapsedLicenses(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, l := range r.licenses {
		if l.Status == domain.StatusActive && l.ExpiresAt != nil && l.ExpiresAt.Before(now) {
			l.Status = domain.StatusExpired
			l.UpdatedAt = r.now()
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) ListLicensesExpiringBetween(_ context.Context, from, to time.Time) ([]domain.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.sortedLocked(func(l *domain.License) bool {
		return l.Status == domain.StatusActive && l.ExpiresAt != nil &&
			!l.ExpiresAt.Before(from) && l.ExpiresAt.Before(to)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	return out, nil
}

func (r *MemoryRepository) ListActivations(_ context.Context, licenseID string) ([]domain.Activation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := append([]domain.Activation(nil), r.activations[licenseID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ActivatedAt.After(out[j].ActivatedAt) })
	return out, nil
}

func (r *MemoryRepository) CountActivations(_ context.Context, licenseID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.activations[licenseID]), nil
}

func (r *MemoryRepository) TryActivate(_ context.Context, licenseID, deviceID string, deviceName *string) (domain.ActivationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	license, ok := r.licenses[licenseID]
	if !ok {
		return domain.ActivationResult{}, domain.ErrLicenseNotFound
	}
	if license.Status == domain.StatusRevoked {
		return domain.ActivationResult{}, domain.ErrLicenseRevoked
	}

	now := r.now()
	rows := r.activations[licenseID]
	for i := range rows {
		if rows[i].DeviceID == deviceID {
			rows[i].ActivatedAt = now
			return domain.ActivationResult{Outcome: domain.ActivationRefreshed, Count: len(rows), Max: license.MaxActivations}, nil
		}
	}

	if len(rows) >= license.MaxActivations {
		return domain.ActivationResult{Outcome: domain.ActivationLimitReached, Count: len(rows), Max: license.MaxActivations}, nil
	}

	r.activations[licenseID] = append(rows, domain.Activation{
		ID:          uuid.NewString(),
		LicenseID:   licenseID,
		DeviceID:    deviceID,
		DeviceName:  deviceName,
		ActivatedAt: now,
	})
	if license.ActivatedAt == nil {
		license.ActivatedAt = &now
	}
	license.UpdatedAt = now
	return domain.ActivationResult{Outcome: domain.ActivationCreated, Count: len(rows) + 1, Max: license.MaxActivations}, nil
}

func (r *MemoryRepository) Deactivate(_ context.Context, licenseID, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := r.activations[licenseID]
	kept := rows[:0]
	for _, a := range rows {
		if a.DeviceID != deviceID {
			kept = append(kept, a)
		}
	}
	r.activations[licenseID] = kept
	return nil
}

func (r *MemoryRepository) RevokeAll(_ context.Context, licenseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.activations, licenseID)
	return nil
}

func (r *MemoryRepository) RevokeLicense(_ context.Context, licenseID string) (*domain.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.licenses[licenseID]
	if !ok {
		return nil, domain.ErrLicenseNotFound
	}
	l.Status = domain.StatusRevoked
	l.UpdatedAt = r.now()
	delete(r.activations, licenseID)
	return cloneLicense(l), nil
}

func (r *MemoryRepository) ClaimWebhookEvent(_ context.Context, eventID, eventType string, lease time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.events[eventID]; ok {
		if existing.ProcessedAt != nil || now.Sub(existing.ClaimedAt) < lease {
			return false, nil
		}
		existing.ClaimedAt = now
		return true, nil
	}
	r.events[eventID] = &domain.WebhookEvent{
		ID:        uuid.NewString(),
		EventID:   eventID,
		EventType: eventType,
		ClaimedAt: now,
	}
	return true, nil
}

func (r *MemoryRepository) CompleteWebhookEvent(_ context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.events[eventID]; ok {
		now := r.now()
		e.ProcessedAt = &now
	}
	return nil
}

func (r *MemoryRepository) ReleaseWebhookEvent(_ context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.events[eventID]; ok && e.ProcessedAt == nil {
		e.ClaimedAt = time.Time{}
	}
	return nil
}

func (r *MemoryRepository) FindWebhookEvent(_ context.Context, eventID string) (*domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[eventID]
	if !ok {
		return nil, ErrWebhookEventNotFound
	}
	c := *e
	return &c, nil
}

// WebhookEventCount returns how many markers exist.
func (r *MemoryRepository) WebhookEventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// LicenseCount returns how many licenses exist.
func (r *MemoryRepository) LicenseCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.licenses)
}

var (
	_ Repository = (*MemoryRepository)(nil)
	_ Repository = (*PostgresRepository)(nil)
)
