package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/skyvaultex/chrono-license-service/internal/domain"
	"github.com/skyvaultex/chrono-license-service/internal/store"
)

type licensingFixture struct {
	repo     *store.MemoryRepository
	notifier *recordingNotifier
	notices  *Notifications
	service  *LicenseService
	now      time.Time
}

func newLicensingFixture(t *testing.T) *licensingFixture {
	t.Helper()
	f := &licensingFixture{
		repo:     store.NewMemoryRepository(),
		notifier: &recordingNotifier{},
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.notices = NewNotifications(f.notifier, discardLogger(), nil)
	f.service = NewLicenseService(f.repo, f.notices, discardLogger()).
		WithClock(func() time.Time { return f.now })
	return f
}

func (f *licensingFixture) issue(t *testing.T, input IssueInput) *domain.License {
	t.Helper()
	if input.Tier == "" {
		input.Tier = domain.TierPro
	}
	license, err := f.service.Issue(context.Background(), input)
	if err != nil {
		t.Fatalf("issue license: %v", err)
	}
	return license
}

func TestActivateUnknownKey(t *testing.T) {
	f := newLicensingFixture(t)
	_, err := f.service.Activate(context.Background(), "PRO-XXXX-XXXX-XXXX", "device", nil)
	if !errors.Is(err, domain.ErrLicenseNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestActivateReturnsTierLimits(t *testing.T) {
	f := newLicensingFixture(t)
	license := f.issue(t, IssueInput{Tier: domain.TierLifetime})

	result, err := f.service.Activate(context.Background(), " "+license.LicenseKey+" ", "mac-1", nil)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if result.Outcome != domain.ActivationCreated || result.Count != 1 || result.Max != 3 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Limits.DailyAdvisorQuota != domain.PaidDailyAdvisorQuota {
		t.Fatalf("expected lifetime limits, got %+v", result.Limits)
	}
}

func TestActivateFourthDeviceIsForbidden(t *testing.T) {
	f := newLicensingFixture(t)
	license := f.issue(t, IssueInput{})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if _, err := f.service.Activate(ctx, license.LicenseKey, fmt.Sprintf("device-%d", i), nil); err != nil {
			t.Fatalf("activate device %d: %v", i, err)
		}
	}

	_, err := f.service.Activate(ctx, license.LicenseKey, "device-4", nil)
	var limitErr *domain.ActivationLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected activation limit error, got %v", err)
	}
	if limitErr.Max != 3 || !domain.IsForbidden(err) {
		t.Fatalf("expected forbidden with max 3, got %+v", limitErr)
	}
	if count, _ := f.repo.CountActivations(ctx, license.ID); count != 3 {
		t.Fatalf("expected stored count to remain 3, got %d", count)
	}

	again, err := f.service.Activate(ctx, license.LicenseKey, "device-2", nil)
	if err != nil {
		t.Fatalf("re-activating an existing device must succeed on a full license: %v", err)
	}
	if again.Outcome != domain.ActivationRefreshed || again.Count != 3 {
		t.Fatalf("expected refresh without consuming a slot, got %+v", again)
	}
}

func TestActivateConcurrentDevicesNeverExceedCap(t *testing.T) {
	f := newLicensingFixture(t)
	license := f.issue(t, IssueInput{MaxActivations: 2})
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		limited int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.service.Activate(ctx, license.LicenseKey, fmt.Sprintf("d%d", i), nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrActivationLimitReached):
				limited++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if ok != 2 || limited != 8 {
		t.Fatalf("expected 2 successes and 8 limit errors, got %d and %d", ok, limited)
	}
}

func TestActivateRejectsInvalidLicenses(t *testing.T) {
	f := newLicensingFixture(t)
	ctx := context.Background()

	past := f.now.Add(-time.Hour)
	lapsed := f.issue(t, IssueInput{ExpiresAt: &past})
	if _, err := f.service.Activate(ctx, lapsed.LicenseKey, "d", nil); !errors.Is(err, domain.ErrLicenseExpired) {
		t.Fatalf("expected expired, got %v", err)
	}

	revoked := f.issue(t, IssueInput{})
	if _, err := f.service.Revoke(ctx, revoked.ID, domain.ReasonAdmin, domain.Purchaser{}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := f.service.Activate(ctx, revoked.LicenseKey, "d", nil); !errors.Is(err, domain.ErrLicenseRevoked) {
		t.Fatalf("expected revoked, got %v", err)
	}
}

func TestDeactivate(t *testing.T) {
	f := newLicensingFixture(t)
	license := f.issue(t, IssueInput{})
	ctx := context.Background()

	if _, err := f.service.Activate(ctx, license.LicenseKey, "a", nil); err != nil {
		t.Fatalf("activate: %v", err)
	}
	status, err := f.service.Deactivate(ctx, license.LicenseKey, "a")
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if status.Count != 0 || status.Max != 3 {
		t.Fatalf("unexpected status %+v", status)
	}
	if _, err := f.service.Deactivate(ctx, license.LicenseKey, "unknown-device"); err != nil {
		t.Fatalf("deactivating an unknown device should be a no-op, got %v", err)
	}
	if _, err := f.service.Deactivate(ctx, "PRO-NOPE-NOPE-NOPE", "a"); !errors.Is(err, domain.ErrLicenseNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	f := newLicensingFixture(t)
	ctx := context.Background()
	license := f.issue(t, IssueInput{MaxActivations: 1})

	if _, err := f.service.Activate(ctx, license.LicenseKey, "owner", nil); err != nil {
		t.Fatalf("activate: %v", err)
	}

	t.Run("activated device", func(t *testing.T) {
		result, err := f.service.Validate(ctx, license.LicenseKey, "owner")
		if err != nil {
			t.Fatalf("validate: %v", err)
		}
		if !result.Validity.Valid || result.Activation == nil {
			t.Fatalf("expected valid result with activation, got %+v", result)
		}
		want := ActivationStatus{Count: 1, Max: 1, IsActivated: true, CanActivate: true}
		if *result.Activation != want {
			t.Fatalf("expected %+v, got %+v", want, *result.Activation)
		}
		if result.EntitlementToken != "" {
			t.Fatal("expected no token without a signer")
		}
	})

	t.Run("other device on a full license", func(t *testing.T) {
		result, err := f.service.Validate(ctx, license.LicenseKey, "stranger")
		if err != nil {
			t.Fatalf("validate: %v", err)
		}
		if result.Activation.IsActivated || result.Activation.CanActivate {
			t.Fatalf("expected stranger to have no slot, got %+v", result.Activation)
		}
	})

	t.Run("revoked license reports free limits", func(t *testing.T) {
		if _, err := f.service.Revoke(ctx, license.ID, domain.ReasonAdmin, domain.Purchaser{}); err != nil {
			t.Fatalf("revoke: %v", err)
		}
		result, err := f.service.Validate(ctx, license.LicenseKey, "owner")
		if err != nil {
			t.Fatalf("validate: %v", err)
		}
		if result.Validity.Valid || !errors.Is(result.Validity.Reason, domain.ErrLicenseRevoked) {
			t.Fatalf("expected revoked, got %+v", result.Validity)
		}
		if result.Limits.DailyAdvisorQuota != domain.FreeDailyAdvisorQuota {
			t.Fatalf("expected free limits for an invalid license, got %+v", result.Limits)
		}
		if count, _ := f.repo.CountActivations(ctx, license.ID); count != 0 {
			t.Fatalf("expected zero activations after revoke, got %d", count)
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		if _, err := f.service.Validate(ctx, "PRO-NONE-NONE-NONE", ""); !errors.Is(err, domain.ErrLicenseNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestValidateIssuesEntitlementToken(t *testing.T) {
	f := newLicensingFixture(t)
	f.now = time.Now()
	signer := NewEntitlementSigner("test-secret", time.Hour)
	f.service.WithEntitlements(signer)
	ctx := context.Background()
	license := f.issue(t, IssueInput{})

	if _, err := f.service.Activate(ctx, license.LicenseKey, "owner", nil); err != nil {
		t.Fatalf("activate: %v", err)
	}
	result, err := f.service.Validate(ctx, license.LicenseKey, "owner")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	claims, err := signer.Verify(result.EntitlementToken)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if claims.Subject != license.ID || claims.Tier != domain.TierPro || claims.DeviceID != "owner" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestIssueExplicitKeyConflict(t *testing.T) {
	f := newLicensingFixture(t)
	ctx := context.Background()

	first := f.issue(t, IssueInput{LicenseKey: "pro-abcd-efgh-jkmn"})
	if first.LicenseKey != "PRO-ABCD-EFGH-JKMN" {
		t.Fatalf("expected normalised key, got %q", first.LicenseKey)
	}
	if _, err := f.service.Issue(ctx, IssueInput{Tier: domain.TierPro, LicenseKey: "PRO-ABCD-EFGH-JKMN"}); !errors.Is(err, domain.ErrLicenseConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := f.service.Issue(ctx, IssueInput{Tier: "gold"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for unknown tier, got %v", err)
	}
}

func TestListLicensesUsesSearchWhenQueryGiven(t *testing.T) {
	f := newLicensingFixture(t)
	ctx := context.Background()
	email := "someone@example.com"
	f.issue(t, IssueInput{Email: &email})
	f.issue(t, IssueInput{})

	all, err := f.service.ListLicenses(ctx, "", 50, 0)
	if err != nil || len(all) != 2 {
		t.Fatalf("expected two licenses, got %d (%v)", len(all), err)
	}
	found, err := f.service.ListLicenses(ctx, "someone", 50, 0)
	if err != nil || len(found) != 1 {
		t.Fatalf("expected one match, got %d (%v)", len(found), err)
	}
}

func TestRevokeNotifiesWithLicenseEmail(t *testing.T) {
	f := newLicensingFixture(t)
	email := "owner@example.com"
	license := f.issue(t, IssueInput{Email: &email})

	revoked, err := f.service.Revoke(context.Background(), license.ID, domain.ReasonAdmin, domain.Purchaser{Email: "other@example.com"})
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked.Status != domain.StatusRevoked {
		t.Fatalf("expected revoked status, got %s", revoked.Status)
	}
	f.notices.Wait()

	if kinds := f.notifier.kinds(); len(kinds) != 1 || kinds[0] != "revoked" {
		t.Fatalf("expected one revoked notice, got %v", kinds)
	}
	if got := f.notifier.notices[0].notice.Email; got != email {
		t.Fatalf("expected notice to use the license email, got %q", got)
	}
}
