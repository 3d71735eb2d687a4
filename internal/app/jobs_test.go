package app

import (
	"context"
	"testing"
	"time"

	"github.com/skyvaultex/chrono-license-service/internal/domain"
)

func TestExpireLapsedLicenses(t *testing.T) {
	f := newLicensingFixture(t)
	ctx := context.Background()
	past := f.now.Add(-time.Hour)
	future := f.now.Add(time.Hour)

	lapsed := f.issue(t, IssueInput{ExpiresAt: &past})
	current := f.issue(t, IssueInput{ExpiresAt: &future})
	lifetime := f.issue(t, IssueInput{Tier: domain.TierLifetime})

	jobs := NewJobs(f.repo, f.notices, 7, discardLogger()).WithClock(func() time.Time { return f.now })
	jobs.ExpireLapsedLicenses()

	for _, tc := range []struct {
		license *domain.License
		want    domain.LicenseStatus
	}{
		{lapsed, domain.StatusExpired},
		{current, domain.StatusActive},
		{lifetime, domain.StatusActive},
	} {
		got, err := f.repo.FindLicenseByID(ctx, tc.license.ID)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if got.Status != tc.want {
			t.Fatalf("license %s: expected %s, got %s", got.LicenseKey, tc.want, got.Status)
		}
	}
}

func TestSendExpiryWarnings(t *testing.T) {
	f := newLicensingFixture(t)
	email := "soon@example.com"
	inWindow := f.now.AddDate(0, 0, 7).Add(2 * time.Hour)
	tooLate := f.now.AddDate(0, 0, 9)
	tomorrow := f.now.AddDate(0, 0, 1)

	f.issue(t, IssueInput{Email: &email, ExpiresAt: &inWindow})
	f.issue(t, IssueInput{Email: &email, ExpiresAt: &tooLate})
	f.issue(t, IssueInput{Email: &email, ExpiresAt: &tomorrow})
	f.issue(t, IssueInput{ExpiresAt: &inWindow})

	jobs := NewJobs(f.repo, f.notices, 7, discardLogger()).WithClock(func() time.Time { return f.now })
	sent, failed, err := jobs.sendExpiryWarnings(context.Background())
	if err != nil {
		t.Fatalf("send warnings: %v", err)
	}
	if sent != 1 || failed != 0 {
		t.Fatalf("expected 1 sent and 0 failed, got %d/%d", sent, failed)
	}
	kinds := f.notifier.kinds()
	if len(kinds) != 1 || kinds[0] != "expiring" {
		t.Fatalf("expected one expiring notice, got %v", kinds)
	}
	notice := f.notifier.notices[0].notice
	if notice.Email != email || notice.DaysLeft != 7 {
		t.Fatalf("unexpected notice %+v", notice)
	}
}

func TestSendExpiryWarningsCountsFailures(t *testing.T) {
	f := newLicensingFixture(t)
	f.notifier.fail = true
	email := "soon@example.com"
	inWindow := f.now.AddDate(0, 0, 3)
	f.issue(t, IssueInput{Email: &email, ExpiresAt: &inWindow})
	f.issue(t, IssueInput{Email: &email, ExpiresAt: &inWindow})

	jobs := NewJobs(f.repo, f.notices, 3, discardLogger()).WithClock(func() time.Time { return f.now })
	sent, failed, err := jobs.sendExpiryWarnings(context.Background())
	if err != nil {
		t.Fatalf("send warnings: %v", err)
	}
	if sent != 0 || failed != 2 {
		t.Fatalf("expected 0 sent and 2 failed, got %d/%d", sent, failed)
	}
}
