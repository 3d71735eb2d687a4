package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/skyvaultex/chrono-license-service/internal/domain"
	"github.com/skyvaultex/chrono-license-service/internal/ratelimit"
)

type stubCompleter struct {
	answer string
	err    error
	calls  int
	prompt string
}

func (c *stubCompleter) Complete(_ context.Context, _, userPrompt string) (string, error) {
	c.calls++
	c.prompt = userPrompt
	return c.answer, c.err
}

type advisorFixture struct {
	*licensingFixture
	completer *stubCompleter
	advisor   *AdvisorService
}

func newAdvisorFixture(t *testing.T) *advisorFixture {
	t.Helper()
	lf := newLicensingFixture(t)
	completer := &stubCompleter{answer: "Block mornings for deep work."}
	clock := func() time.Time { return lf.now }
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), time.UTC).WithClock(clock)
	advisor := NewAdvisorService(lf.repo, limiter, completer, discardLogger()).WithClock(clock)
	return &advisorFixture{licensingFixture: lf, completer: completer, advisor: advisor}
}

func (f *advisorFixture) activated(t *testing.T, tier domain.Tier, key, device string) *domain.License {
	t.Helper()
	license := f.issue(t, IssueInput{Tier: tier, LicenseKey: key})
	if _, err := f.service.Activate(context.Background(), license.LicenseKey, device, nil); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return license
}

func TestAdvisorAnswersActivatedDevice(t *testing.T) {
	f := newAdvisorFixture(t)
	license := f.activated(t, domain.TierPro, "", "mac-1")

	reply, err := f.advisor.Ask(context.Background(), AdvisorRequest{
		LicenseKey: license.LicenseKey,
		DeviceID:   "mac-1",
		Question:   "How do I focus?",
		Context:    map[string]any{"hours_today": 3.5},
	})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if reply.Response != "Block mornings for deep work." {
		t.Fatalf("unexpected response %q", reply.Response)
	}
	if reply.Limit != domain.PaidDailyAdvisorQuota || reply.Remaining != domain.PaidDailyAdvisorQuota-1 {
		t.Fatalf("unexpected quota %d/%d", reply.Remaining, reply.Limit)
	}
	if want := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC); !reply.ResetAt.Equal(want) {
		t.Fatalf("expected reset at %s, got %s", want, reply.ResetAt)
	}
	if !strings.Contains(f.completer.prompt, "hours_today") || !strings.HasSuffix(f.completer.prompt, "Question: How do I focus?") {
		t.Fatalf("prompt missing context or question: %q", f.completer.prompt)
	}
}

func TestAdvisorRefusals(t *testing.T) {
	f := newAdvisorFixture(t)
	ctx := context.Background()
	license := f.activated(t, domain.TierPro, "", "mac-1")

	revoked := f.activated(t, domain.TierPro, "", "mac-1")
	if _, err := f.service.Revoke(ctx, revoked.ID, domain.ReasonAdmin, domain.Purchaser{}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	f.notices.Wait()

	tests := []struct {
		name string
		req  AdvisorRequest
		want error
	}{
		{"empty question", AdvisorRequest{LicenseKey: license.LicenseKey, DeviceID: "mac-1", Question: "  "}, domain.ErrInvalidInput},
		{"unknown license", AdvisorRequest{LicenseKey: "PRO-NOPE-NOPE-NOPE", DeviceID: "mac-1", Question: "hi"}, domain.ErrLicenseNotFound},
		{"revoked license", AdvisorRequest{LicenseKey: revoked.LicenseKey, DeviceID: "mac-1", Question: "hi"}, domain.ErrLicenseRevoked},
		{"device not activated", AdvisorRequest{LicenseKey: license.LicenseKey, DeviceID: "other", Question: "hi"}, domain.ErrDeviceNotActivated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.advisor.Ask(ctx, tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if f.completer.calls != 0 {
		t.Fatalf("completer must not be called on refusal, got %d calls", f.completer.calls)
	}
}

func TestAdvisorFreeTierDailyQuota(t *testing.T) {
	f := newAdvisorFixture(t)
	ctx := context.Background()
	license := f.activated(t, domain.TierFree, "PRO-2345-6789-ABCD", "mac-1")
	req := AdvisorRequest{LicenseKey: license.LicenseKey, DeviceID: "mac-1", Question: "tip?"}

	for i := 1; i <= domain.FreeDailyAdvisorQuota; i++ {
		reply, err := f.advisor.Ask(ctx, req)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if reply.Remaining != domain.FreeDailyAdvisorQuota-i {
			t.Fatalf("request %d: expected %d remaining, got %d", i, domain.FreeDailyAdvisorQuota-i, reply.Remaining)
		}
	}

	_, err := f.advisor.Ask(ctx, req)
	var limitErr *RateLimitError
	if !errors.As(err, &limitErr) || !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if limitErr.Decision.Remaining != 0 || limitErr.Decision.Limit != domain.FreeDailyAdvisorQuota {
		t.Fatalf("unexpected decision %+v", limitErr.Decision)
	}
	if f.completer.calls != domain.FreeDailyAdvisorQuota {
		t.Fatalf("expected %d completions, got %d", domain.FreeDailyAdvisorQuota, f.completer.calls)
	}

	f.now = time.Date(2025, 6, 2, 0, 0, 1, 0, time.UTC)
	if _, err := f.advisor.Ask(ctx, req); err != nil {
		t.Fatalf("expected a fresh quota after midnight, got %v", err)
	}
}

func TestAdvisorUpstreamFailure(t *testing.T) {
	f := newAdvisorFixture(t)
	license := f.activated(t, domain.TierLifetime, "", "mac-1")
	f.completer.err = errors.New("503 from provider")

	_, err := f.advisor.Ask(context.Background(), AdvisorRequest{LicenseKey: license.LicenseKey, DeviceID: "mac-1", Question: "tip?"})
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}
