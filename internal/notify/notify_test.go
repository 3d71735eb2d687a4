package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/skyvaultex/chrono-license-service/internal/domain"
	"github.com/skyvaultex/chrono-license-service/pkg/mailer"
)

type fakeMailer struct {
	sent []mailer.Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg mailer.Message) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, msg)
	return "msg_1", nil
}

type published struct {
	exchange   string
	routingKey string
	body       interface{}
}

type fakePublisher struct {
	messages []published
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, exchange, routingKey string, body interface{}) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, published{exchange, routingKey, body})
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleNotice(tier domain.Tier) domain.LicenseNotice {
	return domain.LicenseNotice{
		License: domain.License{
			ID:             "lic-1",
			LicenseKey:     "LIFE-2345-6789-ABCD",
			Tier:           tier,
			Status:         domain.StatusActive,
			MaxActivations: 3,
		},
		Email: "buyer@example.com",
		Name:  "Ada",
	}
}

func TestEmailNotifierIssued(t *testing.T) {
	m := &fakeMailer{}
	n := NewEmailNotifier(m, "https://chrono.app/", discardLogger())

	if err := n.LicenseIssued(context.Background(), sampleNotice(domain.TierLifetime)); err != nil {
		t.Fatalf("issued: %v", err)
	}
	if len(m.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(m.sent))
	}
	msg := m.sent[0]
	if msg.To != "buyer@example.com" || msg.Subject != "Your Chrono Lifetime License Key" {
		t.Fatalf("unexpected message %+v", msg)
	}
	for _, want := range []string{"LIFE-2345-6789-ABCD", "Hi Ada", "up to 3 devices", "https://chrono.app"} {
		if !strings.Contains(msg.HTML, want) {
			t.Fatalf("email body missing %q", want)
		}
	}
}

func TestEmailNotifierRevokedOnlyForRefunds(t *testing.T) {
	m := &fakeMailer{}
	n := NewEmailNotifier(m, "https://chrono.app", discardLogger())

	notice := sampleNotice(domain.TierPro)
	notice.Reason = domain.ReasonAdmin
	if err := n.LicenseRevoked(context.Background(), notice); err != nil {
		t.Fatalf("admin revoke: %v", err)
	}
	if len(m.sent) != 0 {
		t.Fatalf("admin revocation must not email, got %d", len(m.sent))
	}

	notice.Reason = domain.ReasonRefund
	if err := n.LicenseRevoked(context.Background(), notice); err != nil {
		t.Fatalf("refund revoke: %v", err)
	}
	if len(m.sent) != 1 || m.sent[0].Subject != "Chrono License Deactivated" {
		t.Fatalf("expected refund email, got %+v", m.sent)
	}
}

func TestEmailNotifierExpiring(t *testing.T) {
	m := &fakeMailer{}
	n := NewEmailNotifier(m, "https://chrono.app", discardLogger())
	notice := sampleNotice(domain.TierPro)
	notice.DaysLeft = 7

	if err := n.LicenseExpiring(context.Background(), notice); err != nil {
		t.Fatalf("expiring: %v", err)
	}
	if m.sent[0].Subject != "Your Chrono subscription expires in 7 days" {
		t.Fatalf("unexpected subject %q", m.sent[0].Subject)
	}
	if !strings.Contains(m.sent[0].HTML, "https://chrono.app/account") {
		t.Fatal("expected account link in body")
	}
}

func TestEmailNotifierSkipsMissingRecipientAndWrapsErrors(t *testing.T) {
	m := &fakeMailer{}
	n := NewEmailNotifier(m, "", discardLogger())
	notice := sampleNotice(domain.TierPro)
	notice.Email = " "
	if err := n.LicenseIssued(context.Background(), notice); err != nil || len(m.sent) != 0 {
		t.Fatalf("expected silent skip, got %v and %d emails", err, len(m.sent))
	}

	m.err = errors.New("boom")
	if err := n.LicenseIssued(context.Background(), sampleNotice(domain.TierPro)); !errors.Is(err, m.err) {
		t.Fatalf("expected wrapped mailer error, got %v", err)
	}
}

func TestEventNotifierRoutingKeys(t *testing.T) {
	p := &fakePublisher{}
	n := NewEventNotifier(p, "")
	n.now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	revoked := sampleNotice(domain.TierPro)
	revoked.Reason = domain.ReasonRefund
	_ = n.LicenseIssued(ctx, sampleNotice(domain.TierPro))
	_ = n.LicenseRevoked(ctx, revoked)
	_ = n.LicenseExpiring(ctx, sampleNotice(domain.TierPro))

	want := []string{RoutingKeyIssued, RoutingKeyRevoked, RoutingKeyExpiring}
	if len(p.messages) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(p.messages))
	}
	for i, key := range want {
		if p.messages[i].exchange != DefaultExchange || p.messages[i].routingKey != key {
			t.Fatalf("message %d: unexpected route %s/%s", i, p.messages[i].exchange, p.messages[i].routingKey)
		}
	}
	event := p.messages[1].body.(LicenseEvent)
	if event.LicenseID != "lic-1" || event.Reason != domain.ReasonRefund || event.OccurredAt.IsZero() {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	m := &fakeMailer{}
	p := &fakePublisher{err: errors.New("broker down")}
	multi := Multi{NewEmailNotifier(m, "", discardLogger()), NewEventNotifier(p, "x")}

	err := multi.LicenseIssued(context.Background(), sampleNotice(domain.TierPro))
	if !errors.Is(err, p.err) {
		t.Fatalf("expected broker error, got %v", err)
	}
	if len(m.sent) != 1 {
		t.Fatal("email must still be sent when another notifier fails")
	}
}
