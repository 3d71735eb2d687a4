/**
 * @description
 * Webhook processing for payment-provider events. A delivery is verified,
 * claimed by its idempotency key, then applied as one lifecycle transition.
 *
 * @notes
 * - The claim happens before any side effect. A concurrent duplicate loses
 *   the claim and is answered as already processed.
 * - Transitions are safe to re-run: creation is keyed by order/subscription
 *   and every other change is a plain field set. A store failure releases the
 *   claim so the provider's retry runs the transition again.
 * - Data inconsistencies (no line item, unknown subscription) are logged and
 *   the event is still marked processed, so the provider stops retrying.
 */
package app

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/skyvaultex/chrono-license-service/internal/domain"
	"github.com/skyvaultex/chrono-license-service/internal/metrics"
	"github.com/skyvaultex/chrono-license-service/internal/store"
)

// ErrWebhookNotConfigured means no signing secret is configured.
var ErrWebhookNotConfigured = errors.New("webhook signing secret is not configured")

// DefaultClaimLease is how long an unfinished claim blocks redeliveries.
const DefaultClaimLease = 5 * time.Minute

// WebhookResult describes what happened to a delivery.
type WebhookResult struct {
	EventID   string
	EventName string
	Duplicate bool
}

// WebhookProcessor turns provider deliveries into license transitions.
type WebhookProcessor struct {
	secret        []byte
	repo          store.Repository
	licenses      *LicenseService
	notifications *Notifications
	metrics       *metrics.Metrics
	logger        *slog.Logger
	now           func() time.Time
	claimLease    time.Duration
}

// NewWebhookProcessor creates a processor that verifies deliveries with secret.
func NewWebhookProcessor(
	secret string,
	repo store.Repository,
	licenses *LicenseService,
	notifications *Notifications,
	logger *slog.Logger,
) *WebhookProcessor {
	return &WebhookProcessor{
		secret:        []byte(secret),
		repo:          repo,
		licenses:      licenses,
		notifications: notifications,
		logger:        logger,
		now:           time.Now,
		claimLease:    DefaultClaimLease,
	}
}

func (p *WebhookProcessor) WithMetrics(m *metrics.Metrics) *WebhookProcessor {
	p.metrics = m
	return p
}

func (p *WebhookProcessor) WithClock(now func() time.Time) *WebhookProcessor {
	p.now = now
	return p
}

// VerifySignature checks the hex HMAC-SHA256 of body against signature in
// constant time.
func (p *WebhookProcessor) VerifySignature(body []byte, signature string) error {
	if len(p.secret) == 0 {
		return ErrWebhookNotConfigured
	}
	provided, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(provided) == 0 {
		return domain.ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, p.secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), provided) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// SignPayload returns the signature the provider would send for body.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Process verifies, deduplicates and applies one delivery.
func (p *WebhookProcessor) Process(ctx context.Context, body []byte, signature string) (WebhookResult, error) {
	ctx, span := tracer.Start(ctx, "WebhookProcessor.Process")
	defer span.End()

	if err := p.VerifySignature(body, signature); err != nil {
		p.metrics.WebhookEvent("unknown", "rejected")
		return WebhookResult{}, err
	}

	event, err := domain.ParseWebhookEvent(body)
	if err != nil {
		p.metrics.WebhookEvent("unknown", "malformed")
		return WebhookResult{}, err
	}
	result := WebhookResult{EventID: event.EventID(), EventName: event.Name()}
	span.SetAttributes(
		attribute.String("webhook.event_id", result.EventID),
		attribute.String("webhook.event_name", result.EventName),
	)

	claimed, err := p.repo.ClaimWebhookEvent(ctx, result.EventID, result.EventName, p.claimLease)
	if err != nil {
		p.metrics.WebhookEvent(result.EventName, "error")
		return result, fmt.Errorf("claim %s: %w", result.EventID, err)
	}
	if !claimed {
		p.logger.Info("duplicate webhook ignored", "event_id", result.EventID)
		p.metrics.WebhookEvent(result.EventName, "duplicate")
		result.Duplicate = true
		return result, nil
	}

	if err := event.Apply(ctx, transitions{p}); err != nil {
		failSpan(span, err, "transition failed")
		p.metrics.WebhookEvent(result.EventName, "error")
		if releaseErr := p.repo.ReleaseWebhookEvent(context.WithoutCancel(ctx), result.EventID); releaseErr != nil {
			p.logger.Error("failed to release webhook claim", "event_id", result.EventID, "error", releaseErr)
		}
		return result, fmt.Errorf("apply %s: %w", result.EventID, err)
	}

	if err := p.repo.CompleteWebhookEvent(ctx, result.EventID); err != nil {
		// The transition already committed; an unfinished claim is retaken
		// after its lease and the transition re-runs harmlessly.
		p.logger.Error("failed to mark webhook processed", "event_id", result.EventID, "error", err)
	}
	p.metrics.WebhookEvent(result.EventName, "processed")
	p.logger.Info("webhook processed", "event_id", result.EventID, "event_name", result.EventName)
	return result, nil
}

// transitions is the domain.EventHandler that mutates licenses.
type transitions struct {
	p *WebhookProcessor
}

var _ domain.EventHandler = transitions{}

func (t transitions) OnOrderCreated(ctx context.Context, e domain.OrderCreated) error {
	logger := t.p.logger.With("event_id", e.EventID(), "order_id", e.OrderID)
	if e.LineItem == nil {
		logger.Warn("order has no line item, skipping license issuance")
		return nil
	}

	if existing, err := t.p.repo.FindLicenseByOrderID(ctx, e.OrderID); err == nil {
		logger.Info("license already issued for order", "license_id", existing.ID)
		return nil
	} else if !errors.Is(err, domain.ErrLicenseNotFound) {
		return err
	}

	license, err := t.p.licenses.Issue(ctx, IssueInput{
		Tier:       TierFromLineItem(*e.LineItem),
		Email:      optionalString(e.Purchaser.Email),
		CustomerID: e.Purchaser.CustomerID,
		OrderID:    &e.OrderID,
	})
	if err != nil {
		if errors.Is(err, domain.ErrLicenseConflict) {
			logger.Info("license for order was issued concurrently")
			return nil
		}
		return err
	}

	t.p.notifications.Issued(ctx, domain.LicenseNotice{
		License: *license,
		Email:   e.Purchaser.Email,
		Name:    e.Purchaser.Name,
	})
	return nil
}

func (t transitions) OnSubscriptionCreated(ctx context.Context, e domain.SubscriptionCreated) error {
	logger := t.p.logger.With("event_id", e.EventID(), "subscription_id", e.SubscriptionID)

	if existing, err := t.p.repo.FindLicenseBySubscriptionID(ctx, e.SubscriptionID); err == nil {
		logger.Info("license already issued for subscription", "license_id", existing.ID)
		return nil
	} else if !errors.Is(err, domain.ErrLicenseNotFound) {
		return err
	}

	license, err := t.p.licenses.Issue(ctx, IssueInput{
		Tier:           domain.TierPro,
		Email:          optionalString(e.Purchaser.Email),
		CustomerID:     e.Purchaser.CustomerID,
		SubscriptionID: &e.SubscriptionID,
		ExpiresAt:      CalculateExpiry(e.RenewsAt, e.EndsAt),
	})
	if err != nil {
		return err
	}

	t.p.notifications.Issued(ctx, domain.LicenseNotice{
		License: *license,
		Email:   e.Purchaser.Email,
		Name:    e.Purchaser.Name,
	})
	return nil
}

func (t transitions) OnSubscriptionRenewed(ctx context.Context, e domain.SubscriptionRenewed) error {
	license, ok, err := t.subscriptionLicense(ctx, e.EventID(), e.SubscriptionID)
	if !ok {
		return err
	}

	if err := t.p.repo.SetLicenseExpiry(ctx, license.ID, CalculateExpiry(e.RenewsAt, e.EndsAt)); err != nil {
		return err
	}
	if license.Status == domain.StatusExpired {
		if err := t.p.repo.SetLicenseStatus(ctx, license.ID, domain.StatusActive); err != nil {
			return err
		}
		t.p.logger.Info("license reactivated", "license_id", license.ID, "event_id", e.EventID())
	}
	return nil
}

func (t transitions) OnSubscriptionLapsed(ctx context.Context, e domain.SubscriptionLapsed) error {
	license, ok, err := t.subscriptionLicense(ctx, e.EventID(), e.SubscriptionID)
	if !ok {
		return err
	}

	expireNow := true
	if e.EndsAt != nil {
		if err := t.p.repo.SetLicenseExpiry(ctx, license.ID, e.EndsAt); err != nil {
			return err
		}
		expireNow = e.EndsAt.Before(t.p.now())
	}
	if !expireNow {
		return nil
	}
	if license.Status == domain.StatusRevoked {
		t.p.logger.Info("license already revoked, leaving status", "license_id", license.ID)
		return nil
	}
	return t.p.repo.SetLicenseStatus(ctx, license.ID, domain.StatusExpired)
}

func (t transitions) OnOrderRefunded(ctx context.Context, e domain.OrderRefunded) error {
	license, err := t.p.repo.FindLicenseByOrderID(ctx, e.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrLicenseNotFound) {
			t.p.logger.Warn("refund for unknown order, skipping", "event_id", e.EventID(), "order_id", e.OrderID)
			return nil
		}
		return err
	}

	_, err = t.p.licenses.Revoke(ctx, license.ID, domain.ReasonRefund, e.Purchaser)
	return err
}

func (t transitions) OnUnrecognized(_ context.Context, e domain.UnrecognizedEvent) error {
	t.p.logger.Info("unhandled webhook event", "event_id", e.EventID(), "event_name", e.Name())
	return nil
}

// subscriptionLicense resolves the license of a subscription. ok is false
// when the caller should stop, with err set only for store failures.
func (t transitions) subscriptionLicense(ctx context.Context, eventID, subscriptionID string) (*domain.License, bool, error) {
	license, err := t.p.repo.FindLicenseBySubscriptionID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, domain.ErrLicenseNotFound) {
			t.p.logger.Warn("no license for subscription, skipping",
				"event_id", eventID,
				"subscription_id", subscriptionID,
			)
			return nil, false, nil
		}
		return nil, false, err
	}
	return license, true, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
