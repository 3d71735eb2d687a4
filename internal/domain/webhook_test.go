package domain

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recordingHandler struct {
	called string
}

func (h *recordingHandler) OnOrderCreated(context.Context, OrderCreated) error {
	h.called = "order_created"
	return nil
}

func (h *recordingHandler) OnSubscriptionCreated(context.Context, SubscriptionCreated) error {
	h.called = "subscription_created"
	return nil
}

func (h *recordingHandler) OnSubscriptionRenewed(context.Context, SubscriptionRenewed) error {
	h.called = "subscription_renewed"
	return nil
}

func (h *recordingHandler) OnSubscriptionLapsed(context.Context, SubscriptionLapsed) error {
	h.called = "subscription_lapsed"
	return nil
}

func (h *recordingHandler) OnOrderRefunded(context.Context, OrderRefunded) error {
	h.called = "order_refunded"
	return nil
}

func (h *recordingHandler) OnUnrecognized(context.Context, UnrecognizedEvent) error {
	h.called = "unrecognized"
	return nil
}

func TestParseWebhookEventDispatch(t *testing.T) {
	tests := []struct {
		name      string
		eventName string
		want      string
	}{
		{name: "order", eventName: "order_created", want: "order_created"},
		{name: "subscription", eventName: "subscription_created", want: "subscription_created"},
		{name: "updated", eventName: "subscription_updated", want: "subscription_renewed"},
		{name: "subscription payment success", eventName: "subscription_payment_success", want: "subscription_renewed"},
		{name: "payment success alias", eventName: "payment_success", want: "subscription_renewed"},
		{name: "cancelled", eventName: "subscription_cancelled", want: "subscription_lapsed"},
		{name: "payment failed alias", eventName: "payment_failed", want: "subscription_lapsed"},
		{name: "refund", eventName: "order_refunded", want: "order_refunded"},
		{name: "unknown", eventName: "license_key_created", want: "unrecognized"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			body := []byte(`{"meta":{"event_name":"` + tc.eventName + `"},"data":{"id":"42","attributes":{"user_email":"a@b.co"}}}`)
			event, err := ParseWebhookEvent(body)
			if err != nil {
				t.Fatalf("unexpected parse error: %v", err)
			}
			if event.EventID() != tc.eventName+"-42" {
				t.Fatalf("unexpected event id %q", event.EventID())
			}
			handler := &recordingHandler{}
			if err := event.Apply(context.Background(), handler); err != nil {
				t.Fatalf("unexpected apply error: %v", err)
			}
			if handler.called != tc.want {
				t.Fatalf("expected %s handler, got %q", tc.want, handler.called)
			}
		})
	}
}

func TestParseWebhookEventOrderFields(t *testing.T) {
	body := []byte(`{
		"meta": {"event_name": "order_created", "custom_data": {"device_id": "dev-1"}},
		"data": {"id": "1001", "attributes": {
			"user_email": " buyer@example.com ",
			"user_name": "Buyer",
			"customer_id": 77,
			"first_order_item": {"product_name": "Chrono", "variant_name": "Lifetime Deal"}
		}}
	}`)

	event, err := ParseWebhookEvent(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	order, ok := event.(OrderCreated)
	if !ok {
		t.Fatalf("expected OrderCreated, got %T", event)
	}
	if order.OrderID != "1001" || order.Purchaser.Email != "buyer@example.com" {
		t.Fatalf("unexpected order fields: %+v", order)
	}
	if order.Purchaser.CustomerID == nil || *order.Purchaser.CustomerID != "77" {
		t.Fatalf("expected customer id 77, got %v", order.Purchaser.CustomerID)
	}
	if order.LineItem == nil || order.LineItem.VariantName != "Lifetime Deal" {
		t.Fatalf("expected line item to be decoded, got %+v", order.LineItem)
	}
}

func TestParseWebhookEventSubscriptionDates(t *testing.T) {
	body := []byte(`{"meta":{"event_name":"subscription_created"},"data":{"id":"sub_1","attributes":{"renews_at":"2025-06-01T00:00:00.000000Z","ends_at":null}}}`)
	event, err := ParseWebhookEvent(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sub := event.(SubscriptionCreated)
	want := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if sub.RenewsAt == nil || !sub.RenewsAt.Equal(want) {
		t.Fatalf("expected renews_at %s, got %v", want, sub.RenewsAt)
	}
	if sub.EndsAt != nil {
		t.Fatalf("expected nil ends_at, got %v", sub.EndsAt)
	}
}

func TestParseWebhookEventRejectsMalformedInput(t *testing.T) {
	tests := map[string]string{
		"not json":      `{`,
		"missing name":  `{"meta":{},"data":{"id":"1"}}`,
		"missing id":    `{"meta":{"event_name":"order_created"},"data":{}}`,
		"bad timestamp": `{"meta":{"event_name":"subscription_updated"},"data":{"id":"1","attributes":{"renews_at":"soon"}}}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseWebhookEvent([]byte(body))
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestParseProviderTimeDateOnly(t *testing.T) {
	raw := "2025-05-10"
	got, err := ParseProviderTime(&raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || !got.Equal(time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected time %v", got)
	}
	empty := ""
	if got, err := ParseProviderTime(&empty); err != nil || got != nil {
		t.Fatalf("expected empty string to be absent, got %v, %v", got, err)
	}
}
