/**
 * @description
 * Webhook payload contract for the payment provider (LemonSqueezy) and the closed
 * set of lifecycle events the service reacts to.
 *
 * @notes
 * - Every event kind implements Event.Apply, which calls exactly one method on
 *   EventHandler. A new event kind therefore needs a new handler method, and every
 *   handler fails to compile until it decides what to do with it.
 */
package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// WebhookPayload is the envelope the provider posts for every event.
type WebhookPayload struct {
	Meta struct {
		EventName  string         `json:"event_name"`
		TestMode   bool           `json:"test_mode"`
		CustomData map[string]any `json:"custom_data,omitempty"`
	} `json:"meta"`
	Data struct {
		ID         string            `json:"id"`
		Type       string            `json:"type"`
		Attributes WebhookAttributes `json:"attributes"`
	} `json:"data"`
}

// WebhookAttributes covers the order and subscription attributes the service reads.
type WebhookAttributes struct {
	OrderNumber    *int64         `json:"order_number"`
	OrderID        *int64         `json:"order_id"`
	Status         string         `json:"status"`
	UserEmail      string         `json:"user_email"`
	UserName       string         `json:"user_name"`
	CustomerID     *int64         `json:"customer_id"`
	ProductID      *int64         `json:"product_id"`
	ProductName    string         `json:"product_name"`
	VariantID      *int64         `json:"variant_id"`
	VariantName    string         `json:"variant_name"`
	RenewsAt       *string        `json:"renews_at"`
	EndsAt         *string        `json:"ends_at"`
	FirstOrderItem *OrderLineItem `json:"first_order_item"`
}

// OrderLineItem is the first purchased item of an order.
type OrderLineItem struct {
	ProductID   *int64 `json:"product_id"`
	ProductName string `json:"product_name"`
	VariantID   *int64 `json:"variant_id"`
	VariantName string `json:"variant_name"`
}

// Purchaser is who bought the license, as reported by the provider.
type Purchaser struct {
	Email      string
	Name       string
	CustomerID *string
}

// Event is one provider delivery, decoded into its lifecycle meaning.
type Event interface {
	// EventID is the idempotency key: "<event_name>-<provider object id>".
	EventID() string
	// Name is the provider event name as delivered.
	Name() string
	// Apply dispatches the event to the matching handler method.
	Apply(ctx context.Context, h EventHandler) error
	sealed()
}

// EventHandler has one method per lifecycle event.
type EventHandler interface {
	OnOrderCreated(ctx context.Context, e OrderCreated) error
	OnSubscriptionCreated(ctx context.Context, e SubscriptionCreated) error
	OnSubscriptionRenewed(ctx context.Context, e SubscriptionRenewed) error
	OnSubscriptionLapsed(ctx context.Context, e SubscriptionLapsed) error
	OnOrderRefunded(ctx context.Context, e OrderRefunded) error
	OnUnrecognized(ctx context.Context, e UnrecognizedEvent) error
}

type envelope struct {
	name     string
	objectID string
}

func (e envelope) EventID() string { return e.name + "-" + e.objectID }
func (e envelope) Name() string    { return e.name }
func (envelope) sealed()           {}

// OrderCreated is a one-off purchase. LineItem is nil when the provider omitted it.
type OrderCreated struct {
	envelope
	OrderID   string
	Purchaser Purchaser
	LineItem  *OrderLineItem
}

func (e OrderCreated) Apply(ctx context.Context, h EventHandler) error {
	return h.OnOrderCreated(ctx, e)
}

// SubscriptionCreated starts a recurring pro license.
type SubscriptionCreated struct {
	envelope
	SubscriptionID string
	Purchaser      Purchaser
	RenewsAt       *time.Time
	EndsAt         *time.Time
}

func (e SubscriptionCreated) Apply(ctx context.Context, h EventHandler) error {
	return h.OnSubscriptionCreated(ctx, e)
}

// SubscriptionRenewed covers subscription_updated and payment_success.
type SubscriptionRenewed struct {
	envelope
	SubscriptionID string
	RenewsAt       *time.Time
	EndsAt         *time.Time
}

func (e SubscriptionRenewed) Apply(ctx context.Context, h EventHandler) error {
	return h.OnSubscriptionRenewed(ctx, e)
}

// SubscriptionLapsed covers subscription_cancelled and payment_failed.
type SubscriptionLapsed struct {
	envelope
	SubscriptionID string
	EndsAt         *time.Time
}

func (e SubscriptionLapsed) Apply(ctx context.Context, h EventHandler) error {
	return h.OnSubscriptionLapsed(ctx, e)
}

// OrderRefunded revokes the license issued for an order.
type OrderRefunded struct {
	envelope
	OrderID   string
	Purchaser Purchaser
}

func (e OrderRefunded) Apply(ctx context.Context, h EventHandler) error {
	return h.OnOrderRefunded(ctx, e)
}

// UnrecognizedEvent is any event name the service does not act on.
type UnrecognizedEvent struct {
	envelope
}

func (e UnrecognizedEvent) Apply(ctx context.Context, h EventHandler) error {
	return h.OnUnrecognized(ctx, e)
}

// Provider event names.
const (
	EventOrderCreated               = "order_created"
	EventOrderRefunded              = "order_refunded"
	EventSubscriptionCreated        = "subscription_created"
	EventSubscriptionUpdated        = "subscription_updated"
	EventSubscriptionCancelled      = "subscription_cancelled"
	EventSubscriptionPaymentSuccess = "subscription_payment_success"
	EventSubscriptionPaymentFailed  = "subscription_payment_failed"
	EventPaymentSuccess             = "payment_success"
	EventPaymentFailed              = "payment_failed"
)

// ParseWebhookEvent decodes a raw provider body into its lifecycle event.
func ParseWebhookEvent(body []byte) (Event, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed webhook payload: %v", ErrInvalidInput, err)
	}
	return EventFromPayload(payload)
}

// EventFromPayload maps a decoded envelope onto the closed event set.
func EventFromPayload(p WebhookPayload) (Event, error) {
	name := strings.TrimSpace(p.Meta.EventName)
	objectID := strings.TrimSpace(p.Data.ID)
	if name == "" || objectID == "" {
		return nil, fmt.Errorf("%w: webhook payload is missing meta.event_name or data.id", ErrInvalidInput)
	}

	env := envelope{name: name, objectID: objectID}
	attrs := p.Data.Attributes

	switch name {
	case EventOrderCreated:
		return OrderCreated{
			envelope:  env,
			OrderID:   objectID,
			Purchaser: purchaserFrom(attrs),
			LineItem:  attrs.FirstOrderItem,
		}, nil
	case EventSubscriptionCreated:
		renewsAt, endsAt, err := subscriptionDates(attrs)
		if err != nil {
			return nil, err
		}
		return SubscriptionCreated{
			envelope:       env,
			SubscriptionID: objectID,
			Purchaser:      purchaserFrom(attrs),
			RenewsAt:       renewsAt,
			EndsAt:         endsAt,
		}, nil
	case EventSubscriptionUpdated, EventSubscriptionPaymentSuccess, EventPaymentSuccess:
		renewsAt, endsAt, err := subscriptionDates(attrs)
		if err != nil {
			return nil, err
		}
		return SubscriptionRenewed{
			envelope:       env,
			SubscriptionID: objectID,
			RenewsAt:       renewsAt,
			EndsAt:         endsAt,
		}, nil
	case EventSubscriptionCancelled, EventSubscriptionPaymentFailed, EventPaymentFailed:
		_, endsAt, err := subscriptionDates(attrs)
		if err != nil {
			return nil, err
		}
		return SubscriptionLapsed{
			envelope:       env,
			SubscriptionID: objectID,
			EndsAt:         endsAt,
		}, nil
	case EventOrderRefunded:
		return OrderRefunded{
			envelope:  env,
			OrderID:   objectID,
			Purchaser: purchaserFrom(attrs),
		}, nil
	default:
		return UnrecognizedEvent{envelope: env}, nil
	}
}

func purchaserFrom(attrs WebhookAttributes) Purchaser {
	p := Purchaser{
		Email: strings.TrimSpace(attrs.UserEmail),
		Name:  strings.TrimSpace(attrs.UserName),
	}
	if attrs.CustomerID != nil {
		id := fmt.Sprintf("%d", *attrs.CustomerID)
		p.CustomerID = &id
	}
	return p
}

func subscriptionDates(attrs WebhookAttributes) (*time.Time, *time.Time, error) {
	renewsAt, err := ParseProviderTime(attrs.RenewsAt)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: renews_at: %v", ErrInvalidInput, err)
	}
	endsAt, err := ParseProviderTime(attrs.EndsAt)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: ends_at: %v", ErrInvalidInput, err)
	}
	return renewsAt, endsAt, nil
}

var providerTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02",
}

// ParseProviderTime parses the provider's timestamp strings. Null and empty
// values mean "absent" and yield nil.
func ParseProviderTime(raw *string) (*time.Time, error) {
	if raw == nil {
		return nil, nil
	}
	value := strings.TrimSpace(*raw)
	if value == "" {
		return nil, nil
	}
	for _, layout := range providerTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognised timestamp %q", value)
}
