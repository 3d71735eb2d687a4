package notify

import (
	"context"
	"time"

	"github.com/skyvaultex/chrono-license-service/internal/domain"
)

// Routing keys for lifecycle events.
const (
	RoutingKeyIssued   = "license.issued"
	RoutingKeyRevoked  = "license.revoked"
	RoutingKeyExpiring = "license.expiring"
)

// DefaultExchange is the topic exchange lifecycle events go to.
const DefaultExchange = "license_events"

// Publisher sends a JSON body to a topic exchange.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// LicenseEvent is the message other services consume.
type LicenseEvent struct {
	LicenseID  string               `json:"license_id"`
	LicenseKey string               `json:"license_key"`
	Tier       domain.Tier          `json:"tier"`
	Status     domain.LicenseStatus `json:"status"`
	Email      string               `json:"email,omitempty"`
	ExpiresAt  *time.Time           `json:"expires_at,omitempty"`
	Reason     domain.NoticeReason  `json:"reason,omitempty"`
	DaysLeft   int                  `json:"days_left,omitempty"`
	OccurredAt time.Time            `json:"occurred_at"`
}

// EventNotifier publishes lifecycle events to RabbitMQ.
type EventNotifier struct {
	publisher Publisher
	exchange  string
	now       func() time.Time
}

func NewEventNotifier(publisher Publisher, exchange string) *EventNotifier {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &EventNotifier{publisher: publisher, exchange: exchange, now: time.Now}
}

func (n *EventNotifier) LicenseIssued(ctx context.Context, notice domain.LicenseNotice) error {
	return n.publish(ctx, RoutingKeyIssued, notice)
}

func (n *EventNotifier) LicenseRevoked(ctx context.Context, notice domain.LicenseNotice) error {
	return n.publish(ctx, RoutingKeyRevoked, notice)
}

func (n *EventNotifier) LicenseExpiring(ctx context.Context, notice domain.LicenseNotice) error {
	return n.publish(ctx, RoutingKeyExpiring, notice)
}

func (n *EventNotifier) publish(ctx context.Context, routingKey string, notice domain.LicenseNotice) error {
	return n.publisher.Publish(ctx, n.exchange, routingKey, LicenseEvent{
		LicenseID:  notice.License.ID,
		LicenseKey: notice.License.LicenseKey,
		Tier:       notice.License.Tier,
		Status:     notice.License.Status,
		Email:      notice.Email,
		ExpiresAt:  notice.License.ExpiresAt,
		Reason:     notice.Reason,
		DaysLeft:   notice.DaysLeft,
		OccurredAt: n.now().UTC(),
	})
}
