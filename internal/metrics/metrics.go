/**
 * @description
 * Prometheus instrumentation for the license lifecycle: webhook outcomes,
 * activation attempts, advisor quota decisions and notification delivery.
 */
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the service counters. A nil *Metrics records nothing.
type Metrics struct {
	webhookEvents   *prometheus.CounterVec
	activations     *prometheus.CounterVec
	advisorRequests *prometheus.CounterVec
	notifications   *prometheus.CounterVec
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		webhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chrono",
				Subsystem: "license",
				Name:      "webhook_events_total",
				Help:      "Webhook deliveries by event name and outcome",
			},
			[]string{"event", "outcome"},
		),
		activations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chrono",
				Subsystem: "license",
				Name:      "activation_attempts_total",
				Help:      "Device activation attempts by outcome",
			},
			[]string{"outcome"},
		),
		advisorRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chrono",
				Subsystem: "advisor",
				Name:      "requests_total",
				Help:      "Advisor requests by tier and outcome",
			},
			[]string{"tier", "outcome"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chrono",
				Subsystem: "license",
				Name:      "notifications_total",
				Help:      "Best-effort notifications by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
	}

	reg.MustRegister(m.webhookEvents, m.activations, m.advisorRequests, m.notifications)
	return m
}

func (m *Metrics) WebhookEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(sanitizeLabel(event), outcome).Inc()
}

func (m *Metrics) ActivationAttempt(outcome string) {
	if m == nil {
		return
	}
	m.activations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AdvisorRequest(tier, outcome string) {
	if m == nil {
		return
	}
	m.advisorRequests.WithLabelValues(sanitizeLabel(tier), outcome).Inc()
}

func (m *Metrics) Notification(kind, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind, outcome).Inc()
}

const maxLabelLen = 64

// sanitizeLabel bounds provider-controlled label values.
func sanitizeLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	if len(s) > maxLabelLen {
		s = s[:maxLabelLen]
	}
	return s
}
