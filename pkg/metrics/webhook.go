package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Webhook outcomes used as label values.
const (
	OutcomeApplied   = "applied"
	OutcomeUnchanged = "unchanged"
	OutcomeIgnored   = "ignored"
	OutcomeDuplicate = "duplicate"
	OutcomeUnhandled = "unhandled"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"

	OutcomeSent    = "sent"
	OutcomeSkipped = "skipped"
)

// WebhookMetrics tracks billing webhook processing and the notifications it triggers.
type WebhookMetrics struct {
	events        *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	notifications *prometheus.CounterVec
	conflicts     prometheus.Counter
}

// NewWebhookMetrics registers the webhook metrics on reg. A nil registerer yields a no-op recorder.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "billing_webhook_events_total",
		Help:      "Billing webhook deliveries by event type and outcome.",
	}, []string{"event_type", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "billing_webhook_processing_duration_seconds",
		Help:      "Time spent handling a verified billing webhook.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"event_type"})
	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "billing_notifications_total",
		Help:      "Billing notifications by kind and delivery outcome.",
	}, []string{"kind", "outcome"})
	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "billing_record_conflicts_total",
		Help:      "Optimistic concurrency conflicts on account billing records.",
	})
	reg.MustRegister(events, duration, notifications, conflicts)
	return &WebhookMetrics{
		events:        events,
		duration:      duration,
		notifications: notifications,
		conflicts:     conflicts,
	}
}

// ObserveEvent records one delivery outcome and, when positive, its processing time.
func (m *WebhookMetrics) ObserveEvent(eventType, outcome string, elapsed time.Duration) {
	if m == nil || m.events == nil {
		return
	}
	eventType = normalizeLabel(eventType)
	m.events.WithLabelValues(eventType, normalizeLabel(outcome)).Inc()
	if elapsed > 0 {
		m.duration.WithLabelValues(eventType).Observe(elapsed.Seconds())
	}
}

// IncNotification counts a notification attempt.
func (m *WebhookMetrics) IncNotification(kind, outcome string) {
	if m == nil || m.notifications == nil {
		return
	}
	m.notifications.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

// IncConflict counts a lost compare-and-update.
func (m *WebhookMetrics) IncConflict() {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.Inc()
}
