package metrics

import "github.com/prometheus/client_golang/prometheus"

// Publish outcomes recorded on outbox_publish_total.
const (
	PublishPublished  = "published"
	PublishRetry      = "retry"
	PublishDeadLetter = "dead_letter"
)

// OutboxMetrics instruments the outbox publisher.
type OutboxMetrics struct {
	publishes *prometheus.CounterVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	publishes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_publish_total",
		Help: "Outbox rows handled by the publisher, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	reg.MustRegister(publishes)
	return &OutboxMetrics{publishes: publishes}
}

func (m *OutboxMetrics) Observe(eventType, outcome string) {
	if m == nil || m.publishes == nil {
		return
	}
	m.publishes.WithLabelValues(normalizeLabel(eventType), outcome).Inc()
}
