package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Push results recorded on channel_sync_push_total.
const (
	ResultSuccess = "success"
	ResultPartial = "partial"
	ResultFailed  = "failed"
)

// SyncMetrics instruments the outbound sync coordinator.
type SyncMetrics struct {
	pushes      *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	queueDepth  prometheus.Gauge
	deadLetters *prometheus.CounterVec
}

// NewSyncMetrics registers the sync metrics on the provided registerer.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	pushes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "channel_sync_push_total",
		Help: "Channel push attempts by outcome.",
	}, []string{"channel", "result"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "channel_sync_push_duration_seconds",
		Help:    "Latency of channel push calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"channel"})
	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "channel_sync_queue_depth",
		Help: "Pending (hotel, room type) groups in the sync queue.",
	})
	deadLetters := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "channel_sync_dead_letters_total",
		Help: "Sync groups abandoned after the retry budget.",
	}, []string{"channel"})
	reg.MustRegister(pushes, duration, queueDepth, deadLetters)
	return &SyncMetrics{
		pushes:      pushes,
		duration:    duration,
		queueDepth:  queueDepth,
		deadLetters: deadLetters,
	}
}

// ObservePush records one push attempt.
func (m *SyncMetrics) ObservePush(channel, result string, elapsed time.Duration) {
	if m == nil || m.pushes == nil {
		return
	}
	m.pushes.WithLabelValues(normalizeLabel(channel), result).Inc()
	m.duration.WithLabelValues(normalizeLabel(channel)).Observe(elapsed.Seconds())
}

// SetQueueDepth publishes the current queue length.
func (m *SyncMetrics) SetQueueDepth(depth int) {
	if m == nil || m.queueDepth == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// IncDeadLetter counts a dead-lettered group.
func (m *SyncMetrics) IncDeadLetter(channel string) {
	if m == nil || m.deadLetters == nil {
		return
	}
	m.deadLetters.WithLabelValues(normalizeLabel(channel)).Inc()
}

// InboundMetrics counts inbound reservation outcomes.
type InboundMetrics struct {
	outcomes *prometheus.CounterVec
}

// NewInboundMetrics registers inbound reservation metrics.
func NewInboundMetrics(reg prometheus.Registerer) *InboundMetrics {
	if reg == nil {
		return &InboundMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inbound_reservations_total",
		Help: "Inbound channel reservations by kind and outcome.",
	}, []string{"source", "kind", "outcome"})
	reg.MustRegister(outcomes)
	return &InboundMetrics{outcomes: outcomes}
}

// Observe counts one handled reservation.
func (m *InboundMetrics) Observe(source, kind, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(source), normalizeLabel(kind), outcome).Inc()
}

// PricingMetrics counts pricing decisions.
type PricingMetrics struct {
	decisions *prometheus.CounterVec
}

// NewPricingMetrics registers pricing metrics.
func NewPricingMetrics(reg prometheus.Registerer) *PricingMetrics {
	if reg == nil {
		return &PricingMetrics{}
	}
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_decisions_total",
		Help: "Pricing recommendations by decision.",
	}, []string{"decision"})
	reg.MustRegister(decisions)
	return &PricingMetrics{decisions: decisions}
}

// Observe counts one recommendation with its decision (applied, skipped, error).
func (m *PricingMetrics) Observe(decision string) {
	if m == nil || m.decisions == nil {
		return
	}
	m.decisions.WithLabelValues(decision).Inc()
}
