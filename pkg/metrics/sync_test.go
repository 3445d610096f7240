package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSyncMetricsCountsPushesAndDeadLetters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSyncMetrics(reg)

	m.ObservePush("booking_com", ResultSuccess, 120*time.Millisecond)
	m.ObservePush("booking_com", ResultFailed, 30*time.Second)
	m.ObservePush("booking_com", ResultFailed, 30*time.Second)
	m.IncDeadLetter("booking_com")
	m.SetQueueDepth(3)

	if got := testutil.ToFloat64(m.pushes.WithLabelValues("booking_com", ResultFailed)); got != 2 {
		t.Fatalf("expected 2 failed pushes, got %f", got)
	}
	if got := testutil.ToFloat64(m.deadLetters.WithLabelValues("booking_com")); got != 1 {
		t.Fatalf("expected 1 dead letter, got %f", got)
	}
	if got := testutil.ToFloat64(m.queueDepth); got != 3 {
		t.Fatalf("expected queue depth 3, got %f", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var s *SyncMetrics
	s.ObservePush("x", ResultSuccess, time.Second)
	s.SetQueueDepth(1)
	s.IncDeadLetter("x")

	NewInboundMetrics(nil).Observe("expedia", "create", "ack")
	NewPricingMetrics(nil).Observe("applied")
}
