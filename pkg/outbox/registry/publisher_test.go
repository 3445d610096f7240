package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/channelcore-backend/pkg/config"
	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	"github.com/angelmondragon/channelcore-backend/pkg/outbox"
	"github.com/angelmondragon/channelcore-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
)

func TestEventRegistryResolveSuccess(t *testing.T) {
	reg := newTestEventRegistry(t)

	bookingID := uuid.New()
	payloadBytes := mustMarshal(t, payloads.RefundRequestedEvent{
		BookingID: bookingID,
		HotelID:   uuid.New(),
		Currency:  "USD",
	})

	event := models.OutboxEvent{
		EventType:     enums.EventRefundRequested,
		AggregateType: enums.AggregateBooking,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, payloadBytes),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "domain-topic" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	if resolved.Descriptor.EventType != enums.EventRefundRequested {
		t.Fatalf("unexpected event type %s", resolved.Descriptor.EventType)
	}
	payload, ok := resolved.Payload.(*payloads.RefundRequestedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.BookingID != bookingID {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" {
		t.Fatalf("envelope missing event id")
	}
	if resolved.Envelope.OccurredAt.IsZero() {
		t.Fatalf("envelope missing occurred_at")
	}
}

func TestEventRegistryRejectsBrokenRows(t *testing.T) {
	reg := newTestEventRegistry(t)
	cases := map[string]models.OutboxEvent{
		"unknown event type": {
			EventType:     enums.OutboxEventType("booking_teleported"),
			AggregateType: enums.AggregateBooking,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{"reason":"none"}`)),
		},
		"aggregate mismatch": {
			EventType:     enums.EventRefundRequested,
			AggregateType: enums.AggregateChannel,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"missing aggregate id": {
			EventType:     enums.EventRefundRequested,
			AggregateType: enums.AggregateBooking,
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"null payload": {
			EventType:     enums.EventRefundRequested,
			AggregateType: enums.AggregateBooking,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte("null")),
		},
		"undecodable envelope": {
			EventType:     enums.EventRefundRequested,
			AggregateType: enums.AggregateBooking,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{"version":`),
		},
		"payload of the wrong shape": {
			EventType:     enums.EventRefundRequested,
			AggregateType: enums.AggregateBooking,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`["not","an","object"]`)),
		},
	}
	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(event)
			var nonRetry NonRetryableError
			if !errors.As(err, &nonRetry) {
				t.Fatalf("expected non-retryable error, got %v", err)
			}
		})
	}
}

func TestEventRegistryFillsEventIDFromRow(t *testing.T) {
	reg := newTestEventRegistry(t)
	rowID := uuid.New()
	envelope, err := json.Marshal(outbox.PayloadEnvelope{Version: 1, Data: mustMarshal(t, payloads.SyncRequestedEvent{HotelID: uuid.New()})})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resolved, err := reg.Resolve(models.OutboxEvent{
		ID:            rowID,
		EventType:     enums.EventSyncRequested,
		AggregateType: enums.AggregateAvailability,
		AggregateID:   uuid.New(),
		Payload:       envelope,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Envelope.EventID != rowID.String() {
		t.Fatalf("expected row id as event id, got %q", resolved.Envelope.EventID)
	}
	if _, ok := resolved.Payload.(*payloads.SyncRequestedEvent); !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
}

func TestEveryRoutedEventHasADecoder(t *testing.T) {
	decoders := PublishedDecoders()
	for eventType := range eventAggregates {
		if _, err := decoders.Decode(eventType, 1, json.RawMessage(`{}`)); err != nil {
			t.Fatalf("%s has no v1 decoder: %v", eventType, err)
		}
	}
}

func TestEventRegistryRoutesAlertsToAlertsTopic(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventSyncDeadLetter,
		AggregateType: enums.AggregateChannel,
		AggregateID:   uuid.New(),
		Payload: mustEnvelope(t, mustMarshal(t, payloads.SyncDeadLetterEvent{
			HotelID:  uuid.New(),
			Attempts: 6,
		})),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "alerts-topic" {
		t.Fatalf("expected alerts topic, got %q", resolved.Descriptor.Topic)
	}
}

func TestNewEventRegistryRequiresTopics(t *testing.T) {
	if _, err := NewEventRegistry(config.PubSubConfig{DomainTopic: "d"}); err == nil {
		t.Fatal("expected missing alerts topic to fail")
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	cfg := config.PubSubConfig{
		DomainTopic: "domain-topic",
		AlertsTopic: "alerts-topic",
	}
	reg, err := NewEventRegistry(cfg)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func mustEnvelope(t *testing.T, payload []byte) json.RawMessage {
	t.Helper()
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}
