package registry

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/channelcore-backend/pkg/config"
	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	"github.com/angelmondragon/channelcore-backend/pkg/outbox"
)

// eventAggregates pins every publishable event to the aggregate it is
// emitted for. A row whose aggregate disagrees was written by a bug.
var eventAggregates = map[enums.OutboxEventType]enums.OutboxAggregateType{
	enums.EventBookingStatusChanged:     enums.AggregateBooking,
	enums.EventBookingAmendmentReceived: enums.AggregateBooking,
	enums.EventRefundRequested:          enums.AggregateBooking,
	enums.EventFinalBillingRequested:    enums.AggregateBooking,
	enums.EventNoShowPenaltyRequested:   enums.AggregateBooking,
	enums.EventRoomStatusUpdate:         enums.AggregateBooking,
	enums.EventPostCheckoutAutomation:   enums.AggregateBooking,
	enums.EventReservationRejected:      enums.AggregateReservationInbox,
	enums.EventSyncDeadLetter:           enums.AggregateChannel,
	enums.EventRateParityViolation:      enums.AggregateAvailability,
	enums.EventReconciliationRequired:   enums.AggregateAvailability,
	enums.EventSyncRequested:            enums.AggregateAvailability,
}

// EventDescriptor is where an event type is published.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
}

// ResolvedEvent is an outbox row checked and decoded for publishing.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// EventRegistry routes outbox rows to topics and validates their payloads
// with the same versioned decoders consumers use, so a row consumers could
// never read is dead-lettered at the source.
type EventRegistry struct {
	routes   map[enums.OutboxEventType]EventDescriptor
	decoders *DecoderRegistry
}

// NewEventRegistry sends alert events to the alerts topic and everything else
// to the domain topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.DomainTopic == "" {
		return nil, errors.New("domain topic is required")
	}
	if cfg.AlertsTopic == "" {
		return nil, errors.New("alerts topic is required")
	}
	reg := &EventRegistry{
		routes:   make(map[enums.OutboxEventType]EventDescriptor, len(eventAggregates)),
		decoders: PublishedDecoders(),
	}
	for eventType, aggregate := range eventAggregates {
		topic := cfg.DomainTopic
		if eventType.IsAlert() {
			topic = cfg.AlertsTopic
		}
		reg.routes[eventType] = EventDescriptor{EventType: eventType, AggregateType: aggregate, Topic: topic}
	}
	return reg, nil
}

// Resolve checks the row against its route and decodes the payload. Every
// failure is a NonRetryableError.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.routes[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(errors.New("missing aggregate_id"))
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if errors.Is(err, outbox.ErrEmptyData) {
		return nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", event.EventType))
	}
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	if envelope.EventID == "" && event.ID != uuid.Nil {
		envelope.EventID = event.ID.String()
	}

	payload, err := r.decoders.Decode(event.EventType, envelope.Version, envelope.Data)
	if err != nil {
		return nil, err
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
