package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	"github.com/angelmondragon/channelcore-backend/pkg/outbox/payloads"
)

// DecodeFunc turns an envelope's data into a typed payload.
type DecodeFunc func(payload json.RawMessage) (any, error)

type registryKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry maps (event type, version) to a decoder for consumers. It is
// safe for concurrent use so handlers can share one instance.
type DecoderRegistry struct {
	mtx      sync.RWMutex
	registry map[registryKey]DecodeFunc
}

// NewDecoderRegistry builds an empty decoder registry.
func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{registry: make(map[registryKey]DecodeFunc)}
}

var v1Decoders = map[enums.OutboxEventType]DecodeFunc{
	enums.EventBookingStatusChanged:     JSONDecoder[payloads.BookingStatusChangedEvent](),
	enums.EventBookingAmendmentReceived: JSONDecoder[payloads.BookingAmendmentReceivedEvent](),
	enums.EventRefundRequested:          JSONDecoder[payloads.RefundRequestedEvent](),
	enums.EventFinalBillingRequested:    JSONDecoder[payloads.FinalBillingRequestedEvent](),
	enums.EventNoShowPenaltyRequested:   JSONDecoder[payloads.NoShowPenaltyRequestedEvent](),
	enums.EventRoomStatusUpdate:         JSONDecoder[payloads.RoomStatusUpdateEvent](),
	enums.EventPostCheckoutAutomation:   JSONDecoder[payloads.PostCheckoutAutomationEvent](),
	enums.EventReservationRejected:      JSONDecoder[payloads.ReservationRejectedEvent](),
	enums.EventSyncDeadLetter:           JSONDecoder[payloads.SyncDeadLetterEvent](),
	enums.EventRateParityViolation:      JSONDecoder[payloads.RateParityViolationEvent](),
	enums.EventReconciliationRequired:   JSONDecoder[payloads.ReconciliationRequiredEvent](),
	enums.EventSyncRequested:            JSONDecoder[payloads.SyncRequestedEvent](),
}

// PublishedDecoders covers every event type the outbox publishes.
func PublishedDecoders() *DecoderRegistry {
	r := NewDecoderRegistry()
	for eventType, decode := range v1Decoders {
		r.Register(eventType, 1, decode)
	}
	return r
}

// ConsumerDecoders returns the decoders for events the channel worker
// consumes from the domain topic.
func ConsumerDecoders() *DecoderRegistry {
	r := NewDecoderRegistry()
	r.Register(enums.EventSyncRequested, 1, v1Decoders[enums.EventSyncRequested])
	return r
}

// JSONDecoder decodes into a new *T.
func JSONDecoder[T any]() DecodeFunc {
	return func(payload json.RawMessage) (any, error) {
		out := new(T)
		if err := json.Unmarshal(payload, out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// Register stores a decoder for the given event type and version.
func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, decoder DecodeFunc) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.registry[registryKey{eventType: eventType, version: version}] = decoder
}

// Decode runs the decoder for eventType at version. Version 0 predates
// versioned envelopes and is read as 1.
func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error) {
	if version == 0 {
		version = 1
	}
	r.mtx.RLock()
	decoder, ok := r.registry[registryKey{eventType: eventType, version: version}]
	r.mtx.RUnlock()
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("decoder not registered for %s@v%d", eventType, version))
	}
	out, err := decoder(payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s@v%d: %w", eventType, version, err))
	}
	return out, nil
}
