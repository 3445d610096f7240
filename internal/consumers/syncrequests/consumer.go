package syncrequests

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	"github.com/angelmondragon/channelcore-backend/pkg/logger"
	"github.com/angelmondragon/channelcore-backend/pkg/outbox"
	"github.com/angelmondragon/channelcore-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/channelcore-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/channelcore-backend/pkg/outbox/registry"
)

const consumerName = "sync-requests"

var errSyncRequestInFlight = errors.New("sync request held by another worker")

// Notifier queues a span for the outbound sync coordinator.
type Notifier interface {
	NotifyDirty(hotelID, roomTypeID uuid.UUID, from, to time.Time, priority enums.SyncPriority)
}

type idempotencyGuard interface {
	Claim(ctx context.Context, consumer, messageKey string) (idempotency.Status, error)
	Complete(ctx context.Context, consumer, messageKey string) error
}

// Consumer turns sync_requested domain events into high-priority queue entries.
type Consumer struct {
	notifier Notifier
	manager  idempotencyGuard
	decoders *registry.DecoderRegistry
	logg     *logger.Logger
}

// NewConsumer builds a sync request consumer.
func NewConsumer(notifier Notifier, manager idempotencyGuard, logg *logger.Logger) (*Consumer, error) {
	if notifier == nil {
		return nil, errors.New("sync notifier required")
	}
	if manager == nil {
		return nil, errors.New("idempotency manager required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Consumer{notifier: notifier, manager: manager, decoders: registry.ConsumerDecoders(), logg: logg}, nil
}

// Run receives from the sync requests subscription until ctx is cancelled.
// Events of other types on the same topic are acked and ignored.
func (c *Consumer) Run(ctx context.Context, subscription *gcppubsub.Subscriber) error {
	if subscription == nil {
		return errors.New("sync requests subscription is required")
	}
	return subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		envelope, err := outbox.DecodeEnvelope(msg.Data)
		if err != nil {
			c.logg.Warn(c.logg.WithFields(innerCtx, map[string]any{"message_id": msg.ID, "error": err.Error()}), "undecodable sync request")
			msg.Ack()
			return
		}
		if err := c.Process(innerCtx, enums.OutboxEventType(msg.Attributes["event_type"]), envelope); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Process queues the requested span if the event is a sync request.
func (c *Consumer) Process(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) error {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"event_id":   envelope.EventID,
		"event_type": eventType,
	})
	if eventType != enums.EventSyncRequested {
		return nil
	}
	if envelope.EventID == "" {
		return fmt.Errorf("event id missing")
	}

	status, err := c.manager.Claim(ctx, consumerName, envelope.EventID)
	if err != nil {
		return fmt.Errorf("idempotency check: %w", err)
	}
	switch status {
	case idempotency.Done:
		c.logg.Info(logCtx, "sync request already processed")
		return nil
	case idempotency.InFlight:
		return errSyncRequestInFlight
	}
	// queueing is in-memory and cannot fail, so every path below completes
	defer func() {
		if err := c.manager.Complete(ctx, consumerName, envelope.EventID); err != nil {
			c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "idempotency completion failed")
		}
	}()

	decoded, err := c.decoders.Decode(eventType, envelope.Version, envelope.Data)
	if err != nil {
		// a malformed or unknown-version payload will not improve on redelivery
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "invalid sync request payload")
		return nil
	}
	req, ok := decoded.(*payloads.SyncRequestedEvent)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", decoded)
	}
	if req.HotelID == uuid.Nil || req.RoomTypeID == uuid.Nil || !req.To.After(req.From) {
		c.logg.Warn(logCtx, "incomplete sync request ignored")
		return nil
	}

	c.notifier.NotifyDirty(req.HotelID, req.RoomTypeID, req.From, req.To, enums.SyncPriorityHigh)
	c.logg.Info(c.logg.WithFields(logCtx, map[string]any{
		"hotel_id":     req.HotelID,
		"room_type_id": req.RoomTypeID,
		"requested_by": req.RequestedBy,
	}), "sync request queued")
	return nil
}
