package reservations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/channelcore-backend/internal/channels"
	pkgerrors "github.com/angelmondragon/channelcore-backend/pkg/errors"
	"github.com/angelmondragon/channelcore-backend/pkg/kafka"
	"github.com/angelmondragon/channelcore-backend/pkg/logger"
	"github.com/angelmondragon/channelcore-backend/pkg/outbox/idempotency"
)

const inboundConsumerName = "inbound-reservations"

// Processor handles one decoded reservation.
type Processor interface {
	Handle(ctx context.Context, res channels.Reservation) (Outcome, error)
}

type idempotencyGuard interface {
	Claim(ctx context.Context, consumer, messageKey string) (idempotency.Status, error)
	Complete(ctx context.Context, consumer, messageKey string) error
	Release(ctx context.Context, consumer, messageKey string) error
}

// Dispatcher feeds transport messages carrying reservations to the handler
// and suppresses redeliveries of messages already handled.
type Dispatcher struct {
	processor Processor
	manager   idempotencyGuard
	logg      *logger.Logger

	// kafkaRetries bounds in-place retries of a failing Kafka message before
	// it is committed and left for the channel poller to recover.
	kafkaRetries int
	retryDelay   time.Duration
}

// NewDispatcher builds a dispatcher.
func NewDispatcher(processor Processor, manager idempotencyGuard, logg *logger.Logger) (*Dispatcher, error) {
	if processor == nil {
		return nil, errors.New("reservation processor is required")
	}
	if manager == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Dispatcher{
		processor:    processor,
		manager:      manager,
		logg:         logg,
		kafkaRetries: 3,
		retryDelay:   time.Second,
	}, nil
}

type processResult struct {
	retry bool
}

// RunPubSub consumes the reservations subscription until ctx is cancelled.
func (d *Dispatcher) RunPubSub(ctx context.Context, subscription *gcppubsub.Subscriber) error {
	if subscription == nil {
		return errors.New("reservations subscription is required")
	}
	return subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		key := msg.ID
		if k := strings.TrimSpace(msg.Attributes["message_key"]); k != "" {
			key = k
		}
		logCtx := d.logg.WithField(innerCtx, "message_id", msg.ID)
		if d.process(logCtx, key, msg.Data, msg.Attributes).retry {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// RunKafka consumes the reservations topic until ctx is cancelled. Offsets
// are committed only after a message is handled.
func (d *Dispatcher) RunKafka(ctx context.Context, consumer kafka.Consumer) error {
	if consumer == nil {
		return errors.New("kafka consumer is required")
	}
	for {
		msg, err := consumer.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("fetch reservation message: %w", err)
		}
		msgCtx := kafka.ExtractTraceContext(ctx, msg.Headers)
		msgCtx = d.logg.WithFields(msgCtx, map[string]any{
			"topic":     msg.Topic,
			"partition": msg.Partition,
			"offset":    msg.Offset,
		})
		key := kafka.Header(msg, "message_key")
		if key == "" {
			key = fmt.Sprintf("%s:%d:%d", msg.Topic, msg.Partition, msg.Offset)
		}
		attrs := map[string]string{
			"source":   kafka.Header(msg, "source"),
			"hotel_id": kafka.Header(msg, "hotel_id"),
		}

		for attempt := 1; ; attempt++ {
			if !d.process(msgCtx, key, msg.Value, attrs).retry {
				break
			}
			if attempt >= d.kafkaRetries {
				d.logg.Error(msgCtx, "reservation message abandoned after retries", errors.New(key))
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.retryDelay * time.Duration(attempt)):
			}
		}
		if err := consumer.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit reservation message: %w", err)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, key string, data []byte, attrs map[string]string) processResult {
	res, err := Decode(data, attrs)
	if err != nil {
		d.logg.Warn(d.logg.WithField(ctx, "error", err.Error()), "invalid reservation message")
		return processResult{}
	}
	ctx = d.logg.WithFields(ctx, map[string]any{
		"message_key":        key,
		"source":             res.Source,
		"channel_booking_id": res.ChannelBookingID,
	})

	status, err := d.manager.Claim(ctx, inboundConsumerName, key)
	if err != nil {
		d.logg.Error(ctx, "idempotency check failed", err)
		return processResult{retry: true}
	}
	switch status {
	case idempotency.Done:
		d.logg.Info(ctx, "reservation message already processed")
		return processResult{}
	case idempotency.InFlight:
		d.logg.Info(ctx, "reservation message held by another worker")
		return processResult{retry: true}
	}

	out, err := d.processor.Handle(ctx, res)
	if err != nil && pkgerrors.Retryable(err) {
		if relErr := d.manager.Release(ctx, inboundConsumerName, key); relErr != nil {
			d.logg.Warn(d.logg.WithField(ctx, "error", relErr.Error()), "idempotency release failed")
		}
		return processResult{retry: true}
	}
	if err != nil {
		d.logg.Error(d.logg.WithField(ctx, "code", pkgerrors.CodeOf(err)), "reservation message rejected permanently", err)
		out = Outcome{Action: ActionRejected, Reason: string(pkgerrors.CodeOf(err))}
	}
	if err := d.manager.Complete(ctx, inboundConsumerName, key); err != nil {
		// the handler dedupes on channel booking id, so a replay is harmless
		d.logg.Warn(d.logg.WithField(ctx, "error", err.Error()), "idempotency completion failed")
	}
	ctx = d.logg.WithFields(ctx, map[string]any{"action": out.Action, "ack": out.Ack, "reason": out.Reason})
	if out.Ack {
		d.logg.Info(ctx, "reservation message handled")
	} else {
		d.logg.Warn(ctx, "reservation refused")
	}
	return processResult{}
}

// Decode parses a reservation message. Attributes fill source and hotel
// when the body leaves them out.
func Decode(data []byte, attrs map[string]string) (channels.Reservation, error) {
	var res channels.Reservation
	if err := json.Unmarshal(data, &res); err != nil {
		return res, fmt.Errorf("decode reservation: %w", err)
	}
	if res.Source == "" {
		res.Source = strings.TrimSpace(attrs["source"])
	}
	if res.HotelID == uuid.Nil {
		if raw := strings.TrimSpace(attrs["hotel_id"]); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				return res, fmt.Errorf("hotel_id attribute: %w", err)
			}
			res.HotelID = id
		}
	}
	if res.Kind == "" {
		res.Kind = channels.ReservationNew
	}
	if len(res.Raw) == 0 {
		res.Raw = append(json.RawMessage(nil), data...)
	}
	return res, nil
}
