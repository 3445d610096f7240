package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/channelcore-backend/pkg/correlation"
	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	"github.com/angelmondragon/channelcore-backend/pkg/logger"
)

// DomainEvent is a side effect to publish once the surrounding transaction commits.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	// Data is marshalled as JSON unless it already is a json.RawMessage.
	Data       any
	Version    int
	OccurredAt time.Time
	// CorrelationID falls back to the id carried by ctx.
	CorrelationID string
}

func (e DomainEvent) validate() error {
	switch {
	case e.EventType == "":
		return errors.New("event type required")
	case e.AggregateType == "":
		return errors.New("aggregate type required")
	case e.AggregateID == uuid.Nil:
		return errors.New("aggregate id required")
	}
	return nil
}

// Service writes outbox rows inside caller transactions. The row id doubles
// as the envelope event id, so a dead letter can be traced back to the
// message consumers saw.
type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: time.Now}
}

// Emit stores the event in the caller transaction and returns its id.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) (uuid.UUID, error) {
	if tx == nil {
		return uuid.Nil, errors.New("transaction required")
	}
	if err := event.validate(); err != nil {
		return uuid.Nil, fmt.Errorf("outbox %s: %w", event.EventType, err)
	}
	row, envelope, err := s.build(ctx, event)
	if err != nil {
		return uuid.Nil, err
	}
	if err := s.repo.Insert(tx, row); err != nil {
		return uuid.Nil, fmt.Errorf("insert outbox %s: %w", event.EventType, err)
	}
	if s.logg != nil {
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"event_id":       envelope.EventID,
			"event_type":     event.EventType,
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID.String(),
			"correlation_id": envelope.CorrelationID,
		}), "outbox event queued")
	}
	return row.ID, nil
}

// EmitPending emits unless an unpublished event of the same type is already
// queued for the aggregate, in which case the queued row's id is returned.
// Consumers re-read current state, so one pending signal per aggregate is
// enough.
func (s *Service) EmitPending(ctx context.Context, tx *gorm.DB, event DomainEvent) (uuid.UUID, error) {
	if tx == nil {
		return uuid.Nil, errors.New("transaction required")
	}
	existing, err := s.repo.FindPendingTx(tx, event.EventType, event.AggregateType, event.AggregateID)
	if err != nil {
		return uuid.Nil, err
	}
	if existing != nil {
		return existing.ID, nil
	}
	return s.Emit(ctx, tx, event)
}

func (s *Service) build(ctx context.Context, event DomainEvent) (models.OutboxEvent, PayloadEnvelope, error) {
	var data json.RawMessage
	switch v := event.Data.(type) {
	case json.RawMessage:
		data = v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return models.OutboxEvent{}, PayloadEnvelope{}, fmt.Errorf("marshal %s payload: %w", event.EventType, err)
		}
		data = raw
	}

	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	}
	version := event.Version
	if version <= 0 {
		version = 1
	}
	correlationID := event.CorrelationID
	if correlationID == "" {
		correlationID = correlation.From(ctx)
	}

	id := uuid.New()
	envelope := PayloadEnvelope{
		Version:       version,
		EventID:       id.String(),
		OccurredAt:    occurred.UTC(),
		CorrelationID: correlationID,
		Actor:         event.Actor,
		Data:          data,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return models.OutboxEvent{}, PayloadEnvelope{}, fmt.Errorf("marshal %s envelope: %w", event.EventType, err)
	}
	return models.OutboxEvent{
		ID:            id,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       payload,
	}, envelope, nil
}
