package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/channelcore-backend/api/responses"
	"github.com/angelmondragon/channelcore-backend/api/validators"
	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelcore-backend/pkg/errors"
	"github.com/angelmondragon/channelcore-backend/pkg/logger"
	"github.com/angelmondragon/channelcore-backend/pkg/outbox"
)

// OutboxDeadLetters reads events the outbox publisher abandoned.
type OutboxDeadLetters interface {
	List(ctx context.Context, filter outbox.DLQFilter) ([]models.OutboxDLQ, error)
	FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error)
}

type outboxDeadLetterView struct {
	ID            uuid.UUID       `json:"id"`
	EventID       uuid.UUID       `json:"eventId"`
	EventType     string          `json:"eventType"`
	AggregateType string          `json:"aggregateType"`
	AggregateID   uuid.UUID       `json:"aggregateId"`
	Reason        string          `json:"reason"`
	Error         *string         `json:"error,omitempty"`
	Attempts      int             `json:"attempts"`
	FailedAt      time.Time       `json:"failedAt"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

func toOutboxDeadLetterView(row models.OutboxDLQ, withPayload bool) outboxDeadLetterView {
	view := outboxDeadLetterView{
		ID:            row.ID,
		EventID:       row.EventID,
		EventType:     string(row.EventType),
		AggregateType: string(row.AggregateType),
		AggregateID:   row.AggregateID,
		Reason:        row.ErrorReason.String(),
		Error:         row.ErrorMessage,
		Attempts:      row.AttemptCount,
		FailedAt:      row.FailedAt.UTC(),
	}
	if withPayload {
		view.Payload = row.Payload
	}
	return view
}

// AdminOutboxDeadLetters lists dead-lettered outbox events, optionally
// filtered by ?reason= and ?eventType=.
func AdminOutboxDeadLetters(repo OutboxDeadLetters, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "outbox dead letters unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 500)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter := outbox.DLQFilter{Limit: limit}
		if raw := strings.TrimSpace(r.URL.Query().Get("reason")); raw != "" {
			reason, err := enums.ParseOutboxDLQErrorReason(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid reason"))
				return
			}
			filter.Reason = &reason
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("eventType")); raw != "" {
			eventType, err := enums.ParseOutboxEventType(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid event type"))
				return
			}
			filter.EventType = &eventType
		}

		rows, err := repo.List(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list outbox dead letters"))
			return
		}
		views := make([]outboxDeadLetterView, 0, len(rows))
		for _, row := range rows {
			views = append(views, toOutboxDeadLetterView(row, false))
		}
		responses.WriteSuccess(w, views)
	}
}

// AdminOutboxDeadLetter returns one dead-lettered event with its payload.
func AdminOutboxDeadLetter(repo OutboxDeadLetters, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "outbox dead letters unavailable"))
			return
		}
		eventID, err := uuid.Parse(chi.URLParam(r, "eventId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid event id"))
			return
		}
		row, err := repo.FindByEventID(r.Context(), eventID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load outbox dead letter"))
			return
		}
		if row == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "dead letter not found"))
			return
		}
		responses.WriteSuccess(w, toOutboxDeadLetterView(*row, true))
	}
}
