package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/channelcore-backend/api/middleware"
	"github.com/angelmondragon/channelcore-backend/api/responses"
	"github.com/angelmondragon/channelcore-backend/api/validators"
	"github.com/angelmondragon/channelcore-backend/internal/inventory"
	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/channelcore-backend/pkg/errors"
	"github.com/angelmondragon/channelcore-backend/pkg/logger"
	"github.com/angelmondragon/channelcore-backend/pkg/types"
)

type syncRequester interface {
	RequestSync(ctx context.Context, in inventory.RequestSyncInput) (int, error)
}

type deadLetterLister interface {
	DeadLetters(ctx context.Context, hotelID *uuid.UUID, limit int) ([]models.AuditLog, error)
}

type requestSyncBody struct {
	RoomTypeID *uuid.UUID `json:"roomTypeId"`
	From       string     `json:"from" validate:"required"`
	To         string     `json:"to" validate:"required"`
}

// AdminRequestSync flags a span for an immediate, high-priority push to every
// connected channel of the hotel.
func AdminRequestSync(svc syncRequester, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory ledger unavailable"))
			return
		}

		var body requestSyncBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		from, err := types.ParseDay(body.From)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid from date"))
			return
		}
		to, err := types.ParseDay(body.To)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid to date"))
			return
		}

		count, err := svc.RequestSync(r.Context(), inventory.RequestSyncInput{
			HotelID:     middleware.HotelIDFromContext(r.Context()),
			RoomTypeID:  body.RoomTypeID,
			From:        from,
			To:          to,
			RequestedBy: middleware.OperatorIDFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]any{
			"roomTypes": count,
			"from":      types.FormatDay(from),
			"to":        types.FormatDay(to),
		})
	}
}

// AdminDeadLetters lists sync groups abandoned after the retry budget.
func AdminDeadLetters(svc deadLetterLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "audit service unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 500)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		hotelID := middleware.HotelIDFromContext(r.Context())
		entries, err := svc.DeadLetters(r.Context(), &hotelID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, entries)
	}
}
