package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/channelcore-backend/api/middleware"
	"github.com/angelmondragon/channelcore-backend/api/responses"
	"github.com/angelmondragon/channelcore-backend/api/validators"
	"github.com/angelmondragon/channelcore-backend/internal/inventory"
	pkgerrors "github.com/angelmondragon/channelcore-backend/pkg/errors"
	"github.com/angelmondragon/channelcore-backend/pkg/logger"
)

type availabilityReader interface {
	Availability(ctx context.Context, hotelID, roomTypeID uuid.UUID, from, to time.Time, channel string) ([]inventory.RowView, error)
}

// AdminAvailability returns ledger rows with the effective allowance for an
// optional channel.
func AdminAvailability(svc availabilityReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory ledger unavailable"))
			return
		}
		roomTypeID, err := uuid.Parse(chi.URLParam(r, "roomTypeId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid room type id"))
			return
		}
		from, err := validators.ParseQueryDay(r, "from", true)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		to, err := validators.ParseQueryDay(r, "to", true)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		channel := strings.TrimSpace(r.URL.Query().Get("channel"))

		rows, err := svc.Availability(r.Context(), middleware.HotelIDFromContext(r.Context()), roomTypeID, from, to, channel)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}
