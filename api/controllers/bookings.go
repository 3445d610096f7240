package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/channelcore-backend/api/middleware"
	"github.com/angelmondragon/channelcore-backend/api/responses"
	"github.com/angelmondragon/channelcore-backend/api/validators"
	"github.com/angelmondragon/channelcore-backend/internal/bookings"
	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelcore-backend/pkg/errors"
	"github.com/angelmondragon/channelcore-backend/pkg/logger"
)

type bookingReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	List(ctx context.Context, hotelID uuid.UUID, status *enums.BookingStatus, limit int) ([]models.Booking, error)
}

type amendmentResolver interface {
	bookingReader
	ResolveAmendment(ctx context.Context, input bookings.ResolveAmendmentInput) (*models.Booking, error)
}

type resolveAmendmentBody struct {
	Decision        enums.AmendmentStatus `json:"decision" validate:"required"`
	ApprovedChanges *models.StayChanges   `json:"approvedChanges"`
	RejectionReason string                `json:"rejectionReason" validate:"omitempty,max=500"`
}

// AdminListBookings lists a hotel's bookings, optionally filtered by status.
func AdminListBookings(svc bookingReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "bookings service unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var status *enums.BookingStatus
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			parsed, err := enums.ParseBookingStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			status = &parsed
		}
		list, err := svc.List(r.Context(), middleware.HotelIDFromContext(r.Context()), status, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// AdminResolveAmendment approves, partially approves or rejects a pending OTA
// amendment on behalf of the calling operator.
func AdminResolveAmendment(svc amendmentResolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "bookings service unavailable"))
			return
		}
		bookingID, err := uuid.Parse(chi.URLParam(r, "bookingId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid booking id"))
			return
		}
		amendmentID, err := uuid.Parse(chi.URLParam(r, "amendmentId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amendment id"))
			return
		}

		var body resolveAmendmentBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		booking, err := svc.Get(r.Context(), bookingID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		// a token scoped to other hotels must not learn the booking exists
		if !middleware.CanAccessHotel(r.Context(), booking.HotelID) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "booking not found"))
			return
		}

		updated, err := svc.ResolveAmendment(r.Context(), bookings.ResolveAmendmentInput{
			BookingID:       bookingID,
			AmendmentID:     amendmentID,
			Decision:        body.Decision,
			Approved:        body.ApprovedChanges,
			ResolvedBy:      middleware.OperatorIDFromContext(r.Context()),
			RejectionReason: validators.SanitizeString(body.RejectionReason, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, updated)
	}
}
