package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/channelcore-backend/api/middleware"
	"github.com/angelmondragon/channelcore-backend/api/responses"
	"github.com/angelmondragon/channelcore-backend/api/validators"
	"github.com/angelmondragon/channelcore-backend/internal/pricing"
	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelcore-backend/pkg/errors"
	"github.com/angelmondragon/channelcore-backend/pkg/logger"
)

// PricingService is the admin surface of the dynamic pricing engine.
type PricingService interface {
	Recommendations(ctx context.Context, hotelID uuid.UUID, roomTypeID *uuid.UUID, limit int) ([]models.PricingRecommendation, error)
	ListStrategies(ctx context.Context, hotelID uuid.UUID) ([]models.PricingStrategy, error)
	CreateStrategy(ctx context.Context, input pricing.StrategyInput) (*models.PricingStrategy, error)
	DeactivateStrategy(ctx context.Context, id uuid.UUID) error
	RecordCompetitorRate(ctx context.Context, input pricing.CompetitorRateInput) (*models.CompetitorRate, error)
	RunHotel(ctx context.Context, hotelID uuid.UUID) (pricing.RunReport, error)
}

type createStrategyBody struct {
	Name        string                    `json:"name" validate:"required,max=120"`
	Type        enums.PricingStrategyType `json:"type" validate:"required"`
	Priority    int                       `json:"priority" validate:"gte=0,lte=100"`
	RoomTypeIDs []uuid.UUID               `json:"roomTypeIds"`
	Parameters  models.StrategyParameters `json:"parameters"`
	MinRate     *decimal.Decimal          `json:"minRate"`
	MaxRate     *decimal.Decimal          `json:"maxRate"`
	ValidFrom   *time.Time                `json:"validFrom"`
	ValidTo     *time.Time                `json:"validTo"`
}

type competitorRateBody struct {
	RoomTypeID uuid.UUID       `json:"roomTypeId" validate:"required"`
	Competitor string          `json:"competitor" validate:"required,max=120"`
	Date       time.Time       `json:"date" validate:"required"`
	Rate       decimal.Decimal `json:"rate"`
	Currency   string          `json:"currency" validate:"omitempty,len=3"`
	Confidence float64         `json:"confidence" validate:"gte=0,lte=100"`
}

func AdminPricingRecommendations(svc PricingService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", 100, 1, 1000)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		roomTypeID, err := validators.ParseQueryUUID(r, "roomTypeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		recs, err := svc.Recommendations(r.Context(), middleware.HotelIDFromContext(r.Context()), roomTypeID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, recs)
	}
}

func AdminListStrategies(svc PricingService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListStrategies(r.Context(), middleware.HotelIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

func AdminCreateStrategy(svc PricingService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body createStrategyBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		strategy, err := svc.CreateStrategy(r.Context(), pricing.StrategyInput{
			HotelID:     middleware.HotelIDFromContext(r.Context()),
			Name:        validators.SanitizeString(body.Name, 120),
			Type:        body.Type,
			Priority:    body.Priority,
			RoomTypeIDs: body.RoomTypeIDs,
			Parameters:  body.Parameters,
			MinRate:     body.MinRate,
			MaxRate:     body.MaxRate,
			ValidFrom:   body.ValidFrom,
			ValidTo:     body.ValidTo,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, strategy)
	}
}

// AdminDeactivateStrategy turns off a strategy that belongs to the scoped hotel.
func AdminDeactivateStrategy(svc PricingService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		strategyID, err := uuid.Parse(chi.URLParam(r, "strategyId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid strategy id"))
			return
		}
		owned, err := svc.ListStrategies(r.Context(), middleware.HotelIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		found := false
		for _, s := range owned {
			if s.ID == strategyID {
				found = true
				break
			}
		}
		if !found {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "strategy not found"))
			return
		}
		if err := svc.DeactivateStrategy(r.Context(), strategyID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func AdminRecordCompetitorRate(svc PricingService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body competitorRateBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rate, err := svc.RecordCompetitorRate(r.Context(), pricing.CompetitorRateInput{
			HotelID:    middleware.HotelIDFromContext(r.Context()),
			RoomTypeID: body.RoomTypeID,
			Competitor: validators.SanitizeString(body.Competitor, 120),
			Date:       body.Date,
			Rate:       body.Rate,
			Currency:   body.Currency,
			Confidence: body.Confidence,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, rate)
	}
}

// AdminRunPricing evaluates the hotel's strategies immediately instead of
// waiting for the scheduler.
func AdminRunPricing(svc PricingService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := svc.RunHotel(r.Context(), middleware.HotelIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}
