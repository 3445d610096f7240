package pricing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
)

// Skip reasons stored on recommendations that were not applied.
const (
	SkipBelowMinChange  = "below_min_change"
	SkipBelowScore      = "below_score_threshold"
	SkipAutoApplyOff    = "auto_apply_disabled"
	SkipLedgerRefused   = "ledger_refused"
	decisionApplied     = "applied"
	decisionSkipped     = "skipped"
	decisionError       = "error"
	pricingSource       = "pricing"
	defaultRecListLimit = 100
)

// StrategyInput creates or replaces a pricing strategy.
type StrategyInput struct {
	HotelID     uuid.UUID                 `json:"hotelId" validate:"required"`
	Name        string                    `json:"name" validate:"required"`
	Type        enums.PricingStrategyType `json:"type" validate:"required"`
	Priority    int                       `json:"priority" validate:"gte=0,lte=100"`
	RoomTypeIDs []uuid.UUID               `json:"roomTypeIds"`
	Parameters  models.StrategyParameters `json:"parameters"`
	MinRate     *decimal.Decimal          `json:"minRate"`
	MaxRate     *decimal.Decimal          `json:"maxRate"`
	ValidFrom   *time.Time                `json:"validFrom"`
	ValidTo     *time.Time                `json:"validTo"`
}

// CompetitorRateInput records one competitor price sample.
type CompetitorRateInput struct {
	HotelID    uuid.UUID       `json:"hotelId" validate:"required"`
	RoomTypeID uuid.UUID       `json:"roomTypeId" validate:"required"`
	Competitor string          `json:"competitor" validate:"required"`
	Date       time.Time       `json:"date" validate:"required"`
	Rate       decimal.Decimal `json:"rate"`
	Currency   string          `json:"currency" validate:"omitempty,len=3"`
	Confidence float64         `json:"confidence" validate:"gte=0,lte=100"`
}

// RunReport summarizes one hotel run.
type RunReport struct {
	HotelID   uuid.UUID `json:"hotelId"`
	RoomTypes int       `json:"roomTypes"`
	Evaluated int       `json:"evaluated"`
	Applied   int       `json:"applied"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
}

// Add folds other into r.
func (r *RunReport) Add(other RunReport) {
	r.RoomTypes += other.RoomTypes
	r.Evaluated += other.Evaluated
	r.Applied += other.Applied
	r.Skipped += other.Skipped
	r.Failed += other.Failed
}
