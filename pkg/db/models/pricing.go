package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/channelcore-backend/pkg/enums"
)

// OccupancyTier applies a multiplier once occupancy reaches MinOccupancy percent.
type OccupancyTier struct {
	MinOccupancy float64 `json:"minOccupancy"`
	Multiplier   float64 `json:"multiplier"`
}

// LeadTimeTier applies a multiplier when arrival is at most MaxDays away.
type LeadTimeTier struct {
	MaxDays    int     `json:"maxDays"`
	Multiplier float64 `json:"multiplier"`
}

// SeasonalPeriod applies a multiplier inside a date window.
type SeasonalPeriod struct {
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	Multiplier float64   `json:"multiplier"`
}

// StrategyParameters holds the inputs each strategy type reads.
type StrategyParameters struct {
	OccupancyTiers       []OccupancyTier  `json:"occupancyTiers,omitempty"`
	DayOfWeekMultipliers map[int]float64  `json:"dayOfWeekMultipliers,omitempty"`
	LeadTimeTiers        []LeadTimeTier   `json:"leadTimeTiers,omitempty"`
	SeasonalPeriods      []SeasonalPeriod `json:"seasonalPeriods,omitempty"`
	FixedRate            *decimal.Decimal `json:"fixedRate,omitempty"`
}

// PricingStrategy is one priority-ordered pricing rule.
type PricingStrategy struct {
	ID          uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	HotelID     uuid.UUID                 `gorm:"column:hotel_id;type:uuid;not null;index"`
	Name        string                    `gorm:"column:name;not null"`
	Type        enums.PricingStrategyType `gorm:"column:type;type:text;not null"`
	Priority    int                       `gorm:"column:priority;not null;default:0"`
	RoomTypeIDs []uuid.UUID               `gorm:"column:room_type_ids;type:jsonb;serializer:json"`
	Parameters  StrategyParameters        `gorm:"column:parameters;type:jsonb;serializer:json"`
	MinRate     *decimal.Decimal          `gorm:"column:min_rate;type:numeric(12,2)"`
	MaxRate     *decimal.Decimal          `gorm:"column:max_rate;type:numeric(12,2)"`
	ValidFrom   *time.Time                `gorm:"column:valid_from"`
	ValidTo     *time.Time                `gorm:"column:valid_to"`
	Active      bool                      `gorm:"column:active;not null;default:true"`
	CreatedAt   time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

// DemandForecast is the predicted occupancy percent for a date.
type DemandForecast struct {
	ID                 uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	HotelID            uuid.UUID `gorm:"column:hotel_id;type:uuid;not null;uniqueIndex:ux_demand_forecasts_key,priority:1"`
	RoomTypeID         uuid.UUID `gorm:"column:room_type_id;type:uuid;not null;uniqueIndex:ux_demand_forecasts_key,priority:2"`
	Date               time.Time `gorm:"column:date;type:date;not null;uniqueIndex:ux_demand_forecasts_key,priority:3"`
	PredictedOccupancy float64   `gorm:"column:predicted_occupancy;not null"`
	Confidence         float64   `gorm:"column:confidence;not null"`
	Source             string    `gorm:"column:source;not null;default:'model'"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// CompetitorRate is one sampled competitor price.
type CompetitorRate struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	HotelID    uuid.UUID       `gorm:"column:hotel_id;type:uuid;not null;index:idx_competitor_rates_key,priority:1"`
	Competitor string          `gorm:"column:competitor;not null"`
	RoomTypeID uuid.UUID       `gorm:"column:room_type_id;type:uuid;not null;index:idx_competitor_rates_key,priority:2"`
	Date       time.Time       `gorm:"column:date;type:date;not null;index:idx_competitor_rates_key,priority:3"`
	Rate       decimal.Decimal `gorm:"column:rate;type:numeric(12,2);not null"`
	Currency   string          `gorm:"column:currency;not null;default:'USD'"`
	Confidence float64         `gorm:"column:confidence;not null;default:0"`
	CapturedAt time.Time       `gorm:"column:captured_at;not null"`
}

// PricingRecommendation persists one pricing evaluation and whether it was applied.
type PricingRecommendation struct {
	ID                   uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	HotelID              uuid.UUID       `gorm:"column:hotel_id;type:uuid;not null;index:idx_pricing_recommendations_key,priority:1"`
	RoomTypeID           uuid.UUID       `gorm:"column:room_type_id;type:uuid;not null;index:idx_pricing_recommendations_key,priority:2"`
	Date                 time.Time       `gorm:"column:date;type:date;not null;index:idx_pricing_recommendations_key,priority:3"`
	StrategyID           *uuid.UUID      `gorm:"column:strategy_id;type:uuid"`
	CurrentRate          decimal.Decimal `gorm:"column:current_rate;type:numeric(12,2);not null"`
	StrategicRate        decimal.Decimal `gorm:"column:strategic_rate;type:numeric(12,2);not null"`
	DemandAdjustment     decimal.Decimal `gorm:"column:demand_adjustment;type:numeric(12,2);not null"`
	CompetitorAdjustment decimal.Decimal `gorm:"column:competitor_adjustment;type:numeric(12,2);not null"`
	RecommendedRate      decimal.Decimal `gorm:"column:recommended_rate;type:numeric(12,2);not null"`
	PriceChangePct       float64         `gorm:"column:price_change_pct;not null"`
	CurrentOccupancy     float64         `gorm:"column:current_occupancy;not null"`
	ProjectedOccupancy   float64         `gorm:"column:projected_occupancy;not null"`
	RevenueImpact        decimal.Decimal `gorm:"column:revenue_impact;type:numeric(12,2);not null"`
	Score                float64         `gorm:"column:score;not null"`
	Position             string          `gorm:"column:position"`
	Applied              bool            `gorm:"column:applied;not null;default:false"`
	SkipReason           string          `gorm:"column:skip_reason"`
	CreatedAt            time.Time       `gorm:"column:created_at;autoCreateTime"`
}
