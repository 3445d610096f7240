package rules

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
)

// OverbookingRuleInput defines an overbooking policy for one room type.
type OverbookingRuleInput struct {
	HotelID               uuid.UUID                    `json:"hotelId" validate:"required"`
	RoomTypeID            uuid.UUID                    `json:"roomTypeId" validate:"required"`
	MaxOverbookingPercent float64                      `json:"maxOverbookingPercent" validate:"gte=0,lte=100"`
	SeasonalAdjustments   []models.SeasonalAdjustment  `json:"seasonalAdjustments"`
	DayOfWeekAdjustments  []models.DayOfWeekAdjustment `json:"dayOfWeekAdjustments"`
	LeadTimeAdjustments   []models.LeadTimeAdjustment  `json:"leadTimeAdjustments"`
	ChannelOverrides      []models.ChannelOverride     `json:"channelOverrides"`
	FallbackActions       models.FallbackActions       `json:"fallbackActions"`
}

// StopSellRuleInput defines a restriction rule.
type StopSellRuleInput struct {
	HotelID      uuid.UUID              `json:"hotelId" validate:"required"`
	Name         string                 `json:"name" validate:"required"`
	Type         enums.StopSellRuleType `json:"type" validate:"required"`
	Priority     int                    `json:"priority" validate:"gte=1,lte=10"`
	StartDate    time.Time              `json:"startDate" validate:"required"`
	EndDate      time.Time              `json:"endDate" validate:"required"`
	Weekdays     []int                  `json:"weekdays" validate:"omitempty,dive,gte=0,lte=6"`
	RoomTypeIDs  []uuid.UUID            `json:"roomTypeIds"`
	AllRoomTypes bool                   `json:"allRoomTypes"`
	Channels     []string               `json:"channels"`
	AllChannels  bool                   `json:"allChannels"`
	Action       models.RuleAction      `json:"action"`
	Reason       string                 `json:"reason"`
	Actor        string                 `json:"-"`
}

// RulesChangeListener is told when rule edits alter the restriction state of
// ledger dates so they can be marked for resync. An empty roomTypeIDs slice
// means every room type of the hotel.
type RulesChangeListener interface {
	RulesChanged(ctx context.Context, hotelID uuid.UUID, roomTypeIDs []uuid.UUID, from, to time.Time) error
}
