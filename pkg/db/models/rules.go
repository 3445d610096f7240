package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/channelcore-backend/pkg/enums"
)

// SeasonalAdjustment scales the overbooking percentage inside a date window.
type SeasonalAdjustment struct {
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	Factor float64   `json:"factor"`
}

// DayOfWeekAdjustment scales the overbooking percentage on a weekday (0 = Sunday).
type DayOfWeekAdjustment struct {
	Weekday int     `json:"weekday"`
	Factor  float64 `json:"factor"`
}

// LeadTimeAdjustment scales the overbooking percentage by days until arrival.
type LeadTimeAdjustment struct {
	MinDays int     `json:"minDays"`
	MaxDays int     `json:"maxDays"`
	Factor  float64 `json:"factor"`
}

// ChannelOverride replaces the composed percentage for one channel.
type ChannelOverride struct {
	Channel               string  `json:"channel"`
	MaxOverbookingPercent float64 `json:"maxOverbookingPercent"`
}

// FallbackActions lists what operations does when a walk becomes likely.
type FallbackActions struct {
	Upsell       bool `json:"upsell"`
	WalkIn       bool `json:"walkIn"`
	Notify       bool `json:"notify"`
	AutoRelocate bool `json:"autoRelocate"`
}

// OverbookingRule is the allowance policy for one room type.
type OverbookingRule struct {
	ID                    uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	HotelID               uuid.UUID             `gorm:"column:hotel_id;type:uuid;not null;index:idx_overbooking_rules_key,priority:1"`
	RoomTypeID            uuid.UUID             `gorm:"column:room_type_id;type:uuid;not null;index:idx_overbooking_rules_key,priority:2"`
	MaxOverbookingPercent float64               `gorm:"column:max_overbooking_percent;not null;default:0"`
	SeasonalAdjustments   []SeasonalAdjustment  `gorm:"column:seasonal_adjustments;type:jsonb;serializer:json"`
	DayOfWeekAdjustments  []DayOfWeekAdjustment `gorm:"column:day_of_week_adjustments;type:jsonb;serializer:json"`
	LeadTimeAdjustments   []LeadTimeAdjustment  `gorm:"column:lead_time_adjustments;type:jsonb;serializer:json"`
	ChannelOverrides      []ChannelOverride     `gorm:"column:channel_overrides;type:jsonb;serializer:json"`
	FallbackActions       FallbackActions       `gorm:"column:fallback_actions;type:jsonb;serializer:json"`
	Active                bool                  `gorm:"column:active;not null;default:true"`
	CreatedAt             time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

// RuleAction is the product of optional restriction fields a stop-sell rule sets.
type RuleAction struct {
	StopSell          *bool    `json:"stopSell,omitempty"`
	ClosedToArrival   *bool    `json:"closedToArrival,omitempty"`
	ClosedToDeparture *bool    `json:"closedToDeparture,omitempty"`
	MinLOS            *int     `json:"minLOS,omitempty"`
	MaxLOS            *int     `json:"maxLOS,omitempty"`
	RateAdjustmentPct *float64 `json:"rateAdjustmentPct,omitempty"`
}

// StopSellRule restricts sales for matching dates, room types, and channels.
type StopSellRule struct {
	ID           uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	HotelID      uuid.UUID              `gorm:"column:hotel_id;type:uuid;not null;index:idx_stop_sell_rules_active,priority:1"`
	Name         string                 `gorm:"column:name;not null"`
	Type         enums.StopSellRuleType `gorm:"column:type;type:text;not null"`
	Priority     int                    `gorm:"column:priority;not null;default:5"`
	StartDate    time.Time              `gorm:"column:start_date;type:date;not null"`
	EndDate      time.Time              `gorm:"column:end_date;type:date;not null"`
	Weekdays     []int                  `gorm:"column:weekdays;type:jsonb;serializer:json"`
	RoomTypeIDs  []uuid.UUID            `gorm:"column:room_type_ids;type:jsonb;serializer:json"`
	AllRoomTypes bool                   `gorm:"column:all_room_types;not null;default:false"`
	Channels     []string               `gorm:"column:channels;type:jsonb;serializer:json"`
	AllChannels  bool                   `gorm:"column:all_channels;not null;default:false"`
	Action       RuleAction             `gorm:"column:action;type:jsonb;serializer:json"`
	Reason       string                 `gorm:"column:reason"`
	Active       bool                   `gorm:"column:active;not null;default:true;index:idx_stop_sell_rules_active,priority:2"`
	CreatedAt    time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
