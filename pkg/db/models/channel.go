package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	"github.com/angelmondragon/channelcore-backend/pkg/types"
)

// ChannelSettings toggles what is pushed to a channel and how often.
type ChannelSettings struct {
	AutoSync                bool            `json:"autoSync"`
	SyncFrequencySeconds    int             `json:"syncFrequencySeconds"`
	EnableRateSync          bool            `json:"enableRateSync"`
	EnableInventorySync     bool            `json:"enableInventorySync"`
	EnableRestrictionSync   bool            `json:"enableRestrictionSync"`
	CommissionPct           decimal.Decimal `json:"commissionPct"`
	Currency                string          `json:"currency"`
	DefaultLeadTimeDays     int             `json:"defaultLeadTimeDays"`
	MaxLeadTimeDays         int             `json:"maxLeadTimeDays"`
	MinLOS                  int             `json:"minLOS"`
	MaxLOS                  int             `json:"maxLOS"`
	Endpoint                string          `json:"endpoint,omitempty"`
	SimulatedFailureKind    string          `json:"simulatedFailureKind,omitempty"`
	SimulatedRateMultiplier *float64        `json:"simulatedRateMultiplier,omitempty"`
}

// RatePlanMapping links an internal rate plan code to the channel's.
type RatePlanMapping struct {
	HotelRatePlan   string `json:"hotelRatePlan"`
	ChannelRatePlan string `json:"channelRatePlan"`
}

// RoomMapping maps a hotel room type onto the channel's room identifier.
type RoomMapping struct {
	HotelRoomTypeID   uuid.UUID         `json:"hotelRoomTypeId"`
	ChannelRoomTypeID string            `json:"channelRoomTypeId"`
	RatePlanMappings  []RatePlanMapping `json:"ratePlanMappings,omitempty"`
}

// RateParitySettings controls the parity check against the ledger selling rate.
type RateParitySettings struct {
	Enabled     bool       `json:"enabled"`
	VariancePct float64    `json:"variancePct"`
	BaseChannel *uuid.UUID `json:"baseChannel,omitempty"`
}

// LastSync holds per-kind sync markers.
type LastSync struct {
	Rates        *time.Time `json:"rates,omitempty"`
	Inventory    *time.Time `json:"inventory,omitempty"`
	Restrictions *time.Time `json:"restrictions,omitempty"`
	Reservations *time.Time `json:"reservations,omitempty"`
}

// Channel is a hotel's connection to one distribution channel.
type Channel struct {
	ID                 uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	HotelID            uuid.UUID              `gorm:"column:hotel_id;type:uuid;not null;uniqueIndex:ux_channels_hotel_code,priority:1"`
	Code               string                 `gorm:"column:code;not null;uniqueIndex:ux_channels_hotel_code,priority:2"`
	Name               string                 `gorm:"column:name;not null"`
	Category           enums.ChannelCategory  `gorm:"column:category;type:text;not null"`
	Credentials        []byte                 `gorm:"column:credentials"`
	CredentialsVersion int                    `gorm:"column:credentials_version;not null;default:0"`
	Settings           ChannelSettings        `gorm:"column:settings;type:jsonb;serializer:json"`
	RoomMappings       []RoomMapping          `gorm:"column:room_mappings;type:jsonb;serializer:json"`
	RateParity         RateParitySettings     `gorm:"column:rate_parity;type:jsonb;serializer:json"`
	Restrictions       types.Restrictions     `gorm:"column:restrictions;type:jsonb"`
	LastSync           LastSync               `gorm:"column:last_sync;type:jsonb;serializer:json"`
	ConnectionStatus   enums.ConnectionStatus `gorm:"column:connection_status;type:text;not null;default:'pending'"`
	LastError          *string                `gorm:"column:last_error"`
	CreatedAt          time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

// MappingFor returns the room mapping for a hotel room type.
func (c Channel) MappingFor(roomTypeID uuid.UUID) (RoomMapping, bool) {
	for _, m := range c.RoomMappings {
		if m.HotelRoomTypeID == roomTypeID {
			return m, true
		}
	}
	return RoomMapping{}, false
}
