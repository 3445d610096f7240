package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/channelcore-backend/pkg/enums"
)

// InventorySync tracks push attempts of one ledger date to one channel.
type InventorySync struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	HotelID       uuid.UUID                 `gorm:"column:hotel_id;type:uuid;not null"`
	ChannelID     uuid.UUID                 `gorm:"column:channel_id;type:uuid;not null;uniqueIndex:ux_inventory_syncs_key,priority:1"`
	RoomTypeID    uuid.UUID                 `gorm:"column:room_type_id;type:uuid;not null;uniqueIndex:ux_inventory_syncs_key,priority:2"`
	Date          time.Time                 `gorm:"column:date;type:date;not null;uniqueIndex:ux_inventory_syncs_key,priority:3"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb"`
	SyncStatus    enums.InventorySyncStatus `gorm:"column:sync_status;type:text;not null;default:'pending';index:idx_inventory_syncs_due,priority:1"`
	Attempts      int                       `gorm:"column:attempts;not null;default:0"`
	LastAttemptAt *time.Time                `gorm:"column:last_attempt_at"`
	NextRetryAt   *time.Time                `gorm:"column:next_retry_at;index:idx_inventory_syncs_due,priority:2"`
	ErrorMessage  *string                   `gorm:"column:error_message"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

// MappingModification records an inbound change applied to a reservation mapping.
type MappingModification struct {
	At      time.Time       `json:"at"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ReservationMapping links an inbound channel reservation to its booking.
type ReservationMapping struct {
	ID                   uuid.UUID                      `gorm:"column:id;type:uuid;primaryKey"`
	HotelID              uuid.UUID                      `gorm:"column:hotel_id;type:uuid;not null"`
	ChannelID            uuid.UUID                      `gorm:"column:channel_id;type:uuid;not null;uniqueIndex:ux_reservation_mappings_key,priority:1"`
	ChannelReservationID string                         `gorm:"column:channel_reservation_id;not null;uniqueIndex:ux_reservation_mappings_key,priority:2"`
	BookingID            uuid.UUID                      `gorm:"column:booking_id;type:uuid;not null;index"`
	Status               enums.ReservationMappingStatus `gorm:"column:status;type:text;not null;default:'active'"`
	Modifications        []MappingModification          `gorm:"column:modifications;type:jsonb;serializer:json"`
	CreatedAt            time.Time                      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                      `gorm:"column:updated_at;autoUpdateTime"`
}

// ChannelRate is one channel's reported rate for a parity check.
type ChannelRate struct {
	ChannelID   uuid.UUID       `json:"channelId"`
	Category    string          `json:"category"`
	Rate        decimal.Decimal `json:"rate"`
	VariancePct float64         `json:"variancePct"`
}

// ParityViolation is a channel whose rate strays beyond the allowed variance.
type ParityViolation struct {
	ChannelID   uuid.UUID       `json:"channelId"`
	Rate        decimal.Decimal `json:"rate"`
	VariancePct float64         `json:"variancePct"`
	AllowedPct  float64         `json:"allowedPct"`
}

// RateParityLog stores one parity evaluation for a (room type, date).
type RateParityLog struct {
	ID                uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	HotelID           uuid.UUID         `gorm:"column:hotel_id;type:uuid;not null"`
	RoomTypeID        uuid.UUID         `gorm:"column:room_type_id;type:uuid;not null;index:idx_rate_parity_logs_key,priority:1"`
	Date              time.Time         `gorm:"column:date;type:date;not null;index:idx_rate_parity_logs_key,priority:2"`
	BaseRate          decimal.Decimal   `gorm:"column:base_rate;type:numeric(12,2);not null"`
	ChannelRates      []ChannelRate     `gorm:"column:channel_rates;type:jsonb;serializer:json"`
	Violations        []ParityViolation `gorm:"column:violations;type:jsonb;serializer:json"`
	OverallCompliance bool              `gorm:"column:overall_compliance;not null"`
	CheckedAt         time.Time         `gorm:"column:checked_at;not null"`
}
