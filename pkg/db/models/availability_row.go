package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/channelcore-backend/pkg/types"
)

// ChannelSnapshot captures what a channel last accepted for a ledger row.
type ChannelSnapshot struct {
	SyncedAt     time.Time        `json:"syncedAt"`
	RecordCount  int              `json:"recordCount"`
	ReportedRate *decimal.Decimal `json:"reportedRate,omitempty"`
}

// AvailabilityRow is one ledger entry for a (hotel, room type, date).
type AvailabilityRow struct {
	ID               uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	HotelID          uuid.UUID                  `gorm:"column:hotel_id;type:uuid;not null;uniqueIndex:ux_availability_rows_key,priority:1"`
	RoomTypeID       uuid.UUID                  `gorm:"column:room_type_id;type:uuid;not null;uniqueIndex:ux_availability_rows_key,priority:2"`
	Date             time.Time                  `gorm:"column:date;type:date;not null;uniqueIndex:ux_availability_rows_key,priority:3"`
	TotalRooms       int                        `gorm:"column:total_rooms;not null;default:0"`
	SoldRooms        int                        `gorm:"column:sold_rooms;not null;default:0"`
	BlockedRooms     int                        `gorm:"column:blocked_rooms;not null;default:0"`
	BaseRate         decimal.Decimal            `gorm:"column:base_rate;type:numeric(12,2);not null"`
	SellingRate      decimal.Decimal            `gorm:"column:selling_rate;type:numeric(12,2);not null"`
	Currency         string                     `gorm:"column:currency;not null;default:'USD'"`
	Restrictions     types.Restrictions         `gorm:"column:restrictions;type:jsonb;not null"`
	Dirty            bool                       `gorm:"column:dirty;not null;default:false;index:idx_availability_rows_dirty"`
	LastSyncedAt     *time.Time                 `gorm:"column:last_synced_at"`
	ChannelSnapshots map[string]ChannelSnapshot `gorm:"column:channel_snapshots;type:jsonb;serializer:json"`
	LastPriceUpdate  *time.Time                 `gorm:"column:last_price_update"`
	Archived         bool                       `gorm:"column:archived;not null;default:false"`
	Version          int                        `gorm:"column:version;not null;default:1"`
	CreatedAt        time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}

// Available returns sellable rooms including the allowance, floored at zero.
func (r AvailabilityRow) Available(allowance int) int {
	n := r.TotalRooms + allowance - r.SoldRooms - r.BlockedRooms
	if n < 0 {
		return 0
	}
	return n
}
