package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Hotel is the aggregate root owning room types, channels, and rules.
type Hotel struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name      string    `gorm:"column:name;not null"`
	Currency  string    `gorm:"column:currency;not null;default:'USD'"`
	Timezone  string    `gorm:"column:timezone;not null;default:'UTC'"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// RoomType defines a sellable room category and its pricing bounds.
type RoomType struct {
	ID                uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	HotelID           uuid.UUID        `gorm:"column:hotel_id;type:uuid;not null;index"`
	Name              string           `gorm:"column:name;not null"`
	BasePrice         decimal.Decimal  `gorm:"column:base_price;type:numeric(12,2);not null"`
	MinPrice          *decimal.Decimal `gorm:"column:min_price;type:numeric(12,2)"`
	MaxPrice          *decimal.Decimal `gorm:"column:max_price;type:numeric(12,2)"`
	DefaultTotalRooms int              `gorm:"column:default_total_rooms;not null;default:0"`
	Currency          string           `gorm:"column:currency;not null;default:'USD'"`
	CreatedAt         time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}
