package channels

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
)

// CreateInput registers a channel connection for a hotel.
type CreateInput struct {
	HotelID      uuid.UUID                 `json:"hotelId" validate:"required"`
	Code         string                    `json:"code" validate:"required,max=64"`
	Name         string                    `json:"name" validate:"required,max=200"`
	Category     enums.ChannelCategory     `json:"category" validate:"required"`
	Credentials  Credentials               `json:"credentials"`
	Settings     models.ChannelSettings    `json:"settings"`
	RoomMappings []models.RoomMapping      `json:"roomMappings" validate:"dive"`
	RateParity   models.RateParitySettings `json:"rateParity"`
	Actor        string                    `json:"-"`
}

// SyncKind names one of the per-kind last-sync markers on a channel.
type SyncKind string

const (
	SyncRates        SyncKind = "rates"
	SyncInventory    SyncKind = "inventory"
	SyncRestrictions SyncKind = "restrictions"
	SyncReservations SyncKind = "reservations"
)
