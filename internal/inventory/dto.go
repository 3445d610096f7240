package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/channelcore-backend/internal/rules"
	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	"github.com/angelmondragon/channelcore-backend/pkg/types"
)

// ReserveInput allocates rooms over the stay [CheckIn, CheckOut).
type ReserveInput struct {
	HotelID    uuid.UUID `json:"hotelId" validate:"required"`
	RoomTypeID uuid.UUID `json:"roomTypeId" validate:"required"`
	CheckIn    time.Time `json:"checkIn" validate:"required"`
	CheckOut   time.Time `json:"checkOut" validate:"required"`
	Rooms      int       `json:"rooms" validate:"gte=1"`
	BookingID  uuid.UUID `json:"bookingId"`
	// Channel is the sales context; empty means the direct channel.
	Channel string `json:"channel"`
	Source  string `json:"source"`
	// AllowOverbooking lets the reservation consume the overbooking allowance.
	AllowOverbooking bool `json:"allowOverbooking"`
	// Extension marks extra nights appended to an existing stay; arrival,
	// departure and length-of-stay restrictions are not re-checked.
	Extension bool `json:"extension"`
	// NewArrival keeps arrival and length-of-stay checks on an extension that
	// moves the guest's arrival earlier.
	NewArrival bool `json:"newArrival"`
	// StayNights is the length of the whole stay when the span covers only
	// part of it. Zero means the span is the stay.
	StayNights int `json:"stayNights" validate:"gte=0"`
}

// ReleaseInput returns rooms over [From, To).
type ReleaseInput struct {
	HotelID    uuid.UUID `json:"hotelId" validate:"required"`
	RoomTypeID uuid.UUID `json:"roomTypeId" validate:"required"`
	From       time.Time `json:"from" validate:"required"`
	To         time.Time `json:"to" validate:"required"`
	Rooms      int       `json:"rooms" validate:"gte=1"`
	BookingID  uuid.UUID `json:"bookingId"`
	Source     string    `json:"source"`
	Priority   enums.SyncPriority
}

// AdjustInput resizes inventory out of band.
type AdjustInput struct {
	HotelID      uuid.UUID `json:"hotelId" validate:"required"`
	RoomTypeID   uuid.UUID `json:"roomTypeId" validate:"required"`
	From         time.Time `json:"from" validate:"required"`
	To           time.Time `json:"to" validate:"required"`
	TotalRooms   *int      `json:"totalRooms" validate:"omitempty,gte=0"`
	BlockedRooms *int      `json:"blockedRooms" validate:"omitempty,gte=0"`
	Source       string    `json:"source"`
}

// SetRateInput writes a selling rate for one date.
type SetRateInput struct {
	HotelID    uuid.UUID       `json:"hotelId" validate:"required"`
	RoomTypeID uuid.UUID       `json:"roomTypeId" validate:"required"`
	Date       time.Time       `json:"date" validate:"required"`
	Rate       decimal.Decimal `json:"rate"`
	Source     string          `json:"source"`
	Reason     string          `json:"reason"`
}

// SetRestrictionsInput writes manual restrictions for a date range.
type SetRestrictionsInput struct {
	HotelID      uuid.UUID          `json:"hotelId" validate:"required"`
	RoomTypeID   uuid.UUID          `json:"roomTypeId" validate:"required"`
	From         time.Time          `json:"from" validate:"required"`
	To           time.Time          `json:"to" validate:"required"`
	Restrictions types.Restrictions `json:"restrictions"`
	Source       string             `json:"source"`
}

// RequestSyncInput asks for a span to be pushed ahead of the regular tick.
// A nil RoomTypeID covers every room type of the hotel.
type RequestSyncInput struct {
	HotelID     uuid.UUID  `json:"hotelId" validate:"required"`
	RoomTypeID  *uuid.UUID `json:"roomTypeId"`
	From        time.Time  `json:"from" validate:"required"`
	To          time.Time  `json:"to" validate:"required"`
	RequestedBy string     `json:"requestedBy"`
}

// ChannelSync is one channel's accepted push for MarkSynced.
type ChannelSync struct {
	ChannelID     uuid.UUID
	RecordCount   int
	ReportedRates map[string]decimal.Decimal
}

// MarkSyncedInput stamps the outcome of a sync group onto its rows.
type MarkSyncedInput struct {
	HotelID    uuid.UUID
	RoomTypeID uuid.UUID
	Span       types.DateRange
	// Versions are the row versions that were rendered, keyed by day.
	Versions map[string]int
	// Succeeded lists the channels that accepted the push.
	Succeeded []ChannelSync
	// AllSucceeded clears dirty on rows unchanged since rendering.
	AllSucceeded bool
	At           time.Time
}

// DirtyGroup is the dirty span of one (hotel, room type).
type DirtyGroup struct {
	HotelID    uuid.UUID
	RoomTypeID uuid.UUID
	From       time.Time
	To         time.Time
}

// Change describes ledger rows mutated by a committed operation.
type Change struct {
	HotelID    uuid.UUID
	RoomTypeID uuid.UUID
	Span       types.DateRange
	Priority   enums.SyncPriority
}

// DirtyNotifier receives ledger changes after they commit.
type DirtyNotifier interface {
	NotifyDirty(hotelID, roomTypeID uuid.UUID, from, to time.Time, priority enums.SyncPriority)
}

// RuleEvaluator supplies allowance and restriction state per date.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, hotelID, roomTypeID uuid.UUID, span types.DateRange, channel string) (map[string]rules.DayRules, error)
	MaxAllowancePercents(ctx context.Context, hotelID, roomTypeID uuid.UUID, span types.DateRange) (map[string]float64, error)
}

// ReservePlan is a validated reservation with rule state resolved ahead of the
// write transaction.
type ReservePlan struct {
	Input ReserveInput
	Span  types.DateRange
	Rules map[string]rules.DayRules
	// Departure holds the restriction state of the checkout date, if any.
	Departure *rules.DayRules
}

// RowView pairs a ledger row with its evaluated capacity.
type RowView struct {
	models.AvailabilityRow
	Allowance int `json:"allowance"`
	Available int `json:"available"`
}
