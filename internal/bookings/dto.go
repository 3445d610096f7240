package bookings

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
)

// CreateHoldInput creates a pending booking that holds inventory until it
// is confirmed or the hold lapses.
type CreateHoldInput struct {
	HotelID     uuid.UUID       `json:"hotelId" validate:"required"`
	RoomTypeID  uuid.UUID       `json:"roomTypeId" validate:"required"`
	UserID      *uuid.UUID      `json:"userId"`
	CheckIn     time.Time       `json:"checkIn" validate:"required"`
	CheckOut    time.Time       `json:"checkOut" validate:"required"`
	Rooms       int             `json:"rooms" validate:"gte=1,lte=50"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Currency    string          `json:"currency" validate:"omitempty,len=3"`
	GuestName   string          `json:"guestName" validate:"omitempty,max=200"`
	GuestEmail  string          `json:"guestEmail" validate:"omitempty,email"`
	Adults      int             `json:"adults" validate:"gte=0"`
	Children    int             `json:"children" validate:"gte=0"`
}

// CreateConfirmedInput creates a booking straight into confirmed, as channel
// reservations arrive.
type CreateConfirmedInput struct {
	CreateHoldInput
	Source           string              `json:"source" validate:"required"`
	ChannelID        *uuid.UUID          `json:"channelId"`
	ChannelBookingID string              `json:"channelBookingId" validate:"required"`
	PaymentStatus    enums.PaymentStatus `json:"paymentStatus"`
	RawPayload       json.RawMessage     `json:"rawPayload"`
	// AllowOverbooking lets the reserve consume the overbooking allowance.
	AllowOverbooking bool `json:"allowOverbooking"`
	// OnCreated runs inside the creating transaction, after the insert.
	OnCreated func(ctx context.Context, tx *gorm.DB, b *models.Booking) error `json:"-"`
}

// ChangeStatusInput requests one lifecycle transition.
type ChangeStatusInput struct {
	BookingID uuid.UUID           `json:"bookingId" validate:"required"`
	To        enums.BookingStatus `json:"to" validate:"required"`
	Source    enums.StatusSource  `json:"source" validate:"required"`
	UserID    *uuid.UUID          `json:"userId"`
	Reason    string              `json:"reason" validate:"omitempty,max=500"`
	Automatic bool                `json:"automatic"`
	Options   Options             `json:"options"`
}

// AmendmentInput is a channel-initiated change to an existing booking.
type AmendmentInput struct {
	BookingID        uuid.UUID           `json:"bookingId" validate:"required"`
	Type             enums.AmendmentType `json:"type" validate:"required"`
	Channel          string              `json:"channel" validate:"required"`
	RequestedChanges models.StayChanges  `json:"requestedChanges"`
}

// ResolveAmendmentInput approves, partially approves or rejects a pending amendment.
type ResolveAmendmentInput struct {
	BookingID   uuid.UUID             `json:"bookingId" validate:"required"`
	AmendmentID uuid.UUID             `json:"amendmentId" validate:"required"`
	Decision    enums.AmendmentStatus `json:"decision" validate:"required"`
	// Approved narrows the accepted fields on a partial approval; it must be
	// a subset of the requested changes. Nil on approval means all of them.
	Approved        *models.StayChanges `json:"approvedChanges"`
	ResolvedBy      string              `json:"resolvedBy" validate:"required"`
	RejectionReason string              `json:"rejectionReason"`
	Options         Options             `json:"options"`
}

// ChangeResult is a committed transition and the effects that ran with it.
type ChangeResult struct {
	Booking *models.Booking `json:"booking"`
	Effects Effects         `json:"effects"`
}

// SweepResult counts the outcome of a maintenance sweep.
type SweepResult struct {
	Scanned   int `json:"scanned"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// SyncOutcome is one channel's result of pushing a booking's span.
type SyncOutcome struct {
	ChannelID uuid.UUID
	OK        bool
	Error     string
}
