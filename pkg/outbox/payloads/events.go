package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/channelcore-backend/pkg/enums"
)

// BookingStatusChangedEvent reports a validated lifecycle transition.
type BookingStatusChangedEvent struct {
	BookingID uuid.UUID           `json:"booking_id"`
	HotelID   uuid.UUID           `json:"hotel_id"`
	From      enums.BookingStatus `json:"from"`
	To        enums.BookingStatus `json:"to"`
	Source    enums.StatusSource  `json:"source"`
	Automatic bool                `json:"automatic"`
	At        time.Time           `json:"at"`
}

// BookingAmendmentReceivedEvent tells operators an OTA amendment needs review.
type BookingAmendmentReceivedEvent struct {
	BookingID   uuid.UUID           `json:"booking_id"`
	HotelID     uuid.UUID           `json:"hotel_id"`
	AmendmentID uuid.UUID           `json:"amendment_id"`
	Channel     string              `json:"channel"`
	Type        enums.AmendmentType `json:"type"`
}

// RefundRequestedEvent asks billing to refund a paid, cancelled booking.
type RefundRequestedEvent struct {
	BookingID uuid.UUID       `json:"booking_id"`
	HotelID   uuid.UUID       `json:"hotel_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Reason    string          `json:"reason,omitempty"`
}

// FinalBillingRequestedEvent asks billing to close the folio after checkout.
type FinalBillingRequestedEvent struct {
	BookingID    uuid.UUID       `json:"booking_id"`
	HotelID      uuid.UUID       `json:"hotel_id"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Currency     string          `json:"currency"`
	CheckedOutAt time.Time       `json:"checked_out_at"`
}

// NoShowPenaltyRequestedEvent asks billing to charge the no-show penalty.
type NoShowPenaltyRequestedEvent struct {
	BookingID  uuid.UUID       `json:"booking_id"`
	HotelID    uuid.UUID       `json:"hotel_id"`
	FirstNight decimal.Decimal `json:"first_night"`
	Currency   string          `json:"currency"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// RoomStatusUpdateEvent tells housekeeping the booked rooms changed occupancy.
type RoomStatusUpdateEvent struct {
	BookingID uuid.UUID   `json:"booking_id"`
	HotelID   uuid.UUID   `json:"hotel_id"`
	RoomIDs   []uuid.UUID `json:"room_ids,omitempty"`
	Status    string      `json:"status"`
}

// PostCheckoutAutomationEvent triggers feedback and follow-up flows.
type PostCheckoutAutomationEvent struct {
	BookingID    uuid.UUID `json:"booking_id"`
	HotelID      uuid.UUID `json:"hotel_id"`
	GuestEmail   string    `json:"guest_email,omitempty"`
	CheckedOutAt time.Time `json:"checked_out_at"`
}

// SyncDeadLetterEvent alerts operators that a channel push exhausted its retries.
type SyncDeadLetterEvent struct {
	HotelID       uuid.UUID `json:"hotel_id"`
	ChannelID     uuid.UUID `json:"channel_id"`
	Channel       string    `json:"channel"`
	RoomTypeID    uuid.UUID `json:"room_type_id"`
	From          time.Time `json:"from"`
	To            time.Time `json:"to"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error"`
	CorrelationID string    `json:"correlation_id"`
}

// ParityBreach is one channel outside the allowed variance.
type ParityBreach struct {
	ChannelID   uuid.UUID       `json:"channel_id"`
	Rate        decimal.Decimal `json:"rate"`
	VariancePct float64         `json:"variance_pct"`
}

// RateParityViolationEvent alerts revenue managers about parity breaches.
type RateParityViolationEvent struct {
	HotelID    uuid.UUID       `json:"hotel_id"`
	RoomTypeID uuid.UUID       `json:"room_type_id"`
	Date       time.Time       `json:"date"`
	BaseRate   decimal.Decimal `json:"base_rate"`
	Breaches   []ParityBreach  `json:"breaches"`
}

// ReservationRejectedEvent reports an inbound reservation refused for inventory.
type ReservationRejectedEvent struct {
	HotelID          uuid.UUID `json:"hotel_id"`
	Source           string    `json:"source"`
	ChannelBookingID string    `json:"channel_booking_id"`
	Reason           string    `json:"reason"`
	CorrelationID    string    `json:"correlation_id"`
}

// ReconciliationRequiredEvent flags a ledger row that breached its capacity invariant.
type ReconciliationRequiredEvent struct {
	HotelID       uuid.UUID `json:"hotel_id"`
	RoomTypeID    uuid.UUID `json:"room_type_id"`
	Date          time.Time `json:"date"`
	TotalRooms    int       `json:"total_rooms"`
	SoldRooms     int       `json:"sold_rooms"`
	BlockedRooms  int       `json:"blocked_rooms"`
	Allowance     int       `json:"allowance"`
	CorrelationID string    `json:"correlation_id"`
}

// SyncRequestedEvent asks the channel worker to push a span ahead of its tick.
type SyncRequestedEvent struct {
	HotelID     uuid.UUID `json:"hotel_id"`
	RoomTypeID  uuid.UUID `json:"room_type_id"`
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	RequestedBy string    `json:"requested_by,omitempty"`
}
