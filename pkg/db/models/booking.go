package models

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/channelcore-backend/pkg/enums"
)

// BookedRoom is one room line on a booking.
type BookedRoom struct {
	RoomID     *uuid.UUID      `json:"roomId,omitempty"`
	RoomTypeID uuid.UUID       `json:"roomTypeId"`
	Rate       decimal.Decimal `json:"rate"`
}

// StatusHistoryEntry is an append-only record of one validated transition.
type StatusHistoryEntry struct {
	From      enums.BookingStatus `json:"from"`
	To        enums.BookingStatus `json:"to"`
	At        time.Time           `json:"at"`
	Source    enums.StatusSource  `json:"source"`
	UserID    *uuid.UUID          `json:"userId,omitempty"`
	Reason    string              `json:"reason,omitempty"`
	Automatic bool                `json:"automatic"`
	Validated bool                `json:"validated"`
}

// StayChanges is the set of fields an amendment may touch.
type StayChanges struct {
	CheckIn     *time.Time       `json:"checkIn,omitempty"`
	CheckOut    *time.Time       `json:"checkOut,omitempty"`
	RoomTypeID  *uuid.UUID       `json:"roomTypeId,omitempty"`
	RoomCount   *int             `json:"roomCount,omitempty"`
	GuestName   *string          `json:"guestName,omitempty"`
	GuestEmail  *string          `json:"guestEmail,omitempty"`
	Adults      *int             `json:"adults,omitempty"`
	Children    *int             `json:"children,omitempty"`
	TotalAmount *decimal.Decimal `json:"totalAmount,omitempty"`
}

// Modification captures pre/post values of an applied change.
type Modification struct {
	ID          uuid.UUID   `json:"id"`
	Type        string      `json:"type"`
	AmendmentID *uuid.UUID  `json:"amendmentId,omitempty"`
	Before      StayChanges `json:"before"`
	After       StayChanges `json:"after"`
	At          time.Time   `json:"at"`
	By          string      `json:"by,omitempty"`
}

// OTAAmendment is a channel-initiated change awaiting resolution.
type OTAAmendment struct {
	ID               uuid.UUID             `json:"id"`
	Type             enums.AmendmentType   `json:"type"`
	Channel          string                `json:"channel"`
	RequestedChanges StayChanges           `json:"requestedChanges"`
	ApprovedChanges  *StayChanges          `json:"approvedChanges,omitempty"`
	Status           enums.AmendmentStatus `json:"status"`
	ReceivedAt       time.Time             `json:"receivedAt"`
	ResolvedAt       *time.Time            `json:"resolvedAt,omitempty"`
	ResolvedBy       string                `json:"resolvedBy,omitempty"`
	RejectionReason  string                `json:"rejectionReason,omitempty"`
}

// ChannelSyncEntry is the last push outcome of a booking to one channel.
type ChannelSyncEntry struct {
	ChannelID uuid.UUID `json:"channelId"`
	Status    string    `json:"status"`
	At        time.Time `json:"at"`
	Error     string    `json:"error,omitempty"`
}

// AmendmentFlags summarise the amendment state for indexed queries.
type AmendmentFlags struct {
	HasActivePendingAmendments bool       `gorm:"column:has_active_pending_amendments;not null;default:false;index:idx_bookings_pending_amendments,priority:1"`
	AmendmentCount             int        `gorm:"column:amendment_count;not null;default:0"`
	LastAmendmentDate          *time.Time `gorm:"column:last_amendment_date"`
	RequiresReconfirmation     bool       `gorm:"column:requires_reconfirmation;not null;default:false"`
}

// Booking is a stay reservation and its lifecycle state.
type Booking struct {
	ID                 uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	HotelID            uuid.UUID            `gorm:"column:hotel_id;type:uuid;not null;index"`
	UserID             *uuid.UUID           `gorm:"column:user_id;type:uuid"`
	RoomTypeID         uuid.UUID            `gorm:"column:room_type_id;type:uuid;not null"`
	RoomCount          int                  `gorm:"column:room_count;not null;default:1"`
	Rooms              []BookedRoom         `gorm:"column:rooms;type:jsonb;serializer:json"`
	CheckIn            time.Time            `gorm:"column:check_in;type:date;not null"`
	CheckOut           time.Time            `gorm:"column:check_out;type:date;not null"`
	Nights             int                  `gorm:"column:nights;not null"`
	TotalAmount        decimal.Decimal      `gorm:"column:total_amount;type:numeric(12,2);not null"`
	Currency           string               `gorm:"column:currency;not null;default:'USD'"`
	Status             enums.BookingStatus  `gorm:"column:status;type:text;not null;index:idx_bookings_status_reserved_until,priority:1;index:idx_bookings_pending_amendments,priority:2"`
	PaymentStatus      enums.PaymentStatus  `gorm:"column:payment_status;type:text;not null;default:'unpaid'"`
	StatusHistory      []StatusHistoryEntry `gorm:"column:status_history;type:jsonb;serializer:json"`
	Modifications      []Modification       `gorm:"column:modifications;type:jsonb;serializer:json"`
	OTAAmendments      []OTAAmendment       `gorm:"column:ota_amendments;type:jsonb;serializer:json"`
	AmendmentFlags     AmendmentFlags       `gorm:"embedded"`
	Source             string               `gorm:"column:source;not null;uniqueIndex:ux_bookings_source_channel_booking,priority:1"`
	ChannelID          *uuid.UUID           `gorm:"column:channel_id;type:uuid"`
	ChannelBookingID   *string              `gorm:"column:channel_booking_id;uniqueIndex:ux_bookings_source_channel_booking,priority:2"`
	NeedsSync          bool                 `gorm:"column:needs_sync;not null;default:false;index"`
	ChannelSync        []ChannelSyncEntry   `gorm:"column:channel_sync;type:jsonb;serializer:json"`
	ReservedUntil      *time.Time           `gorm:"column:reserved_until;index:idx_bookings_status_reserved_until,priority:2"`
	GuestName          string               `gorm:"column:guest_name"`
	GuestEmail         string               `gorm:"column:guest_email"`
	Adults             int                  `gorm:"column:adults;not null;default:1"`
	Children           int                  `gorm:"column:children;not null;default:0"`
	ActualCheckIn      *time.Time           `gorm:"column:actual_check_in"`
	ActualCheckOut     *time.Time           `gorm:"column:actual_check_out"`
	NoShowRecordedAt   *time.Time           `gorm:"column:no_show_recorded_at"`
	LastStatusChange   *time.Time           `gorm:"column:last_status_change"`
	AutomationOptOut   bool                 `gorm:"column:automation_opt_out;not null;default:false"`
	CancellationReason *string              `gorm:"column:cancellation_reason"`
	RawBookingPayload  json.RawMessage      `gorm:"column:raw_booking_payload;type:jsonb"`
	Version            int                  `gorm:"column:version;not null;default:1"`
	CreatedAt          time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

// PendingAmendments returns the amendments still awaiting resolution, in receipt order.
func (b Booking) PendingAmendments() []OTAAmendment {
	var out []OTAAmendment
	for _, a := range b.OTAAmendments {
		if a.Status == enums.AmendmentPending {
			out = append(out, a)
		}
	}
	return out
}

// IsEmpty reports whether no field is set.
func (c StayChanges) IsEmpty() bool {
	return len(c.fields()) == 0
}

// SubsetOf reports whether every field set on c is also requested, with the
// same value, by other.
func (c StayChanges) SubsetOf(other StayChanges) bool {
	mine, theirs := c.fields(), other.fields()
	for name, v := range mine {
		ov, ok := theirs[name]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// ConflictsWith reports whether both sides set a field to different values.
func (c StayChanges) ConflictsWith(other StayChanges) bool {
	mine, theirs := c.fields(), other.fields()
	for name, v := range mine {
		if ov, ok := theirs[name]; ok && ov != v {
			return true
		}
	}
	return false
}

func (c StayChanges) fields() map[string]string {
	out := map[string]string{}
	if c.CheckIn != nil {
		out["checkIn"] = c.CheckIn.UTC().Format("2006-01-02")
	}
	if c.CheckOut != nil {
		out["checkOut"] = c.CheckOut.UTC().Format("2006-01-02")
	}
	if c.RoomTypeID != nil {
		out["roomTypeId"] = c.RoomTypeID.String()
	}
	if c.RoomCount != nil {
		out["roomCount"] = strconv.Itoa(*c.RoomCount)
	}
	if c.GuestName != nil {
		out["guestName"] = *c.GuestName
	}
	if c.GuestEmail != nil {
		out["guestEmail"] = *c.GuestEmail
	}
	if c.Adults != nil {
		out["adults"] = strconv.Itoa(*c.Adults)
	}
	if c.Children != nil {
		out["children"] = strconv.Itoa(*c.Children)
	}
	if c.TotalAmount != nil {
		out["totalAmount"] = c.TotalAmount.StringFixed(2)
	}
	return out
}
