package main

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	"github.com/angelmondragon/channelcore-backend/pkg/outbox/payloads"
)

type alertSeverity string

const (
	severityWarning  alertSeverity = "warning"
	severityCritical alertSeverity = "critical"
)

// severityOf ranks operator alerts. A dead-lettered sync leaves a channel
// showing stale availability and a reconciliation means the ledger broke its
// capacity invariant; parity breaches only cost revenue.
func severityOf(eventType enums.OutboxEventType) alertSeverity {
	switch eventType {
	case enums.EventSyncDeadLetter, enums.EventReconciliationRequired:
		return severityCritical
	case enums.EventRateParityViolation:
		return severityWarning
	}
	return ""
}

// lossIsCritical marks events whose loss needs a human: alerts nobody will
// see and billing requests nobody will charge.
func lossIsCritical(eventType enums.OutboxEventType) bool {
	if eventType.IsAlert() {
		return true
	}
	switch eventType {
	case enums.EventRefundRequested, enums.EventFinalBillingRequested, enums.EventNoShowPenaltyRequested:
		return true
	}
	return false
}

// scope is the hotel, channel and room type an event is about, pulled from
// its decoded payload so subscriptions can filter on attributes.
type scope struct {
	hotelID    uuid.UUID
	channelID  uuid.UUID
	channel    string
	roomTypeID uuid.UUID
}

func scopeOf(payload any) scope {
	switch p := payload.(type) {
	case *payloads.BookingStatusChangedEvent:
		return scope{hotelID: p.HotelID}
	case *payloads.BookingAmendmentReceivedEvent:
		return scope{hotelID: p.HotelID, channel: p.Channel}
	case *payloads.RefundRequestedEvent:
		return scope{hotelID: p.HotelID}
	case *payloads.FinalBillingRequestedEvent:
		return scope{hotelID: p.HotelID}
	case *payloads.NoShowPenaltyRequestedEvent:
		return scope{hotelID: p.HotelID}
	case *payloads.RoomStatusUpdateEvent:
		return scope{hotelID: p.HotelID}
	case *payloads.PostCheckoutAutomationEvent:
		return scope{hotelID: p.HotelID}
	case *payloads.ReservationRejectedEvent:
		return scope{hotelID: p.HotelID, channel: p.Source}
	case *payloads.SyncDeadLetterEvent:
		return scope{hotelID: p.HotelID, channelID: p.ChannelID, channel: p.Channel, roomTypeID: p.RoomTypeID}
	case *payloads.RateParityViolationEvent:
		return scope{hotelID: p.HotelID, roomTypeID: p.RoomTypeID}
	case *payloads.ReconciliationRequiredEvent:
		return scope{hotelID: p.HotelID, roomTypeID: p.RoomTypeID}
	case *payloads.SyncRequestedEvent:
		return scope{hotelID: p.HotelID, roomTypeID: p.RoomTypeID}
	}
	return scope{}
}

func (s scope) attributes(attrs map[string]string) {
	if s.hotelID != uuid.Nil {
		attrs["hotel_id"] = s.hotelID.String()
	}
	if s.channelID != uuid.Nil {
		attrs["channel_id"] = s.channelID.String()
	}
	if s.channel != "" {
		attrs["channel"] = s.channel
	}
	if s.roomTypeID != uuid.Nil {
		attrs["room_type_id"] = s.roomTypeID.String()
	}
}

// orderingKey keeps booking events in booking order. Availability events are
// ordered per hotel room type and sync dead letters per channel room type, so
// an older parity or reconciliation alert never lands after a newer one.
func orderingKey(event models.OutboxEvent, sc scope) string {
	if event.AggregateType == enums.AggregateBooking || sc.roomTypeID == uuid.Nil {
		return event.AggregateID.String()
	}
	if sc.channelID != uuid.Nil {
		return sc.channelID.String() + ":" + sc.roomTypeID.String()
	}
	if sc.hotelID != uuid.Nil {
		return sc.hotelID.String() + ":" + sc.roomTypeID.String()
	}
	return event.AggregateID.String()
}
