package reservations

import (
	"github.com/google/uuid"
)

// Action is what the handler did with an inbound reservation.
type Action string

const (
	ActionCreated   Action = "created"
	ActionAmended   Action = "amended"
	ActionCancelled Action = "cancelled"
	ActionDuplicate Action = "duplicate"
	ActionRejected  Action = "rejected"
	ActionIgnored   Action = "ignored"
)

// Reason codes sent back with a negative acknowledgement.
const (
	ReasonRejectedByInventory = "rejected_by_inventory"
	ReasonMappingMissing      = "mapping_missing"
	ReasonUnknownChannel      = "unknown_channel"
	ReasonInvalid             = "invalid_reservation"
	ReasonNotAmendable        = "not_amendable"
)

// Outcome is the acknowledgement returned to the channel.
type Outcome struct {
	Ack       bool       `json:"ack"`
	Action    Action     `json:"action"`
	BookingID *uuid.UUID `json:"bookingId,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	// Overbooked is set when the reservation only fit by using the allowance.
	Overbooked bool `json:"overbooked,omitempty"`
}

func ack(action Action, bookingID uuid.UUID) Outcome {
	id := bookingID
	return Outcome{Ack: true, Action: action, BookingID: &id}
}

func nack(reason string) Outcome {
	return Outcome{Ack: false, Action: ActionRejected, Reason: reason}
}
