package enums

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateBooking          OutboxAggregateType = "booking"
	AggregateAvailability     OutboxAggregateType = "availability"
	AggregateChannel          OutboxAggregateType = "channel"
	AggregateReservationInbox OutboxAggregateType = "reservation_inbox"
)

var validAggregateTypes = values[OutboxAggregateType]{
	AggregateBooking,
	AggregateAvailability,
	AggregateChannel,
	AggregateReservationInbox,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	return validAggregateTypes.has(a)
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return validAggregateTypes.parse(value, "aggregate type")
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventBookingStatusChanged     OutboxEventType = "booking_status_changed"
	EventBookingAmendmentReceived OutboxEventType = "booking_amendment_received"
	EventRefundRequested          OutboxEventType = "refund_requested"
	EventFinalBillingRequested    OutboxEventType = "final_billing_requested"
	EventNoShowPenaltyRequested   OutboxEventType = "no_show_penalty_requested"
	EventRoomStatusUpdate         OutboxEventType = "room_status_update"
	EventPostCheckoutAutomation   OutboxEventType = "post_checkout_automation"
	EventSyncDeadLetter           OutboxEventType = "sync_dead_letter"
	EventRateParityViolation      OutboxEventType = "rate_parity_violation"
	EventReservationRejected      OutboxEventType = "reservation_rejected"
	EventReconciliationRequired   OutboxEventType = "reconciliation_required"
	EventSyncRequested            OutboxEventType = "sync_requested"
)

var validOutboxEventTypes = values[OutboxEventType]{
	EventBookingStatusChanged,
	EventBookingAmendmentReceived,
	EventRefundRequested,
	EventFinalBillingRequested,
	EventNoShowPenaltyRequested,
	EventRoomStatusUpdate,
	EventPostCheckoutAutomation,
	EventSyncDeadLetter,
	EventRateParityViolation,
	EventReservationRejected,
	EventReconciliationRequired,
	EventSyncRequested,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	return validOutboxEventTypes.has(e)
}

// IsAlert reports whether the event is routed to the operator alerts topic.
func (e OutboxEventType) IsAlert() bool {
	switch e {
	case EventSyncDeadLetter, EventRateParityViolation, EventReconciliationRequired:
		return true
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return validOutboxEventTypes.parse(value, "event type")
}
