package enums

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingStatusPending    BookingStatus = "pending"
	BookingStatusConfirmed  BookingStatus = "confirmed"
	BookingStatusModified   BookingStatus = "modified"
	BookingStatusCheckedIn  BookingStatus = "checked_in"
	BookingStatusCheckedOut BookingStatus = "checked_out"
	BookingStatusCancelled  BookingStatus = "cancelled"
	BookingStatusNoShow     BookingStatus = "no_show"
)

var validBookingStatuses = values[BookingStatus]{
	BookingStatusPending,
	BookingStatusConfirmed,
	BookingStatusModified,
	BookingStatusCheckedIn,
	BookingStatusCheckedOut,
	BookingStatusCancelled,
	BookingStatusNoShow,
}

func (v BookingStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known BookingStatus.
func (v BookingStatus) IsValid() bool {
	return validBookingStatuses.has(v)
}

// ParseBookingStatus converts raw input into a BookingStatus.
func ParseBookingStatus(value string) (BookingStatus, error) {
	return validBookingStatuses.parse(value, "booking status")
}

// IsTerminal reports whether no further transitions are possible.
func (v BookingStatus) IsTerminal() bool {
	return v == BookingStatusCheckedOut || v == BookingStatusCancelled
}
