package enums

// AmendmentType classifies what an OTA amendment asks to change.
type AmendmentType string

const (
	AmendmentDateChange  AmendmentType = "date_change"
	AmendmentRoomChange  AmendmentType = "room_change"
	AmendmentGuestChange AmendmentType = "guest_change"
	AmendmentRateChange  AmendmentType = "rate_change"
	AmendmentOther       AmendmentType = "other"
)

var validAmendmentTypes = values[AmendmentType]{
	AmendmentDateChange,
	AmendmentRoomChange,
	AmendmentGuestChange,
	AmendmentRateChange,
	AmendmentOther,
}

func (v AmendmentType) String() string {
	return string(v)
}

// IsValid reports whether the value is a known AmendmentType.
func (v AmendmentType) IsValid() bool {
	return validAmendmentTypes.has(v)
}

// ParseAmendmentType converts raw input into a AmendmentType.
func ParseAmendmentType(value string) (AmendmentType, error) {
	return validAmendmentTypes.parse(value, "amendment type")
}
