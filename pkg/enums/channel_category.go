package enums

// ChannelCategory names the OTA family an adaptor speaks to.
type ChannelCategory string

const (
	ChannelBookingCom  ChannelCategory = "booking_com"
	ChannelExpedia     ChannelCategory = "expedia"
	ChannelAirbnb      ChannelCategory = "airbnb"
	ChannelAgoda       ChannelCategory = "agoda"
	ChannelTripAdvisor ChannelCategory = "tripadvisor"
	ChannelSimulator   ChannelCategory = "simulator"
)

var validChannelCategories = values[ChannelCategory]{
	ChannelBookingCom,
	ChannelExpedia,
	ChannelAirbnb,
	ChannelAgoda,
	ChannelTripAdvisor,
	ChannelSimulator,
}

func (v ChannelCategory) String() string {
	return string(v)
}

// IsValid reports whether the value is a known ChannelCategory.
func (v ChannelCategory) IsValid() bool {
	return validChannelCategories.has(v)
}

// ParseChannelCategory converts raw input into a ChannelCategory.
func ParseChannelCategory(value string) (ChannelCategory, error) {
	return validChannelCategories.parse(value, "channel category")
}
