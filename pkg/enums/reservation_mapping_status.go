package enums

type ReservationMappingStatus string

const (
	MappingActive    ReservationMappingStatus = "active"
	MappingModified  ReservationMappingStatus = "modified"
	MappingCancelled ReservationMappingStatus = "cancelled"
)

var validReservationMappingStatuses = values[ReservationMappingStatus]{
	MappingActive,
	MappingModified,
	MappingCancelled,
}

// IsValid reports whether the value is a known ReservationMappingStatus.
func (v ReservationMappingStatus) IsValid() bool {
	return validReservationMappingStatuses.has(v)
}
