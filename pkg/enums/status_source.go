package enums

// StatusSource attributes a status change or ledger write to its origin.
type StatusSource string

const (
	SourceDirect StatusSource = "direct"
	SourceOTA    StatusSource = "ota"
	SourceAdmin  StatusSource = "admin"
	SourceGuest  StatusSource = "guest"
	SourceSystem StatusSource = "system"
)

var validStatusSources = values[StatusSource]{
	SourceDirect,
	SourceOTA,
	SourceAdmin,
	SourceGuest,
	SourceSystem,
}

func (v StatusSource) String() string {
	return string(v)
}

// IsValid reports whether the value is a known StatusSource.
func (v StatusSource) IsValid() bool {
	return validStatusSources.has(v)
}

// ParseStatusSource converts raw input into a StatusSource.
func ParseStatusSource(value string) (StatusSource, error) {
	return validStatusSources.parse(value, "status source")
}
