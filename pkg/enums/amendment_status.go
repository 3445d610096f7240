package enums

type AmendmentStatus string

const (
	AmendmentPending           AmendmentStatus = "pending"
	AmendmentApproved          AmendmentStatus = "approved"
	AmendmentPartiallyApproved AmendmentStatus = "partially_approved"
	AmendmentRejected          AmendmentStatus = "rejected"
)

var validAmendmentStatuses = values[AmendmentStatus]{
	AmendmentPending,
	AmendmentApproved,
	AmendmentPartiallyApproved,
	AmendmentRejected,
}

func (v AmendmentStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known AmendmentStatus.
func (v AmendmentStatus) IsValid() bool {
	return validAmendmentStatuses.has(v)
}

// ParseAmendmentStatus converts raw input into a AmendmentStatus.
func ParseAmendmentStatus(value string) (AmendmentStatus, error) {
	return validAmendmentStatuses.parse(value, "amendment status")
}
