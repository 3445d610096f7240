package enums

// PaymentStatus tracks what the guest has paid against a booking.
type PaymentStatus string

const (
	PaymentStatusUnpaid        PaymentStatus = "unpaid"
	PaymentStatusPending       PaymentStatus = "pending"
	PaymentStatusPartiallyPaid PaymentStatus = "partially_paid"
	PaymentStatusPaid          PaymentStatus = "paid"
	PaymentStatusFailed        PaymentStatus = "failed"
	PaymentStatusRefunded      PaymentStatus = "refunded"
)

var validPaymentStatuses = values[PaymentStatus]{
	PaymentStatusUnpaid,
	PaymentStatusPending,
	PaymentStatusPartiallyPaid,
	PaymentStatusPaid,
	PaymentStatusFailed,
	PaymentStatusRefunded,
}

func (v PaymentStatus) String() string { return string(v) }

func (v PaymentStatus) IsValid() bool { return validPaymentStatuses.has(v) }

// PaymentStatusFromChannel maps the guarantee flag channels send on a
// reservation.
func PaymentStatusFromChannel(paid bool) PaymentStatus {
	if paid {
		return PaymentStatusPaid
	}
	return PaymentStatusUnpaid
}

func ParsePaymentStatus(value string) (PaymentStatus, error) {
	return validPaymentStatuses.parse(value, "payment status")
}
