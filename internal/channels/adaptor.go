package channels

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	"github.com/angelmondragon/channelcore-backend/pkg/types"
)

// Credentials is the decrypted secret material of one channel connection.
type Credentials struct {
	Username   string            `json:"username,omitempty"`
	Password   string            `json:"password,omitempty"`
	APIKey     string            `json:"apiKey,omitempty"`
	PropertyID string            `json:"propertyId,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Connection is what an adaptor needs to talk to its channel.
type Connection struct {
	ChannelID   uuid.UUID
	HotelID     uuid.UUID
	Code        string
	Category    enums.ChannelCategory
	Settings    models.ChannelSettings
	Credentials Credentials
}

// Record is one canonical (room type, date) update pushed to a channel.
type Record struct {
	Date              time.Time          `json:"date"`
	RoomTypeID        uuid.UUID          `json:"roomTypeId"`
	ChannelRoomTypeID string             `json:"channelRoomTypeId"`
	RatePlanCode      string             `json:"ratePlanCode,omitempty"`
	Availability      int                `json:"availability"`
	Rate              decimal.Decimal    `json:"rate"`
	Currency          string             `json:"currency"`
	Restrictions      types.Restrictions `json:"restrictions"`
}

// ResultKind classifies a push outcome.
type ResultKind string

const (
	ResultOK      ResultKind = "ok"
	ResultPartial ResultKind = "partial_error"
	ResultFailed  ResultKind = "failed"
)

// FailureKind says why a push failed outright.
type FailureKind string

const (
	FailureTimeout     FailureKind = "timeout"
	FailureAuth        FailureKind = "auth"
	FailureRateLimited FailureKind = "rate_limited"
	FailureUnavailable FailureKind = "unavailable"
	FailureRejected    FailureKind = "rejected"
	FailureProtocol    FailureKind = "protocol"
)

// RecordError is a channel's refusal of one record.
type RecordError struct {
	Index   int    `json:"index"`
	Date    string `json:"date,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Result is the outcome of PushUpdates.
type Result struct {
	Kind      ResultKind    `json:"kind"`
	Attempted int           `json:"attempted"`
	Accepted  int           `json:"accepted"`
	Errors    []RecordError `json:"errors,omitempty"`
	Failure   FailureKind   `json:"failure,omitempty"`
	Message   string        `json:"message,omitempty"`
	// ReportedRates are the rates the channel says it now publishes, keyed by day.
	ReportedRates map[string]decimal.Decimal `json:"reportedRates,omitempty"`
}

// OK reports whether every record was accepted.
func (r Result) OK() bool {
	return r.Kind == ResultOK
}

// Ok builds a fully accepted result.
func Ok(attempted int, reported map[string]decimal.Decimal) Result {
	return Result{Kind: ResultOK, Attempted: attempted, Accepted: attempted, ReportedRates: reported}
}

// Partial builds a result where some records were refused.
func Partial(attempted int, errs []RecordError, reported map[string]decimal.Decimal) Result {
	if len(errs) == 0 {
		return Ok(attempted, reported)
	}
	accepted := attempted - len(errs)
	if accepted <= 0 {
		return Result{Kind: ResultFailed, Attempted: attempted, Errors: errs, Failure: FailureRejected, Message: errs[0].Message}
	}
	return Result{Kind: ResultPartial, Attempted: attempted, Accepted: accepted, Errors: errs, ReportedRates: reported}
}

// Failed builds a result for a push that did not land at all.
func Failed(attempted int, kind FailureKind, err error) Result {
	msg := string(kind)
	if err != nil {
		msg = err.Error()
	}
	return Result{Kind: ResultFailed, Attempted: attempted, Failure: kind, Message: msg}
}

// FailureOf classifies a transport error.
func FailureOf(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	return FailureUnavailable
}

// FailureForStatus maps an HTTP status code onto a failure kind.
func FailureForStatus(status int) FailureKind {
	switch {
	case status == 401 || status == 403:
		return FailureAuth
	case status == 408 || status == 504:
		return FailureTimeout
	case status == 429:
		return FailureRateLimited
	case status >= 500:
		return FailureUnavailable
	default:
		return FailureRejected
	}
}

// ReservationKind distinguishes inbound reservation messages.
type ReservationKind string

const (
	ReservationNew    ReservationKind = "new"
	ReservationModify ReservationKind = "modify"
	ReservationCancel ReservationKind = "cancel"
)

// Reservation is an inbound channel reservation in canonical form.
type Reservation struct {
	Kind              ReservationKind `json:"kind"`
	Source            string          `json:"source"`
	ChannelID         uuid.UUID       `json:"channelId"`
	HotelID           uuid.UUID       `json:"hotelId"`
	ChannelBookingID  string          `json:"channelBookingId"`
	ChannelRoomTypeID string          `json:"channelRoomTypeId"`
	CheckIn           time.Time       `json:"checkIn"`
	CheckOut          time.Time       `json:"checkOut"`
	Rooms             int             `json:"rooms"`
	GuestName         string          `json:"guestName"`
	GuestEmail        string          `json:"guestEmail,omitempty"`
	Adults            int             `json:"adults"`
	Children          int             `json:"children"`
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	Currency          string          `json:"currency"`
	Paid              bool            `json:"paid"`
	ReceivedAt        time.Time       `json:"receivedAt"`
	Raw               json.RawMessage `json:"raw,omitempty"`
}

// EndpointStatus is a reachability probe result.
type EndpointStatus struct {
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// Adaptor translates between one channel's wire format and the canonical form.
type Adaptor interface {
	Category() enums.ChannelCategory
	TestConnection(ctx context.Context, conn Connection) error
	PushUpdates(ctx context.Context, conn Connection, records []Record) Result
	PullReservations(ctx context.Context, conn Connection, since time.Time) ([]Reservation, error)
	TestEndpoint(ctx context.Context, conn Connection) EndpointStatus
}
