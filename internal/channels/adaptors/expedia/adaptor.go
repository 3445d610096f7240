// Package expedia talks to an EQC-style JSON availability and reservation API.
package expedia

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/channelcore-backend/internal/channels"
	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelcore-backend/pkg/errors"
	"github.com/angelmondragon/channelcore-backend/pkg/otahttp"
	"github.com/angelmondragon/channelcore-backend/pkg/types"
)

const (
	defaultEndpoint = "https://services.expediapartnercentral.com/eqc/v1"
	apiKeyHeader    = "X-Api-Key"
	jsonContentType = "application/json"
)

type Adaptor struct {
	httpClient *http.Client
	now        func() time.Time
}

type Option func(*Adaptor)

// WithHTTPClient overrides the transport used for every partner call.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Adaptor) {
		if client != nil {
			a.httpClient = client
		}
	}
}

func New(opts ...Option) *Adaptor {
	a := &Adaptor{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

func (a *Adaptor) Category() enums.ChannelCategory {
	return enums.ChannelExpedia
}

type updateRequest struct {
	PropertyID string       `json:"propertyId"`
	Updates    []roomUpdate `json:"updates"`
}

type roomUpdate struct {
	RoomTypeID        string  `json:"roomTypeId"`
	RatePlanID        string  `json:"ratePlanId,omitempty"`
	Date              string  `json:"date"`
	TotalInventory    *int    `json:"totalInventoryAvailable,omitempty"`
	Rate              *string `json:"rate,omitempty"`
	Currency          string  `json:"currency,omitempty"`
	Closed            *bool   `json:"closed,omitempty"`
	ClosedToArrival   *bool   `json:"closedToArrival,omitempty"`
	ClosedToDeparture *bool   `json:"closedToDeparture,omitempty"`
	MinLOS            *int    `json:"minLOS,omitempty"`
	MaxLOS            *int    `json:"maxLOS,omitempty"`
}

type updateResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Index   int    `json:"index"`
		Status  string `json:"status"`
		Code    string `json:"code"`
		Message string `json:"message"`
		// PublishedRate is the sell rate Expedia reports after its own rules.
		PublishedRate *string `json:"publishedRate"`
	} `json:"results"`
}

type reservationList struct {
	Reservations []reservation `json:"reservations"`
}

type reservation struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RoomTypeID  string `json:"roomTypeId"`
	CheckIn     string `json:"checkIn"`
	CheckOut    string `json:"checkOut"`
	Rooms       int    `json:"rooms"`
	Adults      int    `json:"adults"`
	Children    int    `json:"children"`
	TotalAmount string `json:"totalAmount"`
	Currency    string `json:"currency"`
	PaymentType string `json:"paymentType"`
	CreatedAt   string `json:"createdAt"`
	Guest       struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Email     string `json:"email"`
	} `json:"primaryGuest"`
}

func (a *Adaptor) TestConnection(ctx context.Context, conn channels.Connection) error {
	client, err := a.client(conn)
	if err != nil {
		return err
	}
	_, err = client.Do(ctx, otahttp.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("properties/%s", conn.Credentials.PropertyID),
		Accept: jsonContentType,
	})
	return err
}

func (a *Adaptor) TestEndpoint(ctx context.Context, conn channels.Connection) channels.EndpointStatus {
	start := a.now()
	err := a.TestConnection(ctx, conn)
	status := channels.EndpointStatus{OK: err == nil, LatencyMs: a.now().Sub(start).Milliseconds()}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}

// PushUpdates sends all records in one batch; the response reports a status
// per record index.
func (a *Adaptor) PushUpdates(ctx context.Context, conn channels.Connection, records []channels.Record) channels.Result {
	if len(records) == 0 {
		return channels.Ok(0, nil)
	}
	client, err := a.client(conn)
	if err != nil {
		return channels.Failed(len(records), channels.FailureAuth, err)
	}

	rq := updateRequest{PropertyID: conn.Credentials.PropertyID, Updates: make([]roomUpdate, 0, len(records))}
	for _, rec := range records {
		rq.Updates = append(rq.Updates, toUpdate(rec, conn.Settings))
	}
	body, err := json.Marshal(rq)
	if err != nil {
		return channels.Failed(len(records), channels.FailureProtocol, err)
	}
	resp, err := client.Do(ctx, otahttp.Request{
		Method:      http.MethodPost,
		Path:        "availability",
		ContentType: jsonContentType,
		Accept:      jsonContentType,
		Body:        body,
	})
	if err != nil {
		if status := otahttp.StatusOf(err); status != 0 {
			return channels.Failed(len(records), channels.FailureForStatus(status), err)
		}
		return channels.Failed(len(records), channels.FailureOf(err), err)
	}

	var out updateResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return channels.Failed(len(records), channels.FailureProtocol, pkgerrors.Wrap(pkgerrors.CodeAdaptor, err, "decode expedia response"))
	}

	var errs []channels.RecordError
	reported := make(map[string]decimal.Decimal)
	refused := make(map[int]bool)
	for _, r := range out.Results {
		if r.Index < 0 || r.Index >= len(records) {
			continue
		}
		day := types.FormatDay(records[r.Index].Date)
		if !strings.EqualFold(r.Status, "success") {
			if !refused[r.Index] {
				refused[r.Index] = true
				errs = append(errs, channels.RecordError{Index: r.Index, Date: day, Code: r.Code, Message: r.Message})
			}
			continue
		}
		if r.PublishedRate != nil {
			if v, err := decimal.NewFromString(*r.PublishedRate); err == nil {
				reported[day] = v
			}
		}
	}
	if conn.Settings.EnableRateSync {
		for i, rec := range records {
			day := types.FormatDay(rec.Date)
			if _, ok := reported[day]; !ok && !refused[i] {
				reported[day] = rec.Rate
			}
		}
	}
	return channels.Partial(len(records), errs, reported)
}

func (a *Adaptor) PullReservations(ctx context.Context, conn channels.Connection, since time.Time) ([]channels.Reservation, error) {
	client, err := a.client(conn)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(ctx, otahttp.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("properties/%s/reservations", conn.Credentials.PropertyID),
		Query:  map[string]string{"since": since.UTC().Format(time.RFC3339)},
		Accept: jsonContentType,
	})
	if err != nil {
		return nil, err
	}
	var list reservationList
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeAdaptor, err, "decode expedia reservations")
	}

	out := make([]channels.Reservation, 0, len(list.Reservations))
	for _, r := range list.Reservations {
		res, err := a.toReservation(conn, r)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (a *Adaptor) toReservation(conn channels.Connection, r reservation) (channels.Reservation, error) {
	checkIn, err := types.ParseDay(r.CheckIn)
	if err != nil {
		return channels.Reservation{}, pkgerrors.Wrap(pkgerrors.CodeAdaptor, err, "parse expedia check-in")
	}
	checkOut, err := types.ParseDay(r.CheckOut)
	if err != nil {
		return channels.Reservation{}, pkgerrors.Wrap(pkgerrors.CodeAdaptor, err, "parse expedia check-out")
	}
	total := decimal.Zero
	if r.TotalAmount != "" {
		if total, err = decimal.NewFromString(r.TotalAmount); err != nil {
			return channels.Reservation{}, pkgerrors.Wrap(pkgerrors.CodeAdaptor, err, "parse expedia total")
		}
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return channels.Reservation{}, err
	}
	res := channels.Reservation{
		Kind:              kindOf(r.Status),
		Source:            string(enums.ChannelExpedia),
		ChannelID:         conn.ChannelID,
		HotelID:           conn.HotelID,
		ChannelBookingID:  r.ID,
		ChannelRoomTypeID: r.RoomTypeID,
		CheckIn:           checkIn,
		CheckOut:          checkOut,
		Rooms:             r.Rooms,
		GuestName:         strings.TrimSpace(r.Guest.FirstName + " " + r.Guest.LastName),
		GuestEmail:        r.Guest.Email,
		Adults:            r.Adults,
		Children:          r.Children,
		TotalAmount:       total,
		Currency:          strings.ToUpper(r.Currency),
		// Expedia Collect reservations are prepaid to the channel.
		Paid:       strings.EqualFold(r.PaymentType, "expedia_collect"),
		ReceivedAt: a.now().UTC(),
		Raw:        raw,
	}
	if res.Rooms <= 0 {
		res.Rooms = 1
	}
	if created, err := time.Parse(time.RFC3339, r.CreatedAt); err == nil {
		res.ReceivedAt = created.UTC()
	}
	return res, nil
}

func (a *Adaptor) client(conn channels.Connection) (*otahttp.Client, error) {
	creds := conn.Credentials
	if creds.APIKey == "" || creds.PropertyID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeAdaptor, "expedia credentials need api key and property id")
	}
	endpoint := conn.Settings.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	opts := []otahttp.Option{otahttp.WithHeaderAuth(apiKeyHeader, creds.APIKey)}
	if a.httpClient != nil {
		opts = append(opts, otahttp.WithHTTPClient(a.httpClient))
	}
	return otahttp.NewClient(endpoint, opts...)
}

func toUpdate(rec channels.Record, settings models.ChannelSettings) roomUpdate {
	u := roomUpdate{
		RoomTypeID: rec.ChannelRoomTypeID,
		RatePlanID: rec.RatePlanCode,
		Date:       types.FormatDay(rec.Date),
	}
	if settings.EnableInventorySync {
		u.TotalInventory = types.IntPtr(rec.Availability)
	}
	if settings.EnableRateSync {
		rate := rec.Rate.StringFixed(2)
		u.Rate = &rate
		u.Currency = rec.Currency
	}
	if settings.EnableRestrictionSync {
		r := rec.Restrictions
		u.Closed = &r.StopSell
		u.ClosedToArrival = &r.ClosedToArrival
		u.ClosedToDeparture = &r.ClosedToDeparture
		u.MinLOS = r.MinLOS
		u.MaxLOS = r.MaxLOS
	}
	return u
}

func kindOf(status string) channels.ReservationKind {
	switch strings.ToLower(status) {
	case "modified", "amended":
		return channels.ReservationModify
	case "cancelled", "canceled":
		return channels.ReservationCancel
	default:
		return channels.ReservationNew
	}
}
