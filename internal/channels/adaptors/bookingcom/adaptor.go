// Package bookingcom speaks the OTA 2003B XML dialect used by Booking.com's
// connectivity API.
package bookingcom

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/channelcore-backend/internal/channels"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelcore-backend/pkg/errors"
	"github.com/angelmondragon/channelcore-backend/pkg/otahttp"
	"github.com/angelmondragon/channelcore-backend/pkg/types"
)

const (
	defaultEndpoint = "https://supply-xml.booking.com/hotels/ota"
	otaVersion      = "1.0"
	xmlContentType  = "text/xml; charset=utf-8"
	pingEcho        = "channelcore"
)

// Adaptor pushes availability, restrictions and rates as OTA notifications.
type Adaptor struct {
	httpClient *http.Client
	now        func() time.Time
}

// Option configures the adaptor.
type Option func(*Adaptor)

// WithHTTPClient overrides the transport used for every partner call.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Adaptor) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// New builds the Booking.com adaptor.
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
	return enums.ChannelBookingCom
}

func (a *Adaptor) TestConnection(ctx context.Context, conn channels.Connection) error {
	client, err := a.client(conn)
	if err != nil {
		return err
	}
	var rs pingRS
	if _, err := a.post(ctx, client, "OTA_Ping", pingRQ{Xmlns: otaNamespace, Version: otaVersion, EchoData: pingEcho}, &rs); err != nil {
		return err
	}
	if len(rs.Errors) > 0 {
		return pkgerrors.New(pkgerrors.CodeAdaptor, "booking.com ping rejected: "+rs.Errors[0].message())
	}
	if rs.Success == nil || rs.EchoData != pingEcho {
		return pkgerrors.New(pkgerrors.CodeAdaptor, "booking.com ping returned unexpected payload")
	}
	return nil
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

// PushUpdates sends one availability notification and one rate notification.
// Per-record warnings reference records by RPH, which is the 1-based index.
func (a *Adaptor) PushUpdates(ctx context.Context, conn channels.Connection, records []channels.Record) channels.Result {
	if len(records) == 0 {
		return channels.Ok(0, nil)
	}
	client, err := a.client(conn)
	if err != nil {
		return channels.Failed(len(records), channels.FailureAuth, err)
	}
	settings := conn.Settings
	propertyID := conn.Credentials.PropertyID
	refused := map[int]channels.RecordError{}

	if settings.EnableInventorySync || settings.EnableRestrictionSync {
		rq := availNotifRQ{Xmlns: otaNamespace, Version: otaVersion, Body: availStatusMessages{HotelCode: propertyID}}
		for _, rec := range records {
			rq.Body.Messages = append(rq.Body.Messages, availMessage(rec, settings.EnableInventorySync, settings.EnableRestrictionSync))
		}
		var rs notifRS
		if kind, err := a.post(ctx, client, "OTA_HotelAvailNotif", rq, &rs); err != nil {
			return channels.Failed(len(records), kind, err)
		}
		if res, failed := collect(rs, records, refused); failed {
			return res
		}
	}

	if settings.EnableRateSync {
		rq := rateAmountNotifRQ{Xmlns: otaNamespace, Version: otaVersion, Body: rateAmountMessages{HotelCode: propertyID}}
		for _, rec := range records {
			rq.Body.Messages = append(rq.Body.Messages, rateMessage(rec))
		}
		var rs notifRS
		if kind, err := a.post(ctx, client, "OTA_HotelRateAmountNotif", rq, &rs); err != nil {
			return channels.Failed(len(records), kind, err)
		}
		if res, failed := collect(rs, records, refused); failed {
			return res
		}
	}

	errs := make([]channels.RecordError, 0, len(refused))
	reported := make(map[string]decimal.Decimal)
	for i, rec := range records {
		if e, ok := refused[i]; ok {
			errs = append(errs, e)
			continue
		}
		if settings.EnableRateSync {
			reported[types.FormatDay(rec.Date)] = rec.Rate
		}
	}
	return channels.Partial(len(records), errs, reported)
}

func (a *Adaptor) PullReservations(ctx context.Context, conn channels.Connection, since time.Time) ([]channels.Reservation, error) {
	client, err := a.client(conn)
	if err != nil {
		return nil, err
	}
	rq := readRQ{Xmlns: otaNamespace, Version: otaVersion}
	rq.Criteria.HotelCode = conn.Credentials.PropertyID
	rq.Criteria.Selection.Start = since.UTC().Format(time.RFC3339)

	var rs resNotif
	if _, err := a.post(ctx, client, "OTA_Read", rq, &rs); err != nil {
		return nil, err
	}
	if len(rs.Errors) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeAdaptor, "booking.com reservation read rejected: "+rs.Errors[0].message())
	}

	out := make([]channels.Reservation, 0, len(rs.Reservations))
	for _, hr := range rs.Reservations {
		res, err := a.toReservation(conn, hr)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (a *Adaptor) toReservation(conn channels.Connection, hr hotelReservation) (channels.Reservation, error) {
	if hr.UniqueID.ID == "" || len(hr.RoomStays) == 0 {
		return channels.Reservation{}, pkgerrors.New(pkgerrors.CodeAdaptor, "booking.com reservation missing id or room stay")
	}
	stay := hr.RoomStays[0]
	checkIn, err := types.ParseDay(stay.TimeSpan.Start)
	if err != nil {
		return channels.Reservation{}, pkgerrors.Wrap(pkgerrors.CodeAdaptor, err, "parse reservation start")
	}
	checkOut, err := types.ParseDay(stay.TimeSpan.End)
	if err != nil {
		return channels.Reservation{}, pkgerrors.Wrap(pkgerrors.CodeAdaptor, err, "parse reservation end")
	}

	res := channels.Reservation{
		Kind:              reservationKind(hr.ResStatus),
		Source:            string(enums.ChannelBookingCom),
		ChannelID:         conn.ChannelID,
		HotelID:           conn.HotelID,
		ChannelBookingID:  hr.UniqueID.ID,
		ChannelRoomTypeID: stay.RoomType.Code,
		CheckIn:           checkIn,
		CheckOut:          checkOut,
		Rooms:             stay.RoomType.NumberOfUnits,
		Currency:          strings.ToUpper(hr.Total.CurrencyCode),
		Paid:              strings.EqualFold(hr.Guarantee.Paid, "paid"),
		ReceivedAt:        a.now().UTC(),
	}
	if res.Rooms <= 0 {
		res.Rooms = 1
	}
	for _, gc := range stay.GuestCounts {
		switch gc.AgeQualifyingCode {
		case "10":
			res.Adults += gc.Count
		case "8":
			res.Children += gc.Count
		}
	}
	if hr.Total.AmountAfterTax != "" {
		amount, err := decimal.NewFromString(hr.Total.AmountAfterTax)
		if err != nil {
			return channels.Reservation{}, pkgerrors.Wrap(pkgerrors.CodeAdaptor, err, "parse reservation total")
		}
		res.TotalAmount = amount
	}
	if len(hr.Guests) > 0 {
		g := hr.Guests[0]
		res.GuestName = strings.TrimSpace(g.GivenName + " " + g.Surname)
		res.GuestEmail = g.Email
	}
	if created, err := time.Parse(time.RFC3339, hr.CreateDate); err == nil {
		res.ReceivedAt = created.UTC()
	}
	raw, err := json.Marshal(hr)
	if err != nil {
		return channels.Reservation{}, err
	}
	res.Raw = raw
	return res, nil
}

func (a *Adaptor) client(conn channels.Connection) (*otahttp.Client, error) {
	creds := conn.Credentials
	if creds.Username == "" || creds.Password == "" || creds.PropertyID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeAdaptor, "booking.com credentials need username, password and property id")
	}
	endpoint := conn.Settings.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	opts := []otahttp.Option{otahttp.WithBasicAuth(creds.Username, creds.Password)}
	if a.httpClient != nil {
		opts = append(opts, otahttp.WithHTTPClient(a.httpClient))
	}
	return otahttp.NewClient(endpoint, opts...)
}

// post sends an OTA request and decodes the response into out. The returned
// failure kind is meaningful only when err is non-nil.
func (a *Adaptor) post(ctx context.Context, client *otahttp.Client, path string, rq, out any) (channels.FailureKind, error) {
	body, err := xml.Marshal(rq)
	if err != nil {
		return channels.FailureProtocol, pkgerrors.Wrap(pkgerrors.CodeAdaptor, err, "encode OTA request")
	}
	resp, err := client.Do(ctx, otahttp.Request{
		Method:      http.MethodPost,
		Path:        path,
		ContentType: xmlContentType,
		Accept:      "text/xml",
		Body:        append([]byte(xml.Header), body...),
	})
	if err != nil {
		if status := otahttp.StatusOf(err); status != 0 {
			return channels.FailureForStatus(status), err
		}
		return channels.FailureOf(err), err
	}
	if err := xml.Unmarshal(resp.Body, out); err != nil {
		return channels.FailureProtocol, pkgerrors.Wrap(pkgerrors.CodeAdaptor, err, "decode OTA response")
	}
	return "", nil
}

// collect folds RPH-tagged warnings into refused. A response carrying errors
// and no success marker fails the whole push.
func collect(rs notifRS, records []channels.Record, refused map[int]channels.RecordError) (channels.Result, bool) {
	if rs.Success == nil && len(rs.Errors) > 0 {
		e := rs.Errors[0]
		kind := channels.FailureRejected
		if e.Code == "497" {
			kind = channels.FailureAuth
		}
		return channels.Failed(len(records), kind, fmt.Errorf("booking.com %s: %s", e.Code, e.message())), true
	}
	for _, w := range append(rs.Errors, rs.Warnings...) {
		rph, err := strconv.Atoi(w.RPH)
		if err != nil || rph < 1 || rph > len(records) {
			continue
		}
		idx := rph - 1
		if _, seen := refused[idx]; seen {
			continue
		}
		refused[idx] = channels.RecordError{
			Index:   idx,
			Date:    types.FormatDay(records[idx].Date),
			Code:    w.Code,
			Message: w.message(),
		}
	}
	return channels.Result{}, false
}

func availMessage(rec channels.Record, inventory, restrictions bool) availStatusMessage {
	day := types.FormatDay(rec.Date)
	msg := availStatusMessage{
		StatusControl: statusControl{Start: day, End: day, InvTypeCode: rec.ChannelRoomTypeID, RatePlanCode: rec.RatePlanCode},
	}
	if inventory {
		msg.BookingLimit = types.IntPtr(rec.Availability)
	}
	if !restrictions {
		return msg
	}
	r := rec.Restrictions
	msg.RestrictionStatus = append(msg.RestrictionStatus, restrictionStatus{Status: openClose(!r.StopSell)})
	if r.ClosedToArrival {
		msg.RestrictionStatus = append(msg.RestrictionStatus, restrictionStatus{Restriction: "Arrival", Status: "Close"})
	}
	if r.ClosedToDeparture {
		msg.RestrictionStatus = append(msg.RestrictionStatus, restrictionStatus{Restriction: "Departure", Status: "Close"})
	}
	if r.MinLOS != nil {
		msg.LengthsOfStay = append(msg.LengthsOfStay, lengthOfStay{MinMaxMessageType: "SetMinLOS", Time: *r.MinLOS})
	}
	if r.MaxLOS != nil {
		msg.LengthsOfStay = append(msg.LengthsOfStay, lengthOfStay{MinMaxMessageType: "SetMaxLOS", Time: *r.MaxLOS})
	}
	return msg
}

func rateMessage(rec channels.Record) rateAmountMessage {
	day := types.FormatDay(rec.Date)
	return rateAmountMessage{
		StatusControl: statusControl{Start: day, End: day, InvTypeCode: rec.ChannelRoomTypeID, RatePlanCode: rec.RatePlanCode},
		Rates: []rate{{BaseByGuestAmts: []baseByGuestAmt{{
			AmountAfterTax: rec.Rate.StringFixed(2),
			CurrencyCode:   rec.Currency,
		}}}},
	}
}

func openClose(open bool) string {
	if open {
		return "Open"
	}
	return "Close"
}

func reservationKind(status string) channels.ReservationKind {
	switch strings.ToLower(status) {
	case "modify", "modified":
		return channels.ReservationModify
	case "cancel", "cancelled":
		return channels.ReservationCancel
	default:
		return channels.ReservationNew
	}
}
