package expedia

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/channelcore-backend/internal/channels"
	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/types"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body)), Header: http.Header{}}
}

func conn() channels.Connection {
	return channels.Connection{
		ChannelID: uuid.New(),
		HotelID:   uuid.New(),
		Settings: models.ChannelSettings{
			EnableRateSync: true, EnableInventorySync: true, EnableRestrictionSync: true,
			Endpoint: "http://eqc.test/v1",
		},
		Credentials: channels.Credentials{APIKey: "key-1", PropertyID: "P77"},
	}
}

func records() []channels.Record {
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	return []channels.Record{
		{Date: day, ChannelRoomTypeID: "R1", Availability: 4, Rate: decimal.NewFromInt(100), Currency: "USD"},
		{Date: day.AddDate(0, 0, 1), ChannelRoomTypeID: "R1", Availability: 2, Rate: decimal.NewFromInt(110), Currency: "USD",
			Restrictions: types.Restrictions{ClosedToArrival: true}},
	}
}

func TestPushUpdatesSendsBatchAndReadsPublishedRates(t *testing.T) {
	var sent updateRequest
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "/v1/availability", req.URL.Path)
		assert.Equal(t, "key-1", req.Header.Get(apiKeyHeader))
		require.NoError(t, json.NewDecoder(req.Body).Decode(&sent))
		return jsonResponse(http.StatusOK, `{"status":"ok","results":[
			{"index":0,"status":"success","publishedRate":"104.00"},
			{"index":1,"status":"error","code":"INVALID_ROOM","message":"room not sellable"}]}`), nil
	})

	res := New(WithHTTPClient(&http.Client{Transport: rt})).PushUpdates(context.Background(), conn(), records())

	assert.Equal(t, channels.ResultPartial, res.Kind)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "INVALID_ROOM", res.Errors[0].Code)
	assert.True(t, res.ReportedRates["2025-03-10"].Equal(decimal.NewFromInt(104)))
	_, ok := res.ReportedRates["2025-03-11"]
	assert.False(t, ok)

	assert.Equal(t, "P77", sent.PropertyID)
	require.Len(t, sent.Updates, 2)
	assert.Equal(t, 4, *sent.Updates[0].TotalInventory)
	assert.Equal(t, "110.00", *sent.Updates[1].Rate)
	assert.True(t, *sent.Updates[1].ClosedToArrival)
}

func TestPushUpdatesAllAcceptedFallsBackToPushedRates(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"status":"ok","results":[{"index":0,"status":"success"},{"index":1,"status":"success"}]}`), nil
	})
	res := New(WithHTTPClient(&http.Client{Transport: rt})).PushUpdates(context.Background(), conn(), records())
	assert.True(t, res.OK())
	assert.Equal(t, 2, res.Accepted)
	assert.True(t, res.ReportedRates["2025-03-11"].Equal(decimal.NewFromInt(110)))
}

func TestPushUpdatesFailures(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusServiceUnavailable, "maintenance"), nil
	})
	res := New(WithHTTPClient(&http.Client{Transport: rt})).PushUpdates(context.Background(), conn(), records())
	assert.Equal(t, channels.ResultFailed, res.Kind)
	assert.Equal(t, channels.FailureUnavailable, res.Failure)

	c := conn()
	c.Credentials.APIKey = ""
	res = New().PushUpdates(context.Background(), c, records())
	assert.Equal(t, channels.FailureAuth, res.Failure)
}

func TestPullReservations(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "/v1/properties/P77/reservations", req.URL.Path)
		assert.Equal(t, "2025-03-01T00:00:00Z", req.URL.Query().Get("since"))
		return jsonResponse(http.StatusOK, `{"reservations":[{"id":"EXP-1","status":"booked","roomTypeId":"R1","checkIn":"2025-03-10","checkOut":"2025-03-13",
			"rooms":1,"adults":2,"totalAmount":"330.00","currency":"usd","paymentType":"expedia_collect",
			"primaryGuest":{"firstName":"Lee","lastName":"Park","email":"lee@example.com"}},
			{"id":"EXP-2","status":"cancelled","roomTypeId":"R1","checkIn":"2025-03-20","checkOut":"2025-03-21"}]}`), nil
	})
	c := conn()
	out, err := New(WithHTTPClient(&http.Client{Transport: rt})).PullReservations(context.Background(), c, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, channels.ReservationNew, out[0].Kind)
	assert.Equal(t, "Lee Park", out[0].GuestName)
	assert.Equal(t, "USD", out[0].Currency)
	assert.True(t, out[0].Paid)
	assert.Equal(t, 3, types.DateRange{From: out[0].CheckIn, To: out[0].CheckOut}.Nights())
	assert.Equal(t, c.HotelID, out[0].HotelID)
	assert.Equal(t, channels.ReservationCancel, out[1].Kind)
}
