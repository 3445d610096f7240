package bookingcom

import (
	"context"
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

func xmlResponse(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body)), Header: http.Header{}}
}

func testConn() channels.Connection {
	return channels.Connection{
		ChannelID: uuid.New(),
		HotelID:   uuid.New(),
		Code:      "booking_com",
		Settings: models.ChannelSettings{
			EnableRateSync: true, EnableInventorySync: true, EnableRestrictionSync: true,
			Endpoint: "http://ota.test/xml",
		},
		Credentials: channels.Credentials{Username: "hotel", Password: "pw", PropertyID: "1234"},
	}
}

func testRecords() []channels.Record {
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	return []channels.Record{
		{Date: day, ChannelRoomTypeID: "DLX", Availability: 3, Rate: decimal.NewFromInt(5000), Currency: "INR",
			Restrictions: types.Restrictions{MinLOS: types.IntPtr(2)}},
		{Date: day.AddDate(0, 0, 1), ChannelRoomTypeID: "DLX", Availability: 0, Rate: decimal.NewFromInt(5200), Currency: "INR",
			Restrictions: types.Restrictions{StopSell: true}},
	}
}

func TestPushUpdatesReportsRecordWarnings(t *testing.T) {
	bodies := map[string]string{}
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		user, pass, ok := req.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "hotel", user)
		require.Equal(t, "pw", pass)
		b, _ := io.ReadAll(req.Body)
		bodies[req.URL.Path] = string(b)
		switch req.URL.Path {
		case "/xml/OTA_HotelAvailNotif":
			return xmlResponse(http.StatusOK, `<OTA_HotelAvailNotifRS><Success/><Warnings><Warning Code="392" RPH="2" ShortText="room closed by partner"/></Warnings></OTA_HotelAvailNotifRS>`), nil
		case "/xml/OTA_HotelRateAmountNotif":
			return xmlResponse(http.StatusOK, `<OTA_HotelRateAmountNotifRS><Success/></OTA_HotelRateAmountNotifRS>`), nil
		}
		return xmlResponse(http.StatusNotFound, "no route"), nil
	})

	a := New(WithHTTPClient(&http.Client{Transport: rt}))
	res := a.PushUpdates(context.Background(), testConn(), testRecords())

	assert.Equal(t, channels.ResultPartial, res.Kind)
	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 1, res.Accepted)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].Index)
	assert.Equal(t, "2025-03-11", res.Errors[0].Date)
	assert.True(t, res.ReportedRates["2025-03-10"].Equal(decimal.NewFromInt(5000)))
	_, ok := res.ReportedRates["2025-03-11"]
	assert.False(t, ok)

	avail := bodies["/xml/OTA_HotelAvailNotif"]
	assert.Contains(t, avail, `HotelCode="1234"`)
	assert.Contains(t, avail, `BookingLimit="3"`)
	assert.Contains(t, avail, `InvTypeCode="DLX"`)
	assert.Contains(t, avail, `MinMaxMessageType="SetMinLOS" Time="2"`)
	assert.Contains(t, avail, `Status="Close"`)
	assert.Contains(t, bodies["/xml/OTA_HotelRateAmountNotif"], `AmountAfterTax="5200.00"`)
}

func TestPushUpdatesSkipsDisabledKinds(t *testing.T) {
	var paths []string
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		paths = append(paths, req.URL.Path)
		return xmlResponse(http.StatusOK, `<OTA_HotelAvailNotifRS><Success/></OTA_HotelAvailNotifRS>`), nil
	})
	conn := testConn()
	conn.Settings.EnableRateSync = false

	res := New(WithHTTPClient(&http.Client{Transport: rt})).PushUpdates(context.Background(), conn, testRecords())

	assert.True(t, res.OK())
	assert.Equal(t, []string{"/xml/OTA_HotelAvailNotif"}, paths)
	assert.Empty(t, res.ReportedRates)
}

func TestPushUpdatesClassifiesFailures(t *testing.T) {
	cases := []struct {
		name string
		resp *http.Response
		want channels.FailureKind
	}{
		{"unauthorized", xmlResponse(http.StatusUnauthorized, "denied"), channels.FailureAuth},
		{"rate limited", xmlResponse(http.StatusTooManyRequests, "slow"), channels.FailureRateLimited},
		{"server error", xmlResponse(http.StatusBadGateway, "down"), channels.FailureUnavailable},
		{"garbage body", xmlResponse(http.StatusOK, "not xml <"), channels.FailureProtocol},
		{"ota error", xmlResponse(http.StatusOK, `<OTA_HotelAvailNotifRS><Errors><Error Code="497" ShortText="Authorization error"/></Errors></OTA_HotelAvailNotifRS>`), channels.FailureAuth},
		{"ota rejection", xmlResponse(http.StatusOK, `<OTA_HotelAvailNotifRS><Errors><Error Code="320" ShortText="Invalid value"/></Errors></OTA_HotelAvailNotifRS>`), channels.FailureRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rt := roundTripFunc(func(req *http.Request) (*http.Response, error) { return tc.resp, nil })
			res := New(WithHTTPClient(&http.Client{Transport: rt})).PushUpdates(context.Background(), testConn(), testRecords())
			assert.Equal(t, channels.ResultFailed, res.Kind)
			assert.Equal(t, tc.want, res.Failure)
			assert.Zero(t, res.Accepted)
		})
	}
}

func TestPushUpdatesRequiresCredentials(t *testing.T) {
	conn := testConn()
	conn.Credentials.Password = ""
	res := New().PushUpdates(context.Background(), conn, testRecords())
	assert.Equal(t, channels.FailureAuth, res.Failure)
}

func TestPullReservationsParsesHotelReservations(t *testing.T) {
	body := `<OTA_HotelResNotifRQ><HotelReservations>
<HotelReservation ResStatus="Commit" CreateDateTime="2025-03-01T08:00:00Z">
  <UniqueID ID="BDC-991"/>
  <RoomStays><RoomStay>
    <RoomTypes><RoomType RoomTypeCode="DLX" NumberOfUnits="2"/></RoomTypes>
    <GuestCounts><GuestCount AgeQualifyingCode="10" Count="2"/><GuestCount AgeQualifyingCode="8" Count="1"/></GuestCounts>
    <TimeSpan Start="2025-03-10" End="2025-03-12"/>
  </RoomStay></RoomStays>
  <ResGuests><ResGuest><Profiles><ProfileInfo><Profile><Customer>
    <PersonName><GivenName>Asha</GivenName><Surname>Rao</Surname></PersonName><Email>asha@example.com</Email>
  </Customer></Profile></ProfileInfo></Profiles></ResGuest></ResGuests>
  <ResGlobalInfo><Total AmountAfterTax="20000.00" CurrencyCode="inr"/><Guarantee PaymentStatus="paid"/></ResGlobalInfo>
</HotelReservation>
<HotelReservation ResStatus="Cancel"><UniqueID ID="BDC-700"/><RoomStays><RoomStay><RoomTypes><RoomType RoomTypeCode="DLX"/></RoomTypes><TimeSpan Start="2025-04-01" End="2025-04-02"/></RoomStay></RoomStays></HotelReservation>
</HotelReservations></OTA_HotelResNotifRQ>`
	var readBody string
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		b, _ := io.ReadAll(req.Body)
		readBody = string(b)
		return xmlResponse(http.StatusOK, body), nil
	})
	conn := testConn()
	since := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	out, err := New(WithHTTPClient(&http.Client{Transport: rt})).PullReservations(context.Background(), conn, since)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Contains(t, readBody, `Start="2025-03-01T00:00:00Z"`)

	first := out[0]
	assert.Equal(t, channels.ReservationNew, first.Kind)
	assert.Equal(t, "BDC-991", first.ChannelBookingID)
	assert.Equal(t, "DLX", first.ChannelRoomTypeID)
	assert.Equal(t, 2, first.Rooms)
	assert.Equal(t, 2, first.Adults)
	assert.Equal(t, 1, first.Children)
	assert.Equal(t, "Asha Rao", first.GuestName)
	assert.Equal(t, "INR", first.Currency)
	assert.True(t, first.Paid)
	assert.True(t, first.TotalAmount.Equal(decimal.NewFromInt(20000)))
	assert.Equal(t, conn.ChannelID, first.ChannelID)
	assert.Equal(t, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC), first.CheckOut)
	assert.NotEmpty(t, first.Raw)

	assert.Equal(t, channels.ReservationCancel, out[1].Kind)
	assert.Equal(t, 1, out[1].Rooms)
}

func TestConnectionPing(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return xmlResponse(http.StatusOK, `<OTA_PingRS><Success/><EchoData>channelcore</EchoData></OTA_PingRS>`), nil
	})
	a := New(WithHTTPClient(&http.Client{Transport: rt}))
	require.NoError(t, a.TestConnection(context.Background(), testConn()))
	status := a.TestEndpoint(context.Background(), testConn())
	assert.True(t, status.OK)
}
