package bookings

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/channelcore-backend/internal/audit"
	"github.com/angelmondragon/channelcore-backend/internal/inventory"
	"github.com/angelmondragon/channelcore-backend/internal/rules"
	"github.com/angelmondragon/channelcore-backend/pkg/db"
	"github.com/angelmondragon/channelcore-backend/pkg/db/dbtest"
	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelcore-backend/pkg/errors"
	"github.com/angelmondragon/channelcore-backend/pkg/outbox"
	"github.com/angelmondragon/channelcore-backend/pkg/types"
)

var (
	d10 = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	d11 = d10.AddDate(0, 0, 1)
	d12 = d10.AddDate(0, 0, 2)
	d13 = d10.AddDate(0, 0, 3)
)

type recorder struct {
	mu      sync.Mutex
	changes []inventory.Change
}

func (r *recorder) NotifyDirty(hotelID, roomTypeID uuid.UUID, from, to time.Time, priority enums.SyncPriority) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, inventory.Change{HotelID: hotelID, RoomTypeID: roomTypeID, Span: types.DateRange{From: from, To: to}, Priority: priority})
}

type fixture struct {
	conn     *gorm.DB
	svc      *service
	ledger   *inventory.Ledger
	rules    rules.Service
	audit    audit.Service
	hotelID  uuid.UUID
	roomType models.RoomType
	notes    *recorder
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)

	hotel := models.Hotel{Name: "Seaside"}
	require.NoError(t, conn.Create(&hotel).Error)
	rt := models.RoomType{HotelID: hotel.ID, Name: "Deluxe", BasePrice: decimal.NewFromInt(5000), DefaultTotalRooms: 5, Currency: "INR"}
	require.NoError(t, conn.Create(&rt).Error)

	auditSvc, err := audit.NewService(audit.NewRepository(conn))
	require.NoError(t, err)
	rulesSvc, err := rules.NewService(rules.NewRepository(conn), nil, nil)
	require.NoError(t, err)
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), nil)
	ledger, err := inventory.NewLedger(inventory.NewRepository(conn), db.Wrap(conn), rulesSvc, auditSvc, outboxSvc, nil)
	require.NoError(t, err)
	notes := &recorder{}
	ledger.SetNotifier(notes)

	svc, err := NewService(NewRepository(conn), db.Wrap(conn), ledger, auditSvc, outboxSvc, Settings{HoldTTL: 15 * time.Minute, Policy: DefaultPolicy}, nil)
	require.NoError(t, err)

	f := &fixture{
		conn: conn, svc: svc.(*service), ledger: ledger, rules: rulesSvc, audit: auditSvc,
		hotelID: hotel.ID, roomType: rt, notes: notes,
		clock: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) sold(t *testing.T, day time.Time) int {
	t.Helper()
	rows, err := f.ledger.Rows(context.Background(), f.hotelID, f.roomType.ID, types.DateRange{From: day, To: day.AddDate(0, 0, 1)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0].SoldRooms
}

// soldIfRow is sold for a date that may never have been touched.
func (f *fixture) soldIfRow(t *testing.T, day time.Time) int {
	t.Helper()
	rows, err := f.ledger.Rows(context.Background(), f.hotelID, f.roomType.ID, types.DateRange{From: day, To: day.AddDate(0, 0, 1)})
	require.NoError(t, err)
	if len(rows) == 0 {
		return 0
	}
	return rows[0].SoldRooms
}

func (f *fixture) events(t *testing.T, eventType enums.OutboxEventType) int {
	t.Helper()
	var n int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&n).Error)
	return int(n)
}

func (f *fixture) hold(rooms int, from, to time.Time) CreateHoldInput {
	return CreateHoldInput{
		HotelID: f.hotelID, RoomTypeID: f.roomType.ID, CheckIn: from, CheckOut: to, Rooms: rooms,
		TotalAmount: decimal.NewFromInt(int64(5000 * rooms)), Currency: "INR", GuestEmail: "guest@example.com",
	}
}

func (f *fixture) ota(id string, rooms int, from, to time.Time) CreateConfirmedInput {
	return CreateConfirmedInput{
		CreateHoldInput:  f.hold(rooms, from, to),
		Source:           "booking_com",
		ChannelBookingID: id,
		PaymentStatus:    enums.PaymentStatusPaid,
	}
}

func TestDirectReserveThenCancelReleases(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	b, err := f.svc.CreateHold(ctx, f.hold(2, d10, d11))
	require.NoError(t, err)
	assert.Equal(t, enums.BookingStatusPending, b.Status)
	require.NotNil(t, b.ReservedUntil)
	assert.Equal(t, f.clock.Add(15*time.Minute), *b.ReservedUntil)
	assert.Equal(t, 2, f.sold(t, d10))

	res, err := f.svc.ChangeStatus(ctx, ChangeStatusInput{BookingID: b.ID, To: enums.BookingStatusConfirmed, Source: enums.SourceDirect})
	require.NoError(t, err)
	assert.Nil(t, res.Booking.ReservedUntil)
	assert.False(t, res.Effects.NeedsSync)

	res, err = f.svc.ChangeStatus(ctx, ChangeStatusInput{BookingID: b.ID, To: enums.BookingStatusCancelled, Source: enums.SourceGuest, Reason: "plans changed"})
	require.NoError(t, err)
	assert.True(t, res.Effects.NeedsRelease)
	assert.Zero(t, f.sold(t, d10))

	stored, err := f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.BookingStatusCancelled, stored.Status)
	assert.Equal(t, 3, stored.Version)
	require.Len(t, stored.StatusHistory, 3)
	assert.True(t, HistoryConsistent(stored.StatusHistory))

	last := f.notes.changes[len(f.notes.changes)-1]
	assert.Equal(t, enums.SyncPriorityHigh, last.Priority)
	assert.Equal(t, 3, f.events(t, enums.EventBookingStatusChanged))
	assert.Zero(t, f.events(t, enums.EventRefundRequested), "unpaid bookings are not refunded")

	logs, err := f.audit.ListByRecord(ctx, audit.TableBookings, b.ID.String())
	require.NoError(t, err)
	assert.Len(t, logs, 3)
}

func TestCancelPaidBookingRequestsRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	b, err := f.svc.CreateConfirmed(ctx, f.ota("BK-1", 1, d10, d12))
	require.NoError(t, err)
	_, err = f.svc.ChangeStatus(ctx, ChangeStatusInput{BookingID: b.ID, To: enums.BookingStatusCancelled, Source: enums.SourceOTA})
	require.NoError(t, err)
	assert.Equal(t, 1, f.events(t, enums.EventRefundRequested))
	assert.Zero(t, f.sold(t, d11))
}

func TestExpiredHoldOnlyCancelledBySystem(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	b, err := f.svc.CreateHold(ctx, f.hold(1, d10, d12))
	require.NoError(t, err)
	f.clock = f.clock.Add(20 * time.Minute)

	_, err = f.svc.ChangeStatus(ctx, ChangeStatusInput{BookingID: b.ID, To: enums.BookingStatusConfirmed, Source: enums.SourceDirect})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeInvalidTransition, pkgerrors.CodeOf(err))
	correlation := pkgerrors.CorrelationID(err)
	require.NotEmpty(t, correlation)
	logs, err := f.audit.FindByCorrelationID(ctx, correlation)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, b.ID.String(), logs[0].RecordID)

	res, err := f.svc.ExpireHolds(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 1, Succeeded: 1}, res)

	stored, err := f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.BookingStatusCancelled, stored.Status)
	assert.Nil(t, stored.ReservedUntil)
	last := stored.StatusHistory[len(stored.StatusHistory)-1]
	assert.Equal(t, enums.SourceSystem, last.Source)
	assert.True(t, last.Automatic)
	assert.Zero(t, f.sold(t, d10))
	assert.Zero(t, f.sold(t, d11))
}

func TestCreateConfirmedIsUniquePerChannelBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var hooked uuid.UUID
	in := f.ota("BK-9", 1, d10, d11)
	in.OnCreated = func(_ context.Context, tx *gorm.DB, b *models.Booking) error {
		require.NotNil(t, tx)
		hooked = b.ID
		return nil
	}
	b, err := f.svc.CreateConfirmed(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, b.ID, hooked)
	assert.Equal(t, enums.BookingStatusConfirmed, b.Status)
	assert.True(t, b.NeedsSync)
	assert.Nil(t, b.ReservedUntil)

	_, err = f.svc.CreateConfirmed(ctx, f.ota("BK-9", 1, d10, d11))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
	assert.Equal(t, 1, f.sold(t, d10), "a replay never reserves twice")

	found, err := f.svc.FindByChannelBookingID(ctx, "BOOKING_COM", "BK-9")
	require.NoError(t, err)
	assert.Equal(t, b.ID, found.ID)
}

func TestCreateConfirmedRollsBackWhenHookFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	in := f.ota("BK-2", 2, d10, d11)
	in.OnCreated = func(context.Context, *gorm.DB, *models.Booking) error {
		return pkgerrors.New(pkgerrors.CodeInternal, "mapping write failed")
	}
	_, err := f.svc.CreateConfirmed(ctx, in)
	require.Error(t, err)
	assert.Zero(t, f.sold(t, d10))
	_, err = f.svc.FindByChannelBookingID(ctx, "booking_com", "BK-2")
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestAmendmentLoopExtendsStay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	b, err := f.svc.CreateConfirmed(ctx, f.ota("BK-3", 1, d10, d12))
	require.NoError(t, err)

	checkout := d13
	b, err = f.svc.ProcessOTAAmendment(ctx, AmendmentInput{
		BookingID: b.ID, Type: enums.AmendmentDateChange, Channel: "booking_com",
		RequestedChanges: models.StayChanges{CheckOut: &checkout},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.BookingStatusModified, b.Status)
	assert.Equal(t, 1, b.AmendmentFlags.AmendmentCount)
	assert.True(t, b.AmendmentFlags.HasActivePendingAmendments)
	require.Len(t, b.OTAAmendments, 1)
	assert.Equal(t, 1, f.events(t, enums.EventBookingAmendmentReceived))

	_, err = f.svc.ChangeStatus(ctx, ChangeStatusInput{BookingID: b.ID, To: enums.BookingStatusConfirmed, Source: enums.SourceAdmin})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeInvalidTransition, pkgerrors.CodeOf(err))

	b, err = f.svc.ResolveAmendment(ctx, ResolveAmendmentInput{
		BookingID: b.ID, AmendmentID: b.OTAAmendments[0].ID, Decision: enums.AmendmentApproved, ResolvedBy: "ops@hotel",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.BookingStatusConfirmed, b.Status)
	assert.False(t, b.AmendmentFlags.HasActivePendingAmendments)
	assert.Equal(t, d13, b.CheckOut)
	assert.Equal(t, 3, b.Nights)
	require.Len(t, b.Modifications, 1)
	assert.Equal(t, "ota_modification", b.Modifications[0].Type)
	require.NotNil(t, b.Modifications[0].Before.CheckOut)
	assert.Equal(t, d12, *b.Modifications[0].Before.CheckOut)
	assert.True(t, b.OTAAmendments[0].ApprovedChanges.SubsetOf(b.OTAAmendments[0].RequestedChanges))
	assert.True(t, HistoryConsistent(b.StatusHistory))

	assert.Equal(t, 1, f.sold(t, d10))
	assert.Equal(t, 1, f.sold(t, d12), "the extra night is reserved")
}

func TestCancelClosesPendingAmendments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	b, err := f.svc.CreateConfirmed(ctx, f.ota("BK-3C", 1, d10, d12))
	require.NoError(t, err)

	checkout := d13
	b, err = f.svc.ProcessOTAAmendment(ctx, AmendmentInput{
		BookingID: b.ID, Type: enums.AmendmentDateChange, Channel: "booking_com",
		RequestedChanges: models.StayChanges{CheckOut: &checkout},
	})
	require.NoError(t, err)
	amendmentID := b.OTAAmendments[0].ID

	res, err := f.svc.ChangeStatus(ctx, ChangeStatusInput{BookingID: b.ID, To: enums.BookingStatusCancelled, Source: enums.SourceAdmin, Reason: "guest called"})
	require.NoError(t, err)
	assert.False(t, res.Booking.AmendmentFlags.HasActivePendingAmendments)
	require.Len(t, res.Booking.OTAAmendments, 1)
	assert.Equal(t, enums.AmendmentRejected, res.Booking.OTAAmendments[0].Status)
	assert.Equal(t, "booking cancelled", res.Booking.OTAAmendments[0].RejectionReason)
	assert.Equal(t, 0, f.sold(t, d10))

	_, err = f.svc.ResolveAmendment(ctx, ResolveAmendmentInput{
		BookingID: b.ID, AmendmentID: amendmentID, Decision: enums.AmendmentApproved, ResolvedBy: "ops@hotel",
	})
	require.Error(t, err)

	got, err := f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.BookingStatusCancelled, got.Status)
	assert.Equal(t, d12, got.CheckOut)
	assert.Equal(t, 0, f.soldIfRow(t, d12), "a cancelled booking never re-reserves")
}

func TestClosedBookingOnlyRejectsAmendments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	b, err := f.svc.CreateConfirmed(ctx, f.ota("BK-3N", 1, d10, d12))
	require.NoError(t, err)

	checkout := d13
	b, err = f.svc.ProcessOTAAmendment(ctx, AmendmentInput{
		BookingID: b.ID, Type: enums.AmendmentDateChange, Channel: "booking_com",
		RequestedChanges: models.StayChanges{CheckOut: &checkout},
	})
	require.NoError(t, err)
	amendmentID := b.OTAAmendments[0].ID

	_, err = f.svc.ChangeStatus(ctx, ChangeStatusInput{
		BookingID: b.ID, To: enums.BookingStatusNoShow, Source: enums.SourceAdmin, Options: Options{ManualNoShow: true},
	})
	require.NoError(t, err)

	_, err = f.svc.ResolveAmendment(ctx, ResolveAmendmentInput{
		BookingID: b.ID, AmendmentID: amendmentID, Decision: enums.AmendmentApproved, ResolvedBy: "ops@hotel",
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeInvalidTransition, pkgerrors.CodeOf(err))
	assert.Equal(t, 0, f.soldIfRow(t, d12))

	b, err = f.svc.ResolveAmendment(ctx, ResolveAmendmentInput{
		BookingID: b.ID, AmendmentID: amendmentID, Decision: enums.AmendmentRejected, ResolvedBy: "ops@hotel",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.BookingStatusNoShow, b.Status)
	assert.Equal(t, d12, b.CheckOut)
	assert.False(t, b.AmendmentFlags.HasActivePendingAmendments)
}

func TestAmendmentRejectedWhenInventoryShort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	b, err := f.svc.CreateConfirmed(ctx, f.ota("BK-4", 1, d10, d11))
	require.NoError(t, err)
	require.NoError(t, f.ledger.Reserve(ctx, inventory.ReserveInput{HotelID: f.hotelID, RoomTypeID: f.roomType.ID, CheckIn: d11, CheckOut: d12, Rooms: 5}))

	checkout := d12
	b, err = f.svc.ProcessOTAAmendment(ctx, AmendmentInput{
		BookingID: b.ID, Type: enums.AmendmentDateChange, Channel: "booking_com",
		RequestedChanges: models.StayChanges{CheckOut: &checkout},
	})
	require.NoError(t, err)

	b, err = f.svc.ResolveAmendment(ctx, ResolveAmendmentInput{
		BookingID: b.ID, AmendmentID: b.OTAAmendments[0].ID, Decision: enums.AmendmentApproved, ResolvedBy: "ops@hotel",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.AmendmentRejected, b.OTAAmendments[0].Status)
	assert.Contains(t, b.OTAAmendments[0].RejectionReason, inventory.ReasonCapacity)
	assert.Equal(t, d11, b.CheckOut)
	assert.Equal(t, enums.BookingStatusModified, b.Status, "nothing was accepted")
	assert.False(t, b.AmendmentFlags.HasActivePendingAmendments)
	assert.Equal(t, 5, f.sold(t, d11))
}

func TestEarlierArrivalChecksArrivalRestrictions(t *testing.T) {
	ctx := context.Background()
	d9 := d10.AddDate(0, 0, -1)
	minStay := func(n int) *int { return &n }

	amend := func(t *testing.T, f *fixture, ref string, changes models.StayChanges) *models.Booking {
		t.Helper()
		b, err := f.svc.CreateConfirmed(ctx, f.ota(ref, 1, d10, d12))
		require.NoError(t, err)
		b, err = f.svc.ProcessOTAAmendment(ctx, AmendmentInput{
			BookingID: b.ID, Type: enums.AmendmentDateChange, Channel: "booking_com", RequestedChanges: changes,
		})
		require.NoError(t, err)
		b, err = f.svc.ResolveAmendment(ctx, ResolveAmendmentInput{
			BookingID: b.ID, AmendmentID: b.OTAAmendments[0].ID, Decision: enums.AmendmentApproved, ResolvedBy: "ops",
		})
		require.NoError(t, err)
		return b
	}

	t.Run("both ends grow onto a closed arrival", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.ledger.SetRestrictions(ctx, inventory.SetRestrictionsInput{
			HotelID: f.hotelID, RoomTypeID: f.roomType.ID, From: d9, To: d10,
			Restrictions: types.Restrictions{ClosedToArrival: true},
		}))
		checkIn, checkOut := d9, d13
		b := amend(t, f, "BK-CTA", models.StayChanges{CheckIn: &checkIn, CheckOut: &checkOut})
		assert.Equal(t, enums.AmendmentRejected, b.OTAAmendments[0].Status)
		assert.Contains(t, b.OTAAmendments[0].RejectionReason, inventory.ReasonClosedToArrival)
		assert.Equal(t, d10, b.CheckIn)
		assert.Equal(t, 1, f.sold(t, d10))
		assert.Equal(t, 0, f.sold(t, d9))
	})

	t.Run("minimum stay counts the whole amended stay", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.ledger.SetRestrictions(ctx, inventory.SetRestrictionsInput{
			HotelID: f.hotelID, RoomTypeID: f.roomType.ID, From: d9, To: d10,
			Restrictions: types.Restrictions{MinLOS: minStay(3)},
		}))
		checkIn := d9
		b := amend(t, f, "BK-LOS", models.StayChanges{CheckIn: &checkIn})
		assert.Equal(t, enums.AmendmentApproved, b.OTAAmendments[0].Status)
		assert.Equal(t, d9, b.CheckIn)
		assert.Equal(t, 1, f.sold(t, d9))
	})

	t.Run("minimum stay longer than the amended stay", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.ledger.SetRestrictions(ctx, inventory.SetRestrictionsInput{
			HotelID: f.hotelID, RoomTypeID: f.roomType.ID, From: d9, To: d10,
			Restrictions: types.Restrictions{MinLOS: minStay(4)},
		}))
		checkIn := d9
		b := amend(t, f, "BK-LOS4", models.StayChanges{CheckIn: &checkIn})
		assert.Equal(t, enums.AmendmentRejected, b.OTAAmendments[0].Status)
		assert.Contains(t, b.OTAAmendments[0].RejectionReason, inventory.ReasonMinLOS)
		assert.Equal(t, d10, b.CheckIn)
	})
}

func TestAmendmentsResolveInReceiptOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	b, err := f.svc.CreateConfirmed(ctx, f.ota("BK-5", 1, d10, d12))
	require.NoError(t, err)

	first, second := d13, d11
	b, err = f.svc.ProcessOTAAmendment(ctx, AmendmentInput{BookingID: b.ID, Type: enums.AmendmentDateChange, Channel: "booking_com", RequestedChanges: models.StayChanges{CheckOut: &first}})
	require.NoError(t, err)
	b, err = f.svc.ProcessOTAAmendment(ctx, AmendmentInput{BookingID: b.ID, Type: enums.AmendmentDateChange, Channel: "booking_com", RequestedChanges: models.StayChanges{CheckOut: &second}})
	require.NoError(t, err)
	assert.Equal(t, 2, b.AmendmentFlags.AmendmentCount)

	_, err = f.svc.ResolveAmendment(ctx, ResolveAmendmentInput{BookingID: b.ID, AmendmentID: b.OTAAmendments[1].ID, Decision: enums.AmendmentApproved, ResolvedBy: "ops"})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))

	b, err = f.svc.ResolveAmendment(ctx, ResolveAmendmentInput{BookingID: b.ID, AmendmentID: b.OTAAmendments[0].ID, Decision: enums.AmendmentApproved, ResolvedBy: "ops"})
	require.NoError(t, err)
	assert.Equal(t, enums.BookingStatusModified, b.Status, "one amendment is still pending")

	b, err = f.svc.ResolveAmendment(ctx, ResolveAmendmentInput{BookingID: b.ID, AmendmentID: b.OTAAmendments[1].ID, Decision: enums.AmendmentApproved, ResolvedBy: "ops"})
	require.NoError(t, err)
	assert.Equal(t, enums.AmendmentRejected, b.OTAAmendments[1].Status)
	assert.Contains(t, b.OTAAmendments[1].RejectionReason, b.OTAAmendments[0].ID.String())
	assert.Equal(t, enums.BookingStatusConfirmed, b.Status)
	assert.Equal(t, d13, b.CheckOut)
}

func TestPartialApprovalMustBeSubset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	b, err := f.svc.CreateConfirmed(ctx, f.ota("BK-6", 1, d10, d12))
	require.NoError(t, err)
	name, adults := "A. Guest", 2
	b, err = f.svc.ProcessOTAAmendment(ctx, AmendmentInput{
		BookingID: b.ID, Type: enums.AmendmentGuestChange, Channel: "booking_com",
		RequestedChanges: models.StayChanges{GuestName: &name, Adults: &adults},
	})
	require.NoError(t, err)

	children := 1
	_, err = f.svc.ResolveAmendment(ctx, ResolveAmendmentInput{
		BookingID: b.ID, AmendmentID: b.OTAAmendments[0].ID, Decision: enums.AmendmentPartiallyApproved,
		Approved: &models.StayChanges{Children: &children}, ResolvedBy: "ops",
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	b, err = f.svc.ResolveAmendment(ctx, ResolveAmendmentInput{
		BookingID: b.ID, AmendmentID: b.OTAAmendments[0].ID, Decision: enums.AmendmentPartiallyApproved,
		Approved: &models.StayChanges{GuestName: &name}, ResolvedBy: "ops",
	})
	require.NoError(t, err)
	assert.Equal(t, "A. Guest", b.GuestName)
	assert.Equal(t, 1, b.Adults)
	assert.Equal(t, enums.BookingStatusConfirmed, b.Status)
}

func TestSweepsCheckoutAndNoShow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	stay, err := f.svc.CreateConfirmed(ctx, f.ota("BK-7", 1, d10, d12))
	require.NoError(t, err)
	absent, err := f.svc.CreateConfirmed(ctx, f.ota("BK-8", 1, d10, d11))
	require.NoError(t, err)

	f.clock = d10.Add(15 * time.Hour)
	_, err = f.svc.ChangeStatus(ctx, ChangeStatusInput{BookingID: stay.ID, To: enums.BookingStatusCheckedIn, Source: enums.SourceAdmin})
	require.NoError(t, err)
	assert.Equal(t, 1, f.events(t, enums.EventRoomStatusUpdate))

	res, err := f.svc.MarkNoShows(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 1, Succeeded: 1}, res)
	got, err := f.svc.Get(ctx, absent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.BookingStatusNoShow, got.Status)
	assert.Equal(t, 1, f.events(t, enums.EventNoShowPenaltyRequested))

	res, err = f.svc.AutoCheckout(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Scanned, "checkout date not reached")

	f.clock = d12.Add(12 * time.Hour)
	res, err = f.svc.AutoCheckout(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	got, err = f.svc.Get(ctx, stay.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.BookingStatusCheckedOut, got.Status)
	assert.Equal(t, 1, f.events(t, enums.EventFinalBillingRequested))
	assert.Equal(t, 1, f.events(t, enums.EventPostCheckoutAutomation))
}

func TestNoShowSweepIncludesModifiedBookings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	b, err := f.svc.CreateConfirmed(ctx, f.ota("BK-9", 1, d10, d11))
	require.NoError(t, err)
	checkout := d12
	b, err = f.svc.ProcessOTAAmendment(ctx, AmendmentInput{
		BookingID: b.ID, Type: enums.AmendmentDateChange, Channel: "booking_com",
		RequestedChanges: models.StayChanges{CheckOut: &checkout},
	})
	require.NoError(t, err)
	require.Equal(t, enums.BookingStatusModified, b.Status)

	f.clock = d10.Add(15 * time.Hour)
	res, err := f.svc.MarkNoShows(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 1, Succeeded: 1}, res)

	got, err := f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.BookingStatusNoShow, got.Status)
	assert.True(t, HistoryConsistent(got.StatusHistory))
}

func TestMarkSyncedClearsOnlyUnchangedBookings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	b, err := f.svc.CreateConfirmed(ctx, f.ota("BK-10", 1, d10, d11))
	require.NoError(t, err)
	pending, err := f.svc.ListNeedsSync(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	channelA, channelB := uuid.New(), uuid.New()
	require.NoError(t, f.svc.MarkSynced(ctx, b.ID, b.Version, []SyncOutcome{{ChannelID: channelA, OK: true}, {ChannelID: channelB, Error: "timeout"}}, time.Time{}))
	got, err := f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.NeedsSync)
	require.Len(t, got.ChannelSync, 2)

	require.NoError(t, f.svc.MarkSynced(ctx, b.ID, b.Version, []SyncOutcome{{ChannelID: channelB, OK: true}}, time.Time{}))
	got, err = f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.NeedsSync, "the booking changed after it was rendered")

	require.NoError(t, f.svc.MarkSynced(ctx, b.ID, got.Version, []SyncOutcome{{ChannelID: channelB, OK: true}}, time.Time{}))
	got, err = f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, got.NeedsSync)
	require.Len(t, got.ChannelSync, 2)
	assert.Equal(t, string(enums.InventorySyncSuccess), got.ChannelSync[1].Status)
}
