package bookings

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelcore-backend/pkg/errors"
)

var checkIn = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func booking(status enums.BookingStatus) *models.Booking {
	return &models.Booking{
		Status:        status,
		CheckIn:       checkIn,
		CheckOut:      checkIn.AddDate(0, 0, 2),
		Nights:        2,
		Source:        string(enums.SourceDirect),
		PaymentStatus: enums.PaymentStatusUnpaid,
		TotalAmount:   decimal.NewFromInt(10000),
		RoomCount:     1,
	}
}

func TestTransitionMatrix(t *testing.T) {
	all := []enums.BookingStatus{
		enums.BookingStatusPending, enums.BookingStatusConfirmed, enums.BookingStatusModified,
		enums.BookingStatusCheckedIn, enums.BookingStatusCheckedOut, enums.BookingStatusCancelled, enums.BookingStatusNoShow,
	}
	allowed := map[enums.BookingStatus][]enums.BookingStatus{
		enums.BookingStatusPending:   {enums.BookingStatusConfirmed, enums.BookingStatusCancelled, enums.BookingStatusModified},
		enums.BookingStatusConfirmed: {enums.BookingStatusCheckedIn, enums.BookingStatusCancelled, enums.BookingStatusNoShow, enums.BookingStatusModified},
		enums.BookingStatusModified:  {enums.BookingStatusConfirmed, enums.BookingStatusCancelled, enums.BookingStatusCheckedIn, enums.BookingStatusNoShow},
		enums.BookingStatusCheckedIn: {enums.BookingStatusCheckedOut},
		enums.BookingStatusNoShow:    {enums.BookingStatusCancelled},
	}
	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.Empty(t, AllowedTransitions(enums.BookingStatusCheckedOut))
	assert.Empty(t, AllowedTransitions(enums.BookingStatusCancelled))
}

func TestTransitionBusinessRules(t *testing.T) {
	now := checkIn.Add(-72 * time.Hour)
	cases := []struct {
		name   string
		setup  func(b *models.Booking)
		change StatusChange
		rule   string
	}{
		{
			name:   "terminal state",
			setup:  func(b *models.Booking) { b.Status = enums.BookingStatusCancelled },
			change: StatusChange{To: enums.BookingStatusConfirmed, Source: enums.SourceAdmin, At: now},
			rule:   RuleMatrix,
		},
		{
			name:   "payment failed blocks confirm",
			setup:  func(b *models.Booking) { b.PaymentStatus = enums.PaymentStatusFailed },
			change: StatusChange{To: enums.BookingStatusConfirmed, Source: enums.SourceAdmin, At: now},
			rule:   RulePaymentFailed,
		},
		{
			name:   "pending amendments block confirm",
			setup:  func(b *models.Booking) { b.AmendmentFlags.HasActivePendingAmendments = true },
			change: StatusChange{To: enums.BookingStatusConfirmed, Source: enums.SourceAdmin, At: now},
			rule:   RulePendingAmendments,
		},
		{
			name: "expired hold",
			setup: func(b *models.Booking) {
				until := now.Add(-time.Minute)
				b.ReservedUntil = &until
			},
			change: StatusChange{To: enums.BookingStatusConfirmed, Source: enums.SourceDirect, At: now},
			rule:   RuleHoldExpired,
		},
		{
			name: "expired hold cancelled by staff",
			setup: func(b *models.Booking) {
				until := now.Add(-time.Minute)
				b.ReservedUntil = &until
			},
			change: StatusChange{To: enums.BookingStatusCancelled, Source: enums.SourceAdmin, At: now},
			rule:   RuleHoldExpired,
		},
		{
			name:   "check-in before arrival",
			setup:  func(b *models.Booking) { b.Status = enums.BookingStatusConfirmed },
			change: StatusChange{To: enums.BookingStatusCheckedIn, Source: enums.SourceAdmin, At: now},
			rule:   RuleTooEarlyCheckIn,
		},
		{
			name:   "guest cancels inside the window",
			setup:  func(b *models.Booking) { b.Status = enums.BookingStatusConfirmed },
			change: StatusChange{To: enums.BookingStatusCancelled, Source: enums.SourceGuest, At: checkIn.Add(-23 * time.Hour)},
			rule:   RuleCancellationPolicy,
		},
		{
			name:   "no-show inside grace",
			setup:  func(b *models.Booking) { b.Status = enums.BookingStatusConfirmed },
			change: StatusChange{To: enums.BookingStatusNoShow, Source: enums.SourceSystem, At: checkIn.Add(time.Hour)},
			rule:   RuleNoShowGrace,
		},
		{
			name:   "modified without amendment",
			setup:  func(b *models.Booking) { b.Status = enums.BookingStatusConfirmed },
			change: StatusChange{To: enums.BookingStatusModified, Source: enums.SourceAdmin, At: now},
			rule:   RuleNoAmendment,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := booking(enums.BookingStatusPending)
			tc.setup(b)
			before := b.Status
			_, err := Transition(b, tc.change, DefaultPolicy)
			require.Error(t, err)
			assert.Equal(t, pkgerrors.CodeInvalidTransition, pkgerrors.CodeOf(err))
			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			details, ok := typed.Details().(map[string]any)
			require.True(t, ok)
			assert.Equal(t, tc.rule, details["rule"])
			assert.Equal(t, before, b.Status)
			assert.Empty(t, b.StatusHistory)
		})
	}
}

func TestTransitionOverrides(t *testing.T) {
	now := checkIn.Add(-72 * time.Hour)

	b := booking(enums.BookingStatusConfirmed)
	_, err := Transition(b, StatusChange{To: enums.BookingStatusCheckedIn, Source: enums.SourceAdmin, At: now, Options: Options{EarlyCheckIn: true}}, DefaultPolicy)
	require.NoError(t, err)

	b = booking(enums.BookingStatusConfirmed)
	_, err = Transition(b, StatusChange{To: enums.BookingStatusCancelled, Source: enums.SourceOTA, At: checkIn.Add(-time.Hour), Options: Options{BypassCancellationPolicy: true}}, DefaultPolicy)
	require.NoError(t, err)

	b = booking(enums.BookingStatusConfirmed)
	_, err = Transition(b, StatusChange{To: enums.BookingStatusNoShow, Source: enums.SourceAdmin, At: checkIn, Options: Options{ManualNoShow: true}}, DefaultPolicy)
	require.NoError(t, err)

	b = booking(enums.BookingStatusConfirmed)
	_, err = Transition(b, StatusChange{To: enums.BookingStatusModified, Source: enums.SourceAdmin, At: now, Options: Options{ForceModified: true}}, DefaultPolicy)
	require.NoError(t, err)

	b = booking(enums.BookingStatusModified)
	b.AmendmentFlags.HasActivePendingAmendments = true
	_, err = Transition(b, StatusChange{To: enums.BookingStatusConfirmed, Source: enums.SourceSystem, At: now, Options: Options{BypassAmendmentCheck: true}}, DefaultPolicy)
	require.NoError(t, err)

	// staff may cancel inside the guest window
	b = booking(enums.BookingStatusConfirmed)
	_, err = Transition(b, StatusChange{To: enums.BookingStatusCancelled, Source: enums.SourceAdmin, At: checkIn.Add(-time.Hour)}, DefaultPolicy)
	require.NoError(t, err)
}

func TestTransitionEffects(t *testing.T) {
	now := checkIn.Add(-72 * time.Hour)

	t.Run("confirm ota booking", func(t *testing.T) {
		b := booking(enums.BookingStatusPending)
		b.Source = "booking_com"
		until := now.Add(10 * time.Minute)
		b.ReservedUntil = &until
		fx, err := Transition(b, StatusChange{To: enums.BookingStatusConfirmed, Source: enums.SourceOTA, At: now}, DefaultPolicy)
		require.NoError(t, err)
		assert.Equal(t, Effects{NeedsSync: true}, fx)
		assert.Nil(t, b.ReservedUntil)
		assert.True(t, b.NeedsSync)
	})

	t.Run("confirm direct booking", func(t *testing.T) {
		b := booking(enums.BookingStatusPending)
		fx, err := Transition(b, StatusChange{To: enums.BookingStatusConfirmed, Source: enums.SourceDirect, At: now}, DefaultPolicy)
		require.NoError(t, err)
		assert.Equal(t, Effects{}, fx)
	})

	t.Run("cancel paid booking", func(t *testing.T) {
		b := booking(enums.BookingStatusConfirmed)
		b.PaymentStatus = enums.PaymentStatusPaid
		fx, err := Transition(b, StatusChange{To: enums.BookingStatusCancelled, Source: enums.SourceGuest, Reason: "plans changed", At: now}, DefaultPolicy)
		require.NoError(t, err)
		assert.Equal(t, Effects{NeedsRelease: true, NeedsRefund: true, NeedsSync: true}, fx)
		require.NotNil(t, b.CancellationReason)
		assert.Equal(t, "plans changed", *b.CancellationReason)
	})

	t.Run("check in then out", func(t *testing.T) {
		b := booking(enums.BookingStatusConfirmed)
		fx, err := Transition(b, StatusChange{To: enums.BookingStatusCheckedIn, Source: enums.SourceAdmin, At: checkIn.Add(14 * time.Hour)}, DefaultPolicy)
		require.NoError(t, err)
		assert.Equal(t, Effects{NeedsRoomStatusUpdate: true}, fx)
		require.NotNil(t, b.ActualCheckIn)

		fx, err = Transition(b, StatusChange{To: enums.BookingStatusCheckedOut, Source: enums.SourceAdmin, At: checkIn.AddDate(0, 0, 2).Add(10 * time.Hour)}, DefaultPolicy)
		require.NoError(t, err)
		assert.Equal(t, Effects{NeedsFinalBilling: true, NeedsAutomation: true}, fx)
		require.NotNil(t, b.ActualCheckOut)
		assert.True(t, HistoryConsistent(b.StatusHistory))
		require.Len(t, b.StatusHistory, 2)
		assert.True(t, b.StatusHistory[1].Validated)
	})

	t.Run("automation opt out", func(t *testing.T) {
		b := booking(enums.BookingStatusCheckedIn)
		b.AutomationOptOut = true
		fx, err := Transition(b, StatusChange{To: enums.BookingStatusCheckedOut, Source: enums.SourceSystem, Automatic: true, At: now}, DefaultPolicy)
		require.NoError(t, err)
		assert.False(t, fx.NeedsAutomation)
		assert.True(t, b.StatusHistory[0].Automatic)
	})

	t.Run("no show", func(t *testing.T) {
		b := booking(enums.BookingStatusConfirmed)
		fx, err := Transition(b, StatusChange{To: enums.BookingStatusNoShow, Source: enums.SourceSystem, At: checkIn.Add(3 * time.Hour)}, DefaultPolicy)
		require.NoError(t, err)
		assert.Equal(t, Effects{NeedsPenalty: true}, fx)
		require.NotNil(t, b.NoShowRecordedAt)
	})

	t.Run("expired hold cancelled by system", func(t *testing.T) {
		b := booking(enums.BookingStatusPending)
		until := now.Add(-time.Minute)
		b.ReservedUntil = &until
		fx, err := Transition(b, StatusChange{To: enums.BookingStatusCancelled, Source: enums.SourceSystem, At: now}, DefaultPolicy)
		require.NoError(t, err)
		assert.True(t, fx.NeedsRelease)
		assert.Nil(t, b.ReservedUntil)
	})
}

func TestCancelRejectsPendingAmendments(t *testing.T) {
	b := booking(enums.BookingStatusModified)
	b.AmendmentFlags.HasActivePendingAmendments = true
	b.AmendmentFlags.RequiresReconfirmation = true
	b.OTAAmendments = []models.OTAAmendment{
		{Status: enums.AmendmentApproved},
		{Status: enums.AmendmentPending},
	}
	now := checkIn.AddDate(0, 0, -5)

	_, err := Transition(b, StatusChange{To: enums.BookingStatusCancelled, Source: enums.SourceAdmin, At: now}, DefaultPolicy)
	require.NoError(t, err)
	assert.Equal(t, enums.AmendmentApproved, b.OTAAmendments[0].Status)
	assert.Equal(t, enums.AmendmentRejected, b.OTAAmendments[1].Status)
	assert.Equal(t, "booking cancelled", b.OTAAmendments[1].RejectionReason)
	require.NotNil(t, b.OTAAmendments[1].ResolvedAt)
	assert.Empty(t, b.PendingAmendments())
	assert.False(t, b.AmendmentFlags.HasActivePendingAmendments)
	assert.False(t, b.AmendmentFlags.RequiresReconfirmation)
}

func TestHistoryConsistent(t *testing.T) {
	at := checkIn
	ok := []models.StatusHistoryEntry{
		{To: enums.BookingStatusPending, At: at},
		{From: enums.BookingStatusPending, To: enums.BookingStatusConfirmed, At: at.Add(time.Minute)},
		{From: enums.BookingStatusConfirmed, To: enums.BookingStatusCancelled, At: at.Add(time.Hour)},
	}
	assert.True(t, HistoryConsistent(ok))

	skipped := []models.StatusHistoryEntry{
		{To: enums.BookingStatusPending, At: at},
		{From: enums.BookingStatusPending, To: enums.BookingStatusCheckedIn, At: at.Add(time.Minute)},
	}
	assert.False(t, HistoryConsistent(skipped))

	backwards := []models.StatusHistoryEntry{
		{To: enums.BookingStatusPending, At: at},
		{From: enums.BookingStatusPending, To: enums.BookingStatusConfirmed, At: at.Add(-time.Minute)},
	}
	assert.False(t, HistoryConsistent(backwards))
}
