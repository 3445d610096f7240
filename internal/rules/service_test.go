package rules

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/channelcore-backend/internal/audit"
	"github.com/angelmondragon/channelcore-backend/pkg/db/dbtest"
	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelcore-backend/pkg/errors"
	"github.com/angelmondragon/channelcore-backend/pkg/types"
)

type recordingListener struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (l *recordingListener) RulesChanged(_ context.Context, hotelID uuid.UUID, _ []uuid.UUID, _, _ time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, hotelID)
	return nil
}

func newRulesService(t *testing.T) (*service, audit.Service) {
	t.Helper()
	conn := dbtest.Open(t)
	auditSvc, err := audit.NewService(audit.NewRepository(conn))
	require.NoError(t, err)
	svc, err := NewService(NewRepository(conn), auditSvc, nil)
	require.NoError(t, err)
	impl := svc.(*service)
	impl.now = func() time.Time { return day(2025, 3, 1) }
	return impl, auditSvc
}

func TestEvaluateAllowanceAndRestrictions(t *testing.T) {
	ctx := context.Background()
	svc, auditSvc := newRulesService(t)
	listener := &recordingListener{}
	svc.SetChangeListener(listener)
	hotelID, roomTypeID := uuid.New(), uuid.New()

	_, err := svc.CreateOverbookingRule(ctx, OverbookingRuleInput{
		HotelID:               hotelID,
		RoomTypeID:            roomTypeID,
		MaxOverbookingPercent: 20,
	})
	require.NoError(t, err)

	rule, err := svc.CreateStopSellRule(ctx, StopSellRuleInput{
		HotelID:      hotelID,
		Name:         "festival",
		Type:         enums.RuleStopSell,
		Priority:     9,
		StartDate:    day(2025, 3, 11),
		EndDate:      day(2025, 3, 11),
		AllRoomTypes: true,
		AllChannels:  true,
	})
	require.NoError(t, err)
	require.NotNil(t, rule.Action.StopSell, "stop_sell rules default their action")

	span, err := types.NewDateRange(day(2025, 3, 10), day(2025, 3, 13))
	require.NoError(t, err)
	evaluated, err := svc.Evaluate(ctx, hotelID, roomTypeID, span, "booking.com")
	require.NoError(t, err)
	require.Len(t, evaluated, 3)

	d10 := evaluated["2025-03-10"]
	assert.InDelta(t, 20.0, d10.AllowancePct, 1e-9)
	assert.Equal(t, 1, d10.Allowance(5))
	assert.False(t, d10.Restrictions.StopSell)
	assert.True(t, evaluated["2025-03-11"].Restrictions.StopSell)

	allowance, err := svc.EffectiveAllowance(ctx, hotelID, roomTypeID, day(2025, 3, 10), "", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, allowance)

	state, err := svc.StopSellState(ctx, hotelID, roomTypeID, day(2025, 3, 11), ChannelDirect)
	require.NoError(t, err)
	assert.True(t, state.Restrictions.StopSell)
	assert.Equal(t, []uuid.UUID{rule.ID}, state.MatchedRuleIDs)

	assert.Len(t, listener.calls, 2)

	logs, err := auditSvc.ListByRecord(ctx, audit.TableRules, rule.ID.String())
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestDeactivateStopSellRule(t *testing.T) {
	ctx := context.Background()
	svc, _ := newRulesService(t)
	hotelID := uuid.New()

	rule, err := svc.CreateStopSellRule(ctx, StopSellRuleInput{
		HotelID:      hotelID,
		Name:         "closed",
		Type:         enums.RuleClosedToArrival,
		StartDate:    day(2025, 3, 1),
		EndDate:      day(2025, 3, 31),
		AllRoomTypes: true,
		Channels:     []string{"expedia"},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, rule.Priority)

	require.NoError(t, svc.DeactivateStopSellRule(ctx, rule.ID))
	active, err := svc.ListStopSellRules(ctx, hotelID, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := svc.ListStopSellRules(ctx, hotelID, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	err = svc.DeactivateStopSellRule(ctx, uuid.New())
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestStopSellRuleValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newRulesService(t)
	base := StopSellRuleInput{
		HotelID:      uuid.New(),
		Name:         "los",
		Type:         enums.RuleMinLOS,
		StartDate:    day(2025, 3, 1),
		EndDate:      day(2025, 3, 2),
		AllRoomTypes: true,
		AllChannels:  true,
	}

	_, err := svc.CreateStopSellRule(ctx, base)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err), "min_los rule without minLOS")

	bad := base
	bad.Action = models.RuleAction{MinLOS: types.IntPtr(5), MaxLOS: types.IntPtr(2)}
	_, err = svc.CreateStopSellRule(ctx, bad)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	reversed := base
	reversed.Action = models.RuleAction{MinLOS: types.IntPtr(2)}
	reversed.EndDate = day(2025, 2, 1)
	_, err = svc.CreateStopSellRule(ctx, reversed)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	noSelector := base
	noSelector.Action = models.RuleAction{MinLOS: types.IntPtr(2)}
	noSelector.AllChannels = false
	_, err = svc.CreateStopSellRule(ctx, noSelector)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestUpdateAndDeleteOverbookingRule(t *testing.T) {
	ctx := context.Background()
	svc, _ := newRulesService(t)
	hotelID, roomTypeID := uuid.New(), uuid.New()

	rule, err := svc.CreateOverbookingRule(ctx, OverbookingRuleInput{HotelID: hotelID, RoomTypeID: roomTypeID, MaxOverbookingPercent: 10})
	require.NoError(t, err)

	_, err = svc.UpdateOverbookingRule(ctx, rule.ID, OverbookingRuleInput{
		HotelID:               hotelID,
		RoomTypeID:            roomTypeID,
		MaxOverbookingPercent: 40,
		ChannelOverrides:      []models.ChannelOverride{{Channel: "expedia", MaxOverbookingPercent: 0}},
	})
	require.NoError(t, err)

	got, err := svc.EffectiveAllowance(ctx, hotelID, roomTypeID, day(2025, 3, 10), "expedia", 10)
	require.NoError(t, err)
	assert.Zero(t, got)
	got, err = svc.EffectiveAllowance(ctx, hotelID, roomTypeID, day(2025, 3, 10), ChannelDirect, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, got)

	_, err = svc.CreateOverbookingRule(ctx, OverbookingRuleInput{HotelID: hotelID, RoomTypeID: roomTypeID, MaxOverbookingPercent: 150})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	require.NoError(t, svc.DeleteOverbookingRule(ctx, rule.ID))
	got, err = svc.EffectiveAllowance(ctx, hotelID, roomTypeID, day(2025, 3, 10), ChannelDirect, 10)
	require.NoError(t, err)
	assert.Zero(t, got)
}
