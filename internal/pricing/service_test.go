package pricing_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/channelcore-backend/internal/audit"
	"github.com/angelmondragon/channelcore-backend/internal/inventory"
	"github.com/angelmondragon/channelcore-backend/internal/pricing"
	"github.com/angelmondragon/channelcore-backend/internal/rules"
	"github.com/angelmondragon/channelcore-backend/pkg/db"
	"github.com/angelmondragon/channelcore-backend/pkg/db/dbtest"
	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelcore-backend/pkg/errors"
	"github.com/angelmondragon/channelcore-backend/pkg/logger"
	"github.com/angelmondragon/channelcore-backend/pkg/outbox"
	"github.com/angelmondragon/channelcore-backend/pkg/types"
)

type pricingFixture struct {
	conn     *gorm.DB
	svc      *pricing.Service
	ledger   *inventory.Ledger
	hotelID  uuid.UUID
	roomType models.RoomType
	today    time.Time
}

// newPricingFixture prices a single night: today, fully sold.
func newPricingFixture(t *testing.T) *pricingFixture {
	t.Helper()
	ctx := context.Background()
	conn := dbtest.Open(t)
	hotel := models.Hotel{Name: "Harbour"}
	require.NoError(t, conn.Create(&hotel).Error)
	rt := models.RoomType{HotelID: hotel.ID, Name: "Suite", BasePrice: decimal.NewFromInt(5000), DefaultTotalRooms: 50, Currency: "USD"}
	require.NoError(t, conn.Create(&rt).Error)

	auditSvc, err := audit.NewService(audit.NewRepository(conn))
	require.NoError(t, err)
	rulesSvc, err := rules.NewService(rules.NewRepository(conn), nil, nil)
	require.NoError(t, err)
	ledger, err := inventory.NewLedger(inventory.NewRepository(conn), db.Wrap(conn), rulesSvc, auditSvc, outbox.NewService(outbox.NewRepository(conn), nil), nil)
	require.NoError(t, err)

	today := types.Day(time.Now().UTC())
	require.NoError(t, ledger.EnsureRows(ctx, hotel.ID, rt.ID, types.DateRange{From: today, To: types.AddDays(today, 1)}))
	require.NoError(t, conn.Model(&models.AvailabilityRow{}).Where("room_type_id = ?", rt.ID).Update("sold_rooms", 50).Error)

	svc, err := pricing.NewService(pricing.Deps{
		Repo:     pricing.NewRepository(conn),
		Ledger:   ledger,
		Logger:   logger.New(logger.Options{ServiceName: "pricing-test", Level: logger.ParseLevel("error")}),
		Settings: pricing.Settings{HorizonDays: 1, AutoApply: true},
	})
	require.NoError(t, err)
	return &pricingFixture{conn: conn, svc: svc, ledger: ledger, hotelID: hotel.ID, roomType: rt, today: today}
}

func (f *pricingFixture) row(t *testing.T) models.AvailabilityRow {
	t.Helper()
	rows, err := f.ledger.Rows(context.Background(), f.hotelID, f.roomType.ID, types.DateRange{From: f.today, To: types.AddDays(f.today, 1)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0]
}

func TestRunHotelWithoutSignalsWritesNothing(t *testing.T) {
	f := newPricingFixture(t)
	ctx := context.Background()

	report, err := f.svc.RunHotel(ctx, f.hotelID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Evaluated)
	assert.Equal(t, 0, report.Applied)
	assert.Equal(t, 1, report.Skipped)

	row := f.row(t)
	assert.False(t, row.Dirty)
	assert.True(t, decimal.NewFromInt(5000).Equal(row.SellingRate))

	recs, err := f.svc.Recommendations(ctx, f.hotelID, nil, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Applied)
	assert.Equal(t, pricing.SkipBelowMinChange, recs[0].SkipReason)

	var forecasts []models.DemandForecast
	require.NoError(t, f.conn.Where("room_type_id = ?", f.roomType.ID).Find(&forecasts).Error)
	require.Len(t, forecasts, 1, "a missing forecast is generated and stored")
	assert.Equal(t, "heuristic", forecasts[0].Source)
}

func TestRunHotelAppliesConfidentStrategy(t *testing.T) {
	f := newPricingFixture(t)
	ctx := context.Background()
	rate := decimal.NewFromInt(5200)
	strategy, err := f.svc.CreateStrategy(ctx, pricing.StrategyInput{
		HotelID:    f.hotelID,
		Name:       "flat summer",
		Type:       enums.StrategyFixed,
		Priority:   5,
		Parameters: models.StrategyParameters{FixedRate: &rate},
	})
	require.NoError(t, err)

	report, err := f.svc.RunHotel(ctx, f.hotelID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)

	row := f.row(t)
	assert.True(t, rate.Equal(row.SellingRate), "got %s", row.SellingRate)
	assert.True(t, row.Dirty)
	require.NotNil(t, row.LastPriceUpdate)

	recs, err := f.svc.Recommendations(ctx, f.hotelID, &f.roomType.ID, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Applied)
	require.NotNil(t, recs[0].StrategyID)
	assert.Equal(t, strategy.ID, *recs[0].StrategyID)
	assert.Equal(t, 76.8, recs[0].Score)
}

func TestRunHotelFollowsTrustedCompetitors(t *testing.T) {
	f := newPricingFixture(t)
	ctx := context.Background()
	_, err := f.svc.RecordCompetitorRate(ctx, pricing.CompetitorRateInput{
		HotelID: f.hotelID, RoomTypeID: f.roomType.ID, Competitor: "Seaview", Date: f.today,
		Rate: decimal.NewFromInt(5600), Currency: "usd", Confidence: 90,
	})
	require.NoError(t, err)
	_, err = f.svc.RecordCompetitorRate(ctx, pricing.CompetitorRateInput{
		HotelID: f.hotelID, RoomTypeID: f.roomType.ID, Competitor: "Budget", Date: f.today,
		Rate: decimal.NewFromInt(1000), Confidence: 20,
	})
	require.NoError(t, err)

	_, err = f.svc.RunHotel(ctx, f.hotelID)
	require.NoError(t, err)

	row := f.row(t)
	assert.True(t, decimal.NewFromInt(5320).Equal(row.SellingRate), "got %s", row.SellingRate)

	recs, err := f.svc.Recommendations(ctx, f.hotelID, nil, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, pricing.PositionUnderpriced, recs[0].Position)
}

func TestRunHotelLowScoreIsRecordedNotApplied(t *testing.T) {
	f := newPricingFixture(t)
	ctx := context.Background()
	require.NoError(t, f.conn.Model(&models.AvailabilityRow{}).Where("room_type_id = ?", f.roomType.ID).Update("sold_rooms", 25).Error)
	rate := decimal.NewFromInt(5500)
	_, err := f.svc.CreateStrategy(ctx, pricing.StrategyInput{HotelID: f.hotelID, Name: "bump", Type: enums.StrategyFixed, Parameters: models.StrategyParameters{FixedRate: &rate}})
	require.NoError(t, err)

	report, err := f.svc.RunHotel(ctx, f.hotelID)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Applied)

	row := f.row(t)
	assert.False(t, row.Dirty)
	assert.True(t, decimal.NewFromInt(5000).Equal(row.SellingRate))

	recs, err := f.svc.Recommendations(ctx, f.hotelID, nil, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, pricing.SkipBelowScore, recs[0].SkipReason)
	assert.Less(t, recs[0].Score, 70.0)
}

func TestStrategyValidation(t *testing.T) {
	f := newPricingFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateStrategy(ctx, pricing.StrategyInput{HotelID: f.hotelID, Name: "empty", Type: enums.StrategyFixed})
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = f.svc.CreateStrategy(ctx, pricing.StrategyInput{HotelID: f.hotelID, Name: "bogus", Type: "astrology"})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	lo, hi := decimal.NewFromInt(300), decimal.NewFromInt(200)
	_, err = f.svc.CreateStrategy(ctx, pricing.StrategyInput{
		HotelID: f.hotelID, Name: "inverted", Type: enums.StrategySeasonal, MinRate: &lo, MaxRate: &hi,
		Parameters: models.StrategyParameters{SeasonalPeriods: []models.SeasonalPeriod{{From: f.today, To: f.today, Multiplier: 1.1}}},
	})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	s, err := f.svc.CreateStrategy(ctx, pricing.StrategyInput{
		HotelID: f.hotelID, Name: "weekend", Type: enums.StrategyDayOfWeek,
		Parameters: models.StrategyParameters{DayOfWeekMultipliers: map[int]float64{5: 1.2, 6: 1.25}},
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.DeactivateStrategy(ctx, s.ID))

	list, err := f.svc.ListStrategies(ctx, f.hotelID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Active)
	assert.Equal(t, map[int]float64{5: 1.2, 6: 1.25}, list[0].Parameters.DayOfWeekMultipliers)

	err = f.svc.DeactivateStrategy(ctx, uuid.New())
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestRunAllCoversEveryHotel(t *testing.T) {
	f := newPricingFixture(t)
	other := models.Hotel{Name: "Inland"}
	require.NoError(t, f.conn.Create(&other).Error)

	report, err := f.svc.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.RoomTypes)
	assert.Equal(t, 1, report.Evaluated)
}
