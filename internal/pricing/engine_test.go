package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	"github.com/angelmondragon/channelcore-backend/pkg/redis"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

var (
	today   = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC) // a Monday
	stayDay = today.AddDate(0, 0, 3)
)

func testRoomType() *models.RoomType {
	return &models.RoomType{ID: uuid.New(), BasePrice: dec("100")}
}

func testRow(rt *models.RoomType, total, sold int) models.AvailabilityRow {
	return models.AvailabilityRow{RoomTypeID: rt.ID, Date: stayDay, TotalRooms: total, SoldRooms: sold, SellingRate: dec("100")}
}

func TestEvaluateWithoutSignalsHoldsRate(t *testing.T) {
	rt := testRoomType()
	rec := Evaluate(Input{RoomType: rt, Row: testRow(rt, 10, 5), Today: today})

	assert.True(t, dec("100").Equal(rec.RecommendedRate))
	assert.Nil(t, rec.StrategyID)
	assert.Equal(t, 50.0, rec.CurrentOccupancy)
	assert.Equal(t, 0.0, rec.PriceChangePct)
	assert.Equal(t, 60.0, rec.Score)
	assert.Empty(t, rec.Position)
}

func TestEvaluatePicksHighestPriorityStrategyThatYields(t *testing.T) {
	rt := testRoomType()
	weekdayOnly := models.PricingStrategy{
		ID: uuid.New(), Type: enums.StrategyDayOfWeek, Priority: 9, Active: true,
		Parameters: models.StrategyParameters{DayOfWeekMultipliers: map[int]float64{int(time.Saturday): 1.5}},
	}
	fixed := models.PricingStrategy{ID: uuid.New(), Type: enums.StrategyFixed, Priority: 5, Active: true, Parameters: models.StrategyParameters{FixedRate: decPtr("120")}}
	occupancy := models.PricingStrategy{
		ID: uuid.New(), Type: enums.StrategyOccupancyBased, Priority: 1, Active: true,
		Parameters: models.StrategyParameters{OccupancyTiers: []models.OccupancyTier{{MinOccupancy: 0, Multiplier: 0.9}, {MinOccupancy: 40, Multiplier: 1.1}}},
	}
	otherRoom := models.PricingStrategy{ID: uuid.New(), Type: enums.StrategyFixed, Priority: 10, Active: true, RoomTypeIDs: []uuid.UUID{uuid.New()}, Parameters: models.StrategyParameters{FixedRate: decPtr("999")}}

	rec := Evaluate(Input{RoomType: rt, Row: testRow(rt, 10, 5), Today: today, Strategies: []models.PricingStrategy{occupancy, fixed, weekdayOnly, otherRoom}})
	require.NotNil(t, rec.StrategyID)
	assert.Equal(t, fixed.ID, *rec.StrategyID)
	assert.True(t, dec("120").Equal(rec.StrategicRate))

	rec = Evaluate(Input{RoomType: rt, Row: testRow(rt, 10, 5), Today: today, Strategies: []models.PricingStrategy{occupancy}})
	assert.True(t, dec("110").Equal(rec.StrategicRate), "highest reached occupancy tier wins, got %s", rec.StrategicRate)
}

func TestEvaluateLeadTimeAndSeasonal(t *testing.T) {
	rt := testRoomType()
	lead := models.PricingStrategy{
		ID: uuid.New(), Type: enums.StrategyLeadTime, Active: true,
		Parameters: models.StrategyParameters{LeadTimeTiers: []models.LeadTimeTier{{MaxDays: 30, Multiplier: 1.05}, {MaxDays: 7, Multiplier: 1.2}}},
	}
	rec := Evaluate(Input{RoomType: rt, Row: testRow(rt, 10, 5), Today: today, Strategies: []models.PricingStrategy{lead}})
	assert.True(t, dec("120").Equal(rec.StrategicRate), "tightest matching tier, got %s", rec.StrategicRate)

	season := models.PricingStrategy{
		ID: uuid.New(), Type: enums.StrategySeasonal, Active: true,
		Parameters: models.StrategyParameters{SeasonalPeriods: []models.SeasonalPeriod{{From: today, To: stayDay, Multiplier: 1.3}}},
	}
	rec = Evaluate(Input{RoomType: rt, Row: testRow(rt, 10, 5), Today: today, Strategies: []models.PricingStrategy{season}})
	assert.True(t, dec("130").Equal(rec.StrategicRate), "period end is inclusive, got %s", rec.StrategicRate)
}

func TestEvaluateDemandAdjustment(t *testing.T) {
	rt := testRoomType()
	cases := []struct {
		predicted float64
		want      string
	}{
		{62, "15"},
		{57, "8"},
		{55, "0"},
		{44, "-6"},
		{38, "-12"},
	}
	for _, tc := range cases {
		rec := Evaluate(Input{RoomType: rt, Row: testRow(rt, 10, 5), Today: today, Forecast: &models.DemandForecast{PredictedOccupancy: tc.predicted}})
		assert.True(t, dec(tc.want).Equal(rec.DemandAdjustment), "predicted %.0f: got %s", tc.predicted, rec.DemandAdjustment)
	}

	rec := Evaluate(Input{RoomType: rt, Row: testRow(rt, 10, 5), Today: today, Forecast: &models.DemandForecast{PredictedOccupancy: 62}})
	assert.True(t, dec("115").Equal(rec.RecommendedRate))
	assert.Equal(t, 15.0, rec.PriceChangePct)
	assert.Equal(t, 38.0, rec.ProjectedOccupancy)
	assert.True(t, dec("-63").Equal(rec.RevenueImpact), "got %s", rec.RevenueImpact)
	assert.Equal(t, 49.37, rec.Score)
}

func TestEvaluateCompetitorPosition(t *testing.T) {
	rt := testRoomType()
	under := []models.CompetitorRate{
		{Rate: dec("130"), Confidence: 80},
		{Rate: dec("150"), Confidence: 90},
		{Rate: dec("60"), Confidence: 10},
	}
	rec := Evaluate(Input{RoomType: rt, Row: testRow(rt, 10, 5), Today: today, Competitors: under})
	assert.Equal(t, PositionUnderpriced, rec.Position)
	assert.True(t, dec("33").Equal(rec.CompetitorAdjustment), "got %s", rec.CompetitorAdjustment)

	over := []models.CompetitorRate{{Rate: dec("80"), Confidence: 75}}
	rec = Evaluate(Input{RoomType: rt, Row: testRow(rt, 10, 5), Today: today, Competitors: over})
	assert.Equal(t, PositionOverpriced, rec.Position)
	assert.True(t, dec("-12").Equal(rec.CompetitorAdjustment), "got %s", rec.CompetitorAdjustment)

	even := []models.CompetitorRate{{Rate: dec("105"), Confidence: 75}}
	rec = Evaluate(Input{RoomType: rt, Row: testRow(rt, 10, 5), Today: today, Competitors: even})
	assert.Equal(t, PositionCompetitive, rec.Position)
	assert.True(t, rec.CompetitorAdjustment.IsZero())
}

func TestEvaluateClampsToBounds(t *testing.T) {
	rt := testRoomType()
	fixed := models.PricingStrategy{ID: uuid.New(), Type: enums.StrategyFixed, Active: true, Parameters: models.StrategyParameters{FixedRate: decPtr("1000")}}
	rec := Evaluate(Input{RoomType: rt, Row: testRow(rt, 10, 5), Today: today, Strategies: []models.PricingStrategy{fixed}})
	assert.True(t, dec("300").Equal(rec.RecommendedRate), "hard ceiling is 3x base, got %s", rec.RecommendedRate)

	fixed.MaxRate = decPtr("250")
	rec = Evaluate(Input{RoomType: rt, Row: testRow(rt, 10, 5), Today: today, Strategies: []models.PricingStrategy{fixed}})
	assert.True(t, dec("250").Equal(rec.RecommendedRate))

	low := models.PricingStrategy{ID: uuid.New(), Type: enums.StrategyFixed, Active: true, Parameters: models.StrategyParameters{FixedRate: decPtr("10")}}
	rec = Evaluate(Input{RoomType: rt, Row: testRow(rt, 10, 5), Today: today, Strategies: []models.PricingStrategy{low}})
	assert.True(t, dec("70").Equal(rec.RecommendedRate), "hard floor is 0.7x base, got %s", rec.RecommendedRate)
}

func TestSkipReason(t *testing.T) {
	s := &Service{settings: Settings{AutoApply: true}.withDefaults()}

	assert.Equal(t, SkipBelowMinChange, s.skipReason(Recommendation{PriceChangePct: 1.5, Score: 90}))
	assert.Equal(t, SkipBelowScore, s.skipReason(Recommendation{PriceChangePct: 4, Score: 55}))
	assert.Equal(t, "", s.skipReason(Recommendation{PriceChangePct: -4, Score: 70}))

	s.settings.AutoApply = false
	assert.Equal(t, SkipAutoApplyOff, s.skipReason(Recommendation{PriceChangePct: 4, Score: 90}))
}

func TestHeuristicForecast(t *testing.T) {
	rt := testRoomType()
	row := testRow(rt, 10, 5)
	f := heuristicForecast(row, today)
	assert.Equal(t, 54.5, f.PredictedOccupancy)
	assert.Equal(t, forecastSource, f.Source)

	row.Date = today.AddDate(0, 0, 62) // a Sunday
	assert.Equal(t, 90.0, heuristicForecast(row, today).PredictedOccupancy)

	assert.True(t, stale(nil, today, time.Hour))
	assert.False(t, stale(&models.DemandForecast{UpdatedAt: today}, today.Add(30*time.Minute), time.Hour))
	assert.True(t, stale(&models.DemandForecast{UpdatedAt: today}, today.Add(2*time.Hour), time.Hour))
}

type refusingLocker struct{}

func (refusingLocker) TryAcquire(ctx context.Context, id string) (*redis.Lease, bool, error) {
	return nil, false, nil
}

func TestHotelGuard(t *testing.T) {
	ctx := context.Background()
	hotelID := uuid.New()
	g := newHotelGuard(nil)

	release, ok, err := g.acquire(ctx, hotelID)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = g.acquire(ctx, hotelID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, _ = g.acquire(ctx, uuid.New())
	assert.True(t, ok, "other hotels are not blocked")

	release(ctx)
	_, ok, _ = g.acquire(ctx, hotelID)
	assert.True(t, ok)

	remote := newHotelGuard(refusingLocker{})
	_, ok, err = remote.acquire(ctx, hotelID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, remote.running, "local claim is dropped when the shared lease is held elsewhere")
}
