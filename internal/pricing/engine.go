package pricing

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/channelcore-backend/internal/inventory"
	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	"github.com/angelmondragon/channelcore-backend/pkg/types"
)

// Competitive positions.
const (
	PositionUnderpriced = "underpriced"
	PositionOverpriced  = "overpriced"
	PositionCompetitive = "competitive"
)

const (
	priceElasticity       = -0.8
	minCompetitorQuality  = 70.0
	baseScore             = 50.0
	maxRevenueScoreImpact = 30.0
)

var (
	hundred            = decimal.NewFromInt(100)
	underpricedTrigger = decimal.RequireFromString("0.9")
	overpricedTrigger  = decimal.RequireFromString("1.15")
	underpricedTarget  = decimal.RequireFromString("0.95")
	overpricedTarget   = decimal.RequireFromString("1.10")
)

// Input is everything the engine reads for one (room type, date).
type Input struct {
	RoomType    *models.RoomType
	Row         models.AvailabilityRow
	Today       time.Time
	Strategies  []models.PricingStrategy
	Forecast    *models.DemandForecast
	Competitors []models.CompetitorRate
}

// Recommendation is the engine's verdict for one (room type, date).
type Recommendation struct {
	Date                 time.Time
	StrategyID           *uuid.UUID
	CurrentRate          decimal.Decimal
	StrategicRate        decimal.Decimal
	DemandAdjustment     decimal.Decimal
	CompetitorAdjustment decimal.Decimal
	RecommendedRate      decimal.Decimal
	PriceChangePct       float64
	CurrentOccupancy     float64
	ProjectedOccupancy   float64
	RevenueImpact        decimal.Decimal
	Score                float64
	Position             string
}

// Evaluate computes a recommended rate. It never touches storage.
func Evaluate(in Input) Recommendation {
	rt := in.RoomType
	day := types.Day(in.Row.Date)
	current := in.Row.SellingRate
	if !current.IsPositive() {
		current = rt.BasePrice
	}
	rec := Recommendation{
		Date:             day,
		CurrentRate:      current,
		CurrentOccupancy: Occupancy(in.Row),
	}

	strategy, strategic := pickStrategy(in.Strategies, rt, day, types.Day(in.Today), rec.CurrentOccupancy)
	if strategy != nil {
		id := strategy.ID
		rec.StrategyID = &id
	} else {
		strategic = current
	}
	rec.StrategicRate = strategic.Round(2)

	if in.Forecast != nil {
		rec.DemandAdjustment = demandAdjustment(rec.StrategicRate, in.Forecast.PredictedOccupancy-rec.CurrentOccupancy)
	} else {
		rec.DemandAdjustment = decimal.Zero
	}
	rec.CompetitorAdjustment, rec.Position = competitorAdjustment(rt.BasePrice, in.Competitors)

	sum := rec.StrategicRate.Add(rec.DemandAdjustment).Add(rec.CompetitorAdjustment)
	var lo, hi *decimal.Decimal
	if strategy != nil {
		lo, hi = strategy.MinRate, strategy.MaxRate
	}
	rec.RecommendedRate = inventory.ClampRate(sum, rt, lo, hi)

	rec.PriceChangePct = changePct(rec.RecommendedRate, current)
	rec.ProjectedOccupancy = clamp(rec.CurrentOccupancy+priceElasticity*rec.PriceChangePct, 0, 100)

	rooms := decimal.NewFromInt(int64(in.Row.TotalRooms))
	before := current.Mul(decimal.NewFromFloat(rec.CurrentOccupancy)).Div(hundred).Mul(rooms)
	after := rec.RecommendedRate.Mul(decimal.NewFromFloat(rec.ProjectedOccupancy)).Div(hundred).Mul(rooms)
	rec.RevenueImpact = after.Sub(before).Round(2)
	rec.Score = score(rec.RevenueImpact, rec.PriceChangePct)
	return rec
}

// Occupancy is sold rooms as a percent of total rooms.
func Occupancy(row models.AvailabilityRow) float64 {
	if row.TotalRooms <= 0 {
		return 0
	}
	return round2(float64(row.SoldRooms) / float64(row.TotalRooms) * 100)
}

// pickStrategy returns the highest-priority active strategy that yields a rate.
func pickStrategy(strategies []models.PricingStrategy, rt *models.RoomType, day, today time.Time, occupancy float64) (*models.PricingStrategy, decimal.Decimal) {
	ordered := make([]models.PricingStrategy, len(strategies))
	copy(ordered, strategies)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})
	for i := range ordered {
		s := &ordered[i]
		if !applies(s, rt.ID, day) {
			continue
		}
		if rate, ok := strategyRate(s, rt.BasePrice, day, today, occupancy); ok {
			return s, rate
		}
	}
	return nil, decimal.Zero
}

func applies(s *models.PricingStrategy, roomTypeID uuid.UUID, day time.Time) bool {
	if !s.Active {
		return false
	}
	if s.ValidFrom != nil && day.Before(types.Day(*s.ValidFrom)) {
		return false
	}
	if s.ValidTo != nil && day.After(types.Day(*s.ValidTo)) {
		return false
	}
	if len(s.RoomTypeIDs) == 0 {
		return true
	}
	for _, id := range s.RoomTypeIDs {
		if id == roomTypeID {
			return true
		}
	}
	return false
}

func strategyRate(s *models.PricingStrategy, base decimal.Decimal, day, today time.Time, occupancy float64) (decimal.Decimal, bool) {
	p := s.Parameters
	switch s.Type {
	case enums.StrategyFixed:
		if p.FixedRate == nil || !p.FixedRate.IsPositive() {
			return decimal.Zero, false
		}
		return *p.FixedRate, true
	case enums.StrategyOccupancyBased:
		best := -1
		for i, tier := range p.OccupancyTiers {
			if occupancy >= tier.MinOccupancy && (best < 0 || tier.MinOccupancy > p.OccupancyTiers[best].MinOccupancy) {
				best = i
			}
		}
		if best < 0 {
			return decimal.Zero, false
		}
		return scaled(base, p.OccupancyTiers[best].Multiplier)
	case enums.StrategyDayOfWeek:
		m, ok := p.DayOfWeekMultipliers[int(day.Weekday())]
		if !ok {
			return decimal.Zero, false
		}
		return scaled(base, m)
	case enums.StrategyLeadTime:
		lead := int(day.Sub(today).Hours() / 24)
		best := -1
		for i, tier := range p.LeadTimeTiers {
			if lead <= tier.MaxDays && (best < 0 || tier.MaxDays < p.LeadTimeTiers[best].MaxDays) {
				best = i
			}
		}
		if best < 0 {
			return decimal.Zero, false
		}
		return scaled(base, p.LeadTimeTiers[best].Multiplier)
	case enums.StrategySeasonal:
		for _, period := range p.SeasonalPeriods {
			if !day.Before(types.Day(period.From)) && !day.After(types.Day(period.To)) {
				return scaled(base, period.Multiplier)
			}
		}
	}
	return decimal.Zero, false
}

func scaled(base decimal.Decimal, multiplier float64) (decimal.Decimal, bool) {
	if multiplier <= 0 {
		return decimal.Zero, false
	}
	return base.Mul(decimal.NewFromFloat(multiplier)), true
}

// demandAdjustment scales rate by the gap between forecast and current occupancy.
func demandAdjustment(rate decimal.Decimal, delta float64) decimal.Decimal {
	var pct float64
	switch {
	case delta > 10:
		pct = 0.15
	case delta > 5:
		pct = 0.08
	case delta < -10:
		pct = -0.12
	case delta < -5:
		pct = -0.06
	default:
		return decimal.Zero
	}
	return rate.Mul(decimal.NewFromFloat(pct)).Round(2)
}

// competitorAdjustment moves base toward the mean of trusted competitor samples.
func competitorAdjustment(base decimal.Decimal, samples []models.CompetitorRate) (decimal.Decimal, string) {
	sum := decimal.Zero
	n := 0
	for _, s := range samples {
		if s.Confidence < minCompetitorQuality || !s.Rate.IsPositive() {
			continue
		}
		sum = sum.Add(s.Rate)
		n++
	}
	if n == 0 {
		return decimal.Zero, ""
	}
	avg := sum.Div(decimal.NewFromInt(int64(n)))
	switch {
	case base.LessThan(avg.Mul(underpricedTrigger)):
		return avg.Mul(underpricedTarget).Sub(base).Round(2), PositionUnderpriced
	case base.GreaterThan(avg.Mul(overpricedTrigger)):
		return avg.Mul(overpricedTarget).Sub(base).Round(2), PositionOverpriced
	}
	return decimal.Zero, PositionCompetitive
}

func score(revenueImpact decimal.Decimal, changePct float64) float64 {
	s := baseScore
	impact, _ := revenueImpact.Float64()
	if impact > 0 {
		s += math.Min(maxRevenueScoreImpact, impact/100)
	} else if impact < 0 {
		s -= math.Min(maxRevenueScoreImpact, -impact/100)
	}
	abs := math.Abs(changePct)
	if abs < 5 {
		s += 10
	}
	if abs > 20 {
		s -= 15
	}
	return round2(clamp(s, 0, 100))
}

func changePct(next, current decimal.Decimal) float64 {
	if current.IsZero() {
		return 0
	}
	pct, _ := next.Sub(current).Div(current).Mul(hundred).Float64()
	return round2(pct)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
