package inventory

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
)

var (
	rateFloorFactor   = decimal.RequireFromString("0.7")
	rateCeilingFactor = decimal.NewFromInt(3)
)

// ClampRate applies the room type [minPrice, maxPrice], then the optional
// strategy bounds, then the hard floor 0.7·basePrice and ceiling 3·basePrice.
// The result is rounded to the room type's currency.
func ClampRate(rate decimal.Decimal, rt *models.RoomType, strategyMin, strategyMax *decimal.Decimal) decimal.Decimal {
	if rt == nil {
		return rate.Round(2)
	}
	rate = clampBetween(rate, rt.MinPrice, rt.MaxPrice)
	rate = clampBetween(rate, strategyMin, strategyMax)
	if rt.BasePrice.IsPositive() {
		floor := rt.BasePrice.Mul(rateFloorFactor)
		ceiling := rt.BasePrice.Mul(rateCeilingFactor)
		rate = clampBetween(rate, &floor, &ceiling)
	}
	return enums.Currency(rt.Currency).Round(rate)
}

func clampBetween(v decimal.Decimal, lo, hi *decimal.Decimal) decimal.Decimal {
	if lo != nil && v.LessThan(*lo) {
		v = *lo
	}
	if hi != nil && v.GreaterThan(*hi) {
		v = *hi
	}
	return v
}
