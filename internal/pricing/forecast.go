package pricing

import (
	"time"

	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/types"
)

const (
	forecastSource       = "heuristic"
	heuristicConfidence  = 50.0
	maxExpectedPickup    = 40.0
	pickupPerLeadDay     = 1.5
	weekendDemandPremium = 5.0
)

// stale reports whether f must be regenerated.
func stale(f *models.DemandForecast, now time.Time, maxAge time.Duration) bool {
	if f == nil {
		return true
	}
	return now.Sub(f.UpdatedAt) > maxAge
}

// heuristicForecast projects occupancy from what is already sold plus the
// pickup still expected before arrival.
func heuristicForecast(row models.AvailabilityRow, today time.Time) models.DemandForecast {
	day := types.Day(row.Date)
	lead := day.Sub(types.Day(today)).Hours() / 24
	if lead < 0 {
		lead = 0
	}
	predicted := Occupancy(row) + minFloat(maxExpectedPickup, lead*pickupPerLeadDay)
	if wd := day.Weekday(); wd == time.Friday || wd == time.Saturday {
		predicted += weekendDemandPremium
	}
	return models.DemandForecast{
		HotelID:            row.HotelID,
		RoomTypeID:         row.RoomTypeID,
		Date:               day,
		PredictedOccupancy: clamp(round2(predicted), 0, 100),
		Confidence:         heuristicConfidence,
		Source:             forecastSource,
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
