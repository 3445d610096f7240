package enums

// PricingStrategyType selects how a strategy derives its rate.
type PricingStrategyType string

const (
	StrategyOccupancyBased PricingStrategyType = "occupancy_based"
	StrategyDayOfWeek      PricingStrategyType = "day_of_week"
	StrategyLeadTime       PricingStrategyType = "lead_time"
	StrategySeasonal       PricingStrategyType = "seasonal"
	StrategyFixed          PricingStrategyType = "fixed"
)

var validPricingStrategyTypes = values[PricingStrategyType]{
	StrategyOccupancyBased,
	StrategyDayOfWeek,
	StrategyLeadTime,
	StrategySeasonal,
	StrategyFixed,
}

func (v PricingStrategyType) String() string {
	return string(v)
}

// IsValid reports whether the value is a known PricingStrategyType.
func (v PricingStrategyType) IsValid() bool {
	return validPricingStrategyTypes.has(v)
}

// ParsePricingStrategyType converts raw input into a PricingStrategyType.
func ParsePricingStrategyType(value string) (PricingStrategyType, error) {
	return validPricingStrategyTypes.parse(value, "pricing strategy type")
}
