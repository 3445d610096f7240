package enums

type StopSellRuleType string

const (
	RuleStopSell          StopSellRuleType = "stop_sell"
	RuleMinLOS            StopSellRuleType = "min_los"
	RuleClosedToArrival   StopSellRuleType = "closed_to_arrival"
	RuleClosedToDeparture StopSellRuleType = "closed_to_departure"
	RuleRateRestriction   StopSellRuleType = "rate_restriction"
)

var validStopSellRuleTypes = values[StopSellRuleType]{
	RuleStopSell,
	RuleMinLOS,
	RuleClosedToArrival,
	RuleClosedToDeparture,
	RuleRateRestriction,
}

func (v StopSellRuleType) String() string {
	return string(v)
}

// IsValid reports whether the value is a known StopSellRuleType.
func (v StopSellRuleType) IsValid() bool {
	return validStopSellRuleTypes.has(v)
}

// ParseStopSellRuleType converts raw input into a StopSellRuleType.
func ParseStopSellRuleType(value string) (StopSellRuleType, error) {
	return validStopSellRuleTypes.parse(value, "stop sell rule type")
}
