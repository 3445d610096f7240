package rules

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/types"
)

// Channel selectors understood by rule evaluation.
const (
	ChannelDirect = "direct"
	ChannelAll    = "all"
)

// DayRules is the evaluated rule state for one date in one channel context.
type DayRules struct {
	AllowancePct      float64
	Restrictions      types.Restrictions
	RateAdjustmentPct *float64
}

// Allowance converts the percentage into rooms for the given inventory.
func (d DayRules) Allowance(totalRooms int) int {
	return AllowanceRooms(totalRooms, d.AllowancePct)
}

// Effective is the composed outcome of every stop-sell rule matching a date.
type Effective struct {
	Restrictions      types.Restrictions
	RateAdjustmentPct *float64
	MatchedRuleIDs    []uuid.UUID
}

// AllowanceRooms returns floor(totalRooms × pct / 100), never negative.
func AllowanceRooms(totalRooms int, pct float64) int {
	if totalRooms <= 0 || pct <= 0 {
		return 0
	}
	return int(math.Floor(float64(totalRooms)*pct/100 + 1e-9))
}

// AllowancePercent composes the overbooking percentage for a date and channel:
// base × seasonal × day-of-week × lead-time, replaced by a channel override.
func AllowancePercent(rule *models.OverbookingRule, date, now time.Time, channel string) float64 {
	if rule == nil || !rule.Active {
		return 0
	}
	if override, ok := channelOverride(rule, channel); ok {
		return math.Max(0, override)
	}
	return math.Max(0, composedPercent(rule, date, now))
}

// MaxAllowancePercent is the largest percentage any channel could see on date.
func MaxAllowancePercent(rule *models.OverbookingRule, date, now time.Time) float64 {
	if rule == nil || !rule.Active {
		return 0
	}
	pct := composedPercent(rule, date, now)
	for _, o := range rule.ChannelOverrides {
		if o.MaxOverbookingPercent > pct {
			pct = o.MaxOverbookingPercent
		}
	}
	return math.Max(0, pct)
}

func composedPercent(rule *models.OverbookingRule, date, now time.Time) float64 {
	day := types.Day(date)
	return rule.MaxOverbookingPercent *
		seasonalFactor(rule.SeasonalAdjustments, day) *
		dayOfWeekFactor(rule.DayOfWeekAdjustments, day) *
		leadTimeFactor(rule.LeadTimeAdjustments, day, now)
}

func channelOverride(rule *models.OverbookingRule, channel string) (float64, bool) {
	for _, o := range rule.ChannelOverrides {
		if strings.EqualFold(o.Channel, channel) {
			return o.MaxOverbookingPercent, true
		}
	}
	return 0, false
}

func seasonalFactor(adjustments []models.SeasonalAdjustment, day time.Time) float64 {
	for _, adj := range adjustments {
		if !day.Before(types.Day(adj.From)) && !day.After(types.Day(adj.To)) {
			return adj.Factor
		}
	}
	return 1
}

func dayOfWeekFactor(adjustments []models.DayOfWeekAdjustment, day time.Time) float64 {
	for _, adj := range adjustments {
		if adj.Weekday == int(day.Weekday()) {
			return adj.Factor
		}
	}
	return 1
}

func leadTimeFactor(adjustments []models.LeadTimeAdjustment, day, now time.Time) float64 {
	lead := int(day.Sub(types.Day(now)).Hours() / 24)
	for _, adj := range adjustments {
		if lead < adj.MinDays {
			continue
		}
		if adj.MaxDays > 0 && lead > adj.MaxDays {
			continue
		}
		return adj.Factor
	}
	return 1
}

// SortStopSellRules orders rules by priority descending then creation ascending.
func SortStopSellRules(rules []models.StopSellRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
}

// ComposeStopSell folds every matching rule into one restriction record; for
// each action field the first rule in priority order that sets it wins.
// rules must already be sorted with SortStopSellRules.
func ComposeStopSell(rules []models.StopSellRule, roomTypeID uuid.UUID, date time.Time, channel string) Effective {
	var (
		out                Effective
		stopSell, cta, ctd *bool
		minLOS, maxLOS     *int
		rateAdjustment     *float64
	)
	day := types.Day(date)
	for i := range rules {
		rule := &rules[i]
		if !Matches(rule, roomTypeID, day, channel) {
			continue
		}
		out.MatchedRuleIDs = append(out.MatchedRuleIDs, rule.ID)
		a := rule.Action
		if stopSell == nil && a.StopSell != nil {
			stopSell = a.StopSell
		}
		if cta == nil && a.ClosedToArrival != nil {
			cta = a.ClosedToArrival
		}
		if ctd == nil && a.ClosedToDeparture != nil {
			ctd = a.ClosedToDeparture
		}
		if minLOS == nil && a.MinLOS != nil {
			minLOS = a.MinLOS
		}
		if maxLOS == nil && a.MaxLOS != nil {
			maxLOS = a.MaxLOS
		}
		if rateAdjustment == nil && a.RateAdjustmentPct != nil {
			rateAdjustment = a.RateAdjustmentPct
		}
	}

	if stopSell != nil {
		out.Restrictions.StopSell = *stopSell
	}
	if cta != nil {
		out.Restrictions.ClosedToArrival = *cta
	}
	if ctd != nil {
		out.Restrictions.ClosedToDeparture = *ctd
	}
	if minLOS != nil {
		out.Restrictions.MinLOS = types.IntPtr(*minLOS)
	}
	if maxLOS != nil {
		out.Restrictions.MaxLOS = types.IntPtr(*maxLOS)
	}
	if out.Restrictions.MinLOS != nil && out.Restrictions.MaxLOS != nil && *out.Restrictions.MinLOS > *out.Restrictions.MaxLOS {
		out.Restrictions.MaxLOS = types.IntPtr(*out.Restrictions.MinLOS)
	}
	if rateAdjustment != nil {
		v := *rateAdjustment
		out.RateAdjustmentPct = &v
	}
	return out
}

// Matches reports whether rule applies to the room type, day, and channel.
// Empty selectors match everything.
func Matches(rule *models.StopSellRule, roomTypeID uuid.UUID, day time.Time, channel string) bool {
	if !rule.Active {
		return false
	}
	if day.Before(types.Day(rule.StartDate)) || day.After(types.Day(rule.EndDate)) {
		return false
	}
	if len(rule.Weekdays) > 0 && !containsInt(rule.Weekdays, int(day.Weekday())) {
		return false
	}
	if !rule.AllRoomTypes && len(rule.RoomTypeIDs) > 0 && !containsUUID(rule.RoomTypeIDs, roomTypeID) {
		return false
	}
	if !rule.AllChannels && len(rule.Channels) > 0 && !matchesChannel(rule.Channels, channel) {
		return false
	}
	return true
}

func matchesChannel(channels []string, channel string) bool {
	for _, c := range channels {
		if strings.EqualFold(c, ChannelAll) || strings.EqualFold(c, channel) {
			return true
		}
	}
	return false
}

func containsInt(values []int, v int) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func containsUUID(values []uuid.UUID, v uuid.UUID) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
