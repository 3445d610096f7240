package types

import (
	"fmt"
	"time"
)

// DateLayout is the canonical wire layout for stay dates.
const DateLayout = "2006-01-02"

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD value into a UTC day.
func ParseDay(value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", value, err)
	}
	return t.UTC(), nil
}

// DateRange is a half-open [From, To) range of days.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// NewDateRange normalizes both ends to UTC days and rejects empty ranges.
func NewDateRange(from, to time.Time) (DateRange, error) {
	r := DateRange{From: Day(from), To: Day(to)}
	if !r.To.After(r.From) {
		return DateRange{}, fmt.Errorf("date range %s..%s is empty", r.From.Format(DateLayout), r.To.Format(DateLayout))
	}
	return r, nil
}

// Days enumerates every day in the range in ascending order.
func (r DateRange) Days() []time.Time {
	var out []time.Time
	for d := Day(r.From); d.Before(r.To); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// Nights returns the number of days in the range.
func (r DateRange) Nights() int {
	return int(Day(r.To).Sub(Day(r.From)).Hours() / 24)
}

// Contains reports whether day falls inside the range.
func (r DateRange) Contains(day time.Time) bool {
	d := Day(day)
	return !d.Before(Day(r.From)) && d.Before(Day(r.To))
}

// Last returns the final day in the range.
func (r DateRange) Last() time.Time {
	return Day(r.To).AddDate(0, 0, -1)
}

// FormatDay renders t as YYYY-MM-DD in UTC.
func FormatDay(t time.Time) string {
	return Day(t).Format(DateLayout)
}

// AddDays shifts a day by n days.
func AddDays(t time.Time, n int) time.Time {
	return Day(t).AddDate(0, 0, n)
}
