package series

import (
	"time"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
)

const day = 24 * time.Hour

// MinInterval and MaxInterval bound the recurrence interval in weeks.
const (
	MinInterval = 1
	MaxInterval = 4
)

// daysBetween counts calendar days from a to b. Both are normalized to UTC
// midnight, so the division is exact.
func daysBetween(a, b time.Time) int {
	return int(models.Day(b).Sub(models.Day(a)) / day)
}

func periodDays(rs models.RouteSeries) int {
	interval := rs.RecurrenceInterval
	if interval < MinInterval {
		interval = MinInterval
	}
	return interval * 7
}

// IsOccurrence reports whether the series runs on date: the date lies within
// the series bounds and is a whole number of periods after its start.
func IsOccurrence(rs models.RouteSeries, date time.Time) bool {
	d := models.Day(date)
	start := models.Day(rs.StartDate)
	if d.Before(start) {
		return false
	}
	if rs.EndDate != nil && d.After(models.Day(*rs.EndDate)) {
		return false
	}
	return daysBetween(start, d)%periodDays(rs) == 0
}

// OccurrenceDates returns the dates within [from, to] on which the series
// runs, in ascending order. The weekday comes from the start date.
func OccurrenceDates(rs models.RouteSeries, from, to time.Time) []time.Time {
	start := models.Day(rs.StartDate)
	lo, hi := models.Day(from), models.Day(to)
	if lo.Before(start) {
		lo = start
	}
	if rs.EndDate != nil && hi.After(models.Day(*rs.EndDate)) {
		hi = models.Day(*rs.EndDate)
	}
	if hi.Before(lo) {
		return nil
	}

	period := periodDays(rs)
	offset := daysBetween(start, lo)
	if rem := offset % period; rem != 0 {
		offset += period - rem
	}
	var out []time.Time
	for d := start.AddDate(0, 0, offset); !d.After(hi); d = d.AddDate(0, 0, period) {
		out = append(out, d)
	}
	return out
}
