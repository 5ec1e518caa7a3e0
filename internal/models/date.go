package models

import "time"

// DateLayout is the canonical calendar-date format used in configs, flags and APIs.
const DateLayout = "2006-01-02"

// Day truncates t to midnight UTC of its calendar date. Every date column
// (route date, series bounds, validity windows, occurrence dates) is stored
// in this form so equality and range queries compare like with like.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD string into a Day.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return Day(t), nil
}

// At combines a calendar date with an "HH:MM" clock time. An empty clock
// yields the date itself.
func At(day time.Time, clock string) (time.Time, error) {
	day = Day(day)
	if clock == "" {
		return day, nil
	}
	c, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, err
	}
	return day.Add(time.Duration(c.Hour())*time.Hour + time.Duration(c.Minute())*time.Minute), nil
}
