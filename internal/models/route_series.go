package models

import "time"

// Series statuses.
const (
	SeriesStatusActive    = "ACTIVE"
	SeriesStatusCancelled = "CANCELLED"
)

// RouteSeries is a recurring route definition. The weekday is taken from
// StartDate; occurrences fall every RecurrenceInterval weeks from it.
type RouteSeries struct {
	ID                 string    `gorm:"primaryKey;size:36"`
	CompanyID          string    `gorm:"size:36;not null;index"`
	SeriesName         string    `gorm:"size:128;not null"`
	DriverID           string    `gorm:"size:36"`
	VehicleID          string    `gorm:"size:36"`
	EstimatedStartTime string    `gorm:"size:5"` // HH:MM
	EstimatedEndTime   string    `gorm:"size:5"` // HH:MM
	RecurrenceInterval int       `gorm:"not null;default:1"`
	StartDate          time.Time `gorm:"not null;index"`
	EndDate            *time.Time
	Status             string `gorm:"size:16;not null;default:ACTIVE;index"`
	CancelledAt        *time.Time
	CancelledBy        string `gorm:"size:64"`
	CancellationReason string `gorm:"size:255"`
	CreatedAt          time.Time
	UpdatedAt          time.Time

	Schedules []RouteSeriesSchedule `gorm:"foreignKey:SeriesID"`
}

// TableName pins the table name; "series" has no distinct plural.
func (RouteSeries) TableName() string { return "route_series" }

// RouteSeriesSchedule is a child+schedule membership window inside a series.
// Rows are closed by setting ValidTo, never deleted.
type RouteSeriesSchedule struct {
	ID               string     `gorm:"primaryKey;size:36"`
	SeriesID         string     `gorm:"size:36;not null;uniqueIndex:idx_series_schedule_from,priority:1"`
	ScheduleID       string     `gorm:"size:36;not null;uniqueIndex:idx_series_schedule_from,priority:2"`
	ChildID          string     `gorm:"size:36;not null;index"`
	PickupStopOrder  int        `gorm:"not null"`
	DropoffStopOrder int        `gorm:"not null"`
	ValidFrom        time.Time  `gorm:"not null;uniqueIndex:idx_series_schedule_from,priority:3"`
	ValidTo          *time.Time // nil = still active
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ActiveOn reports whether the membership window covers day.
func (s RouteSeriesSchedule) ActiveOn(day time.Time) bool {
	day = Day(day)
	if day.Before(Day(s.ValidFrom)) {
		return false
	}
	return s.ValidTo == nil || !day.After(Day(*s.ValidTo))
}
