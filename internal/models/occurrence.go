package models

import "time"

// Occurrence statuses.
const (
	OccurrenceMaterialized = "MATERIALIZED"
	OccurrenceSkipped      = "SKIPPED"
)

// RouteSeriesOccurrence records the materialization of one series on one date.
// RouteID is set iff Status is MATERIALIZED.
type RouteSeriesOccurrence struct {
	ID             string    `gorm:"primaryKey;size:36"`
	SeriesID       string    `gorm:"size:36;not null;uniqueIndex:idx_series_occurrence,priority:1"`
	OccurrenceDate time.Time `gorm:"not null;uniqueIndex:idx_series_occurrence,priority:2"`
	RouteID        *string   `gorm:"size:36"`
	Status         string    `gorm:"size:16;not null"`
	SkipReason     string    `gorm:"size:64"`
	MaterializedAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
