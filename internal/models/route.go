package models

import "time"

// Route statuses.
const (
	RouteStatusPlanned    = "PLANNED"
	RouteStatusInProgress = "IN_PROGRESS"
	RouteStatusCompleted  = "COMPLETED"
	RouteStatusCancelled  = "CANCELLED"
)

// Route is one concrete, dated vehicle run.
type Route struct {
	ID                   string    `gorm:"primaryKey;size:36"`
	CompanyID            string    `gorm:"size:36;not null;index:idx_route_company_date"`
	Date                 time.Time `gorm:"not null;index:idx_route_company_date"`
	Status               string    `gorm:"size:16;not null;default:PLANNED;index"`
	DriverID             string    `gorm:"size:36;index"`
	VehicleID            string    `gorm:"size:36;index"`
	EstimatedStartTime   time.Time
	EstimatedEndTime     time.Time
	ActualStartTime      *time.Time
	ActualEndTime        *time.Time
	SeriesID             *string `gorm:"size:36;index"`
	SeriesOccurrenceDate *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time

	Stops []RouteStop `gorm:"foreignKey:RouteID"`
}
