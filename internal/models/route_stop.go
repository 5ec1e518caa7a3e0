package models

import "time"

// Stop types.
const (
	StopTypePickup  = "PICKUP"
	StopTypeDropoff = "DROPOFF"
)

// RouteStop is one pickup or dropoff within a route. StopOrder is a sparse
// position key, unique per route.
type RouteStop struct {
	ID                 string `gorm:"primaryKey;size:36"`
	CompanyID          string `gorm:"size:36;not null;index"`
	RouteID            string `gorm:"size:36;not null;uniqueIndex:idx_route_stop_order,priority:1"`
	StopOrder          int    `gorm:"not null;uniqueIndex:idx_route_stop_order,priority:2"`
	StopType           string `gorm:"size:8;not null"`
	ChildID            string `gorm:"size:36;not null;index"`
	ScheduleID         string `gorm:"size:36;not null;index"`
	EstimatedTime      time.Time
	Address            string  `gorm:"size:255"`
	ExecutionStatus    *string `gorm:"size:16"`
	ExecutedAt         *time.Time
	IsCancelled        bool `gorm:"not null;default:false;index"`
	CancelledAt        *time.Time
	CancellationReason string `gorm:"size:255"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Modifiable reports whether the stop may still be moved or cancelled.
func (s RouteStop) Modifiable() bool {
	return s.ExecutionStatus == nil && !s.IsCancelled
}
