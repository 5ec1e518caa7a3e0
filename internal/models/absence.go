package models

import "time"

// Absence marks a child as not travelling over [StartDate, EndDate]. A nil
// ScheduleID means the whole day is affected; otherwise only that schedule.
type Absence struct {
	ID         string    `gorm:"primaryKey;size:36"`
	CompanyID  string    `gorm:"size:36;not null;index"`
	ChildID    string    `gorm:"size:36;not null;index:idx_absence_child_dates"`
	ScheduleID *string   `gorm:"size:36"`
	StartDate  time.Time `gorm:"not null;index:idx_absence_child_dates"`
	EndDate    time.Time `gorm:"not null"`
	Reason     string    `gorm:"size:255"`
	Cancelled  bool      `gorm:"not null;default:false"`
	CreatedAt  time.Time
}
