package models

import "time"

// ChildSchedule is the transport schedule of one child: where and when the
// child is picked up and dropped off. Owned by the CRM master data; this
// service only reads it.
type ChildSchedule struct {
	ID             string `gorm:"primaryKey;size:36"`
	CompanyID      string `gorm:"size:36;not null;index"`
	ChildID        string `gorm:"size:36;not null;index"`
	Name           string `gorm:"size:128"`
	PickupAddress  string `gorm:"size:255"`
	PickupTime     string `gorm:"size:5"` // HH:MM
	DropoffAddress string `gorm:"size:255"`
	DropoffTime    string `gorm:"size:5"` // HH:MM
	Active         bool   `gorm:"not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
