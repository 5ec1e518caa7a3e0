package models

import "time"

// ActivityLog is the persisted form of a domain event.
type ActivityLog struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	CompanyID  string `gorm:"size:36;index"`
	EventType  string `gorm:"size:64;not null;index"`
	EntityType string `gorm:"size:32"`
	EntityID   string `gorm:"size:36;index"`
	Payload    string `gorm:"type:text"`
	CreatedAt  time.Time
}
