package models

import "time"

// ReorderJournal holds the final stop-order mapping of an in-flight two-phase
// reorder. It is written together with phase 1 and removed by phase 2; a row
// that survives a crash lets the repair sweep finish the reorder.
type ReorderJournal struct {
	RouteID   string `gorm:"primaryKey;size:36"`
	Mapping   string `gorm:"type:text;not null"` // JSON object: stop ID -> final key
	CreatedAt time.Time
}
