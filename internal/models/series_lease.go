package models

import "time"

// SeriesLease is a row-level mutual exclusion lease keyed by an arbitrary
// string (series or route ID). A lease whose heartbeat is older than the
// configured TTL may be taken over.
type SeriesLease struct {
	LeaseKey      string    `gorm:"primaryKey;size:128"`
	Holder        string    `gorm:"size:128;not null"`
	LastHeartbeat time.Time `gorm:"index"`
	AcquiredAt    time.Time
}
