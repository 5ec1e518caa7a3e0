package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"gorm.io/gorm"
)

// ActivitySink persists events to the activity_logs table.
type ActivitySink struct {
	db *gorm.DB
}

// NewActivitySink returns a sink writing through db.
func NewActivitySink(db *gorm.DB) *ActivitySink {
	return &ActivitySink{db: db}
}

// Publish inserts one activity log row.
func (a *ActivitySink) Publish(ctx context.Context, ev Event) error {
	payload := "{}"
	if len(ev.Data) > 0 {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("events: marshal %s payload: %w", ev.Type, err)
		}
		payload = string(data)
	}
	row := models.ActivityLog{
		CompanyID:  ev.CompanyID,
		EventType:  ev.Type,
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		Payload:    payload,
		CreatedAt:  ev.At,
	}
	if err := a.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("events: record %s: %w", ev.Type, err)
	}
	return nil
}

// Recent returns the latest activity of an entity, newest first. An empty
// entityID lists the whole company.
func Recent(ctx context.Context, db *gorm.DB, companyID, entityID string, limit int) ([]models.ActivityLog, error) {
	if limit <= 0 {
		limit = 50
	}
	q := db.WithContext(ctx).Where("company_id = ?", companyID)
	if entityID != "" {
		q = q.Where("entity_id = ?", entityID)
	}
	var rows []models.ActivityLog
	if err := q.Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("events: recent activity: %w", err)
	}
	return rows, nil
}
