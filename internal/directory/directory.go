// Package directory exposes the child schedule master data the routing core
// needs: pickup and dropoff addresses and clock times.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/apperr"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"gorm.io/gorm"
)

// ScheduleDirectory looks up child schedules.
type ScheduleDirectory interface {
	GetSchedule(ctx context.Context, companyID, scheduleID string) (*models.ChildSchedule, error)
	GetSchedules(ctx context.Context, companyID string, scheduleIDs []string) (map[string]models.ChildSchedule, error)
}

// GormDirectory reads the child_schedules table.
type GormDirectory struct {
	db *gorm.DB
}

// NewGormDirectory returns a ScheduleDirectory backed by db.
func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

// GetSchedule returns one active schedule of the company.
func (d *GormDirectory) GetSchedule(ctx context.Context, companyID, scheduleID string) (*models.ChildSchedule, error) {
	var cs models.ChildSchedule
	err := d.db.WithContext(ctx).
		Where("id = ? AND company_id = ? AND active = ?", scheduleID, companyID, true).
		First(&cs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("schedule not found: %s", scheduleID)
	}
	if err != nil {
		return nil, fmt.Errorf("directory: get schedule %s: %w", scheduleID, err)
	}
	return &cs, nil
}

// GetSchedules returns the active schedules among scheduleIDs keyed by ID.
// Unknown or inactive IDs are simply absent from the result.
func (d *GormDirectory) GetSchedules(ctx context.Context, companyID string, scheduleIDs []string) (map[string]models.ChildSchedule, error) {
	out := make(map[string]models.ChildSchedule, len(scheduleIDs))
	if len(scheduleIDs) == 0 {
		return out, nil
	}
	var rows []models.ChildSchedule
	if err := d.db.WithContext(ctx).
		Where("company_id = ? AND active = ? AND id IN ?", companyID, true, scheduleIDs).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("directory: get schedules: %w", err)
	}
	for _, cs := range rows {
		out[cs.ID] = cs
	}
	return out, nil
}
