// Package absence answers whether a child is absent for a given schedule on a
// given date.
package absence

import (
	"context"
	"fmt"
	"time"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"gorm.io/gorm"
)

// Scope tags how an absence applies.
type Scope string

const (
	// FullDay absences cover every schedule of the child on the date.
	FullDay Scope = "FULL_DAY"
	// ScheduleSpecific absences cover only one schedule.
	ScheduleSpecific Scope = "SCHEDULE_SPECIFIC"
)

// Conflict is one absence overlapping a (schedule, date) pair.
type Conflict struct {
	AbsenceID string
	Scope     Scope
	StartDate time.Time
	EndDate   time.Time
	Reason    string
}

// Checker reports absence conflicts for a schedule on a date.
type Checker interface {
	CheckConflictsForSchedule(ctx context.Context, companyID, childID, scheduleID string, date time.Time) ([]Conflict, error)
}

// GormChecker reads the absences table.
type GormChecker struct {
	db *gorm.DB
}

// NewGormChecker returns a Checker backed by db.
func NewGormChecker(db *gorm.DB) *GormChecker {
	return &GormChecker{db: db}
}

// CheckConflictsForSchedule returns every non-cancelled absence of the child
// covering date that is either full-day or bound to scheduleID.
func (c *GormChecker) CheckConflictsForSchedule(ctx context.Context, companyID, childID, scheduleID string, date time.Time) ([]Conflict, error) {
	day := models.Day(date)
	var rows []models.Absence
	if err := c.db.WithContext(ctx).
		Where("company_id = ? AND child_id = ? AND cancelled = ?", companyID, childID, false).
		Where("start_date <= ? AND end_date >= ?", day, day).
		Where("(schedule_id IS NULL OR schedule_id = ?)", scheduleID).
		Order("start_date ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("absence: check child %s on %s: %w", childID, day.Format(models.DateLayout), err)
	}

	out := make([]Conflict, 0, len(rows))
	for _, a := range rows {
		scope := ScheduleSpecific
		if a.ScheduleID == nil {
			scope = FullDay
		}
		out = append(out, Conflict{
			AbsenceID: a.ID,
			Scope:     scope,
			StartDate: a.StartDate,
			EndDate:   a.EndDate,
			Reason:    a.Reason,
		})
	}
	return out, nil
}

// Describe renders conflicts as a short human-readable reason.
func Describe(conflicts []Conflict) string {
	if len(conflicts) == 0 {
		return ""
	}
	c := conflicts[0]
	msg := fmt.Sprintf("%s absence %s..%s", c.Scope, c.StartDate.Format(models.DateLayout), c.EndDate.Format(models.DateLayout))
	if c.Reason != "" {
		msg += " (" + c.Reason + ")"
	}
	if n := len(conflicts) - 1; n > 0 {
		msg += fmt.Sprintf(" and %d more", n)
	}
	return msg
}
