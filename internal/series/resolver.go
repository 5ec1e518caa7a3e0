package series

import (
	"context"
	"fmt"
	"time"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/apperr"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/store"
)

// ReasonLaterMembership is the Conflict reason when the schedule already
// joins the series at a later date.
const ReasonLaterMembership = "EXISTING_MEMBERSHIP_LATER"

// Resolution is the outcome of resolving a membership change: NoConflict or
// Conflict.
type Resolution interface {
	resolution()
}

// NoConflict means the change can take effect over the given window. A nil
// EffectiveTo is open-ended.
type NoConflict struct {
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
}

// Conflict means the change collides with an existing window; the caller may
// retry with a window ending at LimitedTo.
type Conflict struct {
	LimitedTo time.Time
	Reason    string
	Message   string
}

func (NoConflict) resolution() {}
func (Conflict) resolution()   {}

// Resolver decides whether membership changes collide with existing
// effective-dated rows.
type Resolver struct {
	store *store.Store
}

// NewResolver returns a Resolver reading through st.
func NewResolver(st *store.Store) *Resolver {
	return &Resolver{store: st}
}

// ResolveAdd checks adding scheduleID to the series from requestedFrom. When
// the schedule already joins the series after requestedFrom, the addition is
// narrowed to end the day before that later row starts.
func (r *Resolver) ResolveAdd(ctx context.Context, seriesID, scheduleID string, requestedFrom time.Time) (Resolution, error) {
	from := models.Day(requestedFrom)
	rows, err := r.store.ListMemberships(ctx, seriesID, scheduleID)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		vf := models.Day(row.ValidFrom)
		if vf.After(from) {
			limit := vf.AddDate(0, 0, -1)
			return Conflict{
				LimitedTo: limit,
				Reason:    ReasonLaterMembership,
				Message: fmt.Sprintf("schedule %s already joins this series on %s; it can only be added for %s..%s",
					scheduleID, vf.Format(models.DateLayout), from.Format(models.DateLayout), limit.Format(models.DateLayout)),
			}, nil
		}
	}
	return NoConflict{EffectiveFrom: from}, nil
}

// ResolveRemove checks removing scheduleID from the series with lastDay as
// the final day it rides. Removing before the membership started, or after
// it already ended, is a caller error.
func (r *Resolver) ResolveRemove(ctx context.Context, seriesID, scheduleID string, lastDay time.Time) (NoConflict, error) {
	res, _, err := r.removalTarget(ctx, seriesID, scheduleID, lastDay)
	return res, err
}

// removalTarget also returns the membership row the removal closes.
func (r *Resolver) removalTarget(ctx context.Context, seriesID, scheduleID string, lastDay time.Time) (NoConflict, *models.RouteSeriesSchedule, error) {
	d := models.Day(lastDay)
	rows, err := r.store.ListMemberships(ctx, seriesID, scheduleID)
	if err != nil {
		return NoConflict{}, nil, err
	}
	if len(rows) == 0 {
		return NoConflict{}, nil, apperr.NotFound("schedule %s is not a member of series %s", scheduleID, seriesID)
	}

	// Latest row starting on or before the removal date.
	var target *models.RouteSeriesSchedule
	for i := range rows {
		if !models.Day(rows[i].ValidFrom).After(d) {
			target = &rows[i]
		}
	}
	if target == nil {
		return NoConflict{}, nil, apperr.Validation("cannot remove schedule %s on %s: membership starts %s",
			scheduleID, d.Format(models.DateLayout), models.Day(rows[0].ValidFrom).Format(models.DateLayout))
	}
	if target.ValidTo != nil && d.After(models.Day(*target.ValidTo)) {
		return NoConflict{}, nil, apperr.Validation("cannot remove schedule %s on %s: membership already ended %s",
			scheduleID, d.Format(models.DateLayout), models.Day(*target.ValidTo).Format(models.DateLayout))
	}
	return NoConflict{EffectiveFrom: models.Day(target.ValidFrom), EffectiveTo: &d}, target, nil
}
