package series

import (
	"context"
	"time"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/apperr"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/events"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/store"
)

// AddChildRequest adds a child schedule to a series from EffectiveFrom.
type AddChildRequest struct {
	CompanyID     string
	SeriesID      string
	ScheduleID    string
	EffectiveFrom time.Time
	// PickupOrder and DropoffOrder are template keys; when nil the child is
	// appended after every existing member.
	PickupOrder  *int
	DropoffOrder *int
	// AcceptNarrowed stores the membership with the narrowed window when the
	// resolver reports a Conflict, instead of returning the Conflict.
	AcceptNarrowed bool
}

// AddChildResult carries the stored membership (nil when a Conflict was
// returned unaccepted) and the resolution that decided its window.
type AddChildResult struct {
	Membership *models.RouteSeriesSchedule
	Resolution Resolution
}

// AddChild adds a schedule to a series. An overlapping existing window is a
// membership conflict; a later existing window is a resolvable Conflict.
func (s *Service) AddChild(ctx context.Context, req AddChildRequest) (*AddChildResult, error) {
	release, err := s.lockSeries(ctx, req.SeriesID)
	if err != nil {
		return nil, err
	}
	defer release()

	rs, err := s.activeSeries(ctx, req.CompanyID, req.SeriesID)
	if err != nil {
		return nil, err
	}
	from := models.Day(req.EffectiveFrom)
	if from.Before(models.Day(rs.StartDate)) {
		return nil, apperr.Validation("effective date %s is before series start %s",
			from.Format(models.DateLayout), models.Day(rs.StartDate).Format(models.DateLayout))
	}
	if rs.EndDate != nil && from.After(models.Day(*rs.EndDate)) {
		return nil, apperr.Validation("effective date %s is after series end %s",
			from.Format(models.DateLayout), models.Day(*rs.EndDate).Format(models.DateLayout))
	}

	sched, err := s.schedules.GetSchedule(ctx, req.CompanyID, req.ScheduleID)
	if err != nil {
		return nil, err
	}

	rows, err := s.store.ListMemberships(ctx, rs.ID, sched.ID)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.ActiveOn(from) {
			return nil, apperr.MembershipConflict("schedule %s is already a member of series %s from %s",
				sched.ID, rs.ID, models.Day(row.ValidFrom).Format(models.DateLayout))
		}
	}

	res, err := s.resolver.ResolveAdd(ctx, rs.ID, sched.ID, from)
	if err != nil {
		return nil, err
	}
	var validTo *time.Time
	if c, ok := res.(Conflict); ok {
		if !req.AcceptNarrowed {
			return &AddChildResult{Resolution: res}, nil
		}
		limit := c.LimitedTo
		validTo = &limit
	}

	pickup, dropoff, err := s.templateKeys(ctx, rs.ID, req.PickupOrder, req.DropoffOrder)
	if err != nil {
		return nil, err
	}

	m := &models.RouteSeriesSchedule{
		SeriesID:         rs.ID,
		ScheduleID:       sched.ID,
		ChildID:          sched.ChildID,
		PickupStopOrder:  pickup,
		DropoffStopOrder: dropoff,
		ValidFrom:        from,
		ValidTo:          validTo,
	}
	if err := s.store.CreateMembership(ctx, m); err != nil {
		return nil, err
	}

	data := map[string]interface{}{
		"schedule_id": sched.ID,
		"child_id":    sched.ChildID,
		"valid_from":  from.Format(models.DateLayout),
	}
	if validTo != nil {
		data["valid_to"] = validTo.Format(models.DateLayout)
	}
	s.events.Emit(ctx, events.Event{
		Type:       events.SeriesChildAdded,
		CompanyID:  rs.CompanyID,
		EntityType: events.EntitySeries,
		EntityID:   rs.ID,
		Data:       data,
	})
	return &AddChildResult{Membership: m, Resolution: res}, nil
}

func (s *Service) templateKeys(ctx context.Context, seriesID string, pickup, dropoff *int) (int, int, error) {
	if pickup != nil && dropoff != nil {
		if *pickup <= 0 || *dropoff <= *pickup {
			return 0, 0, apperr.Validation("pickup order %d must be positive and before dropoff order %d", *pickup, *dropoff)
		}
		return *pickup, *dropoff, nil
	}
	if pickup != nil || dropoff != nil {
		return 0, 0, apperr.Validation("pickup and dropoff orders must be given together")
	}
	max, err := s.store.MaxMembershipKey(ctx, seriesID)
	if err != nil {
		return 0, 0, err
	}
	return max + s.gap, max + 2*s.gap, nil
}

// RemoveChildRequest ends a schedule's membership with LastDay as the final
// day it rides.
type RemoveChildRequest struct {
	CompanyID  string
	SeriesID   string
	ScheduleID string
	LastDay    time.Time
	// CancelFutureStops also cancels the schedule's stops on routes already
	// materialized after LastDay that are still PLANNED.
	CancelFutureStops bool
}

// RemoveChildResult reports the closed window and any stops cancelled.
type RemoveChildResult struct {
	Resolution     NoConflict
	CancelledStops int
}

// RemoveChild closes a schedule's membership window. The row is kept so the
// history stays visible to the resolver.
func (s *Service) RemoveChild(ctx context.Context, req RemoveChildRequest) (*RemoveChildResult, error) {
	release, err := s.lockSeries(ctx, req.SeriesID)
	if err != nil {
		return nil, err
	}
	defer release()

	rs, err := s.activeSeries(ctx, req.CompanyID, req.SeriesID)
	if err != nil {
		return nil, err
	}
	res, row, err := s.resolver.removalTarget(ctx, rs.ID, req.ScheduleID, req.LastDay)
	if err != nil {
		return nil, err
	}

	out := &RemoveChildResult{Resolution: res}
	err = s.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.CloseMembership(ctx, row.ID, *res.EffectiveTo); err != nil {
			return err
		}
		if !req.CancelFutureStops {
			return nil
		}
		routes, err := tx.ListSeriesRoutesFrom(ctx, rs.ID, res.EffectiveTo.AddDate(0, 0, 1), models.RouteStatusPlanned)
		if err != nil {
			return err
		}
		var ids []string
		for _, r := range routes {
			stops, err := tx.ListStops(ctx, r.ID, false)
			if err != nil {
				return err
			}
			for _, st := range stops {
				if st.ScheduleID == req.ScheduleID && st.Modifiable() {
					ids = append(ids, st.ID)
				}
			}
		}
		out.CancelledStops = len(ids)
		return tx.CancelStops(ctx, ids, "removed from series", s.now())
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, events.Event{
		Type:       events.SeriesChildRemoved,
		CompanyID:  rs.CompanyID,
		EntityType: events.EntitySeries,
		EntityID:   rs.ID,
		Data: map[string]interface{}{
			"schedule_id":     req.ScheduleID,
			"last_day":        res.EffectiveTo.Format(models.DateLayout),
			"cancelled_stops": out.CancelledStops,
		},
	})
	return out, nil
}

// CancelRequest cancels a series.
type CancelRequest struct {
	CompanyID string
	SeriesID  string
	By        string
	Reason    string
	// EffectiveFrom is the first day the series no longer runs. When set the
	// series end date becomes the day before; otherwise it is kept.
	EffectiveFrom *time.Time
	// CancelFutureRoutes also cancels PLANNED routes already materialized on
	// or after EffectiveFrom (today when unset).
	CancelFutureRoutes bool
}

// Cancel marks a series CANCELLED. Materialized routes are left alone unless
// CancelFutureRoutes asks otherwise. It returns how many routes were
// cancelled.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) (int, error) {
	release, err := s.lockSeries(ctx, req.SeriesID)
	if err != nil {
		return 0, err
	}
	defer release()

	rs, err := s.activeSeries(ctx, req.CompanyID, req.SeriesID)
	if err != nil {
		return 0, err
	}
	now := s.now()
	from := models.Day(now)
	var endDate *time.Time
	if req.EffectiveFrom != nil {
		from = models.Day(*req.EffectiveFrom)
		end := from.AddDate(0, 0, -1)
		if end.Before(models.Day(rs.StartDate)) {
			end = models.Day(rs.StartDate)
		}
		endDate = &end
	}

	var cancelled int
	err = s.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.CancelSeries(ctx, rs.ID, req.By, req.Reason, now, endDate); err != nil {
			return err
		}
		if !req.CancelFutureRoutes {
			return nil
		}
		routes, err := tx.ListSeriesRoutesFrom(ctx, rs.ID, from, models.RouteStatusPlanned)
		if err != nil {
			return err
		}
		ids := make([]string, len(routes))
		for i, r := range routes {
			ids[i] = r.ID
		}
		cancelled = len(ids)
		return tx.CancelRoutes(ctx, ids, "series cancelled", now)
	})
	if err != nil {
		return 0, err
	}

	s.events.Emit(ctx, events.Event{
		Type:       events.SeriesCancelled,
		CompanyID:  rs.CompanyID,
		EntityType: events.EntitySeries,
		EntityID:   rs.ID,
		Data: map[string]interface{}{
			"by":               req.By,
			"reason":           req.Reason,
			"cancelled_routes": cancelled,
		},
	})
	return cancelled, nil
}
