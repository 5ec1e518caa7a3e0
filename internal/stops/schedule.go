package stops

import (
	"context"
	"fmt"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/absence"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/apperr"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/events"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/lock"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/store"
)

// AddScheduleRequest adds one child schedule (a pickup and a dropoff) to a
// route.
type AddScheduleRequest struct {
	CompanyID  string
	RouteID    string
	ScheduleID string
	// AfterOrder is the key of the stop to insert after; nil inserts at the
	// head of the route.
	AfterOrder *int
}

// AddScheduleToRoute inserts the pickup and dropoff of a child schedule into
// a PLANNED route. It rejects a schedule that is already on the route, one
// booked on another route that day, and one whose child is absent.
func (s *Service) AddScheduleToRoute(ctx context.Context, req AddScheduleRequest) ([]models.RouteStop, error) {
	route, err := s.store.GetRoute(ctx, req.CompanyID, req.RouteID)
	if err != nil {
		return nil, err
	}
	if route.Status != models.RouteStatusPlanned {
		return nil, apperr.InvalidState("route %s is %s; only PLANNED routes accept new schedules", route.ID, route.Status)
	}
	sched, err := s.schedules.GetSchedule(ctx, req.CompanyID, req.ScheduleID)
	if err != nil {
		return nil, err
	}

	// Hold the day lock from the double-booking check until the stops are
	// written.
	release, err := s.locks.Acquire(ctx, lock.DayKey(req.CompanyID, route.Date.Format(models.DateLayout)))
	if err != nil {
		return nil, err
	}
	defer release()

	booked, err := s.store.FindActiveStopsForSchedule(ctx, req.CompanyID, sched.ID, route.Date)
	if err != nil {
		return nil, err
	}
	for _, st := range booked {
		if st.RouteID == route.ID {
			return nil, apperr.Conflict("schedule %s is already on route %s", sched.ID, route.ID)
		}
	}
	if len(booked) > 0 {
		return nil, apperr.MembershipConflict("schedule %s is already assigned to route %s on %s",
			sched.ID, booked[0].RouteID, route.Date.Format(models.DateLayout))
	}

	conflicts, err := s.absences.CheckConflictsForSchedule(ctx, req.CompanyID, sched.ChildID, sched.ID, route.Date)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		return nil, apperr.AbsenceConflict("child %s is absent on %s: %s",
			sched.ChildID, route.Date.Format(models.DateLayout), absence.Describe(conflicts))
	}

	pair, err := BuildPair(route.Date, *sched)
	if err != nil {
		return nil, err
	}

	var inserted []models.RouteStop
	err = s.withRoute(ctx, route.ID, func() error {
		return s.store.Transaction(ctx, func(tx *store.Store) error {
			var err error
			inserted, err = s.insertTx(ctx, tx, route, pair, req.AfterOrder)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, events.Event{
		Type:       events.ScheduleAdded,
		CompanyID:  req.CompanyID,
		EntityType: events.EntityRoute,
		EntityID:   route.ID,
		Data: map[string]interface{}{
			"schedule_id": sched.ID,
			"child_id":    sched.ChildID,
			"pickup":      inserted[0].StopOrder,
			"dropoff":     inserted[1].StopOrder,
		},
	})
	return inserted, nil
}

// CancelScheduleInRoute cancels both stops of a schedule on a route. Stops
// already executed make the whole call fail.
func (s *Service) CancelScheduleInRoute(ctx context.Context, companyID, routeID, scheduleID, reason string) ([]models.RouteStop, error) {
	route, err := s.store.GetRoute(ctx, companyID, routeID)
	if err != nil {
		return nil, err
	}
	if route.Status != models.RouteStatusPlanned && route.Status != models.RouteStatusInProgress {
		return nil, apperr.InvalidState("route %s is %s; schedules can no longer be cancelled", routeID, route.Status)
	}

	var cancelled []models.RouteStop
	err = s.withRoute(ctx, routeID, func() error {
		return s.store.Transaction(ctx, func(tx *store.Store) error {
			active, err := tx.ListStops(ctx, routeID, false)
			if err != nil {
				return err
			}
			var ids []string
			for _, st := range active {
				if st.ScheduleID != scheduleID {
					continue
				}
				if !st.Modifiable() {
					return apperr.InvalidState("stop %s of schedule %s was already executed", st.ID, scheduleID)
				}
				ids = append(ids, st.ID)
				cancelled = append(cancelled, st)
			}
			if len(ids) == 0 {
				return apperr.NotFound("schedule %s has no active stops on route %s", scheduleID, routeID)
			}
			now := s.now()
			if err := tx.CancelStops(ctx, ids, reason, now); err != nil {
				return err
			}
			for i := range cancelled {
				cancelled[i].IsCancelled = true
				cancelled[i].CancelledAt = &now
				cancelled[i].CancellationReason = reason
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, events.Event{
		Type:       events.ScheduleCancelled,
		CompanyID:  companyID,
		EntityType: events.EntityRoute,
		EntityID:   routeID,
		Data:       map[string]interface{}{"schedule_id": scheduleID, "reason": reason},
	})
	return cancelled, nil
}

// TransitionRoute moves a route through its status lifecycle. Cancelling a
// route cancels its unexecuted stops with it.
func (s *Service) TransitionRoute(ctx context.Context, companyID, routeID, to string) (*models.Route, error) {
	route, err := s.store.TransitionRoute(ctx, companyID, routeID, to, s.now())
	if err != nil {
		return nil, err
	}
	s.events.Emit(ctx, events.Event{
		Type:       events.RouteStatusChanged,
		CompanyID:  companyID,
		EntityType: events.EntityRoute,
		EntityID:   routeID,
		Data:       map[string]interface{}{"status": to},
	})
	return route, nil
}

// ListStops returns a route's stops in key order.
func (s *Service) ListStops(ctx context.Context, companyID, routeID string, includeCancelled bool) ([]models.RouteStop, error) {
	if _, err := s.store.GetRoute(ctx, companyID, routeID); err != nil {
		return nil, err
	}
	stops, err := s.store.ListStops(ctx, routeID, includeCancelled)
	if err != nil {
		return nil, fmt.Errorf("stops: list route %s: %w", routeID, err)
	}
	return stops, nil
}
