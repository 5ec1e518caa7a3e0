package materialize

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/absence"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/apperr"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/events"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/lock"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/stops"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/store"
)

// Filter reasons recorded per schedule in OccurrenceResult.Filtered.
const (
	FilterInactiveSchedule = "schedule_inactive"
	FilterDoubleBooked     = "already_on_route"
	FilterAbsent           = "absent"
)

// candidate is a membership whose schedule resolved. absent is decided
// outside the write transaction but applied after the double-booking check.
type candidate struct {
	membership models.RouteSeriesSchedule
	schedule   models.ChildSchedule
	absent     bool
}

// materializeOne processes one occurrence date of rs.
func (s *Service) materializeOne(ctx context.Context, rs models.RouteSeries, date time.Time, force bool) (OccurrenceResult, error) {
	out := OccurrenceResult{SeriesID: rs.ID, Date: date, Filtered: map[string]string{}}

	prev, err := s.store.GetOccurrence(ctx, rs.ID, date)
	if err != nil {
		return out, err
	}
	replacing := prev != nil && prev.Status == models.OccurrenceMaterialized
	if replacing && !force {
		out.Outcome = Skipped
		out.SkipReason = ReasonAlreadyMaterialized
		if prev.RouteID != nil {
			out.RouteID = *prev.RouteID
		}
		return out, nil
	}

	var oldRouteID string
	if replacing && prev.RouteID != nil {
		old, err := s.store.GetRouteByID(ctx, *prev.RouteID)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
		case err != nil:
			return out, err
		case old.Status == models.RouteStatusInProgress || old.Status == models.RouteStatusCompleted:
			out.Outcome = Skipped
			out.SkipReason = ReasonRouteStarted
			out.RouteID = old.ID
			return out, nil
		default:
			oldRouteID = old.ID
		}
	}

	memberships, err := s.store.ListMembershipsActiveOn(ctx, rs.ID, date)
	if err != nil {
		return out, err
	}
	cands, err := s.candidates(ctx, rs, date, memberships, out.Filtered)
	if err != nil {
		return out, err
	}

	// The day lock spans the double-booking check and the stop insert, so
	// two series sharing a schedule cannot both place it on this date.
	release, err := s.locks.Acquire(ctx, lock.DayKey(rs.CompanyID, date.Format(models.DateLayout)))
	if err != nil {
		return out, err
	}
	defer release()

	skipReason := ReasonAllFiltered
	if len(memberships) == 0 {
		skipReason = ReasonNoSchedules
	}
	var routeID string
	unchanged := false
	err = s.store.Transaction(ctx, func(tx *store.Store) error {
		kept := make([]candidate, 0, len(cands))
		for _, c := range cands {
			booked, err := bookedElsewhere(ctx, tx, rs.CompanyID, c.membership.ScheduleID, date, oldRouteID)
			if err != nil {
				return err
			}
			switch {
			case booked:
				out.Filtered[c.membership.ScheduleID] = FilterDoubleBooked
			case c.absent:
				out.Filtered[c.membership.ScheduleID] = FilterAbsent
			default:
				kept = append(kept, c)
			}
		}

		if oldRouteID != "" {
			if err := tx.DeleteRoute(ctx, oldRouteID); err != nil {
				return err
			}
		}

		occ := &models.RouteSeriesOccurrence{
			SeriesID:       rs.ID,
			OccurrenceDate: date,
			MaterializedAt: s.now(),
		}
		if len(kept) == 0 {
			if prev != nil && prev.Status == models.OccurrenceSkipped && prev.SkipReason == skipReason {
				unchanged = true
				return nil
			}
			occ.Status = models.OccurrenceSkipped
			occ.SkipReason = skipReason
			return tx.UpsertOccurrence(ctx, occ)
		}

		route, err := s.buildRoute(ctx, tx, rs, date, kept, oldRouteID)
		if err != nil {
			return err
		}
		routeID = route.ID
		occ.Status = models.OccurrenceMaterialized
		occ.RouteID = &routeID
		return tx.UpsertOccurrence(ctx, occ)
	})
	if err != nil {
		return OccurrenceResult{SeriesID: rs.ID, Date: date}, fmt.Errorf("materialize: series %s on %s: %w", rs.ID, date.Format(models.DateLayout), err)
	}

	if unchanged {
		out.Outcome = Skipped
		out.SkipReason = skipReason
		return out, nil
	}

	ev := events.Event{
		CompanyID:  rs.CompanyID,
		EntityType: events.EntitySeries,
		EntityID:   rs.ID,
		Data:       map[string]interface{}{"date": date.Format(models.DateLayout)},
	}
	if routeID == "" {
		out.Outcome = Skipped
		out.SkipReason = skipReason
		ev.Type = events.OccurrenceSkipped
		ev.Data["reason"] = out.SkipReason
	} else {
		out.Outcome = Created
		if replacing {
			out.Outcome = Updated
		}
		out.RouteID = routeID
		ev.Type = events.OccurrenceMaterialized
		ev.Data["route_id"] = routeID
		ev.Data["replaced"] = replacing
	}
	if len(out.Filtered) > 0 {
		ev.Data["filtered"] = len(out.Filtered)
	}
	s.events.Emit(ctx, ev)
	return out, nil
}

// candidates resolves schedules and flags absent children. Both lookups go
// through collaborators with their own connections, so they run before the
// transaction is opened.
func (s *Service) candidates(ctx context.Context, rs models.RouteSeries, date time.Time, memberships []models.RouteSeriesSchedule, filtered map[string]string) ([]candidate, error) {
	if len(memberships) == 0 {
		return nil, nil
	}
	ids := make([]string, len(memberships))
	for i, m := range memberships {
		ids[i] = m.ScheduleID
	}
	scheds, err := s.schedules.GetSchedules(ctx, rs.CompanyID, ids)
	if err != nil {
		return nil, err
	}

	var out []candidate
	for _, m := range memberships {
		sched, ok := scheds[m.ScheduleID]
		if !ok {
			filtered[m.ScheduleID] = FilterInactiveSchedule
			continue
		}
		conflicts, err := s.absences.CheckConflictsForSchedule(ctx, rs.CompanyID, m.ChildID, m.ScheduleID, date)
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			s.log.Debug("child absent",
				"series_id", rs.ID,
				"schedule_id", m.ScheduleID,
				"date", date.Format(models.DateLayout),
				"absences", absence.Describe(conflicts))
		}
		out = append(out, candidate{membership: m, schedule: sched, absent: len(conflicts) > 0})
	}
	return out, nil
}

// bookedElsewhere reports whether the schedule already has an active stop on
// a route dated date other than ignoreRouteID.
func bookedElsewhere(ctx context.Context, tx *store.Store, companyID, scheduleID string, date time.Time, ignoreRouteID string) (bool, error) {
	existing, err := tx.FindActiveStopsForSchedule(ctx, companyID, scheduleID, date)
	if err != nil {
		return false, err
	}
	for _, st := range existing {
		if st.RouteID != ignoreRouteID {
			return true, nil
		}
	}
	return false, nil
}

// buildRoute creates the route of one occurrence and its stops. Stops start
// from the template keys of their memberships and are respaced so that keys
// shared between memberships cannot collide.
func (s *Service) buildRoute(ctx context.Context, tx *store.Store, rs models.RouteSeries, date time.Time, kept []candidate, oldRouteID string) (*models.Route, error) {
	start, err := models.At(date, rs.EstimatedStartTime)
	if err != nil {
		return nil, apperr.Validation("series %s: invalid start time %q", rs.ID, rs.EstimatedStartTime)
	}
	end, err := models.At(date, rs.EstimatedEndTime)
	if err != nil {
		return nil, apperr.Validation("series %s: invalid end time %q", rs.ID, rs.EstimatedEndTime)
	}

	overlaps, err := tx.FindOverlappingRoutes(ctx, rs.CompanyID, rs.DriverID, rs.VehicleID, start, end, oldRouteID)
	if err != nil {
		return nil, err
	}
	for _, o := range overlaps {
		s.log.Warn("series route overlaps existing route",
			"series_id", rs.ID,
			"date", date.Format(models.DateLayout),
			"route_id", o.ID,
			"driver_id", o.DriverID,
			"vehicle_id", o.VehicleID)
	}

	seriesID := rs.ID
	occDate := date
	route := &models.Route{
		CompanyID:            rs.CompanyID,
		Date:                 date,
		Status:               models.RouteStatusPlanned,
		DriverID:             rs.DriverID,
		VehicleID:            rs.VehicleID,
		EstimatedStartTime:   start,
		EstimatedEndTime:     end,
		SeriesID:             &seriesID,
		SeriesOccurrenceDate: &occDate,
	}
	if err := tx.CreateRoute(ctx, route); err != nil {
		return nil, err
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].membership.PickupStopOrder < kept[j].membership.PickupStopOrder
	})
	var built []models.RouteStop
	for _, c := range kept {
		pair, err := stops.BuildPair(date, c.schedule)
		if err != nil {
			return nil, err
		}
		pair[0].StopOrder = c.membership.PickupStopOrder
		pair[1].StopOrder = c.membership.DropoffStopOrder
		built = append(built, pair...)
	}
	built = s.calc.Rebalance(built)
	for i := range built {
		built[i].ID = store.NewID()
		built[i].RouteID = route.ID
		built[i].CompanyID = rs.CompanyID
	}
	if err := tx.CreateStops(ctx, built); err != nil {
		return nil, err
	}
	route.Stops = built
	return route, nil
}
