package store

import (
	"context"
	"fmt"
	"time"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/apperr"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
)

// ValidRouteTransitions maps each route status to the statuses it may move to.
var ValidRouteTransitions = map[string][]string{
	models.RouteStatusPlanned:    {models.RouteStatusInProgress, models.RouteStatusCancelled},
	models.RouteStatusInProgress: {models.RouteStatusCompleted, models.RouteStatusCancelled},
}

// CreateRoute inserts a route, assigning an ID when empty.
func (s *Store) CreateRoute(ctx context.Context, r *models.Route) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.Status == "" {
		r.Status = models.RouteStatusPlanned
	}
	r.Date = models.Day(r.Date)
	if err := s.q(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("store: create route: %w", err)
	}
	return nil
}

// GetRoute returns a route of the company.
func (s *Store) GetRoute(ctx context.Context, companyID, routeID string) (*models.Route, error) {
	var r models.Route
	if err := s.q(ctx).Where("id = ? AND company_id = ?", routeID, companyID).First(&r).Error; err != nil {
		return nil, notFound(err, "route", routeID)
	}
	return &r, nil
}

// GetRouteByID returns a route regardless of company. Used by maintenance
// sweeps that operate below the tenant boundary.
func (s *Store) GetRouteByID(ctx context.Context, routeID string) (*models.Route, error) {
	var r models.Route
	if err := s.q(ctx).Where("id = ?", routeID).First(&r).Error; err != nil {
		return nil, notFound(err, "route", routeID)
	}
	return &r, nil
}

// DeleteRoute removes a route together with all of its stops and any
// leftover reorder journal.
func (s *Store) DeleteRoute(ctx context.Context, routeID string) error {
	if err := s.q(ctx).Where("route_id = ?", routeID).Delete(&models.RouteStop{}).Error; err != nil {
		return fmt.Errorf("store: delete stops of route %s: %w", routeID, err)
	}
	if err := s.q(ctx).Where("route_id = ?", routeID).Delete(&models.ReorderJournal{}).Error; err != nil {
		return fmt.Errorf("store: delete journal of route %s: %w", routeID, err)
	}
	if err := s.q(ctx).Where("id = ?", routeID).Delete(&models.Route{}).Error; err != nil {
		return fmt.Errorf("store: delete route %s: %w", routeID, err)
	}
	return nil
}

// TransitionRoute moves a route to a new status, enforcing the monotonic
// lifecycle PLANNED -> IN_PROGRESS -> COMPLETED with CANCELLED reachable from
// the first two. Actual start/end times are stamped on the way and must
// follow the planned start. A cancelled route takes its unexecuted stops
// with it.
func (s *Store) TransitionRoute(ctx context.Context, companyID, routeID, to string, at time.Time) (*models.Route, error) {
	r, err := s.GetRoute(ctx, companyID, routeID)
	if err != nil {
		return nil, err
	}
	if !isValidRouteTransition(r.Status, to) {
		return nil, apperr.InvalidState("route %s: invalid status transition from %s to %s; valid transitions: %v",
			routeID, r.Status, to, ValidRouteTransitions[r.Status])
	}

	updates := map[string]interface{}{"status": to}
	switch to {
	case models.RouteStatusInProgress:
		if !r.EstimatedStartTime.IsZero() && !at.After(r.EstimatedStartTime) {
			return nil, apperr.Validation("route %s: actual start must be after planned start %s",
				routeID, r.EstimatedStartTime.Format(time.RFC3339))
		}
		updates["actual_start_time"] = at
		r.ActualStartTime = &at
	case models.RouteStatusCompleted:
		if r.ActualStartTime != nil && !at.After(*r.ActualStartTime) {
			return nil, apperr.Validation("route %s: actual end must be after actual start", routeID)
		}
		updates["actual_end_time"] = at
		r.ActualEndTime = &at
	}
	err = s.Transaction(ctx, func(tx *Store) error {
		if err := tx.q(ctx).Model(&models.Route{}).Where("id = ?", routeID).Updates(updates).Error; err != nil {
			return fmt.Errorf("store: update route %s status: %w", routeID, err)
		}
		if to != models.RouteStatusCancelled {
			return nil
		}
		return tx.cancelRouteStops(ctx, []string{routeID}, "route cancelled", at)
	})
	if err != nil {
		return nil, err
	}
	r.Status = to
	return r, nil
}

func isValidRouteTransition(from, to string) bool {
	for _, v := range ValidRouteTransitions[from] {
		if v == to {
			return true
		}
	}
	return false
}

// ListSeriesRoutesFrom returns routes materialized from a series dated on or
// after from, restricted to the given statuses.
func (s *Store) ListSeriesRoutesFrom(ctx context.Context, seriesID string, from time.Time, statuses ...string) ([]models.Route, error) {
	q := s.q(ctx).Where("series_id = ? AND date >= ?", seriesID, models.Day(from))
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var routes []models.Route
	if err := q.Order("date ASC").Find(&routes).Error; err != nil {
		return nil, fmt.Errorf("store: list routes of series %s: %w", seriesID, err)
	}
	return routes, nil
}

// FindOverlappingRoutes returns non-cancelled routes of the company on the
// same day whose estimated window overlaps [start, end) and that share the
// driver or the vehicle. excludeRouteID is ignored when empty.
func (s *Store) FindOverlappingRoutes(ctx context.Context, companyID, driverID, vehicleID string, start, end time.Time, excludeRouteID string) ([]models.Route, error) {
	if driverID == "" && vehicleID == "" {
		return nil, nil
	}
	q := s.q(ctx).
		Where("company_id = ? AND date = ? AND status <> ?", companyID, models.Day(start), models.RouteStatusCancelled).
		Where("estimated_start_time < ? AND estimated_end_time > ?", end, start)
	switch {
	case driverID != "" && vehicleID != "":
		q = q.Where("(driver_id = ? OR vehicle_id = ?)", driverID, vehicleID)
	case driverID != "":
		q = q.Where("driver_id = ?", driverID)
	default:
		q = q.Where("vehicle_id = ?", vehicleID)
	}
	if excludeRouteID != "" {
		q = q.Where("id <> ?", excludeRouteID)
	}
	var routes []models.Route
	if err := q.Find(&routes).Error; err != nil {
		return nil, fmt.Errorf("store: find overlapping routes: %w", err)
	}
	return routes, nil
}

// CancelRoutes marks the given routes CANCELLED together with their
// unexecuted stops.
func (s *Store) CancelRoutes(ctx context.Context, routeIDs []string, reason string, at time.Time) error {
	if len(routeIDs) == 0 {
		return nil
	}
	return s.Transaction(ctx, func(tx *Store) error {
		if err := tx.q(ctx).Model(&models.Route{}).Where("id IN ?", routeIDs).
			Update("status", models.RouteStatusCancelled).Error; err != nil {
			return fmt.Errorf("store: cancel routes: %w", err)
		}
		return tx.cancelRouteStops(ctx, routeIDs, reason, at)
	})
}

// cancelRouteStops cancels every stop of the routes that is neither executed
// nor already cancelled.
func (s *Store) cancelRouteStops(ctx context.Context, routeIDs []string, reason string, at time.Time) error {
	if err := s.q(ctx).Model(&models.RouteStop{}).
		Where("route_id IN ? AND is_cancelled = ? AND execution_status IS NULL", routeIDs, false).
		Updates(map[string]interface{}{
			"is_cancelled":        true,
			"cancelled_at":        at,
			"cancellation_reason": reason,
		}).Error; err != nil {
		return fmt.Errorf("store: cancel stops of routes: %w", err)
	}
	return nil
}
