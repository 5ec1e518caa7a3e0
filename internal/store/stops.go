package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/apperr"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
)

// OrderUpdate assigns a new key to one stop.
type OrderUpdate struct {
	StopID string
	Key    int
}

// ListStops returns the stops of a route in ascending key order.
func (s *Store) ListStops(ctx context.Context, routeID string, includeCancelled bool) ([]models.RouteStop, error) {
	q := s.q(ctx).Where("route_id = ?", routeID)
	if !includeCancelled {
		q = q.Where("is_cancelled = ?", false)
	}
	var stops []models.RouteStop
	if err := q.Order("stop_order ASC").Find(&stops).Error; err != nil {
		return nil, fmt.Errorf("store: list stops of route %s: %w", routeID, err)
	}
	return stops, nil
}

// CreateStops inserts stops in one batch, assigning IDs where empty.
func (s *Store) CreateStops(ctx context.Context, stops []models.RouteStop) error {
	if len(stops) == 0 {
		return nil
	}
	for i := range stops {
		if stops[i].ID == "" {
			stops[i].ID = NewID()
		}
	}
	if err := s.q(ctx).Create(&stops).Error; err != nil {
		return fmt.Errorf("store: create stops: %w", err)
	}
	return nil
}

// SetStopOrders writes each update's key in sequence. Callers are responsible
// for ordering the updates (or staging through temporary keys) so that no
// intermediate state violates the (route_id, stop_order) unique index.
func (s *Store) SetStopOrders(ctx context.Context, routeID string, updates []OrderUpdate) error {
	for _, u := range updates {
		if err := s.q(ctx).Model(&models.RouteStop{}).
			Where("id = ? AND route_id = ?", u.StopID, routeID).
			Update("stop_order", u.Key).Error; err != nil {
			return fmt.Errorf("store: set order of stop %s: %w", u.StopID, err)
		}
	}
	return nil
}

// ApplyOrdersStaged moves stops to their final keys through unique negative
// temporary keys below every key the route currently holds, so any
// permutation among the given stops is safe under the unique index, even on
// a route already carrying negative keys. Used within a single transaction.
func (s *Store) ApplyOrdersStaged(ctx context.Context, routeID string, updates []OrderUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	var min sql.NullInt64
	if err := s.q(ctx).Model(&models.RouteStop{}).
		Where("route_id = ?", routeID).
		Select("MIN(stop_order)").
		Row().Scan(&min); err != nil {
		return fmt.Errorf("store: min order of route %s: %w", routeID, err)
	}
	base := 0
	if min.Valid && min.Int64 < 0 {
		base = int(min.Int64)
	}
	temp := make([]OrderUpdate, len(updates))
	for i, u := range updates {
		temp[i] = OrderUpdate{StopID: u.StopID, Key: base - (i + 1)}
	}
	if err := s.SetStopOrders(ctx, routeID, temp); err != nil {
		return err
	}
	return s.SetStopOrders(ctx, routeID, updates)
}

// FindActiveStopsForSchedule returns non-cancelled stops of a schedule on
// non-cancelled routes dated day, across every route of the company.
func (s *Store) FindActiveStopsForSchedule(ctx context.Context, companyID, scheduleID string, day time.Time) ([]models.RouteStop, error) {
	var stops []models.RouteStop
	if err := s.q(ctx).
		Joins("JOIN routes ON routes.id = route_stops.route_id").
		Where("routes.company_id = ? AND routes.date = ? AND routes.status <> ?", companyID, models.Day(day), models.RouteStatusCancelled).
		Where("route_stops.schedule_id = ? AND route_stops.is_cancelled = ?", scheduleID, false).
		Find(&stops).Error; err != nil {
		return nil, fmt.Errorf("store: find stops of schedule %s: %w", scheduleID, err)
	}
	return stops, nil
}

// CancelStops marks stops cancelled with a reason.
func (s *Store) CancelStops(ctx context.Context, stopIDs []string, reason string, at time.Time) error {
	if len(stopIDs) == 0 {
		return nil
	}
	if err := s.q(ctx).Model(&models.RouteStop{}).Where("id IN ?", stopIDs).Updates(map[string]interface{}{
		"is_cancelled":        true,
		"cancelled_at":        at,
		"cancellation_reason": reason,
	}).Error; err != nil {
		return fmt.Errorf("store: cancel stops: %w", err)
	}
	return nil
}

// MarkStopExecuted records an execution status on a stop.
func (s *Store) MarkStopExecuted(ctx context.Context, stopID, status string, at time.Time) error {
	res := s.q(ctx).Model(&models.RouteStop{}).Where("id = ?", stopID).Updates(map[string]interface{}{
		"execution_status": status,
		"executed_at":      at,
	})
	if res.Error != nil {
		return fmt.Errorf("store: mark stop %s executed: %w", stopID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("stop not found: %s", stopID)
	}
	return nil
}

// RoutesWithNegativeKeys returns the IDs of routes holding at least one
// negative stop key, i.e. routes caught between the two reorder phases.
func (s *Store) RoutesWithNegativeKeys(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.q(ctx).Model(&models.RouteStop{}).
		Where("stop_order < ?", 0).
		Distinct().
		Pluck("route_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("store: find routes with negative keys: %w", err)
	}
	return ids, nil
}
