package stops

import (
	"context"
	"errors"
	"fmt"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/apperr"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/events"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/ordering"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/store"
)

// InsertStops places newStops, in argument order, immediately after the stop
// keyed afterOrder (or at the head when nil) and persists them. Existing
// stops keep their keys unless the gap is exhausted, in which case the
// respaced stops are written in the same transaction. The inserted stops are
// returned with their final keys.
func (s *Service) InsertStops(ctx context.Context, companyID, routeID string, newStops []models.RouteStop, afterOrder *int) ([]models.RouteStop, error) {
	route, err := s.store.GetRoute(ctx, companyID, routeID)
	if err != nil {
		return nil, err
	}
	if route.Status != models.RouteStatusPlanned && route.Status != models.RouteStatusInProgress {
		return nil, apperr.InvalidState("route %s is %s; stops can no longer be added", routeID, route.Status)
	}

	var inserted []models.RouteStop
	err = s.withRoute(ctx, routeID, func() error {
		return s.store.Transaction(ctx, func(tx *store.Store) error {
			var err error
			inserted, err = s.insertTx(ctx, tx, route, newStops, afterOrder)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, events.Event{
		Type:       events.StopsInserted,
		CompanyID:  companyID,
		EntityType: events.EntityRoute,
		EntityID:   routeID,
		Data:       map[string]interface{}{"count": len(inserted)},
	})
	return inserted, nil
}

// insertTx computes keys against every stop of the route (cancelled ones
// included, since they still hold their keys) and writes one batch.
func (s *Service) insertTx(ctx context.Context, tx *store.Store, route *models.Route, newStops []models.RouteStop, afterOrder *int) ([]models.RouteStop, error) {
	existing, err := tx.ListStops(ctx, route.ID, true)
	if err != nil {
		return nil, err
	}
	keys := make([]int, len(existing))
	for i, st := range existing {
		keys[i] = st.StopOrder
	}

	placement, err := s.calc.Place(keys, afterOrder, len(newStops))
	switch {
	case errors.Is(err, ordering.ErrAnchorNotFound):
		return nil, apperr.Validation("route %s has no stop with order %d", route.ID, *afterOrder)
	case err != nil:
		return nil, fmt.Errorf("stops: place keys on route %s: %w", route.ID, err)
	}

	if placement.Rebalanced() {
		updates := make([]store.OrderUpdate, 0, len(placement.Moved))
		for i := range existing {
			if k, ok := placement.Moved[i]; ok {
				updates = append(updates, store.OrderUpdate{StopID: existing[i].ID, Key: k})
			}
		}
		s.log.Info("rebalancing route keys", "route_id", route.ID, "moved", len(updates))
		if err := tx.ApplyOrdersStaged(ctx, route.ID, updates); err != nil {
			return nil, err
		}
	}

	out := make([]models.RouteStop, len(newStops))
	for i, st := range newStops {
		st.CompanyID = route.CompanyID
		st.RouteID = route.ID
		st.StopOrder = placement.Keys[i]
		out[i] = st
	}
	if err := tx.CreateStops(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}
