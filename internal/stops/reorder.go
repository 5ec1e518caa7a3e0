package stops

import (
	"context"
	"fmt"
	"sort"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/apperr"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/events"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/store"
)

// RankUpdate asks for one stop to sit at a 1-based rank.
type RankUpdate struct {
	StopID string `json:"stop_id" binding:"required"`
	Rank   int    `json:"rank" binding:"required,min=1"`
}

// Reorder rewrites the order of a route's stops so that, read back by key,
// they follow the requested ranks. The batch must rank every modifiable stop
// of the route exactly once with ranks 1..N. Executed and cancelled stops
// cannot be referenced and keep their place outside the ranked block.
//
// Keys move in two committed phases. Phase 1 parks every stop on a unique
// negative key -(i+1), where i is its final position, and records the final
// mapping in the route's reorder journal. Phase 2 writes each stop's final
// key and drops the journal. Executed stops stay in front of the ranked ones
// and cancelled stops trail them, each group in its current key order.
func (s *Service) Reorder(ctx context.Context, companyID, routeID string, ranks []RankUpdate) error {
	route, err := s.store.GetRoute(ctx, companyID, routeID)
	if err != nil {
		return err
	}
	if route.Status != models.RouteStatusPlanned && route.Status != models.RouteStatusInProgress {
		return apperr.InvalidState("route %s is %s; stops can no longer be reordered", routeID, route.Status)
	}

	err = s.withRoute(ctx, routeID, func() error {
		all, err := s.store.ListStops(ctx, routeID, true)
		if err != nil {
			return err
		}
		final, err := s.finalOrder(routeID, all, ranks)
		if err != nil {
			return err
		}
		return s.applyTwoPhase(ctx, routeID, final)
	})
	if err != nil {
		return err
	}

	s.events.Emit(ctx, events.Event{
		Type:       events.StopsReordered,
		CompanyID:  companyID,
		EntityType: events.EntityRoute,
		EntityID:   routeID,
		Data:       map[string]interface{}{"stops": len(ranks)},
	})
	return nil
}

// finalOrder validates the batch and returns the route's stop IDs in their
// final order: executed stops, then ranked stops by rank, then cancelled
// stops. all is in key order, so the fixed groups keep their relative order.
func (s *Service) finalOrder(routeID string, all []models.RouteStop, ranks []RankUpdate) ([]string, error) {
	byID := make(map[string]models.RouteStop, len(all))
	var executed, active, cancelled []models.RouteStop
	for _, st := range all {
		byID[st.ID] = st
		switch {
		case st.IsCancelled:
			cancelled = append(cancelled, st)
		case !st.Modifiable():
			executed = append(executed, st)
		default:
			active = append(active, st)
		}
	}

	seenStop := make(map[string]bool, len(ranks))
	seenRank := make(map[int]bool, len(ranks))
	for _, r := range ranks {
		st, ok := byID[r.StopID]
		if !ok {
			return nil, apperr.Validation("stop %s does not belong to route %s", r.StopID, routeID)
		}
		if !st.Modifiable() {
			return nil, apperr.Validation("stop %s cannot be reordered: already executed or cancelled", r.StopID)
		}
		if seenStop[r.StopID] {
			return nil, apperr.Validation("stop %s appears more than once", r.StopID)
		}
		if r.Rank < 1 || r.Rank > len(ranks) {
			return nil, apperr.Validation("rank %d out of range 1..%d", r.Rank, len(ranks))
		}
		if seenRank[r.Rank] {
			return nil, apperr.Validation("duplicate rank %d", r.Rank)
		}
		seenStop[r.StopID] = true
		seenRank[r.Rank] = true
	}
	if len(ranks) != len(active) {
		return nil, apperr.Validation("reorder must rank all %d modifiable stops of route %s, got %d", len(active), routeID, len(ranks))
	}

	sorted := make([]RankUpdate, len(ranks))
	copy(sorted, ranks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })

	pickupRank := make(map[string]int)
	for _, r := range sorted {
		st := byID[r.StopID]
		if st.StopType == models.StopTypePickup {
			pickupRank[st.ScheduleID] = r.Rank
		}
	}
	for _, r := range sorted {
		st := byID[r.StopID]
		if st.StopType != models.StopTypeDropoff {
			continue
		}
		if p, ok := pickupRank[st.ScheduleID]; ok && p > r.Rank {
			return nil, apperr.Validation("dropoff of schedule %s would precede its pickup", st.ScheduleID)
		}
	}

	out := make([]string, 0, len(all))
	for _, st := range executed {
		out = append(out, st.ID)
	}
	for _, r := range sorted {
		out = append(out, r.StopID)
	}
	for _, st := range cancelled {
		out = append(out, st.ID)
	}
	return out, nil
}

// applyTwoPhase moves the stops listed in final order to keys (i+1)*gap.
func (s *Service) applyTwoPhase(ctx context.Context, routeID string, final []string) error {
	mapping := make(map[string]int, len(final))
	temps := make([]store.OrderUpdate, len(final))
	for i, id := range final {
		mapping[id] = (i + 1) * s.calc.Gap
		temps[i] = store.OrderUpdate{StopID: id, Key: -(i + 1)}
	}

	// Phase 1: journal + negative keys. All keys are positive here, so the
	// negative parking slots cannot collide.
	if err := s.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.SaveJournal(ctx, routeID, mapping); err != nil {
			return err
		}
		return tx.SetStopOrders(ctx, routeID, temps)
	}); err != nil {
		return fmt.Errorf("stops: reorder route %s phase 1: %w", routeID, err)
	}

	if s.afterPhase1 != nil {
		if err := s.afterPhase1(routeID); err != nil {
			return err
		}
	}

	// Phase 2: every stop is negative now, so the final keys cannot collide.
	if err := s.store.Transaction(ctx, func(tx *store.Store) error {
		return s.finishFromMapping(ctx, tx, routeID, mapping)
	}); err != nil {
		return fmt.Errorf("stops: reorder route %s phase 2: %w", routeID, err)
	}
	return nil
}

// finishFromMapping re-reads the route and writes the final keys of mapping,
// then drops the journal.
func (s *Service) finishFromMapping(ctx context.Context, tx *store.Store, routeID string, mapping map[string]int) error {
	current, err := tx.ListStops(ctx, routeID, true)
	if err != nil {
		return err
	}
	updates := make([]store.OrderUpdate, 0, len(current))
	for _, st := range current {
		k, ok := mapping[st.ID]
		if !ok {
			return fmt.Errorf("stops: stop %s of route %s missing from reorder mapping", st.ID, routeID)
		}
		updates = append(updates, store.OrderUpdate{StopID: st.ID, Key: k})
	}
	if err := tx.ApplyOrdersStaged(ctx, routeID, updates); err != nil {
		return err
	}
	return tx.DeleteJournal(ctx, routeID)
}
