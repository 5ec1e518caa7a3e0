package stops

import (
	"context"
	"errors"
	"sort"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/events"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/lock"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/store"
)

// Repair finishes a reorder interrupted between its two phases. It reports
// whether the route needed repair.
func (s *Service) Repair(ctx context.Context, routeID string) (bool, error) {
	release, err := s.locks.Acquire(ctx, lock.RouteKey(routeID))
	if err != nil {
		return false, err
	}
	defer release()
	return s.repair(ctx, routeID)
}

// RepairAll repairs every route holding a negative key and returns the IDs
// it repaired. A failing route does not stop the sweep; the errors are
// joined.
func (s *Service) RepairAll(ctx context.Context) ([]string, error) {
	ids, err := s.store.RoutesWithNegativeKeys(ctx)
	if err != nil {
		return nil, err
	}
	var repaired []string
	var errs []error
	for _, id := range ids {
		ok, err := s.Repair(ctx, id)
		if err != nil {
			s.log.Error("repair route", "route_id", id, "error", err)
			errs = append(errs, err)
			continue
		}
		if ok {
			repaired = append(repaired, id)
		}
	}
	return repaired, errors.Join(errs...)
}

// repair must be called with the route lock held.
//
// When the journal covers every stop, its mapping is applied as phase 2 would
// have. Otherwise the route is renumbered: negative keys first in the order
// they encode (-1, -2, ...), then any positive keys ascending.
func (s *Service) repair(ctx context.Context, routeID string) (bool, error) {
	var fixed bool
	var companyID string
	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		all, err := tx.ListStops(ctx, routeID, true)
		if err != nil {
			return err
		}
		if !hasNegative(all) {
			return nil
		}
		fixed = true
		companyID = all[0].CompanyID

		mapping, err := tx.GetJournal(ctx, routeID)
		if err != nil {
			return err
		}
		if !covers(mapping, all) {
			mapping = s.renumberMapping(all)
		}
		return s.finishFromMapping(ctx, tx, routeID, mapping)
	})
	if err != nil || !fixed {
		return false, err
	}

	s.log.Warn("repaired interrupted reorder", "route_id", routeID)
	s.events.Emit(ctx, events.Event{
		Type:       events.RouteRepaired,
		CompanyID:  companyID,
		EntityType: events.EntityRoute,
		EntityID:   routeID,
	})
	return true, nil
}

func hasNegative(stops []models.RouteStop) bool {
	for _, st := range stops {
		if st.StopOrder < 0 {
			return true
		}
	}
	return false
}

func covers(mapping map[string]int, stops []models.RouteStop) bool {
	if mapping == nil {
		return false
	}
	for _, st := range stops {
		if _, ok := mapping[st.ID]; !ok {
			return false
		}
	}
	return true
}

func (s *Service) renumberMapping(stops []models.RouteStop) map[string]int {
	ordered := make([]models.RouteStop, len(stops))
	copy(ordered, stops)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].StopOrder, ordered[j].StopOrder
		if (a < 0) != (b < 0) {
			return a < 0
		}
		if a < 0 {
			return a > b
		}
		return a < b
	})
	mapping := make(map[string]int, len(ordered))
	for _, st := range s.calc.Renumber(ordered) {
		mapping[st.ID] = st.StopOrder
	}
	return mapping
}
