package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"gorm.io/gorm"
)

// SaveJournal records the final stop-key mapping of a reorder in flight,
// replacing any previous journal of the route.
func (s *Store) SaveJournal(ctx context.Context, routeID string, mapping map[string]int) error {
	data, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("store: marshal journal for route %s: %w", routeID, err)
	}
	if err := s.q(ctx).Where("route_id = ?", routeID).Delete(&models.ReorderJournal{}).Error; err != nil {
		return fmt.Errorf("store: clear journal for route %s: %w", routeID, err)
	}
	j := models.ReorderJournal{RouteID: routeID, Mapping: string(data)}
	if err := s.q(ctx).Create(&j).Error; err != nil {
		return fmt.Errorf("store: save journal for route %s: %w", routeID, err)
	}
	return nil
}

// GetJournal returns the pending mapping for a route, or nil when none exists.
func (s *Store) GetJournal(ctx context.Context, routeID string) (map[string]int, error) {
	var j models.ReorderJournal
	err := s.q(ctx).Where("route_id = ?", routeID).First(&j).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get journal for route %s: %w", routeID, err)
	}
	mapping := make(map[string]int)
	if err := json.Unmarshal([]byte(j.Mapping), &mapping); err != nil {
		return nil, fmt.Errorf("store: decode journal for route %s: %w", routeID, err)
	}
	return mapping, nil
}

// DeleteJournal removes a route's journal.
func (s *Store) DeleteJournal(ctx context.Context, routeID string) error {
	if err := s.q(ctx).Where("route_id = ?", routeID).Delete(&models.ReorderJournal{}).Error; err != nil {
		return fmt.Errorf("store: delete journal for route %s: %w", routeID, err)
	}
	return nil
}
