package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetOccurrence returns the occurrence of a series on day, or nil when the
// date was never materialized.
func (s *Store) GetOccurrence(ctx context.Context, seriesID string, day time.Time) (*models.RouteSeriesOccurrence, error) {
	var occ models.RouteSeriesOccurrence
	err := s.q(ctx).Where("series_id = ? AND occurrence_date = ?", seriesID, models.Day(day)).First(&occ).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get occurrence of %s: %w", seriesID, err)
	}
	return &occ, nil
}

// UpsertOccurrence writes the occurrence for (series, date), replacing the
// route, status and timestamps of an existing row.
func (s *Store) UpsertOccurrence(ctx context.Context, occ *models.RouteSeriesOccurrence) error {
	if occ.ID == "" {
		occ.ID = NewID()
	}
	occ.OccurrenceDate = models.Day(occ.OccurrenceDate)
	if err := s.q(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "series_id"}, {Name: "occurrence_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"route_id", "status", "skip_reason", "materialized_at", "updated_at"}),
	}).Create(occ).Error; err != nil {
		return fmt.Errorf("store: upsert occurrence of %s: %w", occ.SeriesID, err)
	}
	return nil
}

// ListOccurrences returns a series' occurrences within [from, to].
func (s *Store) ListOccurrences(ctx context.Context, seriesID string, from, to time.Time) ([]models.RouteSeriesOccurrence, error) {
	var out []models.RouteSeriesOccurrence
	if err := s.q(ctx).
		Where("series_id = ? AND occurrence_date >= ? AND occurrence_date <= ?", seriesID, models.Day(from), models.Day(to)).
		Order("occurrence_date ASC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("store: list occurrences of %s: %w", seriesID, err)
	}
	return out, nil
}
