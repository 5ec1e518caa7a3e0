package store

import (
	"context"
	"fmt"
	"time"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
)

// CreateSeries inserts a series, assigning an ID when empty.
func (s *Store) CreateSeries(ctx context.Context, rs *models.RouteSeries) error {
	if rs.ID == "" {
		rs.ID = NewID()
	}
	if rs.Status == "" {
		rs.Status = models.SeriesStatusActive
	}
	rs.StartDate = models.Day(rs.StartDate)
	if rs.EndDate != nil {
		end := models.Day(*rs.EndDate)
		rs.EndDate = &end
	}
	if err := s.q(ctx).Create(rs).Error; err != nil {
		return fmt.Errorf("store: create series: %w", err)
	}
	return nil
}

// GetSeries returns a series of the company.
func (s *Store) GetSeries(ctx context.Context, companyID, seriesID string) (*models.RouteSeries, error) {
	var rs models.RouteSeries
	if err := s.q(ctx).Where("id = ? AND company_id = ?", seriesID, companyID).First(&rs).Error; err != nil {
		return nil, notFound(err, "series", seriesID)
	}
	return &rs, nil
}

// ListSeries returns the company's series, optionally filtered by status.
func (s *Store) ListSeries(ctx context.Context, companyID, status string) ([]models.RouteSeries, error) {
	q := s.q(ctx).Where("company_id = ?", companyID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []models.RouteSeries
	if err := q.Order("start_date ASC, series_name ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("store: list series of %s: %w", companyID, err)
	}
	return out, nil
}

// ListActiveSeriesOverlapping returns ACTIVE series of the company whose
// [start_date, end_date] intersects [from, to]. An empty companyID selects
// every company.
func (s *Store) ListActiveSeriesOverlapping(ctx context.Context, companyID string, from, to time.Time) ([]models.RouteSeries, error) {
	q := s.q(ctx).
		Where("status = ?", models.SeriesStatusActive).
		Where("start_date <= ?", models.Day(to)).
		Where("(end_date IS NULL OR end_date >= ?)", models.Day(from))
	if companyID != "" {
		q = q.Where("company_id = ?", companyID)
	}
	var out []models.RouteSeries
	if err := q.Order("start_date ASC, id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("store: list active series: %w", err)
	}
	return out, nil
}

// CompaniesWithActiveSeries returns the distinct company IDs owning at least
// one ACTIVE series.
func (s *Store) CompaniesWithActiveSeries(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.q(ctx).Model(&models.RouteSeries{}).
		Where("status = ?", models.SeriesStatusActive).
		Distinct().
		Pluck("company_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("store: list companies with active series: %w", err)
	}
	return ids, nil
}

// CancelSeries sets the series CANCELLED with cancellation metadata. A
// non-nil endDate also caps the series' validity.
func (s *Store) CancelSeries(ctx context.Context, seriesID, by, reason string, at time.Time, endDate *time.Time) error {
	updates := map[string]interface{}{
		"status":              models.SeriesStatusCancelled,
		"cancelled_at":        at,
		"cancelled_by":        by,
		"cancellation_reason": reason,
	}
	if endDate != nil {
		updates["end_date"] = models.Day(*endDate)
	}
	if err := s.q(ctx).Model(&models.RouteSeries{}).Where("id = ?", seriesID).Updates(updates).Error; err != nil {
		return fmt.Errorf("store: cancel series %s: %w", seriesID, err)
	}
	return nil
}

// ListMemberships returns every membership row of a schedule in a series,
// ordered by valid_from.
func (s *Store) ListMemberships(ctx context.Context, seriesID, scheduleID string) ([]models.RouteSeriesSchedule, error) {
	var rows []models.RouteSeriesSchedule
	if err := s.q(ctx).
		Where("series_id = ? AND schedule_id = ?", seriesID, scheduleID).
		Order("valid_from ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list memberships of %s in %s: %w", scheduleID, seriesID, err)
	}
	return rows, nil
}

// ListMembershipsActiveOn returns the memberships of a series whose validity
// window covers day, ordered by pickup key.
func (s *Store) ListMembershipsActiveOn(ctx context.Context, seriesID string, day time.Time) ([]models.RouteSeriesSchedule, error) {
	d := models.Day(day)
	var rows []models.RouteSeriesSchedule
	if err := s.q(ctx).
		Where("series_id = ? AND valid_from <= ?", seriesID, d).
		Where("(valid_to IS NULL OR valid_to >= ?)", d).
		Order("pickup_stop_order ASC, schedule_id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list memberships of %s on %s: %w", seriesID, d.Format(models.DateLayout), err)
	}
	return rows, nil
}

// MaxMembershipKey returns the highest pickup or dropoff key used by any
// membership of the series, or 0 when it has none.
func (s *Store) MaxMembershipKey(ctx context.Context, seriesID string) (int, error) {
	var rows []models.RouteSeriesSchedule
	if err := s.q(ctx).Where("series_id = ?", seriesID).Find(&rows).Error; err != nil {
		return 0, fmt.Errorf("store: max membership key of %s: %w", seriesID, err)
	}
	max := 0
	for _, r := range rows {
		if r.PickupStopOrder > max {
			max = r.PickupStopOrder
		}
		if r.DropoffStopOrder > max {
			max = r.DropoffStopOrder
		}
	}
	return max, nil
}

// CreateMembership appends a membership row.
func (s *Store) CreateMembership(ctx context.Context, m *models.RouteSeriesSchedule) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	m.ValidFrom = models.Day(m.ValidFrom)
	if m.ValidTo != nil {
		to := models.Day(*m.ValidTo)
		m.ValidTo = &to
	}
	if err := s.q(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("store: create membership: %w", err)
	}
	return nil
}

// CloseMembership sets valid_to on a membership row. valid_from is never
// rewritten.
func (s *Store) CloseMembership(ctx context.Context, membershipID string, validTo time.Time) error {
	if err := s.q(ctx).Model(&models.RouteSeriesSchedule{}).
		Where("id = ?", membershipID).
		Update("valid_to", models.Day(validTo)).Error; err != nil {
		return fmt.Errorf("store: close membership %s: %w", membershipID, err)
	}
	return nil
}

// ListSeriesMemberships returns every membership row of a series, open or
// closed, ordered by schedule then valid_from.
func (s *Store) ListSeriesMemberships(ctx context.Context, seriesID string) ([]models.RouteSeriesSchedule, error) {
	var rows []models.RouteSeriesSchedule
	if err := s.q(ctx).
		Where("series_id = ?", seriesID).
		Order("schedule_id ASC, valid_from ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list memberships of %s: %w", seriesID, err)
	}
	return rows, nil
}
