// Package series manages recurring route definitions: their weekly
// recurrence, the effective-dated membership of child schedules, and the
// conflict rules for changing that membership.
package series

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/apperr"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/directory"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/events"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/lock"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/logger"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/ordering"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/store"
)

// Deps holds the collaborators of a Service.
type Deps struct {
	Store     *store.Store
	Gap       int
	Schedules directory.ScheduleDirectory
	Locks     lock.Locker
	Events    events.Emitter
	Log       *logger.Logger
	Now       func() time.Time
}

// Service implements the series lifecycle.
type Service struct {
	store     *store.Store
	resolver  *Resolver
	gap       int
	schedules directory.ScheduleDirectory
	locks     lock.Locker
	events    events.Emitter
	log       *logger.Logger
	now       func() time.Time
}

// NewService returns a Service over d.
func NewService(d Deps) *Service {
	s := &Service{
		store:     d.Store,
		resolver:  NewResolver(d.Store),
		gap:       ordering.New(d.Gap).Gap,
		schedules: d.Schedules,
		locks:     d.Locks,
		events:    d.Events,
		log:       d.Log,
		now:       d.Now,
	}
	if s.schedules == nil {
		s.schedules = directory.NewGormDirectory(d.Store.DB())
	}
	if s.locks == nil {
		s.locks = lock.NewLocal()
	}
	if s.events == nil {
		s.events = events.Discard{}
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	s.log = s.log.With("component", "series")
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// lockSeries takes the series lock that materialization also holds, so
// membership changes never interleave with a run over the same series.
func (s *Service) lockSeries(ctx context.Context, seriesID string) (lock.Release, error) {
	return s.locks.Acquire(ctx, lock.SeriesKey(seriesID))
}

// Resolver exposes the conflict resolver.
func (s *Service) Resolver() *Resolver { return s.resolver }

// CreateRequest describes a new series.
type CreateRequest struct {
	CompanyID          string
	Name               string
	DriverID           string
	VehicleID          string
	EstimatedStartTime string // HH:MM
	EstimatedEndTime   string // HH:MM
	RecurrenceInterval int
	StartDate          time.Time
	EndDate            *time.Time
}

func (r CreateRequest) validate() error {
	var errs []string
	if strings.TrimSpace(r.Name) == "" {
		errs = append(errs, "name is required")
	}
	if r.RecurrenceInterval < MinInterval || r.RecurrenceInterval > MaxInterval {
		errs = append(errs, fmt.Sprintf("recurrence interval must be %d..%d weeks, got %d", MinInterval, MaxInterval, r.RecurrenceInterval))
	}
	if r.StartDate.IsZero() {
		errs = append(errs, "start date is required")
	}
	if r.EndDate != nil && models.Day(*r.EndDate).Before(models.Day(r.StartDate)) {
		errs = append(errs, "end date is before start date")
	}
	start, errStart := time.Parse("15:04", r.EstimatedStartTime)
	end, errEnd := time.Parse("15:04", r.EstimatedEndTime)
	switch {
	case errStart != nil:
		errs = append(errs, fmt.Sprintf("invalid start time %q", r.EstimatedStartTime))
	case errEnd != nil:
		errs = append(errs, fmt.Sprintf("invalid end time %q", r.EstimatedEndTime))
	case !end.After(start):
		errs = append(errs, "end time must be after start time")
	}
	if len(errs) > 0 {
		return apperr.Validation("series: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Create validates and stores a new ACTIVE series.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.RouteSeries, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	rs := &models.RouteSeries{
		CompanyID:          req.CompanyID,
		SeriesName:         strings.TrimSpace(req.Name),
		DriverID:           req.DriverID,
		VehicleID:          req.VehicleID,
		EstimatedStartTime: req.EstimatedStartTime,
		EstimatedEndTime:   req.EstimatedEndTime,
		RecurrenceInterval: req.RecurrenceInterval,
		StartDate:          req.StartDate,
		EndDate:            req.EndDate,
		Status:             models.SeriesStatusActive,
	}
	if err := s.store.CreateSeries(ctx, rs); err != nil {
		return nil, err
	}
	s.events.Emit(ctx, events.Event{
		Type:       events.SeriesCreated,
		CompanyID:  rs.CompanyID,
		EntityType: events.EntitySeries,
		EntityID:   rs.ID,
		Data: map[string]interface{}{
			"name":     rs.SeriesName,
			"weekday":  rs.StartDate.Weekday().String(),
			"interval": rs.RecurrenceInterval,
		},
	})
	return rs, nil
}

// Get returns a series with all of its membership rows.
func (s *Service) Get(ctx context.Context, companyID, seriesID string) (*models.RouteSeries, error) {
	rs, err := s.store.GetSeries(ctx, companyID, seriesID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListSeriesMemberships(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	rs.Schedules = rows
	return rs, nil
}

// List returns the company's series, optionally filtered by status.
func (s *Service) List(ctx context.Context, companyID, status string) ([]models.RouteSeries, error) {
	return s.store.ListSeries(ctx, companyID, status)
}

// Occurrences returns the recorded occurrences of a series within [from, to].
func (s *Service) Occurrences(ctx context.Context, companyID, seriesID string, from, to time.Time) ([]models.RouteSeriesOccurrence, error) {
	if _, err := s.store.GetSeries(ctx, companyID, seriesID); err != nil {
		return nil, err
	}
	return s.store.ListOccurrences(ctx, seriesID, from, to)
}

// activeSeries loads a series and requires it to be ACTIVE.
func (s *Service) activeSeries(ctx context.Context, companyID, seriesID string) (*models.RouteSeries, error) {
	rs, err := s.store.GetSeries(ctx, companyID, seriesID)
	if err != nil {
		return nil, err
	}
	if rs.Status != models.SeriesStatusActive {
		return nil, apperr.InvalidState("series %s is %s", seriesID, rs.Status)
	}
	return rs, nil
}
