// Package materialize expands active route series into concrete dated routes.
// Every (series, date) pair is recorded as an occurrence, which is what makes
// repeated runs over the same range idempotent.
package materialize

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/absence"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/apperr"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/directory"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/events"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/lock"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/logger"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/ordering"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/series"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/store"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is how many series are processed at once when Deps
// leaves it unset.
const DefaultConcurrency = 4

// Outcome is what happened to one occurrence.
type Outcome string

const (
	// Created means a new route was built for a date never materialized.
	Created Outcome = "CREATED"
	// Updated means a forced run replaced a previously materialized route.
	Updated Outcome = "UPDATED"
	// Skipped means no route was built: already materialized, or nothing
	// left to transport after filtering.
	Skipped Outcome = "SKIPPED"
)

// Skip reasons.
const (
	ReasonAlreadyMaterialized = "already_materialized"
	ReasonNoSchedules         = "no_active_schedules"
	ReasonAllFiltered         = "all_schedules_filtered"
	ReasonRouteStarted        = "route_already_started"
)

// OccurrenceResult describes one processed (series, date).
type OccurrenceResult struct {
	SeriesID   string
	Date       time.Time
	Outcome    Outcome
	RouteID    string
	SkipReason string
	// Filtered maps a schedule ID left off the route to why.
	Filtered map[string]string
}

// Failure is a (series, date) that could not be processed. Date is zero when
// the whole series failed before any date was attempted.
type Failure struct {
	SeriesID string
	Date     time.Time
	Err      error
}

// Result aggregates a run. Counters only include completed work.
type Result struct {
	RoutesCreated int
	RoutesUpdated int
	RoutesSkipped int
	Occurrences   []OccurrenceResult
	Failures      []Failure
}

func (r *Result) add(o OccurrenceResult) {
	switch o.Outcome {
	case Created:
		r.RoutesCreated++
	case Updated:
		r.RoutesUpdated++
	case Skipped:
		r.RoutesSkipped++
	}
	r.Occurrences = append(r.Occurrences, o)
}

// Deps holds the collaborators of a Service.
type Deps struct {
	Store       *store.Store
	Gap         int
	Concurrency int
	Absences    absence.Checker
	Schedules   directory.ScheduleDirectory
	Locks       lock.Locker
	Events      events.Emitter
	Log         *logger.Logger
	Now         func() time.Time
}

// Service materializes series.
type Service struct {
	store       *store.Store
	calc        ordering.Calculator
	concurrency int
	absences    absence.Checker
	schedules   directory.ScheduleDirectory
	locks       lock.Locker
	events      events.Emitter
	log         *logger.Logger
	now         func() time.Time
}

// NewService returns a Service over d.
func NewService(d Deps) *Service {
	s := &Service{
		store:       d.Store,
		calc:        ordering.New(d.Gap),
		concurrency: d.Concurrency,
		absences:    d.Absences,
		schedules:   d.Schedules,
		locks:       d.Locks,
		events:      d.Events,
		log:         d.Log,
		now:         d.Now,
	}
	if s.concurrency < 1 {
		s.concurrency = DefaultConcurrency
	}
	if s.absences == nil {
		s.absences = absence.NewGormChecker(d.Store.DB())
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
	s.log = s.log.With("component", "materialize")
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// MaterializeForDateRange builds routes for every ACTIVE series of the
// company overlapping [from, to]. Already materialized dates are skipped
// unless force is set, in which case their PLANNED route is rebuilt. A
// failing series or date is recorded in Result.Failures and does not stop
// the others; the returned error is reserved for failures that prevent the
// run from starting.
func (s *Service) MaterializeForDateRange(ctx context.Context, companyID string, from, to time.Time, force bool) (*Result, error) {
	from, to = models.Day(from), models.Day(to)
	if to.Before(from) {
		return nil, apperr.Validation("date range end %s is before start %s", to.Format(models.DateLayout), from.Format(models.DateLayout))
	}
	list, err := s.store.ListActiveSeriesOverlapping(ctx, companyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("materialize: %w", err)
	}
	return s.run(ctx, companyID, list, from, to, force), nil
}

// MaterializeSeries runs one series over [from, to].
func (s *Service) MaterializeSeries(ctx context.Context, companyID, seriesID string, from, to time.Time, force bool) (*Result, error) {
	from, to = models.Day(from), models.Day(to)
	if to.Before(from) {
		return nil, apperr.Validation("date range end %s is before start %s", to.Format(models.DateLayout), from.Format(models.DateLayout))
	}
	rs, err := s.store.GetSeries(ctx, companyID, seriesID)
	if err != nil {
		return nil, err
	}
	if rs.Status != models.SeriesStatusActive {
		return nil, apperr.InvalidState("series %s is %s", seriesID, rs.Status)
	}
	return s.run(ctx, companyID, []models.RouteSeries{*rs}, from, to, force), nil
}

func (s *Service) run(ctx context.Context, companyID string, list []models.RouteSeries, from, to time.Time, force bool) *Result {
	start := s.now()
	res := &Result{}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range list {
		rs := list[i]
		g.Go(func() error {
			occs, fails := s.materializeSeries(ctx, rs, from, to, force)
			mu.Lock()
			defer mu.Unlock()
			for _, o := range occs {
				res.add(o)
			}
			res.Failures = append(res.Failures, fails...)
			return nil
		})
	}
	_ = g.Wait()

	s.log.Info("materialization finished",
		"company_id", companyID,
		"from", from.Format(models.DateLayout),
		"to", to.Format(models.DateLayout),
		"series", len(list),
		"created", res.RoutesCreated,
		"updated", res.RoutesUpdated,
		"skipped", res.RoutesSkipped,
		"failures", len(res.Failures),
		"elapsed", s.now().Sub(start).String())
	s.events.Emit(ctx, events.Event{
		Type:       events.MaterializationRun,
		CompanyID:  companyID,
		EntityType: events.EntitySeries,
		Data: map[string]interface{}{
			"from":     from.Format(models.DateLayout),
			"to":       to.Format(models.DateLayout),
			"created":  res.RoutesCreated,
			"updated":  res.RoutesUpdated,
			"skipped":  res.RoutesSkipped,
			"failures": len(res.Failures),
		},
	})
	return res
}

// materializeSeries processes every occurrence date of one series under the
// series lock.
func (s *Service) materializeSeries(ctx context.Context, rs models.RouteSeries, from, to time.Time, force bool) ([]OccurrenceResult, []Failure) {
	log := s.log.With("series_id", rs.ID)
	release, err := s.locks.Acquire(ctx, lock.SeriesKey(rs.ID))
	if err != nil {
		log.Error("acquire series lock", "error", err)
		return nil, []Failure{{SeriesID: rs.ID, Err: err}}
	}
	defer release()

	var occs []OccurrenceResult
	var fails []Failure
	for _, date := range series.OccurrenceDates(rs, from, to) {
		if err := ctx.Err(); err != nil {
			fails = append(fails, Failure{SeriesID: rs.ID, Date: date, Err: err})
			break
		}
		o, err := s.materializeOne(ctx, rs, date, force)
		if err != nil {
			log.Error("materialize occurrence", "date", date.Format(models.DateLayout), "error", err)
			fails = append(fails, Failure{SeriesID: rs.ID, Date: date, Err: err})
			continue
		}
		occs = append(occs, o)
	}
	return occs, fails
}
