// Package scheduler runs the nightly materialization job on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/config"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/logger"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/materialize"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Materializer builds routes for a company over a date range.
type Materializer interface {
	MaterializeForDateRange(ctx context.Context, companyID string, from, to time.Time, force bool) (*materialize.Result, error)
}

// Repairer finishes reorders interrupted between their two phases.
type Repairer interface {
	RepairAll(ctx context.Context) ([]string, error)
}

// Companies lists the tenants that have something to materialize.
type Companies interface {
	CompaniesWithActiveSeries(ctx context.Context) ([]string, error)
}

// Summary totals one pass over every company.
type Summary struct {
	From      time.Time
	To        time.Time
	Companies int
	Created   int
	Updated   int
	Skipped   int
	Failures  int
	Repaired  []string
}

// Scheduler fires the materialization pass on its cron schedule.
type Scheduler struct {
	cfg       config.MaterializeConfig
	loc       *time.Location
	mat       Materializer
	repair    Repairer
	companies Companies
	log       *logger.Logger
	now       func() time.Time
}

// New returns a Scheduler. repair may be nil.
func New(cfg config.MaterializeConfig, loc *time.Location, mat Materializer, repair Repairer, companies Companies, log *logger.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Scheduler{
		cfg:       cfg,
		loc:       loc,
		mat:       mat,
		repair:    repair,
		companies: companies,
		log:       log.With("component", "scheduler"),
		now:       time.Now,
	}
}

// Run blocks until ctx is cancelled, firing RunOnce at every scheduled time.
// Interrupted reorders are repaired once at startup.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := cronParser.Parse(s.cfg.Schedule); err != nil {
		return fmt.Errorf("scheduler: parse schedule %q: %w", s.cfg.Schedule, err)
	}
	if s.repair != nil {
		repaired, err := s.repair.RepairAll(ctx)
		if err != nil {
			s.log.Error("startup repair", "error", err)
		} else if len(repaired) > 0 {
			s.log.Info("repaired interrupted reorders", "routes", len(repaired))
		}
	}
	if s.cfg.RunOnStart {
		s.fire(ctx)
	}

	timer := time.NewTimer(nextCronDuration(s.cfg.Schedule, s.now(), s.loc))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			s.fire(ctx)
			timer.Reset(nextCronDuration(s.cfg.Schedule, s.now(), s.loc))
		}
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	sum, err := s.RunOnce(ctx)
	if err != nil {
		s.log.Error("materialization pass", "error", err)
		return
	}
	s.log.Info("materialization pass finished",
		"from", sum.From.Format(models.DateLayout),
		"to", sum.To.Format(models.DateLayout),
		"companies", sum.Companies,
		"created", sum.Created,
		"updated", sum.Updated,
		"skipped", sum.Skipped,
		"failures", sum.Failures)
}

// Window returns the inclusive date range a pass starting at now covers:
// today in the configured zone through HorizonDays ahead.
func (s *Scheduler) Window(now time.Time) (time.Time, time.Time) {
	local := now.In(s.loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	return today, today.AddDate(0, 0, s.cfg.HorizonDays)
}

// RunOnce materializes the horizon window for every company with active
// series. One company failing does not stop the others; their errors are
// joined into the returned error alongside the partial summary.
func (s *Scheduler) RunOnce(ctx context.Context) (*Summary, error) {
	from, to := s.Window(s.now())
	sum := &Summary{From: from, To: to}
	ids, err := s.companies.CompaniesWithActiveSeries(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: list companies: %w", err)
	}

	var errs []error
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		res, err := s.mat.MaterializeForDateRange(ctx, id, from, to, false)
		if err != nil {
			s.log.Error("materialize company", "company_id", id, "error", err)
			errs = append(errs, fmt.Errorf("company %s: %w", id, err))
			continue
		}
		sum.Companies++
		sum.Created += res.RoutesCreated
		sum.Updated += res.RoutesUpdated
		sum.Skipped += res.RoutesSkipped
		sum.Failures += len(res.Failures)
	}
	return sum, errors.Join(errs...)
}

// nextCronDuration returns the time from now until the next fire of expr
// evaluated in loc. An unparseable expression falls back to one day.
func nextCronDuration(expr string, now time.Time, loc *time.Location) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 24 * time.Hour
	}
	d := sched.Next(now.In(loc)).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
