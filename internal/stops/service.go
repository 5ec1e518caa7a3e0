// Package stops owns the ordered stop sequence of a route: inserting new
// stops at a logical position, reordering them in two committed phases,
// repairing routes left between those phases, and adding or cancelling a
// child's schedule on a route.
package stops

import (
	"context"
	"time"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/absence"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/directory"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/events"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/lock"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/logger"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/ordering"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/store"
)

// Deps holds the collaborators of a Service. Store is required; the rest
// fall back to no-op or in-process defaults.
type Deps struct {
	Store     *store.Store
	Gap       int
	Absences  absence.Checker
	Schedules directory.ScheduleDirectory
	Locks     lock.Locker
	Events    events.Emitter
	Log       *logger.Logger
	Now       func() time.Time
}

// Service implements the stop operations of a route.
type Service struct {
	store     *store.Store
	calc      ordering.Calculator
	absences  absence.Checker
	schedules directory.ScheduleDirectory
	locks     lock.Locker
	events    events.Emitter
	log       *logger.Logger
	now       func() time.Time

	// afterPhase1 runs between the two reorder phases. Tests use it to
	// simulate a crash.
	afterPhase1 func(routeID string) error
}

// NewService returns a Service over d.
func NewService(d Deps) *Service {
	s := &Service{
		store:     d.Store,
		calc:      ordering.New(d.Gap),
		absences:  d.Absences,
		schedules: d.Schedules,
		locks:     d.Locks,
		events:    d.Events,
		log:       d.Log,
		now:       d.Now,
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
	s.log = s.log.With("component", "stops")
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Gap returns the key spacing used by the service.
func (s *Service) Gap() int { return s.calc.Gap }

// withRoute runs fn holding the route lock, after finishing any reorder left
// half-done on the route.
func (s *Service) withRoute(ctx context.Context, routeID string, fn func() error) error {
	release, err := s.locks.Acquire(ctx, lock.RouteKey(routeID))
	if err != nil {
		return err
	}
	defer release()
	if _, err := s.repair(ctx, routeID); err != nil {
		return err
	}
	return fn()
}
