// Package events fans domain events out to best-effort sinks: the activity
// log table and optional Slack/Discord channels. Emitting never fails the
// caller; sink errors are logged and dropped.
package events

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/logger"
)

// Event types.
const (
	ScheduleAdded          = "route.schedule_added"
	ScheduleCancelled      = "route.schedule_cancelled"
	StopsReordered         = "route.stops_reordered"
	StopsInserted          = "route.stops_inserted"
	RouteStatusChanged     = "route.status_changed"
	RouteRepaired          = "route.repaired"
	SeriesCreated          = "series.created"
	SeriesChildAdded       = "series.child_added"
	SeriesChildRemoved     = "series.child_removed"
	SeriesCancelled        = "series.cancelled"
	OccurrenceMaterialized = "series.occurrence_materialized"
	OccurrenceSkipped      = "series.occurrence_skipped"
	MaterializationRun     = "series.materialization_run"
)

// Entity types.
const (
	EntityRoute  = "route"
	EntitySeries = "series"
)

// Event is one domain fact worth recording.
type Event struct {
	Type       string
	CompanyID  string
	EntityType string
	EntityID   string
	At         time.Time
	Data       map[string]interface{}
}

// Text renders the event as a single line for chat sinks.
func (e Event) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s=%s", e.CompanyID, e.Type, e.EntityType, e.EntityID)
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
	}
	return b.String()
}

// Sink receives events.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Emitter is what domain services depend on.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// Bus delivers each event to every sink in order.
type Bus struct {
	sinks []Sink
	log   *logger.Logger
}

// NewBus returns a Bus over sinks.
func NewBus(log *logger.Logger, sinks ...Sink) *Bus {
	if log == nil {
		log = logger.Nop()
	}
	return &Bus{sinks: sinks, log: log.With("component", "events")}
}

// Emit stamps the event time when missing and publishes to every sink.
func (b *Bus) Emit(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	for _, s := range b.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			b.log.Warn("publish event", "type", ev.Type, "entity_id", ev.EntityID, "sink", fmt.Sprintf("%T", s), "error", err)
		}
	}
}

// Discard drops every event.
type Discard struct{}

// Emit does nothing.
func (Discard) Emit(context.Context, Event) {}
