// Package lock serializes work keyed by series or route ID, in-process or
// across processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/config"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/logger"
	"gorm.io/gorm"
)

// DefaultRetryInterval is how often a blocked Acquire polls a shared backend.
const DefaultRetryInterval = 100 * time.Millisecond

// ErrHeld is returned by TryAcquire when another holder owns the key.
var ErrHeld = errors.New("lock: held by another holder")

// Release gives a lock back. It is safe to call more than once.
type Release func()

// Locker hands out mutual exclusion per key.
type Locker interface {
	// Acquire blocks until the key is free or ctx is done.
	Acquire(ctx context.Context, key string) (Release, error)
}

// SeriesKey is the lock key for one series.
func SeriesKey(seriesID string) string { return "series:" + seriesID }

// RouteKey is the lock key for one route.
func RouteKey(routeID string) string { return "route:" + routeID }

// DayKey is the lock key for placing schedules on a company's routes of one
// day (formatted YYYY-MM-DD). It is always taken last: series and route
// locks may be held while waiting for it, never the other way round.
func DayKey(companyID, day string) string { return "day:" + companyID + ":" + day }

// New builds the Locker selected by cfg.Backend.
func New(cfg config.LockConfig, db *gorm.DB, log *logger.Logger) (Locker, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocal(), nil
	case "db":
		return NewLease(db, holderID(), cfg.TTL, log), nil
	case "redis":
		client, err := DialRedis(cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		return NewRedis(client, cfg.TTL, log), nil
	default:
		return nil, fmt.Errorf("lock: unknown backend %q", cfg.Backend)
	}
}

func holderID() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s/%d/%s", host, os.Getpid(), uuid.NewString()[:8])
}

// poll retries try until it succeeds, fails with something other than
// ErrHeld, or ctx is done.
func poll(ctx context.Context, interval time.Duration, try func() (Release, error)) (Release, error) {
	for {
		rel, err := try()
		if !errors.Is(err, ErrHeld) {
			return rel, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock: wait: %w", ctx.Err())
		case <-time.After(interval):
		}
	}
}
