package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/logger"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"gorm.io/gorm"
)

// DefaultLeaseTTL is the heartbeat age after which a lease may be taken over.
const DefaultLeaseTTL = 30 * time.Second

// Lease is a Locker backed by rows in the series_leases table. A holder
// refreshes its heartbeat while it runs; a lease whose heartbeat is older
// than TTL is considered abandoned and is reclaimed.
type Lease struct {
	db     *gorm.DB
	holder string
	ttl    time.Duration
	retry  time.Duration
	log    *logger.Logger
}

// NewLease returns a Lease locker identifying itself as holder.
func NewLease(db *gorm.DB, holder string, ttl time.Duration, log *logger.Logger) *Lease {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Lease{db: db, holder: holder, ttl: ttl, retry: DefaultRetryInterval, log: log.With("component", "lease")}
}

// Acquire blocks until the lease on key is obtained or ctx is done.
func (l *Lease) Acquire(ctx context.Context, key string) (Release, error) {
	return poll(ctx, l.retry, func() (Release, error) { return l.TryAcquire(ctx, key) })
}

// TryAcquire takes the lease on key if it is free or stale, and returns
// ErrHeld otherwise.
func (l *Lease) TryAcquire(ctx context.Context, key string) (Release, error) {
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cutoff := time.Now().Add(-l.ttl)

		// Reclaim an abandoned lease.
		if err := tx.Where("lease_key = ? AND last_heartbeat < ?", key, cutoff).
			Delete(&models.SeriesLease{}).Error; err != nil {
			return fmt.Errorf("expire stale lease: %w", err)
		}

		var existing models.SeriesLease
		result := tx.Where("lease_key = ?", key).First(&existing)
		if result.Error == nil {
			return fmt.Errorf("%w: %s by %q", ErrHeld, key, existing.Holder)
		}
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check lease: %w", result.Error)
		}

		now := time.Now()
		if err := tx.Create(&models.SeriesLease{
			LeaseKey:      key,
			Holder:        l.holder,
			LastHeartbeat: now,
			AcquiredAt:    now,
		}).Error; err != nil {
			// Lost the race to another holder inserting the same key.
			return fmt.Errorf("%w: %s: %v", ErrHeld, key, err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrHeld) {
			return nil, err
		}
		return nil, fmt.Errorf("lock: acquire lease %s: %w", key, err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.heartbeatLoop(key, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			if err := l.release(key); err != nil {
				l.log.Warn("release lease", "key", key, "error", err)
			}
		})
	}, nil
}

func (l *Lease) heartbeatLoop(key string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := l.Heartbeat(key); err != nil {
				l.log.Warn("lease heartbeat", "key", key, "error", err)
			}
		}
	}
}

// Heartbeat refreshes the lease on key held by this holder.
func (l *Lease) Heartbeat(key string) error {
	result := l.db.Model(&models.SeriesLease{}).
		Where("lease_key = ? AND holder = ?", key, l.holder).
		Update("last_heartbeat", time.Now())
	if result.Error != nil {
		return fmt.Errorf("lock: heartbeat %s: %w", key, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("lock: heartbeat %s: lease not held by %s", key, l.holder)
	}
	return nil
}

func (l *Lease) release(key string) error {
	if err := l.db.Where("lease_key = ? AND holder = ?", key, l.holder).
		Delete(&models.SeriesLease{}).Error; err != nil {
		return fmt.Errorf("lock: release lease %s: %w", key, err)
	}
	return nil
}
