package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/config"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/testutil"
	"github.com/redis/go-redis/v9"
)

func TestLocal_MutualExclusion(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rel, err := l.Acquire(ctx, SeriesKey("s1"))
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			rel()
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInside)
	}
	if len(l.slots) != 0 {
		t.Errorf("%d slots leaked", len(l.slots))
	}
}

func TestLocal_IndependentKeys(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()
	rel1, err := l.Acquire(ctx, SeriesKey("a"))
	if err != nil {
		t.Fatalf("Acquire a: %v", err)
	}
	defer rel1()
	rel2, err := l.Acquire(ctx, SeriesKey("b"))
	if err != nil {
		t.Fatalf("Acquire b while a held: %v", err)
	}
	rel2()
}

func TestLocal_ContextCancelled(t *testing.T) {
	l := NewLocal()
	rel, err := l.Acquire(context.Background(), RouteKey("r1"))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, RouteKey("r1")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	rel()
	rel() // idempotent
	if _, err := l.Acquire(context.Background(), RouteKey("r1")); err != nil {
		t.Errorf("Acquire after release: %v", err)
	}
}

func TestLease_HeldAndReleased(t *testing.T) {
	gdb := testutil.DB(t)
	a := NewLease(gdb, "holder-a", time.Minute, nil)
	b := NewLease(gdb, "holder-b", time.Minute, nil)
	ctx := context.Background()

	rel, err := a.TryAcquire(ctx, SeriesKey("s1"))
	if err != nil {
		t.Fatalf("TryAcquire a: %v", err)
	}
	if _, err := b.TryAcquire(ctx, SeriesKey("s1")); !errors.Is(err, ErrHeld) {
		t.Fatalf("TryAcquire b: err = %v, want ErrHeld", err)
	}
	if err := a.Heartbeat(SeriesKey("s1")); err != nil {
		t.Errorf("Heartbeat: %v", err)
	}
	if err := b.Heartbeat(SeriesKey("s1")); err == nil {
		t.Error("heartbeat by non-holder should fail")
	}
	rel()

	relB, err := b.TryAcquire(ctx, SeriesKey("s1"))
	if err != nil {
		t.Fatalf("TryAcquire b after release: %v", err)
	}
	relB()
}

func TestLease_ReclaimsStale(t *testing.T) {
	gdb := testutil.DB(t)
	stale := time.Now().Add(-time.Hour)
	if err := gdb.Create(&models.SeriesLease{LeaseKey: SeriesKey("s1"), Holder: "dead", LastHeartbeat: stale, AcquiredAt: stale}).Error; err != nil {
		t.Fatalf("seed lease: %v", err)
	}
	l := NewLease(gdb, "alive", time.Minute, nil)
	rel, err := l.TryAcquire(context.Background(), SeriesKey("s1"))
	if err != nil {
		t.Fatalf("TryAcquire over stale lease: %v", err)
	}
	defer rel()

	var got models.SeriesLease
	gdb.First(&got, "lease_key = ?", SeriesKey("s1"))
	if got.Holder != "alive" {
		t.Errorf("holder = %q, want alive", got.Holder)
	}
}

func TestLease_AcquireWaitsForRelease(t *testing.T) {
	gdb := testutil.DB(t)
	a := NewLease(gdb, "holder-a", time.Minute, nil)
	b := NewLease(gdb, "holder-b", time.Minute, nil)
	b.retry = 5 * time.Millisecond
	ctx := context.Background()

	rel, err := a.Acquire(ctx, RouteKey("r1"))
	if err != nil {
		t.Fatalf("Acquire a: %v", err)
	}
	go func() {
		time.Sleep(30 * time.Millisecond)
		rel()
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	relB, err := b.Acquire(waitCtx, RouteKey("r1"))
	if err != nil {
		t.Fatalf("Acquire b: %v", err)
	}
	relB()
}

// fakeRedis is an in-memory RedisClient understanding the two lock scripts.
type fakeRedis struct {
	mu   sync.Mutex
	keys map[string]string
	ttls map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = value.(string)
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys[keys[0]] != args[0].(string) {
		return redis.NewCmdResult(int64(0), nil)
	}
	switch script {
	case releaseScript:
		delete(f.keys, keys[0])
		delete(f.ttls, keys[0])
	case extendScript:
		f.ttls[keys[0]] = time.Duration(args[1].(int64)) * time.Millisecond
	}
	return redis.NewCmdResult(int64(1), nil)
}

func TestRedis_AcquireRelease(t *testing.T) {
	fake := newFakeRedis()
	r := NewRedis(fake, 10*time.Second, nil)
	ctx := context.Background()

	rel, err := r.TryAcquire(ctx, SeriesKey("s1"))
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if fake.ttls[keyPrefix+SeriesKey("s1")] != 10*time.Second {
		t.Errorf("ttl = %v", fake.ttls[keyPrefix+SeriesKey("s1")])
	}
	if _, err := r.TryAcquire(ctx, SeriesKey("s1")); !errors.Is(err, ErrHeld) {
		t.Fatalf("second TryAcquire: err = %v, want ErrHeld", err)
	}
	rel()
	if _, ok := fake.keys[keyPrefix+SeriesKey("s1")]; ok {
		t.Fatal("key not deleted on release")
	}
}

func TestRedis_ReleaseDoesNotStealForeignLock(t *testing.T) {
	fake := newFakeRedis()
	r := NewRedis(fake, 10*time.Second, nil)
	rel, err := r.TryAcquire(context.Background(), SeriesKey("s1"))
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	// Simulate expiry and takeover by another process.
	fake.mu.Lock()
	fake.keys[keyPrefix+SeriesKey("s1")] = "someone-else"
	fake.mu.Unlock()

	rel()
	if fake.keys[keyPrefix+SeriesKey("s1")] != "someone-else" {
		t.Error("release removed a lock owned by another holder")
	}
}

func TestNew_Backends(t *testing.T) {
	gdb := testutil.DB(t)
	l, err := New(config.LockConfig{Backend: "local"}, gdb, nil)
	if err != nil {
		t.Fatalf("New local: %v", err)
	}
	if _, ok := l.(*Local); !ok {
		t.Errorf("local backend = %T", l)
	}
	l, err = New(config.LockConfig{Backend: "db", TTL: time.Minute}, gdb, nil)
	if err != nil {
		t.Fatalf("New db: %v", err)
	}
	if _, ok := l.(*Lease); !ok {
		t.Errorf("db backend = %T", l)
	}
	if _, err := New(config.LockConfig{Backend: "zookeeper"}, gdb, nil); err == nil {
		t.Error("expected error for unknown backend")
	}
}
