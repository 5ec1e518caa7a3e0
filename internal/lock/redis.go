package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/logger"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "routeops:lock:"

// Compare-and-delete and compare-and-extend, so a holder never touches a
// lock that expired and was taken by someone else.
const (
	releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`
	extendScript  = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("PEXPIRE", KEYS[1], ARGV[2]) else return 0 end`
)

// RedisClient is the subset of the go-redis client the locker uses.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("lock: redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

// Redis is a Locker backed by SET NX PX keys with a random token per holder.
type Redis struct {
	client RedisClient
	ttl    time.Duration
	retry  time.Duration
	log    *logger.Logger
}

// NewRedis returns a Redis locker whose keys expire after ttl unless extended.
func NewRedis(client RedisClient, ttl time.Duration, log *logger.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Redis{client: client, ttl: ttl, retry: DefaultRetryInterval, log: log.With("component", "redis-lock")}
}

// Acquire blocks until key is obtained or ctx is done.
func (r *Redis) Acquire(ctx context.Context, key string) (Release, error) {
	return poll(ctx, r.retry, func() (Release, error) { return r.TryAcquire(ctx, key) })
}

// TryAcquire sets the key if absent and returns ErrHeld otherwise.
func (r *Redis) TryAcquire(ctx context.Context, key string) (Release, error) {
	rkey := keyPrefix + key
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, rkey, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: redis set %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHeld, key)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := r.client.Eval(context.Background(), extendScript, []string{rkey}, token, r.ttl.Milliseconds()).Err(); err != nil {
					r.log.Warn("extend redis lock", "key", key, "error", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			if err := r.client.Eval(context.Background(), releaseScript, []string{rkey}, token).Err(); err != nil {
				r.log.Warn("release redis lock", "key", key, "error", err)
			}
		})
	}, nil
}
