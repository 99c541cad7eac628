package sheetsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"invoicedesk.app/internal/ids"
)

// MemoryCheckpoint keeps state in process. Suitable for a single replica.
type MemoryCheckpoint struct {
	mu        sync.Mutex
	last      time.Time
	hasLast   bool
	lockedTil time.Time
	now       func() time.Time
}

func NewMemoryCheckpoint() *MemoryCheckpoint {
	return &MemoryCheckpoint{now: time.Now}
}

func (m *MemoryCheckpoint) Acquire(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if now.Before(m.lockedTil) {
		return nil, false, nil
	}
	m.lockedTil = now.Add(ttl)
	return func() {
		m.mu.Lock()
		m.lockedTil = time.Time{}
		m.mu.Unlock()
	}, true, nil
}

func (m *MemoryCheckpoint) LastRun(ctx context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.hasLast, nil
}

func (m *MemoryCheckpoint) SetLastRun(ctx context.Context, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last, m.hasLast = t, true
	return nil
}

// releaseScript deletes the lock only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCheckpoint shares the lock and last-run mark across replicas.
type RedisCheckpoint struct {
	rdb    redis.UniversalClient
	prefix string
}

// DialRedis parses a redis:// URL and verifies the connection.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// NewRedisCheckpoint stores keys under prefix (default "invoicedesk:sheetsync").
func NewRedisCheckpoint(rdb redis.UniversalClient, prefix string) *RedisCheckpoint {
	if prefix == "" {
		prefix = "invoicedesk:sheetsync"
	}
	return &RedisCheckpoint{rdb: rdb, prefix: prefix}
}

func (r *RedisCheckpoint) lockKey() string { return r.prefix + ":lock" }
func (r *RedisCheckpoint) lastKey() string { return r.prefix + ":last_run" }

func (r *RedisCheckpoint) Acquire(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	token := ids.New()
	ok, err := r.rdb.SetNX(ctx, r.lockKey(), token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		// Release on a fresh context so a cancelled run still frees the lock.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, r.rdb, []string{r.lockKey()}, token).Err()
	}, true, nil
}

func (r *RedisCheckpoint) LastRun(ctx context.Context) (time.Time, bool, error) {
	raw, err := r.rdb.Get(ctx, r.lastKey()).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last run %q: %w", raw, err)
	}
	return t, true, nil
}

func (r *RedisCheckpoint) SetLastRun(ctx context.Context, t time.Time) error {
	return r.rdb.Set(ctx, r.lastKey(), t.UTC().Format(time.RFC3339Nano), 0).Err()
}
