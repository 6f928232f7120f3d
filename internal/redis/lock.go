package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
)

// Locker guards the validate-then-write critical sections: per-bed locks
// around assignments and a single global lock serializing mitosis against
// other mutations.
type Locker interface {
	WithBedLock(ctx context.Context, bedID string, fn func(ctx context.Context) error) error
	WithMitosisLock(ctx context.Context, fn func(ctx context.Context) error) error
}

type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker creates a locker that uses per-key Redis SETNX tokens.
func NewRedisLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisLocker) WithBedLock(ctx context.Context, bedID string, fn func(ctx context.Context) error) error {
	return l.withLock(ctx, fmt.Sprintf("lock:bed:%s", bedID), l.ttl, fn)
}

func (l *redisLocker) WithMitosisLock(ctx context.Context, fn func(ctx context.Context) error) error {
	// Mitosis deletes across several tables; give the batch a wider window
	// than a single bed write.
	return l.withLock(ctx, "lock:mitosis", 10*l.ttl, fn)
}

func (l *redisLocker) withLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

// localLocker is the in-process equivalent used with the memory storage
// driver and in tests, where all writers share one process.
type localLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocalLocker() Locker {
	return &localLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *localLocker) WithBedLock(ctx context.Context, bedID string, fn func(ctx context.Context) error) error {
	return l.withLock(ctx, "bed:"+bedID, fn)
}

func (l *localLocker) WithMitosisLock(ctx context.Context, fn func(ctx context.Context) error) error {
	return l.withLock(ctx, "mitosis", fn)
}

func (l *localLocker) withLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()

	return fn(ctx)
}
