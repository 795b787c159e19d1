// Package lock serializes work per key with a bounded wait.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/fatflowers/academy/pkg/errs"
	"github.com/fatflowers/academy/pkg/tool"
)

// Locker acquires an exclusive lease on key, waiting at most wait. The lease
// expires after ttl even if release is never called. A wait that runs out
// returns errs.ErrBusy.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (release func(), err error)
}

const retryInterval = 25 * time.Millisecond

// releaseScript deletes the key only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client, prefix: "lock"}
}

func (r *RedisLocker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (func(), error) {
	k := tool.CacheKey(r.prefix, key)
	token := tool.GenerateUUIDV7()
	deadline := time.Now().Add(wait)
	for {
		ok, err := r.client.SetNX(ctx, k, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return func() {
				// Release must run even if the request context is gone.
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = releaseScript.Run(ctx, r.client, []string{k}, token).Err()
			}, nil
		}
		if err := sleepUntil(ctx, deadline); err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
	}
}

// sleepUntil waits one retry interval, or reports ErrBusy once deadline passes.
func sleepUntil(ctx context.Context, deadline time.Time) error {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return errs.ErrBusy
	}
	d := retryInterval
	if remaining < d {
		d = remaining
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errs.ErrBusy
		}
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// MemoryLocker is a keyed mutex for single-instance deployments and tests.
// ttl is ignored: a holder keeps the lock until it releases.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: map[string]*slot{}}
}

func (m *MemoryLocker) Acquire(ctx context.Context, key string, _ time.Duration, wait time.Duration) (func(), error) {
	m.mu.Lock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	m.mu.Unlock()

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				m.unref(key, s)
			})
		}, nil
	case <-t.C:
		m.unref(key, s)
		return nil, fmt.Errorf("acquire lock %s: %w", key, errs.ErrBusy)
	case <-ctx.Done():
		m.unref(key, s)
		return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
	}
}

func (m *MemoryLocker) unref(key string, s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}

func New(client *redis.Client) Locker {
	if client == nil {
		return NewMemoryLocker()
	}
	return NewRedisLocker(client)
}

var Module = fx.Options(
	fx.Provide(New),
)
