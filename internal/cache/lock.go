package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
)

type RedisRunGuard struct {
	locker *redislock.Client
}

func NewRedisRunGuard(client redis.UniversalClient) *RedisRunGuard {
	return &RedisRunGuard{locker: redislock.New(client)}
}

func (g *RedisRunGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := g.locker.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockHeld
	}
	if err != nil {
		return nil, err
	}
	return func(releaseCtx context.Context) error {
		err := lock.Release(releaseCtx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			return nil
		}
		return err
	}, nil
}

// LocalRunGuard is the single-process fallback used without Redis.
type LocalRunGuard struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewLocalRunGuard() *LocalRunGuard {
	return &LocalRunGuard{held: make(map[string]time.Time), now: time.Now}
}

func (g *LocalRunGuard) Acquire(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if expires, ok := g.held[key]; ok && now.Before(expires) {
		return nil, ErrLockHeld
	}
	expires := now.Add(ttl)
	g.held[key] = expires

	return func(context.Context) error {
		g.mu.Lock()
		defer g.mu.Unlock()
		if current, ok := g.held[key]; ok && current.Equal(expires) {
			delete(g.held, key)
		}
		return nil
	}, nil
}
