package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockledger/backend/internal/calendar"
)

// ErrLockHeld is returned by a RunGuard when another holder owns the key.
var ErrLockHeld = errors.New("lock held")

// MovementCache stores reconstructed movement results. Values are JSON
// encoded so any serialisable type can be cached.
type MovementCache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// RunGuard hands out exclusive, expiring locks.
type RunGuard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

type NoopMovementCache struct{}

func (NoopMovementCache) Get(_ context.Context, _ string, _ any) (bool, error) {
	return false, nil
}

func (NoopMovementCache) Set(_ context.Context, _ string, _ any, _ time.Duration) error {
	return nil
}

func (NoopMovementCache) Delete(_ context.Context, _ ...string) error {
	return nil
}

func ItemMovementKey(itemID string, date time.Time) string {
	return fmt.Sprintf("stockledger:movement:%s:%s", itemID, calendar.Format(date))
}

func DayMovementsKey(date time.Time) string {
	return fmt.Sprintf("stockledger:movements:%s", calendar.Format(date))
}

func SnapshotRunKey() string {
	return "stockledger:lock:snapshots"
}
