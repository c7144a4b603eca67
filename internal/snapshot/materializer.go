// Package snapshot materializes one stock row per item and closed day and
// reconstructs daily movement from pairs of those rows.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"stockledger/backend/internal/cache"
	"stockledger/backend/internal/calendar"
	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/logging"
	"stockledger/backend/internal/store"
)

const (
	defaultLockTTL = 5 * time.Minute
	maxRangeDays   = 366
)

type Materializer struct {
	repo    store.Repository
	cal     *calendar.Calendar
	guard   cache.RunGuard
	cache   cache.MovementCache
	lockTTL time.Duration
	logger  logrus.FieldLogger
}

func NewMaterializer(repo store.Repository, cal *calendar.Calendar, guard cache.RunGuard, movementCache cache.MovementCache, logger logrus.FieldLogger) *Materializer {
	if guard == nil {
		guard = cache.NewLocalRunGuard()
	}
	if movementCache == nil {
		movementCache = cache.NoopMovementCache{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Materializer{
		repo:    repo,
		cal:     cal,
		guard:   guard,
		cache:   movementCache,
		lockTTL: defaultLockTTL,
		logger:  logger.WithField("module", "snapshot"),
	}
}

// Materialize writes the snapshot of every item for one closed day.
// Re-running a day overwrites its rows.
func (m *Materializer) Materialize(ctx context.Context, date time.Time) (*domain.MaterializeResult, error) {
	return m.run(ctx, []time.Time{calendar.Normalize(date)}, false)
}

// MaterializeRange backfills every day in [from, to].
func (m *Materializer) MaterializeRange(ctx context.Context, from time.Time, to time.Time) (*domain.MaterializeResult, error) {
	from, to = calendar.Normalize(from), calendar.Normalize(to)
	if to.Before(from) {
		return nil, fmt.Errorf("%w: range end precedes start", store.ErrInvalidInput)
	}
	if calendar.DaysBetween(from, to) >= maxRangeDays {
		return nil, fmt.Errorf("%w: range longer than %d days", store.ErrInvalidInput, maxRangeDays)
	}
	dates := make([]time.Time, 0, calendar.DaysBetween(from, to)+1)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return m.run(ctx, dates, false)
}

// RebuildStale rewrites the history of items touched by backdated changes.
func (m *Materializer) RebuildStale(ctx context.Context) (*domain.MaterializeResult, error) {
	return m.run(ctx, nil, true)
}

// RunDaily is the scheduler entry point: rebuild stale items, then
// materialize every closed day since the latest stored snapshot, ending
// with yesterday.
func (m *Materializer) RunDaily(ctx context.Context) (*domain.MaterializeResult, error) {
	yesterday := m.cal.Yesterday()
	from := yesterday

	latest, ok, err := m.repo.LatestSnapshotDate(ctx)
	if err != nil {
		return nil, err
	}
	if ok && latest.Before(yesterday) {
		from = latest.AddDate(0, 0, 1)
		if calendar.DaysBetween(from, yesterday) >= maxRangeDays {
			from = yesterday.AddDate(0, 0, -(maxRangeDays - 1))
		}
	}

	dates := make([]time.Time, 0, calendar.DaysBetween(from, yesterday)+1)
	for d := from; !d.After(yesterday); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return m.run(ctx, dates, true)
}

func (m *Materializer) run(ctx context.Context, dates []time.Time, rebuild bool) (*domain.MaterializeResult, error) {
	for _, d := range dates {
		if !m.cal.IsClosed(d) {
			return nil, fmt.Errorf("%w: %s has not ended in %s", store.ErrDayNotClosed, calendar.Format(d), m.cal.Location())
		}
	}

	release, err := m.guard.Acquire(ctx, cache.SnapshotRunKey(), m.lockTTL)
	if errors.Is(err, cache.ErrLockHeld) {
		return nil, store.ErrMaterializeInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("acquire snapshot lock: %w", err)
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			logging.LogError(m.logger, "snapshot", "run", "release snapshot lock", nil, err)
		}
	}()

	started := m.cal.Now()
	result, err := m.repo.MaterializeSnapshots(ctx, domain.MaterializeRequest{
		Dates:        dates,
		RebuildStale: rebuild,
		Now:          started.UTC(),
	})
	if err != nil {
		logging.LogError(m.logger, "snapshot", "run", "materialize snapshots", formatDates(dates), err)
		return nil, err
	}

	m.invalidate(ctx, result.Touched)
	m.logger.WithFields(logrus.Fields{
		"dates":        formatDates(dates),
		"anchor":       calendar.Format(result.Anchor),
		"rowsWritten":  result.RowsWritten,
		"rowsShifted":  result.RowsShifted,
		"rebuiltItems": len(result.RebuiltItems),
		"elapsedMs":    m.cal.Now().Sub(started).Milliseconds(),
	}).Info("snapshots materialized")
	return result, nil
}

// invalidate drops cached movement for every rewritten row and the day after
// it, since a day's movement is derived from its own row and the previous one.
func (m *Materializer) invalidate(ctx context.Context, touched []domain.SnapshotKey) {
	if len(touched) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(touched)*4)
	keys := make([]string, 0, len(touched)*4)
	add := func(key string) {
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	for _, t := range touched {
		next := t.Date.AddDate(0, 0, 1)
		add(cache.ItemMovementKey(t.ItemID, t.Date))
		add(cache.ItemMovementKey(t.ItemID, next))
		add(cache.DayMovementsKey(t.Date))
		add(cache.DayMovementsKey(next))
	}
	if err := m.cache.Delete(ctx, keys...); err != nil {
		logging.LogError(m.logger, "snapshot", "invalidate", "delete cached movements", len(keys), err)
	}
}

func formatDates(dates []time.Time) []string {
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, calendar.Format(d))
	}
	return out
}
