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
	"stockledger/backend/internal/ledger"
	"stockledger/backend/internal/logging"
	"stockledger/backend/internal/store"
)

// Reconstructor answers "how much moved on day D" from the snapshots of D
// and D-1 alone. It never writes and never scans transactions.
type Reconstructor struct {
	repo   store.Repository
	cache  cache.MovementCache
	ttl    time.Duration
	logger logrus.FieldLogger
}

func NewReconstructor(repo store.Repository, movementCache cache.MovementCache, ttl time.Duration, logger logrus.FieldLogger) *Reconstructor {
	if movementCache == nil {
		movementCache = cache.NoopMovementCache{}
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reconstructor{
		repo:   repo,
		cache:  movementCache,
		ttl:    ttl,
		logger: logger.WithField("module", "reconstructor"),
	}
}

func (r *Reconstructor) DailySnapshot(ctx context.Context, itemID string, date time.Time) (domain.DailySnapshot, error) {
	if _, err := r.repo.GetItem(ctx, itemID); err != nil {
		return domain.DailySnapshot{}, err
	}
	row, err := r.repo.GetSnapshot(ctx, itemID, calendar.Normalize(date))
	if err != nil {
		return domain.DailySnapshot{}, missing(err, itemID, date)
	}
	return *row, nil
}

func (r *Reconstructor) MovementOnDate(ctx context.Context, itemID string, date time.Time) (domain.Movement, error) {
	date = calendar.Normalize(date)
	key := cache.ItemMovementKey(itemID, date)

	var cached domain.Movement
	if hit, err := r.cache.Get(ctx, key, &cached); err != nil {
		logging.LogError(r.logger, "reconstructor", "MovementOnDate", "read cache", key, err)
	} else if hit {
		return cached, nil
	}

	item, err := r.repo.GetItem(ctx, itemID)
	if err != nil {
		return domain.Movement{}, err
	}
	current, err := r.repo.GetSnapshot(ctx, itemID, date)
	if err != nil {
		return domain.Movement{}, missing(err, itemID, date)
	}
	previous, err := r.repo.GetSnapshot(ctx, itemID, date.AddDate(0, 0, -1))
	if err != nil && !errors.Is(err, store.ErrSnapshotMissing) {
		return domain.Movement{}, err
	}

	movement := buildMovement(*item, date, previous, *current)
	r.cacheUnlessRewritten(ctx, "MovementOnDate", key, movement, func(ctx context.Context) (bool, error) {
		again, err := r.repo.GetSnapshot(ctx, itemID, date)
		if err != nil {
			return false, err
		}
		againPrev, err := r.repo.GetSnapshot(ctx, itemID, date.AddDate(0, 0, -1))
		if err != nil && !errors.Is(err, store.ErrSnapshotMissing) {
			return false, err
		}
		return sameSnapshot(current, again) && sameSnapshot(previous, againPrev), nil
	})
	return movement, nil
}

// MovementsOnDate reconstructs every item snapshotted on date, busiest
// inbound first.
func (r *Reconstructor) MovementsOnDate(ctx context.Context, date time.Time) ([]domain.Movement, error) {
	date = calendar.Normalize(date)
	key := cache.DayMovementsKey(date)

	var cached []domain.Movement
	if hit, err := r.cache.Get(ctx, key, &cached); err != nil {
		logging.LogError(r.logger, "reconstructor", "MovementsOnDate", "read cache", key, err)
	} else if hit {
		return cached, nil
	}

	rows, err := r.repo.ListSnapshotsOnDate(ctx, date)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no snapshots on %s", store.ErrSnapshotMissing, calendar.Format(date))
	}
	previousRows, err := r.repo.ListSnapshotsOnDate(ctx, date.AddDate(0, 0, -1))
	if err != nil {
		return nil, err
	}
	previous := make(map[string]domain.DailySnapshot, len(previousRows))
	for _, row := range previousRows {
		previous[row.ItemID] = row
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ItemID)
	}
	items, err := r.repo.GetItems(ctx, ids)
	if err != nil {
		return nil, err
	}

	movements := make([]domain.Movement, 0, len(rows))
	for _, row := range rows {
		item, ok := items[row.ItemID]
		if !ok {
			continue
		}
		var prev *domain.DailySnapshot
		if p, ok := previous[row.ItemID]; ok {
			prev = &p
		}
		movements = append(movements, buildMovement(item, date, prev, row))
	}
	ledger.SortMovements(movements)

	r.cacheUnlessRewritten(ctx, "MovementsOnDate", key, movements, func(ctx context.Context) (bool, error) {
		again, err := r.repo.ListSnapshotsOnDate(ctx, date)
		if err != nil {
			return false, err
		}
		againPrev, err := r.repo.ListSnapshotsOnDate(ctx, date.AddDate(0, 0, -1))
		if err != nil {
			return false, err
		}
		return sameRows(rows, again) && sameRows(previousRows, againPrev), nil
	})
	return movements, nil
}

// cacheUnlessRewritten stores value and then rereads the rows it was built
// from. If a materialization rewrote them in between, the entry is dropped
// again; one that commits after the reread deletes the key itself.
func (r *Reconstructor) cacheUnlessRewritten(ctx context.Context, op string, key string, value any, unchanged func(context.Context) (bool, error)) {
	if _, noop := r.cache.(cache.NoopMovementCache); noop {
		return
	}
	if err := r.cache.Set(ctx, key, value, r.ttl); err != nil {
		logging.LogError(r.logger, "reconstructor", op, "write cache", key, err)
		return
	}
	same, err := unchanged(ctx)
	if err != nil {
		logging.LogError(r.logger, "reconstructor", op, "recheck snapshots", key, err)
	}
	if err == nil && same {
		return
	}
	if err := r.cache.Delete(ctx, key); err != nil {
		logging.LogError(r.logger, "reconstructor", op, "drop rewritten entry", key, err)
	}
}

func sameSnapshot(a *domain.DailySnapshot, b *domain.DailySnapshot) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.StockAtDate == b.StockAtDate &&
		a.InboundSuffixSum == b.InboundSuffixSum &&
		a.OutboundSuffixSum == b.OutboundSuffixSum &&
		a.MaterializedAt.Equal(b.MaterializedAt)
}

func sameRows(a []domain.DailySnapshot, b []domain.DailySnapshot) bool {
	if len(a) != len(b) {
		return false
	}
	byItem := make(map[string]domain.DailySnapshot, len(a))
	for _, row := range a {
		byItem[row.ItemID] = row
	}
	for _, row := range b {
		prev, ok := byItem[row.ItemID]
		if !ok || !sameSnapshot(&prev, &row) {
			return false
		}
	}
	return true
}

func buildMovement(item domain.Item, date time.Time, previous *domain.DailySnapshot, current domain.DailySnapshot) domain.Movement {
	inbound, outbound, basis := ledger.DeriveMovement(previous, current)
	return domain.Movement{
		ItemID:           item.ID,
		SKU:              item.SKU,
		Date:             date,
		Inbound:          inbound,
		Outbound:         outbound,
		InboundPackages:  ledger.PackageEquivalent(inbound, item.PackageSize),
		OutboundPackages: ledger.PackageEquivalent(outbound, item.PackageSize),
		PackageLabel:     item.PackageLabel,
		Basis:            basis,
	}
}

func missing(err error, itemID string, date time.Time) error {
	if errors.Is(err, store.ErrSnapshotMissing) {
		return fmt.Errorf("%w: item %s on %s", store.ErrSnapshotMissing, itemID, calendar.Format(date))
	}
	return err
}
