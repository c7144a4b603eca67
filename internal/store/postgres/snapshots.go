package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"stockledger/backend/internal/calendar"
	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/ledger"
	"stockledger/backend/internal/store"
)

// epoch stands in for "no lower bound" in the movement query.
var epoch = calendar.Day(1, 1, 1)

// MaterializeSnapshots reads state, plans and writes in one SERIALIZABLE
// transaction, so a concurrent mutation either lands fully before the read
// or forces a retry.
func (s *Store) MaterializeSnapshots(ctx context.Context, req domain.MaterializeRequest) (*domain.MaterializeResult, error) {
	var result *domain.MaterializeResult
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var latest sql.NullTime
		if err := tx.GetContext(ctx, &latest, `SELECT MAX(snapshot_date) FROM daily_snapshots`); err != nil {
			return err
		}
		var watermark time.Time
		if latest.Valid {
			watermark = calendar.Normalize(latest.Time)
		}

		rebuild, err := staleHistory(ctx, tx, req.RebuildStale)
		if err != nil {
			return err
		}

		items := make([]itemRow, 0, 128)
		if err := tx.SelectContext(ctx, &items, `SELECT `+itemColumns+` FROM items ORDER BY id`); err != nil {
			return err
		}
		positions := make([]ledger.ItemPosition, 0, len(items))
		for _, item := range items {
			positions = append(positions, ledger.ItemPosition{
				ID:             item.ID,
				StockBaseUnits: item.StockBaseUnits,
				CreatedOn:      calendar.Normalize(item.CreatedOn),
			})
		}

		since := ledger.MovementWindowStart(watermark, req.Dates, rebuild)
		movements, err := dayMovements(ctx, tx, since)
		if err != nil {
			return err
		}

		plan, err := ledger.PlanSnapshots(ledger.SnapshotState{
			Items:     positions,
			Movements: movements,
			Watermark: watermark,
			Rebuild:   rebuild,
		}, req.Dates, req.Now)
		if err != nil {
			return err
		}

		result = &domain.MaterializeResult{Dates: req.Dates, Anchor: plan.Anchor}
		if !plan.ShiftUpTo.IsZero() {
			for _, shift := range plan.Shifts {
				res, err := tx.ExecContext(ctx, `
					UPDATE daily_snapshots
					SET inbound_suffix_sum = inbound_suffix_sum + $2,
						outbound_suffix_sum = outbound_suffix_sum + $3
					WHERE item_id = $1 AND snapshot_date <= $4
				`, shift.ItemID, shift.Inbound, shift.Outbound, plan.ShiftUpTo)
				if err != nil {
					return err
				}
				affected, err := res.RowsAffected()
				if err != nil {
					return err
				}
				result.RowsShifted += int(affected)
			}
		}

		upsert, err := tx.PreparexContext(ctx, `
			INSERT INTO daily_snapshots (`+snapshotColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (item_id, snapshot_date)
			DO UPDATE SET stock_at_date = EXCLUDED.stock_at_date,
				inbound_suffix_sum = EXCLUDED.inbound_suffix_sum,
				outbound_suffix_sum = EXCLUDED.outbound_suffix_sum,
				materialized_at = EXCLUDED.materialized_at
		`)
		if err != nil {
			return err
		}
		defer upsert.Close()
		for _, row := range plan.Rows {
			if _, err := upsert.ExecContext(ctx, row.ItemID, row.Date, row.StockAtDate, row.InboundSuffixSum, row.OutboundSuffixSum, row.MaterializedAt); err != nil {
				return err
			}
			result.Touched = append(result.Touched, domain.SnapshotKey{ItemID: row.ItemID, Date: row.Date})
		}
		result.RowsWritten = len(plan.Rows)

		if len(rebuild) > 0 {
			rebuilt := make([]string, 0, len(rebuild))
			for itemID := range rebuild {
				rebuilt = append(rebuilt, itemID)
			}
			sort.Strings(rebuilt)
			if _, err := tx.ExecContext(ctx, `DELETE FROM snapshot_invalidations WHERE item_id = ANY($1)`, rebuilt); err != nil {
				return err
			}
			result.RebuiltItems = rebuilt
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// staleHistory returns the stored row dates of every invalidated item.
func staleHistory(ctx context.Context, tx *sqlx.Tx, enabled bool) (map[string][]time.Time, error) {
	rebuild := make(map[string][]time.Time)
	if !enabled {
		return rebuild, nil
	}

	var stale []string
	if err := tx.SelectContext(ctx, &stale, `SELECT item_id FROM snapshot_invalidations ORDER BY item_id FOR UPDATE`); err != nil {
		return nil, err
	}
	if len(stale) == 0 {
		return rebuild, nil
	}

	var rows []struct {
		ItemID string    `db:"item_id"`
		Date   time.Time `db:"snapshot_date"`
	}
	if err := tx.SelectContext(ctx, &rows, `
		SELECT item_id, snapshot_date FROM daily_snapshots WHERE item_id = ANY($1)
	`, stale); err != nil {
		return nil, err
	}
	for _, itemID := range stale {
		rebuild[itemID] = []time.Time{}
	}
	for _, row := range rows {
		rebuild[row.ItemID] = append(rebuild[row.ItemID], calendar.Normalize(row.Date))
	}
	return rebuild, nil
}

// dayMovements aggregates committed movement per item and day after since.
func dayMovements(ctx context.Context, tx *sqlx.Tx, since time.Time) ([]domain.DayMovement, error) {
	if since.IsZero() {
		since = epoch
	}

	rows := make([]movementRow, 0, 256)
	if err := tx.SelectContext(ctx, &rows, `
		SELECT l.item_id, t.completed_on AS day,
			SUM(CASE WHEN t.kind = 'PURCHASE' THEN l.total_base_units ELSE 0 END)::BIGINT AS inbound,
			SUM(CASE WHEN t.kind = 'SALE' THEN l.total_base_units ELSE 0 END)::BIGINT AS outbound
		FROM transaction_lines l
		JOIN transactions t ON t.id = l.transaction_id
		WHERE t.status = 'COMPLETED' AND t.completed_on > $1
		GROUP BY l.item_id, t.completed_on
		UNION ALL
		SELECT item_id, return_date AS day, SUM(total_base_units)::BIGINT AS inbound, 0::BIGINT AS outbound
		FROM returns
		WHERE applied_to_stock AND return_date > $1
		GROUP BY item_id, return_date
	`, since); err != nil {
		return nil, err
	}

	out := make([]domain.DayMovement, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.DayMovement{
			ItemID:   row.ItemID,
			Day:      calendar.Normalize(row.Day),
			Inbound:  row.Inbound,
			Outbound: row.Outbound,
		})
	}
	return ledger.MergeDayMovements(out), nil
}

func (s *Store) GetSnapshot(ctx context.Context, itemID string, date time.Time) (*domain.DailySnapshot, error) {
	var row snapshotRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+snapshotColumns+`
		FROM daily_snapshots
		WHERE item_id = $1 AND snapshot_date = $2
	`, itemID, calendar.Normalize(date))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrSnapshotMissing
	}
	if err != nil {
		return nil, err
	}
	snapshot := row.toDomain()
	return &snapshot, nil
}

func (s *Store) ListSnapshotsOnDate(ctx context.Context, date time.Time) ([]domain.DailySnapshot, error) {
	rows := make([]snapshotRow, 0, 128)
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+snapshotColumns+`
		FROM daily_snapshots
		WHERE snapshot_date = $1
		ORDER BY item_id
	`, calendar.Normalize(date)); err != nil {
		return nil, err
	}
	out := make([]domain.DailySnapshot, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (s *Store) LatestSnapshotDate(ctx context.Context) (time.Time, bool, error) {
	var latest sql.NullTime
	if err := s.db.GetContext(ctx, &latest, `SELECT MAX(snapshot_date) FROM daily_snapshots`); err != nil {
		return time.Time{}, false, err
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return calendar.Normalize(latest.Time), true, nil
}

func (s *Store) ListInvalidations(ctx context.Context) ([]domain.SnapshotInvalidation, error) {
	var rows []struct {
		ItemID    string    `db:"item_id"`
		FromDate  time.Time `db:"from_date"`
		CreatedAt time.Time `db:"created_at"`
	}
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT item_id, from_date, created_at FROM snapshot_invalidations ORDER BY item_id
	`); err != nil {
		return nil, err
	}
	out := make([]domain.SnapshotInvalidation, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.SnapshotInvalidation{
			ItemID:    row.ItemID,
			FromDate:  calendar.Normalize(row.FromDate),
			CreatedAt: row.CreatedAt.UTC(),
		})
	}
	return out, nil
}
