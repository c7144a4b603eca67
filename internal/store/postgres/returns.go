package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/ledger"
	"stockledger/backend/internal/store"
)

func (s *Store) CreateReturn(ctx context.Context, ret domain.ReturnRecord, today time.Time) (*domain.ReturnRecord, error) {
	if ret.ID == "" || ret.TotalBaseUnits <= 0 {
		return nil, store.ErrInvalidInput
	}

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := checkReturnSale(ctx, tx, ret); err != nil {
			return err
		}
		locked, err := lockItems(ctx, tx, []string{ret.ItemID})
		if err != nil {
			return err
		}

		if ret.AppliedToStock {
			next, err := ledger.AddChecked(locked[ret.ItemID].StockBaseUnits, ret.TotalBaseUnits)
			if err != nil {
				return err
			}
			if err := setStock(ctx, tx, map[string]int64{ret.ItemID: next}, ret.CreatedAt); err != nil {
				return err
			}
			if ret.ReturnDate.Before(today) {
				if err := markStale(ctx, tx, ret.ItemID, ret.ReturnDate, ret.CreatedAt); err != nil {
					return err
				}
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO returns (`+returnColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`, ret.ID, ret.ItemID, nullIfEmpty(ret.SaleID), ret.PackageQty, ret.UnitQty, ret.TotalBaseUnits,
			ret.Condition, ret.Note, ret.ReturnDate, ret.AppliedToStock, ret.CreatedAt, ret.UpdatedAt)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: return %s already exists", store.ErrInvalidInput, ret.ID)
		}
		return nil, err
	}

	created := ret
	return &created, nil
}

// checkReturnSale locks the linked sale header, requires it to be a
// completed sale of the item and caps all of its returns for that item at
// the units sold.
func checkReturnSale(ctx context.Context, tx *sqlx.Tx, ret domain.ReturnRecord) error {
	if ret.SaleID == "" {
		return nil
	}
	var sale struct {
		Kind     string `db:"kind"`
		Status   string `db:"status"`
		HasItem  bool   `db:"has_item"`
		Sold     int64  `db:"sold"`
		Returned int64  `db:"returned"`
	}
	err := tx.GetContext(ctx, &sale, `
		SELECT t.kind, t.status,
			EXISTS (SELECT 1 FROM transaction_lines l WHERE l.transaction_id = t.id AND l.item_id = $2) AS has_item,
			COALESCE((SELECT SUM(l.total_base_units) FROM transaction_lines l WHERE l.transaction_id = t.id AND l.item_id = $2), 0) AS sold,
			COALESCE((SELECT SUM(r.total_base_units) FROM returns r WHERE r.sale_id = t.id AND r.item_id = $2 AND r.id <> $3), 0) AS returned
		FROM transactions t
		WHERE t.id = $1
		FOR UPDATE OF t
	`, ret.SaleID, ret.ItemID, ret.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: sale %s not found", store.ErrInvalidInput, ret.SaleID)
	}
	if err != nil {
		return err
	}
	if sale.Kind != string(domain.KindSale) || sale.Status != string(domain.StatusCompleted) {
		return fmt.Errorf("%w: %s is not a completed sale", store.ErrInvalidInput, ret.SaleID)
	}
	if !sale.HasItem {
		return fmt.Errorf("%w: sale %s does not contain item %s", store.ErrInvalidInput, ret.SaleID, ret.ItemID)
	}
	returned, err := ledger.AddChecked(sale.Returned, ret.TotalBaseUnits)
	if err != nil {
		return err
	}
	if returned > sale.Sold {
		return fmt.Errorf("%w: returns of item %s on sale %s total %d of %d sold", store.ErrInvalidInput, ret.ItemID, ret.SaleID, returned, sale.Sold)
	}
	return nil
}

func (s *Store) UpdateReturn(ctx context.Context, ret domain.ReturnRecord, today time.Time) (*domain.ReturnRecord, error) {
	if ret.TotalBaseUnits <= 0 {
		return nil, store.ErrInvalidInput
	}

	var updated domain.ReturnRecord
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var row returnRow
		if err := tx.GetContext(ctx, &row, `SELECT `+returnColumns+` FROM returns WHERE id = $1 FOR UPDATE`, ret.ID); err != nil {
			return notFound(err)
		}
		existing := row.toDomain()
		if existing.SaleID != "" && ret.TotalBaseUnits > existing.TotalBaseUnits {
			capped := existing
			capped.TotalBaseUnits = ret.TotalBaseUnits
			if err := checkReturnSale(ctx, tx, capped); err != nil {
				return err
			}
		}

		locked, err := lockItems(ctx, tx, []string{existing.ItemID})
		if err != nil {
			return err
		}
		delta := appliedUnits(ret) - appliedUnits(existing)
		next, err := ledger.AddChecked(locked[existing.ItemID].StockBaseUnits, delta)
		if err != nil {
			return err
		}
		if next < 0 {
			return fmt.Errorf("%w: reversing return %s", store.ErrStockInsufficient, ret.ID)
		}

		if delta != 0 {
			if err := setStock(ctx, tx, map[string]int64{existing.ItemID: next}, ret.UpdatedAt); err != nil {
				return err
			}
			if existing.ReturnDate.Before(today) {
				if err := markStale(ctx, tx, existing.ItemID, existing.ReturnDate, ret.UpdatedAt); err != nil {
					return err
				}
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE returns
			SET package_qty = $2, unit_qty = $3, total_base_units = $4, condition = $5,
				note = $6, applied_to_stock = $7, updated_at = $8
			WHERE id = $1
		`, ret.ID, ret.PackageQty, ret.UnitQty, ret.TotalBaseUnits, ret.Condition, ret.Note, ret.AppliedToStock, ret.UpdatedAt); err != nil {
			return err
		}

		updated = existing
		updated.PackageQty = ret.PackageQty
		updated.UnitQty = ret.UnitQty
		updated.TotalBaseUnits = ret.TotalBaseUnits
		updated.Condition = ret.Condition
		updated.Note = ret.Note
		updated.AppliedToStock = ret.AppliedToStock
		updated.UpdatedAt = ret.UpdatedAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) GetReturn(ctx context.Context, id string) (*domain.ReturnRecord, error) {
	var row returnRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+returnColumns+` FROM returns WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	ret := row.toDomain()
	return &ret, nil
}

func (s *Store) ListReturns(ctx context.Context, itemID string) ([]domain.ReturnRecord, error) {
	rows := make([]returnRow, 0, 32)
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+returnColumns+`
		FROM returns
		WHERE ($1 = '' OR item_id = $1)
		ORDER BY return_date DESC, id
	`, itemID); err != nil {
		return nil, err
	}
	out := make([]domain.ReturnRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func appliedUnits(ret domain.ReturnRecord) int64 {
	if !ret.AppliedToStock {
		return 0
	}
	return ret.TotalBaseUnits
}
