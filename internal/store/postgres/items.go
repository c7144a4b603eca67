package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/ledger"
	"stockledger/backend/internal/store"
)

func (s *Store) CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if item.ID == "" || item.SKU == "" || item.Name == "" || item.PackageSize < 1 || item.StockBaseUnits < 0 {
		return nil, store.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, item.ID, item.SKU, item.Name, item.StockBaseUnits, item.PackageSize, item.PackageLabel,
		item.DailySaleLimitBaseUnits, item.CreatedOn, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: sku %s already exists", store.ErrInvalidInput, item.SKU)
		}
		return nil, err
	}

	created := item
	return &created, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	var row itemRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	item := row.toDomain()
	return &item, nil
}

func (s *Store) GetItems(ctx context.Context, ids []string) (map[string]domain.Item, error) {
	result := make(map[string]domain.Item, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(`SELECT `+itemColumns+` FROM items WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	rows := make([]itemRow, 0, len(ids))
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.ID] = row.toDomain()
	}
	return result, nil
}

func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows := make([]itemRow, 0, 128)
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+itemColumns+` FROM items ORDER BY sku`); err != nil {
		return nil, err
	}
	items := make([]domain.Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toDomain())
	}
	return items, nil
}

func (s *Store) AdjustStock(ctx context.Context, itemID string, delta int64, at time.Time) (*domain.Item, error) {
	var item domain.Item
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		locked, err := lockItems(ctx, tx, []string{itemID})
		if err != nil {
			return err
		}
		row := locked[itemID]
		next, err := ledger.AddChecked(row.StockBaseUnits, delta)
		if err != nil {
			return err
		}
		if next < 0 {
			return fmt.Errorf("%w: item %s", store.ErrStockInsufficient, itemID)
		}
		if err := setStock(ctx, tx, map[string]int64{itemID: next}, at); err != nil {
			return err
		}
		row.StockBaseUnits = next
		row.UpdatedAt = at
		item = row.toDomain()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) CreateCounterpart(ctx context.Context, counterpart domain.Counterpart, account domain.CreditAccount) (*domain.CounterpartResponse, error) {
	if counterpart.ID == "" || counterpart.Name == "" || account.ID != counterpart.ID || account.Limit < 0 {
		return nil, store.ErrInvalidInput
	}

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO counterparts (id, kind, name, created_at)
			VALUES ($1,$2,$3,$4)
		`, counterpart.ID, counterpart.Kind, counterpart.Name, counterpart.CreatedAt); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO credit_accounts (`+accountColumns+`)
			VALUES ($1,$2,$3,$4,$5)
		`, account.ID, account.Kind, account.Balance, account.Limit, account.UpdatedAt)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: counterpart %s already exists", store.ErrInvalidInput, counterpart.ID)
		}
		return nil, err
	}
	return &domain.CounterpartResponse{Counterpart: counterpart, Account: account}, nil
}

func (s *Store) GetCounterpart(ctx context.Context, id string) (*domain.Counterpart, error) {
	var row struct {
		ID        string    `db:"id"`
		Kind      string    `db:"kind"`
		Name      string    `db:"name"`
		CreatedAt time.Time `db:"created_at"`
	}
	if err := s.db.GetContext(ctx, &row, `SELECT id, kind, name, created_at FROM counterparts WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return &domain.Counterpart{
		ID:        row.ID,
		Kind:      domain.CounterpartKind(row.Kind),
		Name:      row.Name,
		CreatedAt: row.CreatedAt.UTC(),
	}, nil
}

func (s *Store) GetCreditAccount(ctx context.Context, id string) (*domain.CreditAccount, error) {
	var row accountRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+accountColumns+` FROM credit_accounts WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	account := row.toDomain()
	return &account, nil
}

func (s *Store) AdjustBalance(ctx context.Context, accountID string, delta int64, at time.Time) (*domain.CreditAccount, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE credit_accounts
		SET balance = balance + $2, updated_at = $3
		WHERE id = $1
		RETURNING `+accountColumns, accountID, delta, at)
	if err != nil {
		return nil, notFound(err)
	}
	account := row.toDomain()
	return &account, nil
}

func lockAccount(ctx context.Context, tx *sqlx.Tx, id string) (accountRow, error) {
	var row accountRow
	err := tx.GetContext(ctx, &row, `SELECT `+accountColumns+` FROM credit_accounts WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return accountRow{}, fmt.Errorf("credit account %s: %w", id, notFound(err))
	}
	return row, nil
}
