package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/ledger"
	"stockledger/backend/internal/store"
)

func (s *Store) CreateTransaction(ctx context.Context, t domain.Transaction) (*domain.Transaction, error) {
	if t.ID == "" || t.Status != domain.StatusDraft || len(t.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO transactions (
				id, kind, counterpart_id, subtotal, header_discount, total, amount_paid, change_amount,
				status, soft_deleted, note, created_at, updated_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,0,0,$7,false,$8,$9,$10)
		`, t.ID, t.Kind, t.CounterpartID, t.Subtotal, t.HeaderDiscount, t.Total, t.Status, t.Note, t.CreatedAt, t.UpdatedAt)
		if err != nil {
			return err
		}
		return insertLines(ctx, tx, t.ID, t.Lines)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: transaction %s already exists", store.ErrInvalidInput, t.ID)
		}
		return nil, err
	}

	created := t
	created.Lines = append([]domain.TransactionLine(nil), t.Lines...)
	return &created, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return getTransaction(ctx, s.db, id)
}

func (s *Store) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	conditions := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.CounterpartID != "" {
		args = append(args, filter.CounterpartID)
		conditions = append(conditions, fmt.Sprintf("counterpart_id = $%d", len(args)))
	}
	if !filter.IncludeDeleted {
		conditions = append(conditions, "soft_deleted = false")
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 50
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT %s
		FROM transactions
		%s
		ORDER BY created_at DESC, id
		LIMIT $%d
	`, transactionColumns, where, len(args))
	return s.loadTransactions(ctx, query, args...)
}

func (s *Store) ListOpenCredit(ctx context.Context, counterpartID string) ([]domain.Transaction, error) {
	return s.loadTransactions(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE counterpart_id = $1 AND status = 'COMPLETED' AND payment_status = 'ON_CREDIT'
		ORDER BY id
	`, counterpartID)
}

func (s *Store) loadTransactions(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	headers := make([]transactionRow, 0, 32)
	if err := s.db.SelectContext(ctx, &headers, query, args...); err != nil {
		return nil, err
	}
	if len(headers) == 0 {
		return []domain.Transaction{}, nil
	}

	ids := make([]string, 0, len(headers))
	for _, h := range headers {
		ids = append(ids, h.ID)
	}
	lines := make([]lineRow, 0, len(headers)*2)
	if err := s.db.SelectContext(ctx, &lines, `
		SELECT `+lineColumns+`
		FROM transaction_lines
		WHERE transaction_id = ANY($1)
		ORDER BY transaction_id, line_no
	`, ids); err != nil {
		return nil, err
	}
	byTx := make(map[string][]domain.TransactionLine, len(headers))
	for _, line := range lines {
		byTx[line.TransactionID] = append(byTx[line.TransactionID], line.toDomain())
	}

	out := make([]domain.Transaction, 0, len(headers))
	for _, h := range headers {
		t := h.toDomain()
		t.Lines = byTx[h.ID]
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) CompleteTransaction(ctx context.Context, plan domain.CompletionPlan) (*domain.CompletionResult, error) {
	var result domain.CompletionResult
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		header, err := lockTransaction(ctx, tx, plan.TransactionID)
		if err != nil {
			return err
		}
		if header.Status != string(domain.StatusDraft) || header.SoftDeleted {
			return fmt.Errorf("%w: %s transaction cannot be completed", store.ErrInvalidStateTransition, strings.ToLower(header.Status))
		}
		kind := domain.TransactionKind(header.Kind)

		units := ledger.BaseUnitsByItem(plan.Lines)
		next, err := plannedStock(ctx, tx, kind, units, ledger.StockSign(kind))
		if err != nil {
			return err
		}
		if kind == domain.KindSale {
			if err := checkDailyLimits(ctx, tx, units, plan.CompletedOn); err != nil {
				return err
			}
		}

		account, err := lockAccount(ctx, tx, header.CounterpartID)
		if err != nil {
			return err
		}
		if plan.CreditDelta > 0 {
			if plan.EnforceCreditLimit && ledger.ExceedsLimit(account.Balance, account.Limit, plan.CreditDelta) {
				return fmt.Errorf("%w: balance %d + %d over limit %d", store.ErrCreditLimitExceeded, account.Balance, plan.CreditDelta, account.Limit)
			}
			if account.Balance, err = ledger.AddChecked(account.Balance, plan.CreditDelta); err != nil {
				return err
			}
			account.UpdatedAt = plan.CompletedAt
			if _, err := tx.ExecContext(ctx, `
				UPDATE credit_accounts SET balance = $2, updated_at = $3 WHERE id = $1
			`, account.ID, account.Balance, account.UpdatedAt); err != nil {
				return err
			}
		}

		if err := setStock(ctx, tx, next, plan.CompletedAt); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE transactions
			SET subtotal = $2, total = $3, amount_paid = $4, change_amount = $5, payment_status = $6,
				due_date = $7, status = $8, completed_on = $9, completed_at = $10, updated_at = $10
			WHERE id = $1
		`, plan.TransactionID, plan.Subtotal, plan.Total, plan.AmountPaid, plan.Change, plan.PaymentStatus,
			nullDate(plan.DueDate), domain.StatusCompleted, plan.CompletedOn, plan.CompletedAt); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM transaction_lines WHERE transaction_id = $1`, plan.TransactionID); err != nil {
			return err
		}
		if err := insertLines(ctx, tx, plan.TransactionID, plan.Lines); err != nil {
			return err
		}

		completed, err := getTransaction(ctx, tx, plan.TransactionID)
		if err != nil {
			return err
		}
		acc := account.toDomain()
		result = domain.CompletionResult{Transaction: *completed, Account: &acc}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *Store) CancelTransaction(ctx context.Context, id string, at time.Time, today time.Time) (*domain.Transaction, error) {
	var cancelled *domain.Transaction
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		header, err := lockTransaction(ctx, tx, id)
		if err != nil {
			return err
		}
		if header.Status == string(domain.StatusCancelled) || header.SoftDeleted {
			return fmt.Errorf("%w: transaction already cancelled or deleted", store.ErrInvalidStateTransition)
		}

		if header.Status == string(domain.StatusCompleted) {
			var applied bool
			if err := tx.GetContext(ctx, &applied, `
				SELECT EXISTS (SELECT 1 FROM returns WHERE sale_id = $1 AND applied_to_stock)
			`, id); err != nil {
				return err
			}
			if applied {
				return fmt.Errorf("%w: sale %s has applied returns", store.ErrInvalidStateTransition, id)
			}

			kind := domain.TransactionKind(header.Kind)
			lines, err := selectLines(ctx, tx, id)
			if err != nil {
				return err
			}
			units := ledger.BaseUnitsByItem(lines)
			next, err := plannedStock(ctx, tx, kind, units, -ledger.StockSign(kind))
			if err != nil {
				return err
			}
			account, err := lockAccount(ctx, tx, header.CounterpartID)
			if err != nil {
				return err
			}

			if header.PaymentStatus.String == string(domain.PaymentOnCredit) {
				if delta := header.Total - header.AmountPaid; delta > 0 {
					if _, err := tx.ExecContext(ctx, `
						UPDATE credit_accounts SET balance = balance - $2, updated_at = $3 WHERE id = $1
					`, account.ID, delta, at); err != nil {
						return err
					}
				}
			}
			if err := setStock(ctx, tx, next, at); err != nil {
				return err
			}
			if completedOn := dayPtr(header.CompletedOn); completedOn != nil && completedOn.Before(today) {
				for itemID := range units {
					if err := markStale(ctx, tx, itemID, *completedOn, at); err != nil {
						return err
					}
				}
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE transactions SET status = $2, cancelled_at = $3, updated_at = $3 WHERE id = $1
		`, id, domain.StatusCancelled, at); err != nil {
			return err
		}
		cancelled, err = getTransaction(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

func (s *Store) SoftDeleteTransaction(ctx context.Context, id string, at time.Time) (*domain.Transaction, error) {
	var deleted *domain.Transaction
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		header, err := lockTransaction(ctx, tx, id)
		if err != nil {
			return err
		}
		if header.Status != string(domain.StatusCompleted) || header.SoftDeleted {
			return fmt.Errorf("%w: only completed documents can be deleted", store.ErrInvalidStateTransition)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE transactions SET soft_deleted = true, deleted_at = $2, updated_at = $2 WHERE id = $1
		`, id, at); err != nil {
			return err
		}
		deleted, err = getTransaction(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// plannedStock locks the touched items and returns their levels after the
// change, failing if any would go negative.
func plannedStock(ctx context.Context, tx *sqlx.Tx, kind domain.TransactionKind, units map[string]int64, sign int64) (map[string]int64, error) {
	ids := make([]string, 0, len(units))
	for id := range units {
		ids = append(ids, id)
	}
	locked, err := lockItems(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	next := make(map[string]int64, len(units))
	for itemID, qty := range units {
		row := locked[itemID]
		stock, err := ledger.AddChecked(row.StockBaseUnits, sign*qty)
		if err != nil {
			return nil, err
		}
		if stock < 0 {
			return nil, fmt.Errorf("%w: item %s has %d, %s needs %d", store.ErrStockInsufficient, itemID, row.StockBaseUnits, strings.ToLower(string(kind)), qty)
		}
		next[itemID] = stock
	}
	return next, nil
}

// checkDailyLimits counts completed sales of the same operating day,
// soft-deleted ones included. Item rows are already locked by the caller.
func checkDailyLimits(ctx context.Context, tx *sqlx.Tx, units map[string]int64, day time.Time) error {
	ids := make([]string, 0, len(units))
	for id := range units {
		ids = append(ids, id)
	}

	var limits []struct {
		ItemID string `db:"item_id"`
		Limit  int64  `db:"daily_sale_limit_base_units"`
		Sold   int64  `db:"sold"`
	}
	if err := tx.SelectContext(ctx, &limits, `
		SELECT i.id AS item_id, i.daily_sale_limit_base_units,
			COALESCE((
				SELECT SUM(l.total_base_units)
				FROM transaction_lines l
				JOIN transactions t ON t.id = l.transaction_id
				WHERE l.item_id = i.id AND t.kind = 'SALE' AND t.status = 'COMPLETED' AND t.completed_on = $2
			), 0)::BIGINT AS sold
		FROM items i
		WHERE i.id = ANY($1) AND i.daily_sale_limit_base_units > 0
	`, ids, day); err != nil {
		return err
	}

	for _, l := range limits {
		if l.Sold+units[l.ItemID] > l.Limit {
			return fmt.Errorf("%w: item %s sold %d of %d today", store.ErrDailyLimitExceeded, l.ItemID, l.Sold, l.Limit)
		}
	}
	return nil
}

func lockTransaction(ctx context.Context, tx *sqlx.Tx, id string) (transactionRow, error) {
	var row transactionRow
	if err := tx.GetContext(ctx, &row, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id); err != nil {
		return transactionRow{}, notFound(err)
	}
	return row, nil
}

func getTransaction(ctx context.Context, q sqlx.QueryerContext, id string) (*domain.Transaction, error) {
	var row transactionRow
	if err := sqlx.GetContext(ctx, q, &row, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	lines, err := selectLines(ctx, q, id)
	if err != nil {
		return nil, err
	}
	t := row.toDomain()
	t.Lines = lines
	return &t, nil
}

func selectLines(ctx context.Context, q sqlx.QueryerContext, transactionID string) ([]domain.TransactionLine, error) {
	rows := make([]lineRow, 0, 8)
	if err := sqlx.SelectContext(ctx, q, &rows, `
		SELECT `+lineColumns+`
		FROM transaction_lines
		WHERE transaction_id = $1
		ORDER BY line_no
	`, transactionID); err != nil {
		return nil, err
	}
	lines := make([]domain.TransactionLine, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, row.toDomain())
	}
	return lines, nil
}

func insertLines(ctx context.Context, tx *sqlx.Tx, transactionID string, lines []domain.TransactionLine) error {
	for _, line := range lines {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transaction_lines (`+lineColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, transactionID, line.LineNo, line.ItemID, line.PackageQty, line.UnitQty, line.PackageSize,
			line.UnitPrice, line.Discount, line.TotalBaseUnits, line.LineTotal); err != nil {
			return err
		}
	}
	return nil
}
