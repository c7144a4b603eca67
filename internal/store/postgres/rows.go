package postgres

import (
	"database/sql"
	"time"

	"stockledger/backend/internal/calendar"
	"stockledger/backend/internal/domain"
)

const itemColumns = `id, sku, name, stock_base_units, package_size, package_label, daily_sale_limit_base_units, created_on, created_at, updated_at`

type itemRow struct {
	ID             string    `db:"id"`
	SKU            string    `db:"sku"`
	Name           string    `db:"name"`
	StockBaseUnits int64     `db:"stock_base_units"`
	PackageSize    int64     `db:"package_size"`
	PackageLabel   string    `db:"package_label"`
	DailySaleLimit int64     `db:"daily_sale_limit_base_units"`
	CreatedOn      time.Time `db:"created_on"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r itemRow) toDomain() domain.Item {
	return domain.Item{
		ID:                      r.ID,
		SKU:                     r.SKU,
		Name:                    r.Name,
		StockBaseUnits:          r.StockBaseUnits,
		PackageSize:             r.PackageSize,
		PackageLabel:            r.PackageLabel,
		DailySaleLimitBaseUnits: r.DailySaleLimit,
		CreatedOn:               calendar.Normalize(r.CreatedOn),
		CreatedAt:               r.CreatedAt.UTC(),
		UpdatedAt:               r.UpdatedAt.UTC(),
	}
}

const accountColumns = `id, kind, balance, credit_limit, updated_at`

type accountRow struct {
	ID        string    `db:"id"`
	Kind      string    `db:"kind"`
	Balance   int64     `db:"balance"`
	Limit     int64     `db:"credit_limit"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r accountRow) toDomain() domain.CreditAccount {
	return domain.CreditAccount{
		ID:        r.ID,
		Kind:      domain.AccountKind(r.Kind),
		Balance:   r.Balance,
		Limit:     r.Limit,
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

const transactionColumns = `id, kind, counterpart_id, subtotal, header_discount, total, amount_paid, change_amount,
	payment_status, status, due_date, soft_deleted, note, completed_on, created_at, updated_at,
	completed_at, cancelled_at, deleted_at`

type transactionRow struct {
	ID             string         `db:"id"`
	Kind           string         `db:"kind"`
	CounterpartID  string         `db:"counterpart_id"`
	Subtotal       int64          `db:"subtotal"`
	HeaderDiscount int64          `db:"header_discount"`
	Total          int64          `db:"total"`
	AmountPaid     int64          `db:"amount_paid"`
	Change         int64          `db:"change_amount"`
	PaymentStatus  sql.NullString `db:"payment_status"`
	Status         string         `db:"status"`
	DueDate        sql.NullTime   `db:"due_date"`
	SoftDeleted    bool           `db:"soft_deleted"`
	Note           string         `db:"note"`
	CompletedOn    sql.NullTime   `db:"completed_on"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
	CompletedAt    sql.NullTime   `db:"completed_at"`
	CancelledAt    sql.NullTime   `db:"cancelled_at"`
	DeletedAt      sql.NullTime   `db:"deleted_at"`
}

func (r transactionRow) toDomain() domain.Transaction {
	return domain.Transaction{
		ID:             r.ID,
		Kind:           domain.TransactionKind(r.Kind),
		CounterpartID:  r.CounterpartID,
		Subtotal:       r.Subtotal,
		HeaderDiscount: r.HeaderDiscount,
		Total:          r.Total,
		AmountPaid:     r.AmountPaid,
		Change:         r.Change,
		PaymentStatus:  domain.PaymentStatus(r.PaymentStatus.String),
		Status:         domain.TransactionStatus(r.Status),
		DueDate:        dayPtr(r.DueDate),
		SoftDeleted:    r.SoftDeleted,
		Note:           r.Note,
		CompletedOn:    dayPtr(r.CompletedOn),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
		CompletedAt:    timePtr(r.CompletedAt),
		CancelledAt:    timePtr(r.CancelledAt),
		DeletedAt:      timePtr(r.DeletedAt),
	}
}

const lineColumns = `transaction_id, line_no, item_id, package_qty, unit_qty, package_size, unit_price, discount, total_base_units, line_total`

type lineRow struct {
	TransactionID  string `db:"transaction_id"`
	LineNo         int    `db:"line_no"`
	ItemID         string `db:"item_id"`
	PackageQty     int64  `db:"package_qty"`
	UnitQty        int64  `db:"unit_qty"`
	PackageSize    int64  `db:"package_size"`
	UnitPrice      int64  `db:"unit_price"`
	Discount       int64  `db:"discount"`
	TotalBaseUnits int64  `db:"total_base_units"`
	LineTotal      int64  `db:"line_total"`
}

func (r lineRow) toDomain() domain.TransactionLine {
	return domain.TransactionLine{
		LineNo:         r.LineNo,
		ItemID:         r.ItemID,
		PackageQty:     r.PackageQty,
		UnitQty:        r.UnitQty,
		PackageSize:    r.PackageSize,
		UnitPrice:      r.UnitPrice,
		Discount:       r.Discount,
		TotalBaseUnits: r.TotalBaseUnits,
		LineTotal:      r.LineTotal,
	}
}

const returnColumns = `id, item_id, sale_id, package_qty, unit_qty, total_base_units, condition, note, return_date, applied_to_stock, created_at, updated_at`

type returnRow struct {
	ID             string         `db:"id"`
	ItemID         string         `db:"item_id"`
	SaleID         sql.NullString `db:"sale_id"`
	PackageQty     int64          `db:"package_qty"`
	UnitQty        int64          `db:"unit_qty"`
	TotalBaseUnits int64          `db:"total_base_units"`
	Condition      string         `db:"condition"`
	Note           string         `db:"note"`
	ReturnDate     time.Time      `db:"return_date"`
	AppliedToStock bool           `db:"applied_to_stock"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r returnRow) toDomain() domain.ReturnRecord {
	return domain.ReturnRecord{
		ID:             r.ID,
		ItemID:         r.ItemID,
		SaleID:         r.SaleID.String,
		PackageQty:     r.PackageQty,
		UnitQty:        r.UnitQty,
		TotalBaseUnits: r.TotalBaseUnits,
		Condition:      domain.ReturnCondition(r.Condition),
		Note:           r.Note,
		ReturnDate:     calendar.Normalize(r.ReturnDate),
		AppliedToStock: r.AppliedToStock,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

const snapshotColumns = `item_id, snapshot_date, stock_at_date, inbound_suffix_sum, outbound_suffix_sum, materialized_at`

type snapshotRow struct {
	ItemID            string    `db:"item_id"`
	Date              time.Time `db:"snapshot_date"`
	StockAtDate       int64     `db:"stock_at_date"`
	InboundSuffixSum  int64     `db:"inbound_suffix_sum"`
	OutboundSuffixSum int64     `db:"outbound_suffix_sum"`
	MaterializedAt    time.Time `db:"materialized_at"`
}

func (r snapshotRow) toDomain() domain.DailySnapshot {
	return domain.DailySnapshot{
		ItemID:            r.ItemID,
		Date:              calendar.Normalize(r.Date),
		StockAtDate:       r.StockAtDate,
		InboundSuffixSum:  r.InboundSuffixSum,
		OutboundSuffixSum: r.OutboundSuffixSum,
		MaterializedAt:    r.MaterializedAt.UTC(),
	}
}

type movementRow struct {
	ItemID   string    `db:"item_id"`
	Day      time.Time `db:"day"`
	Inbound  int64     `db:"inbound"`
	Outbound int64     `db:"outbound"`
}

type auditRow struct {
	ID            string    `db:"id"`
	ActorUsername string    `db:"actor_username"`
	ActorRole     string    `db:"actor_role"`
	Action        string    `db:"action"`
	EntityType    string    `db:"entity_type"`
	EntityID      string    `db:"entity_id"`
	Detail        string    `db:"detail"`
	CreatedAt     time.Time `db:"created_at"`
}
