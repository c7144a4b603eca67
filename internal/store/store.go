package store

import (
	"context"
	"errors"
	"time"

	"stockledger/backend/internal/domain"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidInput           = errors.New("invalid input")
	ErrStockInsufficient      = errors.New("insufficient stock")
	ErrCreditLimitExceeded    = errors.New("credit limit exceeded")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrSnapshotMissing        = errors.New("snapshot missing")
	ErrAmountOutOfRange       = errors.New("amount out of range")
	ErrDailyLimitExceeded     = errors.New("daily sale limit exceeded")
	ErrDayNotClosed           = errors.New("day not closed")
	ErrMaterializeInProgress  = errors.New("materialization in progress")
)

// Repository is the persistence boundary. Every mutating method is a single
// atomic unit: on error nothing it touched has changed.
type Repository interface {
	CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	GetItem(ctx context.Context, id string) (*domain.Item, error)
	GetItems(ctx context.Context, ids []string) (map[string]domain.Item, error)
	ListItems(ctx context.Context) ([]domain.Item, error)
	AdjustStock(ctx context.Context, itemID string, delta int64, at time.Time) (*domain.Item, error)

	CreateCounterpart(ctx context.Context, counterpart domain.Counterpart, account domain.CreditAccount) (*domain.CounterpartResponse, error)
	GetCounterpart(ctx context.Context, id string) (*domain.Counterpart, error)
	GetCreditAccount(ctx context.Context, id string) (*domain.CreditAccount, error)
	AdjustBalance(ctx context.Context, accountID string, delta int64, at time.Time) (*domain.CreditAccount, error)

	CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error)
	ListOpenCredit(ctx context.Context, counterpartID string) ([]domain.Transaction, error)
	CompleteTransaction(ctx context.Context, plan domain.CompletionPlan) (*domain.CompletionResult, error)
	CancelTransaction(ctx context.Context, id string, at time.Time, today time.Time) (*domain.Transaction, error)
	SoftDeleteTransaction(ctx context.Context, id string, at time.Time) (*domain.Transaction, error)

	CreateReturn(ctx context.Context, ret domain.ReturnRecord, today time.Time) (*domain.ReturnRecord, error)
	UpdateReturn(ctx context.Context, ret domain.ReturnRecord, today time.Time) (*domain.ReturnRecord, error)
	GetReturn(ctx context.Context, id string) (*domain.ReturnRecord, error)
	ListReturns(ctx context.Context, itemID string) ([]domain.ReturnRecord, error)

	MaterializeSnapshots(ctx context.Context, req domain.MaterializeRequest) (*domain.MaterializeResult, error)
	GetSnapshot(ctx context.Context, itemID string, date time.Time) (*domain.DailySnapshot, error)
	ListSnapshotsOnDate(ctx context.Context, date time.Time) ([]domain.DailySnapshot, error)
	LatestSnapshotDate(ctx context.Context) (time.Time, bool, error)
	ListInvalidations(ctx context.Context) ([]domain.SnapshotInvalidation, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, entityID string, limit int) ([]domain.AuditLog, error)
}
