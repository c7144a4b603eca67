package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/backend/internal/calendar"
	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/logging"
	"stockledger/backend/internal/store"
	"stockledger/backend/internal/store/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc      *Service
	repo     *memory.Store
	clock    *testClock
	ctx      context.Context
	supplier string
	customer string
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	repo := memory.New()
	svc := New(repo, calendar.MustUTC(clock.Now), opts, logging.Discard())
	ctx := WithActor(context.Background(), domain.Actor{Username: "tester", Role: "admin"})

	supplier, err := svc.CreateCounterpart(ctx, domain.CounterpartCreateRequest{Kind: domain.CounterpartSupplier, Name: "CV Sumber"})
	require.NoError(t, err)
	customer, err := svc.CreateCounterpart(ctx, domain.CounterpartCreateRequest{Kind: domain.CounterpartCustomer, Name: "Toko Makmur", CreditLimit: 1_000_000})
	require.NoError(t, err)

	return &fixture{
		svc:      svc,
		repo:     repo,
		clock:    clock,
		ctx:      ctx,
		supplier: supplier.Counterpart.ID,
		customer: customer.Counterpart.ID,
	}
}

func (f *fixture) item(t *testing.T, sku string, stock int64, packageSize int64) domain.Item {
	t.Helper()
	item, err := f.svc.CreateItem(f.ctx, domain.ItemCreateRequest{
		SKU:                   sku,
		Name:                  sku,
		PackageSize:           packageSize,
		PackageLabel:          "box",
		InitialStockBaseUnits: stock,
	})
	require.NoError(t, err)
	return item
}

func (f *fixture) draft(t *testing.T, kind domain.TransactionKind, counterpart string, lines ...domain.DraftLineRequest) domain.Transaction {
	t.Helper()
	tx, err := f.svc.CreateDraft(f.ctx, domain.DraftRequest{Kind: kind, CounterpartID: counterpart, Lines: lines})
	require.NoError(t, err)
	return tx
}

func (f *fixture) stock(t *testing.T, itemID string) int64 {
	t.Helper()
	level, err := f.svc.CurrentStock(f.ctx, itemID)
	require.NoError(t, err)
	return level.StockBaseUnits
}

func (f *fixture) balance(t *testing.T, accountID string) int64 {
	t.Helper()
	balance, err := f.svc.CurrentBalance(f.ctx, accountID)
	require.NoError(t, err)
	return balance
}

func TestPurchaseSaleCancelRoundTrip(t *testing.T) {
	f := newFixture(t, Options{})
	item := f.item(t, "SKU-MIE", 100, 24)

	purchase := f.draft(t, domain.KindPurchase, f.supplier, domain.DraftLineRequest{ItemID: item.ID, PackageQty: 2, UnitQty: 5, UnitPrice: 1_000})
	_, err := f.svc.Complete(f.ctx, purchase.ID, domain.PaymentRequest{AmountPaid: 53_000})
	require.NoError(t, err)
	assert.Equal(t, int64(153), f.stock(t, item.ID))

	sale := f.draft(t, domain.KindSale, f.customer, domain.DraftLineRequest{ItemID: item.ID, PackageQty: 1, UnitQty: 10, UnitPrice: 1_500})
	result, err := f.svc.Complete(f.ctx, sale.ID, domain.PaymentRequest{AmountPaid: 51_000})
	require.NoError(t, err)
	assert.Equal(t, int64(119), f.stock(t, item.ID))
	assert.Equal(t, int64(34), result.Transaction.Lines[0].TotalBaseUnits)
	assert.Equal(t, domain.PaymentPaid, result.Transaction.PaymentStatus)

	cancelled, err := f.svc.Cancel(f.ctx, sale.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	assert.Equal(t, int64(153), f.stock(t, item.ID))
}

func TestCompleteComputesChangeForPaidDocuments(t *testing.T) {
	f := newFixture(t, Options{})
	item := f.item(t, "SKU-TEH", 50, 10)

	sale := f.draft(t, domain.KindSale, f.customer, domain.DraftLineRequest{ItemID: item.ID, UnitQty: 4, UnitPrice: 2_500})
	result, err := f.svc.Complete(f.ctx, sale.ID, domain.PaymentRequest{AmountPaid: 12_000})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentPaid, result.Transaction.PaymentStatus)
	assert.Equal(t, int64(2_000), result.Transaction.Change)
	assert.Nil(t, result.Transaction.DueDate)
	assert.Nil(t, result.CreditWarning)
	assert.Zero(t, f.balance(t, f.customer))
}

func TestSaleWithInsufficientStockLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, Options{})
	item := f.item(t, "SKU-GULA", 30, 24)

	// Two lines of the same item jointly exceed stock.
	sale := f.draft(t, domain.KindSale, f.customer,
		domain.DraftLineRequest{ItemID: item.ID, PackageQty: 1, UnitPrice: 100},
		domain.DraftLineRequest{ItemID: item.ID, UnitQty: 7, UnitPrice: 100},
	)
	_, err := f.svc.Complete(f.ctx, sale.ID, domain.PaymentRequest{AmountPaid: 0})
	require.True(t, errors.Is(err, store.ErrStockInsufficient), "got %v", err)

	assert.Equal(t, int64(30), f.stock(t, item.ID))
	assert.Zero(t, f.balance(t, f.customer))
	stored, err := f.svc.GetTransaction(f.ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, stored.Status)
}

func TestStrictCreditPolicyRejectsCompletionOverLimit(t *testing.T) {
	f := newFixture(t, Options{CreditPolicy: domain.CreditPolicyStrict})
	item := f.item(t, "SKU-SUSU", 2_000, 12)

	first := f.draft(t, domain.KindSale, f.customer, domain.DraftLineRequest{ItemID: item.ID, UnitQty: 900, UnitPrice: 1_000})
	_, err := f.svc.Complete(f.ctx, first.ID, domain.PaymentRequest{AmountPaid: 0})
	require.NoError(t, err)
	require.Equal(t, int64(900_000), f.balance(t, f.customer))

	second := f.draft(t, domain.KindSale, f.customer, domain.DraftLineRequest{ItemID: item.ID, UnitQty: 200, UnitPrice: 1_000})
	_, err = f.svc.Complete(f.ctx, second.ID, domain.PaymentRequest{AmountPaid: 0})
	require.True(t, errors.Is(err, store.ErrCreditLimitExceeded), "got %v", err)

	assert.Equal(t, int64(900_000), f.balance(t, f.customer))
	assert.Equal(t, int64(1_100), f.stock(t, item.ID))
}

func TestLenientCreditPolicyCompletesWithWarning(t *testing.T) {
	f := newFixture(t, Options{CreditPolicy: domain.CreditPolicyLenient})
	item := f.item(t, "SKU-SUSU", 2_000, 12)

	first := f.draft(t, domain.KindSale, f.customer, domain.DraftLineRequest{ItemID: item.ID, UnitQty: 900, UnitPrice: 1_000})
	_, err := f.svc.Complete(f.ctx, first.ID, domain.PaymentRequest{AmountPaid: 0})
	require.NoError(t, err)

	second := f.draft(t, domain.KindSale, f.customer, domain.DraftLineRequest{ItemID: item.ID, UnitQty: 200, UnitPrice: 1_000})
	result, err := f.svc.Complete(f.ctx, second.ID, domain.PaymentRequest{AmountPaid: 0})
	require.NoError(t, err)
	require.NotNil(t, result.CreditWarning)
	assert.Equal(t, int64(1_100_000), result.CreditWarning.Balance)
	assert.Equal(t, int64(1_000_000), result.CreditWarning.Limit)
	assert.Equal(t, int64(1_100_000), f.balance(t, f.customer))
}

func TestOnCreditCompletionDefaultsDueDateAndCancelReversesBalance(t *testing.T) {
	f := newFixture(t, Options{CreditTermDays: 14})
	item := f.item(t, "SKU-KOPI", 500, 20)

	sale := f.draft(t, domain.KindSale, f.customer, domain.DraftLineRequest{ItemID: item.ID, PackageQty: 5, UnitPrice: 1_000})
	result, err := f.svc.Complete(f.ctx, sale.ID, domain.PaymentRequest{AmountPaid: 40_000})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentOnCredit, result.Transaction.PaymentStatus)
	require.NotNil(t, result.Transaction.DueDate)
	assert.Equal(t, calendar.Day(2026, 3, 16), *result.Transaction.DueDate)
	assert.Equal(t, int64(60_000), f.balance(t, f.customer))

	_, err = f.svc.Cancel(f.ctx, sale.ID, "")
	require.NoError(t, err)
	assert.Zero(t, f.balance(t, f.customer))
	assert.Equal(t, int64(500), f.stock(t, item.ID))
}

func TestCancelPurchaseThatWouldDriveStockNegativeFails(t *testing.T) {
	f := newFixture(t, Options{})
	item := f.item(t, "SKU-AIR", 0, 24)

	purchase := f.draft(t, domain.KindPurchase, f.supplier, domain.DraftLineRequest{ItemID: item.ID, PackageQty: 1, UnitPrice: 500})
	_, err := f.svc.Complete(f.ctx, purchase.ID, domain.PaymentRequest{AmountPaid: 12_000})
	require.NoError(t, err)

	sale := f.draft(t, domain.KindSale, f.customer, domain.DraftLineRequest{ItemID: item.ID, UnitQty: 20, UnitPrice: 800})
	_, err = f.svc.Complete(f.ctx, sale.ID, domain.PaymentRequest{AmountPaid: 16_000})
	require.NoError(t, err)

	_, err = f.svc.Cancel(f.ctx, purchase.ID, "")
	require.True(t, errors.Is(err, store.ErrStockInsufficient), "got %v", err)

	stored, err := f.svc.GetTransaction(f.ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Equal(t, int64(4), f.stock(t, item.ID))
}

func TestStateTransitions(t *testing.T) {
	f := newFixture(t, Options{})
	item := f.item(t, "SKU-ROTI", 100, 10)

	draft := f.draft(t, domain.KindSale, f.customer, domain.DraftLineRequest{ItemID: item.ID, UnitQty: 1, UnitPrice: 100})
	_, err := f.svc.SoftDelete(f.ctx, draft.ID, "")
	assert.True(t, errors.Is(err, store.ErrInvalidStateTransition), "drafts cannot be soft deleted")

	cancelledDraft, err := f.svc.Cancel(f.ctx, draft.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelledDraft.Status)
	assert.Equal(t, int64(100), f.stock(t, item.ID))

	_, err = f.svc.Cancel(f.ctx, draft.ID, "")
	assert.True(t, errors.Is(err, store.ErrInvalidStateTransition), "double cancel")
	_, err = f.svc.Complete(f.ctx, draft.ID, domain.PaymentRequest{AmountPaid: 100})
	assert.True(t, errors.Is(err, store.ErrInvalidStateTransition), "complete after cancel")

	sale := f.draft(t, domain.KindSale, f.customer, domain.DraftLineRequest{ItemID: item.ID, UnitQty: 3, UnitPrice: 100})
	_, err = f.svc.Complete(f.ctx, sale.ID, domain.PaymentRequest{AmountPaid: 300})
	require.NoError(t, err)

	deleted, err := f.svc.SoftDelete(f.ctx, sale.ID, "")
	require.NoError(t, err)
	assert.True(t, deleted.SoftDeleted)
	assert.Equal(t, int64(97), f.stock(t, item.ID), "soft delete keeps stock effects")

	_, err = f.svc.SoftDelete(f.ctx, sale.ID, "")
	assert.True(t, errors.Is(err, store.ErrInvalidStateTransition))
	_, err = f.svc.Cancel(f.ctx, sale.ID, "")
	assert.True(t, errors.Is(err, store.ErrInvalidStateTransition))

	visible, err := f.svc.ListTransactions(f.ctx, domain.TransactionFilter{Kind: domain.KindSale})
	require.NoError(t, err)
	for _, tx := range visible {
		assert.NotEqual(t, sale.ID, tx.ID, "soft-deleted documents are hidden by default")
	}
	all, err := f.svc.ListTransactions(f.ctx, domain.TransactionFilter{Kind: domain.KindSale, IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCreateDraftValidatesCounterpartKindAndLines(t *testing.T) {
	f := newFixture(t, Options{})
	item := f.item(t, "SKU-TELUR", 100, 30)

	_, err := f.svc.CreateDraft(f.ctx, domain.DraftRequest{
		Kind:          domain.KindSale,
		CounterpartID: f.supplier,
		Lines:         []domain.DraftLineRequest{{ItemID: item.ID, UnitQty: 1}},
	})
	assert.True(t, errors.Is(err, store.ErrInvalidInput), "sales need a customer")

	_, err = f.svc.CreateDraft(f.ctx, domain.DraftRequest{
		Kind:          domain.KindPurchase,
		CounterpartID: f.supplier,
		Lines:         []domain.DraftLineRequest{{ItemID: item.ID}},
	})
	assert.True(t, errors.Is(err, store.ErrInvalidInput), "empty line")

	_, err = f.svc.CreateDraft(f.ctx, domain.DraftRequest{
		Kind:          domain.KindPurchase,
		CounterpartID: f.supplier,
		Lines:         []domain.DraftLineRequest{{ItemID: "item-missing", UnitQty: 1}},
	})
	assert.True(t, errors.Is(err, store.ErrNotFound))

	_, err = f.svc.CreateDraft(f.ctx, domain.DraftRequest{
		Kind:          "TRANSFER",
		CounterpartID: f.supplier,
		Lines:         []domain.DraftLineRequest{{ItemID: item.ID, UnitQty: 1}},
	})
	assert.True(t, errors.Is(err, store.ErrInvalidInput))

	draft, err := f.svc.CreateDraft(f.ctx, domain.DraftRequest{
		Kind:           domain.KindPurchase,
		CounterpartID:  f.supplier,
		HeaderDiscount: 500,
		Lines:          []domain.DraftLineRequest{{ItemID: item.ID, PackageQty: 1, UnitQty: 2, UnitPrice: 100, Discount: 200}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3_000), draft.Subtotal)
	assert.Equal(t, int64(2_500), draft.Total)
	assert.Equal(t, int64(100), f.stock(t, item.ID), "drafts have no stock effect")
}

func TestAmountCeiling(t *testing.T) {
	f := newFixture(t, Options{MaxAmount: 1_000_000})
	item := f.item(t, "SKU-EMAS", 10, 1)

	_, err := f.svc.CreateDraft(f.ctx, domain.DraftRequest{
		Kind:          domain.KindPurchase,
		CounterpartID: f.supplier,
		Lines:         []domain.DraftLineRequest{{ItemID: item.ID, UnitQty: 2, UnitPrice: 600_000}},
	})
	assert.True(t, errors.Is(err, store.ErrAmountOutOfRange), "got %v", err)
}

func TestDailySaleLimit(t *testing.T) {
	f := newFixture(t, Options{})
	item, err := f.svc.CreateItem(f.ctx, domain.ItemCreateRequest{SKU: "SKU-MINYAK", Name: "Minyak", PackageSize: 12, InitialStockBaseUnits: 200, DailySaleLimitBaseUnits: 50})
	require.NoError(t, err)

	first := f.draft(t, domain.KindSale, f.customer, domain.DraftLineRequest{ItemID: item.ID, UnitQty: 30, UnitPrice: 10})
	_, err = f.svc.Complete(f.ctx, first.ID, domain.PaymentRequest{AmountPaid: 300})
	require.NoError(t, err)

	second := f.draft(t, domain.KindSale, f.customer, domain.DraftLineRequest{ItemID: item.ID, UnitQty: 30, UnitPrice: 10})
	_, err = f.svc.Complete(f.ctx, second.ID, domain.PaymentRequest{AmountPaid: 300})
	require.True(t, errors.Is(err, store.ErrDailyLimitExceeded), "got %v", err)
	assert.Equal(t, int64(170), f.stock(t, item.ID))

	f.clock.Advance(24 * time.Hour)
	_, err = f.svc.Complete(f.ctx, second.ID, domain.PaymentRequest{AmountPaid: 300})
	require.NoError(t, err, "limit resets on the next operating day")
	assert.Equal(t, int64(140), f.stock(t, item.ID))
}

func TestDamagedReturnLeavesStockUnchanged(t *testing.T) {
	f := newFixture(t, Options{})
	item := f.item(t, "SKU-SABUN", 100, 24)

	ret, err := f.svc.RecordReturn(f.ctx, domain.ReturnRequest{ItemID: item.ID, PackageQty: 1, Condition: domain.ConditionDamaged})
	require.NoError(t, err)
	assert.False(t, ret.AppliedToStock)
	assert.Equal(t, int64(24), ret.TotalBaseUnits)
	assert.Equal(t, int64(100), f.stock(t, item.ID))

	stored, err := f.svc.GetReturn(f.ctx, ret.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConditionDamaged, stored.Condition)
}

func TestGoodReturnRestoresStockAndUpdateReverses(t *testing.T) {
	f := newFixture(t, Options{})
	item := f.item(t, "SKU-SAMPO", 100, 24)

	ret, err := f.svc.RecordReturn(f.ctx, domain.ReturnRequest{ItemID: item.ID, PackageQty: 1, UnitQty: 2, Condition: "good"})
	require.NoError(t, err)
	assert.True(t, ret.AppliedToStock)
	assert.Equal(t, int64(126), f.stock(t, item.ID))

	updated, err := f.svc.UpdateReturn(f.ctx, ret.ID, domain.ReturnUpdateRequest{UnitQty: 5, Condition: domain.ConditionGood})
	require.NoError(t, err)
	assert.Equal(t, int64(5), updated.TotalBaseUnits)
	assert.Equal(t, int64(105), f.stock(t, item.ID))

	updated, err = f.svc.UpdateReturn(f.ctx, ret.ID, domain.ReturnUpdateRequest{UnitQty: 5, Condition: domain.ConditionExpired})
	require.NoError(t, err)
	assert.False(t, updated.AppliedToStock)
	assert.Equal(t, int64(100), f.stock(t, item.ID))
}

func TestUpdateReturnReversalCannotDriveStockNegative(t *testing.T) {
	f := newFixture(t, Options{})
	item := f.item(t, "SKU-KECAP", 0, 24)

	ret, err := f.svc.RecordReturn(f.ctx, domain.ReturnRequest{ItemID: item.ID, PackageQty: 1, Condition: domain.ConditionGood})
	require.NoError(t, err)

	sale := f.draft(t, domain.KindSale, f.customer, domain.DraftLineRequest{ItemID: item.ID, UnitQty: 20, UnitPrice: 10})
	_, err = f.svc.Complete(f.ctx, sale.ID, domain.PaymentRequest{AmountPaid: 200})
	require.NoError(t, err)

	_, err = f.svc.UpdateReturn(f.ctx, ret.ID, domain.ReturnUpdateRequest{PackageQty: 1, Condition: domain.ConditionDamaged})
	require.True(t, errors.Is(err, store.ErrStockInsufficient), "got %v", err)

	stored, err := f.svc.GetReturn(f.ctx, ret.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConditionGood, stored.Condition)
	assert.Equal(t, int64(4), f.stock(t, item.ID))
}

func TestReturnAgainstSaleMustMatch(t *testing.T) {
	f := newFixture(t, Options{})
	sold := f.item(t, "SKU-A", 50, 10)
	other := f.item(t, "SKU-B", 50, 10)

	sale := f.draft(t, domain.KindSale, f.customer, domain.DraftLineRequest{ItemID: sold.ID, UnitQty: 5, UnitPrice: 10})

	_, err := f.svc.RecordReturn(f.ctx, domain.ReturnRequest{ItemID: sold.ID, SaleID: sale.ID, UnitQty: 1, Condition: domain.ConditionGood})
	assert.True(t, errors.Is(err, store.ErrInvalidInput), "draft sale")

	_, err = f.svc.Complete(f.ctx, sale.ID, domain.PaymentRequest{AmountPaid: 50})
	require.NoError(t, err)

	_, err = f.svc.RecordReturn(f.ctx, domain.ReturnRequest{ItemID: other.ID, SaleID: sale.ID, UnitQty: 1, Condition: domain.ConditionGood})
	assert.True(t, errors.Is(err, store.ErrInvalidInput), "item not on the sale")

	ret, err := f.svc.RecordReturn(f.ctx, domain.ReturnRequest{ItemID: sold.ID, SaleID: sale.ID, UnitQty: 1, Condition: domain.ConditionGood})
	require.NoError(t, err)
	assert.Equal(t, sale.ID, ret.SaleID)
	assert.Equal(t, int64(46), f.stock(t, sold.ID))

	future := calendar.Day(2026, 3, 3)
	_, err = f.svc.RecordReturn(f.ctx, domain.ReturnRequest{ItemID: sold.ID, UnitQty: 1, Condition: domain.ConditionGood, ReturnDate: &future})
	assert.True(t, errors.Is(err, store.ErrInvalidInput), "future return date")

	_, err = f.svc.RecordReturn(f.ctx, domain.ReturnRequest{ItemID: sold.ID, UnitQty: 1, Condition: "BROKEN"})
	assert.True(t, errors.Is(err, store.ErrInvalidInput))
}

func TestCreditStatusClassifiesOpenDocuments(t *testing.T) {
	f := newFixture(t, Options{})
	item := f.item(t, "SKU-BERAS", 1_000, 10)

	overdue := calendar.Day(2026, 3, 1)
	later := calendar.Day(2026, 5, 1)
	for _, due := range []time.Time{later, overdue} {
		sale := f.draft(t, domain.KindSale, f.customer, domain.DraftLineRequest{ItemID: item.ID, UnitQty: 100, UnitPrice: 1_000})
		_, err := f.svc.Complete(f.ctx, sale.ID, domain.PaymentRequest{AmountPaid: 50_000, DueDate: &due})
		require.NoError(t, err)
	}

	status, err := f.svc.CreditStatus(f.ctx, f.customer)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), status.Balance)
	assert.Equal(t, int64(900_000), status.Available)
	assert.Equal(t, "10", status.UtilizationPercent.String())
	assert.False(t, status.OverLimit)
	require.Len(t, status.OpenDocuments, 2)
	assert.Equal(t, domain.RiskOverdue, status.OpenDocuments[0].Risk)
	assert.Equal(t, -1, status.OpenDocuments[0].DaysUntilDue)
	assert.Equal(t, domain.RiskSafe, status.OpenDocuments[1].Risk)
	assert.Equal(t, int64(50_000), status.OpenDocuments[1].Outstanding)
}

func TestRecordPayment(t *testing.T) {
	f := newFixture(t, Options{})
	item := f.item(t, "SKU-BERAS", 1_000, 10)
	sale := f.draft(t, domain.KindSale, f.customer, domain.DraftLineRequest{ItemID: item.ID, UnitQty: 10, UnitPrice: 1_000})
	_, err := f.svc.Complete(f.ctx, sale.ID, domain.PaymentRequest{AmountPaid: 0})
	require.NoError(t, err)

	_, err = f.svc.RecordPayment(f.ctx, f.customer, domain.CreditPaymentRequest{Amount: 10_001})
	assert.True(t, errors.Is(err, store.ErrInvalidInput))

	account, err := f.svc.RecordPayment(f.ctx, f.customer, domain.CreditPaymentRequest{Amount: 4_000})
	require.NoError(t, err)
	assert.Equal(t, int64(6_000), account.Balance)
}

func TestConcurrentSalesNeverOverdrawStock(t *testing.T) {
	f := newFixture(t, Options{})
	item := f.item(t, "SKU-RACE", 100, 10)

	drafts := make([]domain.Transaction, 0, 20)
	for i := 0; i < 20; i++ {
		drafts = append(drafts, f.draft(t, domain.KindSale, f.customer, domain.DraftLineRequest{ItemID: item.ID, PackageQty: 1, UnitPrice: 10}))
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for _, draft := range drafts {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.svc.Complete(f.ctx, id, domain.PaymentRequest{AmountPaid: 100})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, store.ErrStockInsufficient):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(draft.ID)
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 10, rejected)
	assert.Zero(t, f.stock(t, item.ID))
}

func TestCurrentStockPackageBreakdown(t *testing.T) {
	f := newFixture(t, Options{})
	item := f.item(t, "SKU-MIE", 119, 24)

	level, err := f.svc.CurrentStock(f.ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), level.Packages)
	assert.Equal(t, int64(23), level.LooseUnits)
	assert.Equal(t, "4.96", level.PackageEquivalent.String())

	level, err = f.svc.AdjustStock(f.ctx, item.ID, -119, "stock opname")
	require.NoError(t, err)
	assert.Zero(t, level.StockBaseUnits)

	_, err = f.svc.AdjustStock(f.ctx, item.ID, -1, "stock opname")
	assert.True(t, errors.Is(err, store.ErrStockInsufficient))
}

func TestAuditTrailRecordsTransitions(t *testing.T) {
	f := newFixture(t, Options{})
	item := f.item(t, "SKU-AUDIT", 10, 1)
	sale := f.draft(t, domain.KindSale, f.customer, domain.DraftLineRequest{ItemID: item.ID, UnitQty: 1, UnitPrice: 10})
	_, err := f.svc.Complete(f.ctx, sale.ID, domain.PaymentRequest{AmountPaid: 10})
	require.NoError(t, err)

	logs, err := f.svc.ListAuditLogs(f.ctx, sale.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "transaction_complete", logs[0].Action)
	assert.Equal(t, "tester", logs[0].ActorUsername)
	assert.Equal(t, "transaction_draft", logs[1].Action)
}

func TestCancelAndSoftDeleteRecordManagerReason(t *testing.T) {
	f := newFixture(t, Options{})
	item := f.item(t, "SKU-REASON", 10, 1)

	cancelled := f.draft(t, domain.KindSale, f.customer, domain.DraftLineRequest{ItemID: item.ID, UnitQty: 1, UnitPrice: 10})
	_, err := f.svc.Complete(f.ctx, cancelled.ID, domain.PaymentRequest{AmountPaid: 10})
	require.NoError(t, err)
	_, err = f.svc.Cancel(f.ctx, cancelled.ID, "  wrong customer ")
	require.NoError(t, err)

	deleted := f.draft(t, domain.KindSale, f.customer, domain.DraftLineRequest{ItemID: item.ID, UnitQty: 1, UnitPrice: 10})
	_, err = f.svc.Complete(f.ctx, deleted.ID, domain.PaymentRequest{AmountPaid: 10})
	require.NoError(t, err)
	_, err = f.svc.SoftDelete(f.ctx, deleted.ID, "duplicate entry")
	require.NoError(t, err)

	detailOf := func(entityID, action string) string {
		logs, err := f.svc.ListAuditLogs(f.ctx, entityID, 10)
		require.NoError(t, err)
		for _, entry := range logs {
			if entry.Action == action {
				return entry.Detail
			}
		}
		t.Fatalf("no %s audit entry for %s", action, entityID)
		return ""
	}
	assert.Equal(t, "kind=SALE,total=10,reason=wrong customer", detailOf(cancelled.ID, "transaction_cancel"))
	assert.Equal(t, "kind=SALE,reason=duplicate entry", detailOf(deleted.ID, "transaction_soft_delete"))
}
