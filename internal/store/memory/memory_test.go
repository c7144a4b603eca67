package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"stockledger/backend/internal/calendar"
	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/store"
)

var (
	testToday = calendar.Day(2026, 3, 4)
	testNow   = testToday.Add(10 * time.Hour)
)

func seededDraft(t *testing.T, s *Store, id string, kind domain.TransactionKind, counterpart string, lines ...domain.TransactionLine) {
	t.Helper()
	_, err := s.CreateTransaction(context.Background(), domain.Transaction{
		ID:            id,
		Kind:          kind,
		CounterpartID: counterpart,
		Status:        domain.StatusDraft,
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
		Lines:         lines,
	})
	if err != nil {
		t.Fatalf("create draft %s: %v", id, err)
	}
}

func completionPlan(id string, completedOn time.Time, lines ...domain.TransactionLine) domain.CompletionPlan {
	total := int64(0)
	for _, line := range lines {
		total += line.LineTotal
	}
	return domain.CompletionPlan{
		TransactionID: id,
		Lines:         lines,
		Subtotal:      total,
		Total:         total,
		AmountPaid:    total,
		PaymentStatus: domain.PaymentPaid,
		CompletedOn:   completedOn,
		CompletedAt:   completedOn.Add(9 * time.Hour),
	}
}

func TestCompleteTransactionIsAllOrNothingAcrossItems(t *testing.T) {
	s := NewSeeded(testToday, testNow)
	ctx := context.Background()

	lines := []domain.TransactionLine{
		{LineNo: 1, ItemID: "item-telur", TotalBaseUnits: 30, LineTotal: 30},
		{LineNo: 2, ItemID: "item-gula", TotalBaseUnits: 101, LineTotal: 101},
	}
	seededDraft(t, s, "trx-multi", domain.KindSale, "cust-toko-makmur", lines...)

	_, err := s.CompleteTransaction(ctx, completionPlan("trx-multi", testToday, lines...))
	if !errors.Is(err, store.ErrStockInsufficient) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	telur, _ := s.GetItem(ctx, "item-telur")
	if telur.StockBaseUnits != 300 {
		t.Fatalf("expected untouched stock 300, got %d", telur.StockBaseUnits)
	}
	tx, _ := s.GetTransaction(ctx, "trx-multi")
	if tx.Status != domain.StatusDraft {
		t.Fatalf("expected draft, got %s", tx.Status)
	}
}

func TestDailyLimitCountsSoftDeletedSales(t *testing.T) {
	s := NewSeeded(testToday, testNow)
	ctx := context.Background()

	line := domain.TransactionLine{LineNo: 1, ItemID: "item-susu-uht", TotalBaseUnits: 120, LineTotal: 120}
	seededDraft(t, s, "trx-1", domain.KindSale, "cust-toko-makmur", line)
	if _, err := s.CompleteTransaction(ctx, completionPlan("trx-1", testToday, line)); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := s.SoftDeleteTransaction(ctx, "trx-1", testNow); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if _, err := s.CreateReturn(ctx, domain.ReturnRecord{
		ID: "ret-1", ItemID: "item-susu-uht", TotalBaseUnits: 200, Condition: domain.ConditionGood,
		ReturnDate: testToday, AppliedToStock: true, CreatedAt: testNow, UpdatedAt: testNow,
	}, testToday); err != nil {
		t.Fatalf("return: %v", err)
	}

	line.TotalBaseUnits = 121
	seededDraft(t, s, "trx-2", domain.KindSale, "cust-toko-makmur", line)
	_, err := s.CompleteTransaction(ctx, completionPlan("trx-2", testToday, line))
	if !errors.Is(err, store.ErrDailyLimitExceeded) {
		t.Fatalf("expected daily limit, got %v", err)
	}
}

func TestInvalidationKeepsEarliestDay(t *testing.T) {
	s := NewSeeded(testToday.AddDate(0, 0, -5), testNow)
	ctx := context.Background()

	for i, day := range []time.Time{testToday.AddDate(0, 0, -1), testToday.AddDate(0, 0, -3), testToday.AddDate(0, 0, -2)} {
		ret := domain.ReturnRecord{
			ID:             "ret-" + calendar.Format(day),
			ItemID:         "item-gula",
			TotalBaseUnits: int64(i + 1),
			Condition:      domain.ConditionGood,
			ReturnDate:     day,
			AppliedToStock: true,
			CreatedAt:      testNow,
			UpdatedAt:      testNow,
		}
		if _, err := s.CreateReturn(ctx, ret, testToday); err != nil {
			t.Fatalf("return %d: %v", i, err)
		}
	}

	stale, err := s.ListInvalidations(ctx)
	if err != nil {
		t.Fatalf("list invalidations: %v", err)
	}
	if len(stale) != 1 || !stale[0].FromDate.Equal(testToday.AddDate(0, 0, -3)) {
		t.Fatalf("expected one marker from %s, got %+v", calendar.Format(testToday.AddDate(0, 0, -3)), stale)
	}
}

func TestMaterializeWritesEveryExistingItem(t *testing.T) {
	s := NewSeeded(testToday.AddDate(0, 0, -2), testNow)
	ctx := context.Background()
	yesterday := testToday.AddDate(0, 0, -1)

	result, err := s.MaterializeSnapshots(ctx, domain.MaterializeRequest{Dates: []time.Time{yesterday}, Now: testNow})
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if result.RowsWritten != 4 || len(result.Touched) != 4 {
		t.Fatalf("expected 4 rows, got %d (%d touched)", result.RowsWritten, len(result.Touched))
	}

	rows, err := s.ListSnapshotsOnDate(ctx, yesterday)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, row := range rows {
		item, _ := s.GetItem(ctx, row.ItemID)
		if row.StockAtDate != item.StockBaseUnits {
			t.Fatalf("%s: expected stock %d, got %d", row.ItemID, item.StockBaseUnits, row.StockAtDate)
		}
		if !row.MaterializedAt.Equal(testNow) {
			t.Fatalf("%s: materialized at %s", row.ItemID, row.MaterializedAt)
		}
	}

	latest, ok, err := s.LatestSnapshotDate(ctx)
	if err != nil || !ok || !latest.Equal(yesterday) {
		t.Fatalf("expected latest %s, got %s ok=%v err=%v", calendar.Format(yesterday), latest, ok, err)
	}
}

func TestReturnsAgainstSaleAreCappedAtUnitsSold(t *testing.T) {
	s := NewSeeded(testToday, testNow)
	ctx := context.Background()

	line := domain.TransactionLine{LineNo: 1, ItemID: "item-gula", TotalBaseUnits: 10, LineTotal: 10}
	seededDraft(t, s, "trx-sale", domain.KindSale, "cust-toko-makmur", line)
	if _, err := s.CompleteTransaction(ctx, completionPlan("trx-sale", testToday, line)); err != nil {
		t.Fatalf("complete: %v", err)
	}

	goodReturn := func(id string, units int64) domain.ReturnRecord {
		return domain.ReturnRecord{
			ID: id, ItemID: "item-gula", SaleID: "trx-sale", TotalBaseUnits: units, Condition: domain.ConditionGood,
			ReturnDate: testToday, AppliedToStock: true, CreatedAt: testNow, UpdatedAt: testNow,
		}
	}

	if _, err := s.CreateReturn(ctx, goodReturn("ret-too-many", 24), testToday); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for 24 of 10 sold, got %v", err)
	}
	if _, err := s.CreateReturn(ctx, goodReturn("ret-1", 6), testToday); err != nil {
		t.Fatalf("return 6: %v", err)
	}
	if _, err := s.CreateReturn(ctx, goodReturn("ret-2", 5), testToday); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for 6+5 of 10 sold, got %v", err)
	}
	if _, err := s.UpdateReturn(ctx, goodReturn("ret-1", 11), testToday); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input when growing return past units sold, got %v", err)
	}
	if _, err := s.CreateReturn(ctx, goodReturn("ret-3", 4), testToday); err != nil {
		t.Fatalf("return 4: %v", err)
	}

	gula, _ := s.GetItem(ctx, "item-gula")
	if gula.StockBaseUnits != 100 {
		t.Fatalf("expected stock 100 after returning all 10 sold, got %d", gula.StockBaseUnits)
	}
}

func TestCancelSaleWithAppliedReturnIsRejected(t *testing.T) {
	s := NewSeeded(testToday, testNow)
	ctx := context.Background()

	line := domain.TransactionLine{LineNo: 1, ItemID: "item-gula", TotalBaseUnits: 10, LineTotal: 10}
	seededDraft(t, s, "trx-sale", domain.KindSale, "cust-toko-makmur", line)
	if _, err := s.CompleteTransaction(ctx, completionPlan("trx-sale", testToday, line)); err != nil {
		t.Fatalf("complete: %v", err)
	}
	ret := domain.ReturnRecord{
		ID: "ret-1", ItemID: "item-gula", SaleID: "trx-sale", TotalBaseUnits: 4, Condition: domain.ConditionGood,
		ReturnDate: testToday, AppliedToStock: true, CreatedAt: testNow, UpdatedAt: testNow,
	}
	if _, err := s.CreateReturn(ctx, ret, testToday); err != nil {
		t.Fatalf("return: %v", err)
	}

	_, err := s.CancelTransaction(ctx, "trx-sale", testNow, testToday)
	if !errors.Is(err, store.ErrInvalidStateTransition) {
		t.Fatalf("expected invalid state transition, got %v", err)
	}
	gula, _ := s.GetItem(ctx, "item-gula")
	if gula.StockBaseUnits != 94 {
		t.Fatalf("expected stock 94 to stay, got %d", gula.StockBaseUnits)
	}

	ret.Condition = domain.ConditionDamaged
	ret.AppliedToStock = false
	if _, err := s.UpdateReturn(ctx, ret, testToday); err != nil {
		t.Fatalf("unapply return: %v", err)
	}
	if _, err := s.CancelTransaction(ctx, "trx-sale", testNow, testToday); err != nil {
		t.Fatalf("cancel after unapplying return: %v", err)
	}
	gula, _ = s.GetItem(ctx, "item-gula")
	if gula.StockBaseUnits != 100 {
		t.Fatalf("expected stock 100 after cancel, got %d", gula.StockBaseUnits)
	}
}
