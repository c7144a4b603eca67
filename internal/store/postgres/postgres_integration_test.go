package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"stockledger/backend/internal/cache"
	"stockledger/backend/internal/calendar"
	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/logging"
	"stockledger/backend/internal/service"
	"stockledger/backend/internal/snapshot"
	"stockledger/backend/internal/xid"
)

type steppedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *steppedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func openIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("STOCKLEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set STOCKLEDGER_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	st, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

func TestBackdatedCancelRebuildsSnapshots(t *testing.T) {
	st := openIntegrationStore(t)
	ctx := context.Background()

	day1 := calendar.Day(2026, 3, 2)
	clock := &steppedClock{now: day1.Add(9 * time.Hour)}
	cal := calendar.MustUTC(clock.Now)
	logger := logging.Discard()
	svc := service.New(st, cal, service.Options{CreditPolicy: domain.CreditPolicyStrict, CreditTermDays: 30}, logger)
	mat := snapshot.NewMaterializer(st, cal, cache.NewLocalRunGuard(), cache.NoopMovementCache{}, logger)

	item, err := svc.CreateItem(ctx, domain.ItemCreateRequest{
		SKU:                   xid.New("it"),
		Name:                  "Integration Item",
		PackageSize:           24,
		InitialStockBaseUnits: 100,
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	customer, err := svc.CreateCounterpart(ctx, domain.CounterpartCreateRequest{
		Kind: domain.CounterpartCustomer,
		Name: "Integration Customer",
	})
	if err != nil {
		t.Fatalf("create counterpart: %v", err)
	}

	draft, err := svc.CreateDraft(ctx, domain.DraftRequest{
		Kind:          domain.KindSale,
		CounterpartID: customer.Counterpart.ID,
		Lines: []domain.DraftLineRequest{
			{ItemID: item.ID, PackageQty: 1, UnitQty: 5, UnitPrice: 1000},
		},
	})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if _, err := svc.Complete(ctx, draft.ID, domain.PaymentRequest{AmountPaid: draft.Total}); err != nil {
		t.Fatalf("complete sale: %v", err)
	}

	clock.Set(day1.AddDate(0, 0, 1).Add(9 * time.Hour))
	if _, err := mat.Materialize(ctx, day1); err != nil {
		t.Fatalf("materialize: %v", err)
	}
	snap, err := st.GetSnapshot(ctx, item.ID, day1)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if snap.StockAtDate != 71 {
		t.Fatalf("expected stock 71 at end of day, got %d", snap.StockAtDate)
	}

	if _, err := svc.Cancel(ctx, draft.ID, "integration"); err != nil {
		t.Fatalf("cancel sale: %v", err)
	}
	stale, err := st.ListInvalidations(ctx)
	if err != nil {
		t.Fatalf("list invalidations: %v", err)
	}
	found := false
	for _, inv := range stale {
		if inv.ItemID == item.ID && inv.FromDate.Equal(day1) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected invalidation for %s from %s", item.ID, calendar.Format(day1))
	}

	if _, err := mat.RebuildStale(ctx); err != nil {
		t.Fatalf("rebuild stale: %v", err)
	}
	snap, err = st.GetSnapshot(ctx, item.ID, day1)
	if err != nil {
		t.Fatalf("get rebuilt snapshot: %v", err)
	}
	if snap.StockAtDate != 100 {
		t.Fatalf("expected rebuilt stock 100, got %d", snap.StockAtDate)
	}
}

func TestConcurrentSalesOfOneItemAllLand(t *testing.T) {
	st := openIntegrationStore(t)
	ctx := context.Background()

	clock := &steppedClock{now: calendar.Day(2026, 3, 2).Add(9 * time.Hour)}
	cal := calendar.MustUTC(clock.Now)
	svc := service.New(st, cal, service.Options{CreditPolicy: domain.CreditPolicyStrict, CreditTermDays: 30}, logging.Discard())

	item, err := svc.CreateItem(ctx, domain.ItemCreateRequest{
		SKU:                   xid.New("it"),
		Name:                  "Contended Item",
		PackageSize:           1,
		InitialStockBaseUnits: 100,
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	customer, err := svc.CreateCounterpart(ctx, domain.CounterpartCreateRequest{
		Kind: domain.CounterpartCustomer,
		Name: "Contended Customer",
	})
	if err != nil {
		t.Fatalf("create counterpart: %v", err)
	}

	const sales = 3
	drafts := make([]domain.Transaction, 0, sales)
	for i := 0; i < sales; i++ {
		draft, err := svc.CreateDraft(ctx, domain.DraftRequest{
			Kind:          domain.KindSale,
			CounterpartID: customer.Counterpart.ID,
			Lines:         []domain.DraftLineRequest{{ItemID: item.ID, UnitQty: 10, UnitPrice: 100}},
		})
		if err != nil {
			t.Fatalf("create draft %d: %v", i, err)
		}
		drafts = append(drafts, draft)
	}

	var wg sync.WaitGroup
	errs := make(chan error, sales)
	for _, draft := range drafts {
		wg.Add(1)
		go func(d domain.Transaction) {
			defer wg.Done()
			_, err := svc.Complete(ctx, d.ID, domain.PaymentRequest{AmountPaid: d.Total})
			errs <- err
		}(draft)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent completion failed: %v", err)
		}
	}

	stored, err := st.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if stored.StockBaseUnits != 100-sales*10 {
		t.Fatalf("expected stock %d, got %d", 100-sales*10, stored.StockBaseUnits)
	}
}
