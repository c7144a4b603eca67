package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/ledger"
	"stockledger/backend/internal/store"
)

type snapshotKey struct {
	itemID string
	date   time.Time
}

// Store keeps every aggregate behind a single RWMutex. Mutations validate
// everything before touching state, so a failed call leaves nothing behind.
type Store struct {
	mu            sync.RWMutex
	items         map[string]domain.Item
	itemIDBySKU   map[string]string
	counterparts  map[string]domain.Counterpart
	accounts      map[string]domain.CreditAccount
	transactions  map[string]*domain.Transaction
	returns       map[string]domain.ReturnRecord
	snapshots     map[snapshotKey]domain.DailySnapshot
	invalidations map[string]domain.SnapshotInvalidation
	auditLogs     []domain.AuditLog
}

func New() *Store {
	return &Store{
		items:         make(map[string]domain.Item),
		itemIDBySKU:   make(map[string]string),
		counterparts:  make(map[string]domain.Counterpart),
		accounts:      make(map[string]domain.CreditAccount),
		transactions:  make(map[string]*domain.Transaction),
		returns:       make(map[string]domain.ReturnRecord),
		snapshots:     make(map[snapshotKey]domain.DailySnapshot),
		invalidations: make(map[string]domain.SnapshotInvalidation),
		auditLogs:     make([]domain.AuditLog, 0, 128),
	}
}

// NewSeeded returns a store with a small demo catalogue, one customer and
// one supplier. today is the operating day the items are created on.
func NewSeeded(today time.Time, now time.Time) *Store {
	s := New()
	items := []domain.Item{
		{ID: "item-mie-goreng", SKU: "SKU-MIE-01", Name: "Mie Goreng Instan", PackageSize: 40, PackageLabel: "karton", StockBaseUnits: 400, DailySaleLimitBaseUnits: 0},
		{ID: "item-telur", SKU: "SKU-TELUR-01", Name: "Telur Ayam", PackageSize: 30, PackageLabel: "tray", StockBaseUnits: 300},
		{ID: "item-susu-uht", SKU: "SKU-SUSU-01", Name: "Susu UHT 1L", PackageSize: 12, PackageLabel: "dus", StockBaseUnits: 120, DailySaleLimitBaseUnits: 240},
		{ID: "item-gula", SKU: "SKU-GULA-01", Name: "Gula 1kg", PackageSize: 24, PackageLabel: "sak", StockBaseUnits: 100},
	}
	for _, item := range items {
		item.CreatedOn = today
		item.CreatedAt = now
		item.UpdatedAt = now
		s.items[item.ID] = item
		s.itemIDBySKU[item.SKU] = item.ID
	}

	for _, cp := range []struct {
		counterpart domain.Counterpart
		limit       int64
	}{
		{domain.Counterpart{ID: "cust-toko-makmur", Kind: domain.CounterpartCustomer, Name: "Toko Makmur"}, 1_000_000},
		{domain.Counterpart{ID: "supp-sumber-rejeki", Kind: domain.CounterpartSupplier, Name: "CV Sumber Rejeki"}, 0},
	} {
		counterpart := cp.counterpart
		counterpart.CreatedAt = now
		s.counterparts[counterpart.ID] = counterpart
		s.accounts[counterpart.ID] = domain.CreditAccount{
			ID:        counterpart.ID,
			Kind:      counterpart.Kind.AccountKind(),
			Limit:     cp.limit,
			UpdatedAt: now,
		}
	}
	return s
}

func (s *Store) CreateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" || item.SKU == "" || item.Name == "" || item.PackageSize < 1 || item.StockBaseUnits < 0 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.items[item.ID]; exists {
		return nil, fmt.Errorf("%w: item %s already exists", store.ErrInvalidInput, item.ID)
	}
	if _, exists := s.itemIDBySKU[item.SKU]; exists {
		return nil, fmt.Errorf("%w: sku %s already exists", store.ErrInvalidInput, item.SKU)
	}

	s.items[item.ID] = item
	s.itemIDBySKU[item.SKU] = item.ID
	created := item
	return &created, nil
}

func (s *Store) GetItem(_ context.Context, id string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) GetItems(_ context.Context, ids []string) (map[string]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Item, len(ids))
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			out[id] = item
		}
	}
	return out, nil
}

func (s *Store) ListItems(_ context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.Item) int {
		return strings.Compare(a.SKU, b.SKU)
	})
	return items, nil
}

func (s *Store) AdjustStock(_ context.Context, itemID string, delta int64, at time.Time) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	next, err := ledger.AddChecked(item.StockBaseUnits, delta)
	if err != nil {
		return nil, err
	}
	if next < 0 {
		return nil, fmt.Errorf("%w: item %s", store.ErrStockInsufficient, itemID)
	}
	item.StockBaseUnits = next
	item.UpdatedAt = at
	s.items[itemID] = item
	return &item, nil
}

func (s *Store) CreateCounterpart(_ context.Context, counterpart domain.Counterpart, account domain.CreditAccount) (*domain.CounterpartResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if counterpart.ID == "" || counterpart.Name == "" || account.ID != counterpart.ID || account.Limit < 0 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.counterparts[counterpart.ID]; exists {
		return nil, fmt.Errorf("%w: counterpart %s already exists", store.ErrInvalidInput, counterpart.ID)
	}

	s.counterparts[counterpart.ID] = counterpart
	s.accounts[account.ID] = account
	return &domain.CounterpartResponse{Counterpart: counterpart, Account: account}, nil
}

func (s *Store) GetCounterpart(_ context.Context, id string) (*domain.Counterpart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counterpart, ok := s.counterparts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &counterpart, nil
}

func (s *Store) GetCreditAccount(_ context.Context, id string) (*domain.CreditAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &account, nil
}

func (s *Store) AdjustBalance(_ context.Context, accountID string, delta int64, at time.Time) (*domain.CreditAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return nil, store.ErrNotFound
	}
	next, err := ledger.AddChecked(account.Balance, delta)
	if err != nil {
		return nil, err
	}
	account.Balance = next
	account.UpdatedAt = at
	s.accounts[accountID] = account
	return &account, nil
}

func (s *Store) CreateTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" || tx.Status != domain.StatusDraft || len(tx.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.transactions[tx.ID]; exists {
		return nil, fmt.Errorf("%w: transaction %s already exists", store.ErrInvalidInput, tx.ID)
	}
	if _, ok := s.counterparts[tx.CounterpartID]; !ok {
		return nil, fmt.Errorf("%w: counterpart %s", store.ErrNotFound, tx.CounterpartID)
	}
	for _, line := range tx.Lines {
		if _, ok := s.items[line.ItemID]; !ok {
			return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, line.ItemID)
		}
	}

	s.transactions[tx.ID] = cloneTransaction(&tx)
	return cloneTransaction(&tx), nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) ListTransactions(_ context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Transaction, 0)
	for _, tx := range s.transactions {
		if filter.Kind != "" && tx.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		if filter.CounterpartID != "" && tx.CounterpartID != filter.CounterpartID {
			continue
		}
		if tx.SoftDeleted && !filter.IncludeDeleted {
			continue
		}
		out = append(out, *cloneTransaction(tx))
	}
	slices.SortFunc(out, func(a, b domain.Transaction) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) ListOpenCredit(_ context.Context, counterpartID string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Transaction, 0)
	for _, tx := range s.transactions {
		if tx.CounterpartID != counterpartID || tx.Status != domain.StatusCompleted || tx.PaymentStatus != domain.PaymentOnCredit {
			continue
		}
		out = append(out, *cloneTransaction(tx))
	}
	slices.SortFunc(out, func(a, b domain.Transaction) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) CompleteTransaction(_ context.Context, plan domain.CompletionPlan) (*domain.CompletionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[plan.TransactionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if tx.Status != domain.StatusDraft || tx.SoftDeleted {
		return nil, fmt.Errorf("%w: %s transaction cannot be completed", store.ErrInvalidStateTransition, strings.ToLower(string(tx.Status)))
	}

	nextStock, err := s.plannedStock(tx.Kind, ledger.BaseUnitsByItem(plan.Lines), ledger.StockSign(tx.Kind))
	if err != nil {
		return nil, err
	}
	if tx.Kind == domain.KindSale {
		if err := s.checkDailyLimits(plan); err != nil {
			return nil, err
		}
	}

	account, ok := s.accounts[tx.CounterpartID]
	if !ok {
		return nil, fmt.Errorf("%w: credit account %s", store.ErrNotFound, tx.CounterpartID)
	}
	if plan.CreditDelta > 0 {
		if plan.EnforceCreditLimit && ledger.ExceedsLimit(account.Balance, account.Limit, plan.CreditDelta) {
			return nil, fmt.Errorf("%w: balance %d + %d over limit %d", store.ErrCreditLimitExceeded, account.Balance, plan.CreditDelta, account.Limit)
		}
		balance, err := ledger.AddChecked(account.Balance, plan.CreditDelta)
		if err != nil {
			return nil, err
		}
		account.Balance = balance
		account.UpdatedAt = plan.CompletedAt
	}

	for itemID, stock := range nextStock {
		item := s.items[itemID]
		item.StockBaseUnits = stock
		item.UpdatedAt = plan.CompletedAt
		s.items[itemID] = item
	}
	s.accounts[account.ID] = account

	completedOn := plan.CompletedOn
	completedAt := plan.CompletedAt
	tx.Lines = append([]domain.TransactionLine(nil), plan.Lines...)
	tx.Subtotal = plan.Subtotal
	tx.Total = plan.Total
	tx.AmountPaid = plan.AmountPaid
	tx.Change = plan.Change
	tx.PaymentStatus = plan.PaymentStatus
	tx.DueDate = copyTime(plan.DueDate)
	tx.Status = domain.StatusCompleted
	tx.CompletedOn = &completedOn
	tx.CompletedAt = &completedAt
	tx.UpdatedAt = completedAt

	return &domain.CompletionResult{Transaction: *cloneTransaction(tx), Account: &account}, nil
}

// plannedStock validates a multi-item stock change and returns the resulting
// levels without applying them.
func (s *Store) plannedStock(kind domain.TransactionKind, units map[string]int64, sign int64) (map[string]int64, error) {
	next := make(map[string]int64, len(units))
	for itemID, qty := range units {
		item, ok := s.items[itemID]
		if !ok {
			return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, itemID)
		}
		stock, err := ledger.AddChecked(item.StockBaseUnits, sign*qty)
		if err != nil {
			return nil, err
		}
		if stock < 0 {
			return nil, fmt.Errorf("%w: item %s has %d, %s needs %d", store.ErrStockInsufficient, itemID, item.StockBaseUnits, strings.ToLower(string(kind)), qty)
		}
		next[itemID] = stock
	}
	return next, nil
}

func (s *Store) checkDailyLimits(plan domain.CompletionPlan) error {
	for itemID, qty := range ledger.BaseUnitsByItem(plan.Lines) {
		limit := s.items[itemID].DailySaleLimitBaseUnits
		if limit <= 0 {
			continue
		}
		sold := int64(0)
		for _, other := range s.transactions {
			if other.Kind != domain.KindSale || other.Status != domain.StatusCompleted || other.CompletedOn == nil {
				continue
			}
			if !other.CompletedOn.Equal(plan.CompletedOn) {
				continue
			}
			for _, line := range other.Lines {
				if line.ItemID == itemID {
					sold += line.TotalBaseUnits
				}
			}
		}
		if sold+qty > limit {
			return fmt.Errorf("%w: item %s sold %d of %d today", store.ErrDailyLimitExceeded, itemID, sold, limit)
		}
	}
	return nil
}

func (s *Store) CancelTransaction(_ context.Context, id string, at time.Time, today time.Time) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if tx.Status == domain.StatusCancelled || tx.SoftDeleted {
		return nil, fmt.Errorf("%w: transaction already cancelled or deleted", store.ErrInvalidStateTransition)
	}

	if tx.Status == domain.StatusCompleted {
		for _, ret := range s.returns {
			if ret.SaleID == id && ret.AppliedToStock {
				return nil, fmt.Errorf("%w: sale %s has applied return %s", store.ErrInvalidStateTransition, id, ret.ID)
			}
		}
		units := ledger.BaseUnitsByItem(tx.Lines)
		nextStock, err := s.plannedStock(tx.Kind, units, -ledger.StockSign(tx.Kind))
		if err != nil {
			return nil, err
		}
		account, ok := s.accounts[tx.CounterpartID]
		if !ok {
			return nil, fmt.Errorf("%w: credit account %s", store.ErrNotFound, tx.CounterpartID)
		}
		if delta := creditDelta(tx); delta > 0 {
			account.Balance -= delta
			account.UpdatedAt = at
		}

		for itemID, stock := range nextStock {
			item := s.items[itemID]
			item.StockBaseUnits = stock
			item.UpdatedAt = at
			s.items[itemID] = item
		}
		s.accounts[account.ID] = account
		if tx.CompletedOn != nil && tx.CompletedOn.Before(today) {
			for itemID := range units {
				s.markStale(itemID, *tx.CompletedOn, at)
			}
		}
	}

	cancelledAt := at
	tx.Status = domain.StatusCancelled
	tx.CancelledAt = &cancelledAt
	tx.UpdatedAt = at
	return cloneTransaction(tx), nil
}

func (s *Store) SoftDeleteTransaction(_ context.Context, id string, at time.Time) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if tx.Status != domain.StatusCompleted || tx.SoftDeleted {
		return nil, fmt.Errorf("%w: only completed documents can be deleted", store.ErrInvalidStateTransition)
	}

	deletedAt := at
	tx.SoftDeleted = true
	tx.DeletedAt = &deletedAt
	tx.UpdatedAt = at
	return cloneTransaction(tx), nil
}

func (s *Store) CreateReturn(_ context.Context, ret domain.ReturnRecord, today time.Time) (*domain.ReturnRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ret.ID == "" || ret.TotalBaseUnits <= 0 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.returns[ret.ID]; exists {
		return nil, fmt.Errorf("%w: return %s already exists", store.ErrInvalidInput, ret.ID)
	}
	item, ok := s.items[ret.ItemID]
	if !ok {
		return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, ret.ItemID)
	}
	if err := s.checkReturnSale(ret); err != nil {
		return nil, err
	}

	if ret.AppliedToStock {
		stock, err := ledger.AddChecked(item.StockBaseUnits, ret.TotalBaseUnits)
		if err != nil {
			return nil, err
		}
		item.StockBaseUnits = stock
		item.UpdatedAt = ret.CreatedAt
		s.items[item.ID] = item
		if ret.ReturnDate.Before(today) {
			s.markStale(item.ID, ret.ReturnDate, ret.CreatedAt)
		}
	}

	s.returns[ret.ID] = ret
	created := ret
	return &created, nil
}

// checkReturnSale requires a linked sale to be a completed sale of the item
// and caps all of its returns for that item at the units sold.
func (s *Store) checkReturnSale(ret domain.ReturnRecord) error {
	if ret.SaleID == "" {
		return nil
	}
	sale, ok := s.transactions[ret.SaleID]
	if !ok {
		return fmt.Errorf("%w: sale %s not found", store.ErrInvalidInput, ret.SaleID)
	}
	if sale.Kind != domain.KindSale || sale.Status != domain.StatusCompleted {
		return fmt.Errorf("%w: %s is not a completed sale", store.ErrInvalidInput, ret.SaleID)
	}
	sold, found := int64(0), false
	for _, line := range sale.Lines {
		if line.ItemID == ret.ItemID {
			sold += line.TotalBaseUnits
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: sale %s does not contain item %s", store.ErrInvalidInput, ret.SaleID, ret.ItemID)
	}

	returned := ret.TotalBaseUnits
	for _, other := range s.returns {
		if other.ID == ret.ID || other.SaleID != ret.SaleID || other.ItemID != ret.ItemID {
			continue
		}
		returned += other.TotalBaseUnits
	}
	if returned > sold {
		return fmt.Errorf("%w: returns of item %s on sale %s total %d of %d sold", store.ErrInvalidInput, ret.ItemID, ret.SaleID, returned, sold)
	}
	return nil
}

func (s *Store) UpdateReturn(_ context.Context, ret domain.ReturnRecord, today time.Time) (*domain.ReturnRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.returns[ret.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if ret.TotalBaseUnits <= 0 {
		return nil, store.ErrInvalidInput
	}
	item, ok := s.items[existing.ItemID]
	if !ok {
		return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, existing.ItemID)
	}
	if existing.SaleID != "" && ret.TotalBaseUnits > existing.TotalBaseUnits {
		capped := existing
		capped.TotalBaseUnits = ret.TotalBaseUnits
		if err := s.checkReturnSale(capped); err != nil {
			return nil, err
		}
	}

	delta := appliedUnits(ret) - appliedUnits(existing)
	stock, err := ledger.AddChecked(item.StockBaseUnits, delta)
	if err != nil {
		return nil, err
	}
	if stock < 0 {
		return nil, fmt.Errorf("%w: reversing return %s", store.ErrStockInsufficient, ret.ID)
	}

	updated := existing
	updated.PackageQty = ret.PackageQty
	updated.UnitQty = ret.UnitQty
	updated.TotalBaseUnits = ret.TotalBaseUnits
	updated.Condition = ret.Condition
	updated.AppliedToStock = ret.AppliedToStock
	updated.Note = ret.Note
	updated.UpdatedAt = ret.UpdatedAt

	if delta != 0 {
		item.StockBaseUnits = stock
		item.UpdatedAt = ret.UpdatedAt
		s.items[item.ID] = item
		if existing.ReturnDate.Before(today) {
			s.markStale(item.ID, existing.ReturnDate, ret.UpdatedAt)
		}
	}
	s.returns[ret.ID] = updated
	return &updated, nil
}

func (s *Store) GetReturn(_ context.Context, id string) (*domain.ReturnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret, ok := s.returns[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &ret, nil
}

func (s *Store) ListReturns(_ context.Context, itemID string) ([]domain.ReturnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ReturnRecord, 0)
	for _, ret := range s.returns {
		if itemID != "" && ret.ItemID != itemID {
			continue
		}
		out = append(out, ret)
	}
	slices.SortFunc(out, func(a, b domain.ReturnRecord) int {
		if c := b.ReturnDate.Compare(a.ReturnDate); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) MaterializeSnapshots(_ context.Context, req domain.MaterializeRequest) (*domain.MaterializeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	watermark := s.watermark()
	rebuild := make(map[string][]time.Time)
	if req.RebuildStale {
		for itemID := range s.invalidations {
			rebuild[itemID] = s.snapshotDates(itemID)
		}
	}

	since := ledger.MovementWindowStart(watermark, req.Dates, rebuild)
	txs := make([]domain.Transaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		txs = append(txs, *tx)
	}
	returns := make([]domain.ReturnRecord, 0, len(s.returns))
	for _, ret := range s.returns {
		returns = append(returns, ret)
	}
	positions := make([]ledger.ItemPosition, 0, len(s.items))
	for _, item := range s.items {
		positions = append(positions, ledger.ItemPosition{ID: item.ID, StockBaseUnits: item.StockBaseUnits, CreatedOn: item.CreatedOn})
	}

	plan, err := ledger.PlanSnapshots(ledger.SnapshotState{
		Items:     positions,
		Movements: ledger.DayMovements(txs, returns, since),
		Watermark: watermark,
		Rebuild:   rebuild,
	}, req.Dates, req.Now)
	if err != nil {
		return nil, err
	}

	result := &domain.MaterializeResult{Dates: req.Dates, Anchor: plan.Anchor}
	if !plan.ShiftUpTo.IsZero() {
		shifts := make(map[string]ledger.SuffixShift, len(plan.Shifts))
		for _, shift := range plan.Shifts {
			shifts[shift.ItemID] = shift
		}
		for key, row := range s.snapshots {
			shift, ok := shifts[key.itemID]
			if !ok || key.date.After(plan.ShiftUpTo) {
				continue
			}
			row.InboundSuffixSum += shift.Inbound
			row.OutboundSuffixSum += shift.Outbound
			s.snapshots[key] = row
			result.RowsShifted++
		}
	}
	for _, row := range plan.Rows {
		s.snapshots[snapshotKey{itemID: row.ItemID, date: row.Date}] = row
		result.Touched = append(result.Touched, domain.SnapshotKey{ItemID: row.ItemID, Date: row.Date})
	}
	result.RowsWritten = len(plan.Rows)

	for itemID := range rebuild {
		delete(s.invalidations, itemID)
		result.RebuiltItems = append(result.RebuiltItems, itemID)
	}
	slices.Sort(result.RebuiltItems)
	return result, nil
}

func (s *Store) GetSnapshot(_ context.Context, itemID string, date time.Time) (*domain.DailySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.snapshots[snapshotKey{itemID: itemID, date: date}]
	if !ok {
		return nil, store.ErrSnapshotMissing
	}
	return &row, nil
}

func (s *Store) ListSnapshotsOnDate(_ context.Context, date time.Time) ([]domain.DailySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.DailySnapshot, 0)
	for key, row := range s.snapshots {
		if key.date.Equal(date) {
			out = append(out, row)
		}
	}
	slices.SortFunc(out, func(a, b domain.DailySnapshot) int {
		return strings.Compare(a.ItemID, b.ItemID)
	})
	return out, nil
}

func (s *Store) LatestSnapshotDate(_ context.Context) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := s.watermark()
	return latest, !latest.IsZero(), nil
}

func (s *Store) ListInvalidations(_ context.Context) ([]domain.SnapshotInvalidation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.SnapshotInvalidation, 0, len(s.invalidations))
	for _, inv := range s.invalidations {
		out = append(out, inv)
	}
	slices.SortFunc(out, func(a, b domain.SnapshotInvalidation) int {
		return strings.Compare(a.ItemID, b.ItemID)
	})
	return out, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, entityID string, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	out := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(out) < limit; i-- {
		if entityID != "" && s.auditLogs[i].EntityID != entityID {
			continue
		}
		out = append(out, s.auditLogs[i])
	}
	return out, nil
}

func (s *Store) watermark() time.Time {
	var latest time.Time
	for key := range s.snapshots {
		if key.date.After(latest) {
			latest = key.date
		}
	}
	return latest
}

func (s *Store) snapshotDates(itemID string) []time.Time {
	dates := make([]time.Time, 0)
	for key := range s.snapshots {
		if key.itemID == itemID {
			dates = append(dates, key.date)
		}
	}
	return dates
}

// markStale keeps the earliest invalidated day per item.
func (s *Store) markStale(itemID string, from time.Time, at time.Time) {
	if existing, ok := s.invalidations[itemID]; ok && !from.Before(existing.FromDate) {
		return
	}
	s.invalidations[itemID] = domain.SnapshotInvalidation{ItemID: itemID, FromDate: from, CreatedAt: at}
}

func creditDelta(tx *domain.Transaction) int64 {
	if tx.PaymentStatus != domain.PaymentOnCredit {
		return 0
	}
	return tx.Total - tx.AmountPaid
}

func appliedUnits(ret domain.ReturnRecord) int64 {
	if !ret.AppliedToStock {
		return 0
	}
	return ret.TotalBaseUnits
}

func cloneTransaction(src *domain.Transaction) *domain.Transaction {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Lines = append([]domain.TransactionLine(nil), src.Lines...)
	dup.DueDate = copyTime(src.DueDate)
	dup.CompletedOn = copyTime(src.CompletedOn)
	dup.CompletedAt = copyTime(src.CompletedAt)
	dup.CancelledAt = copyTime(src.CancelledAt)
	dup.DeletedAt = copyTime(src.DeletedAt)
	return &dup
}

func copyTime(src *time.Time) *time.Time {
	if src == nil {
		return nil
	}
	dup := *src
	return &dup
}
