package service

import (
	"context"
	"fmt"
	"strings"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/ledger"
	"stockledger/backend/internal/store"
	"stockledger/backend/internal/xid"
)

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.Item, error) {
	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.PackageLabel = strings.TrimSpace(req.PackageLabel)
	if req.PackageLabel == "" {
		req.PackageLabel = "pack"
	}

	if req.SKU == "" || req.Name == "" {
		return domain.Item{}, fmt.Errorf("%w: sku and name are required", store.ErrInvalidInput)
	}
	if req.PackageSize < 1 {
		return domain.Item{}, fmt.Errorf("%w: package size must be at least 1", store.ErrInvalidInput)
	}
	for field, value := range map[string]int64{
		"package_size":                req.PackageSize,
		"initial_stock_base_units":    req.InitialStockBaseUnits,
		"daily_sale_limit_base_units": req.DailySaleLimitBaseUnits,
	} {
		if err := s.bounds.Check(field, value); err != nil {
			return domain.Item{}, err
		}
	}

	now := s.now()
	created, err := s.repo.CreateItem(ctx, domain.Item{
		ID:                      xid.New("item"),
		SKU:                     req.SKU,
		Name:                    req.Name,
		StockBaseUnits:          req.InitialStockBaseUnits,
		PackageSize:             req.PackageSize,
		PackageLabel:            req.PackageLabel,
		DailySaleLimitBaseUnits: req.DailySaleLimitBaseUnits,
		CreatedOn:               s.cal.Today(),
		CreatedAt:               now,
		UpdatedAt:               now,
	})
	if err != nil {
		return domain.Item{}, err
	}

	s.logAudit(ctx, "item_create", "item", created.ID, fmt.Sprintf("sku=%s,package_size=%d,opening=%d", created.SKU, created.PackageSize, created.StockBaseUnits))
	return *created, nil
}

func (s *Service) GetItem(ctx context.Context, id string) (domain.Item, error) {
	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return domain.Item{}, err
	}
	return *item, nil
}

func (s *Service) ListItems(ctx context.Context) ([]domain.Item, error) {
	return s.repo.ListItems(ctx)
}

func (s *Service) CurrentStock(ctx context.Context, itemID string) (domain.StockLevel, error) {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return domain.StockLevel{}, err
	}
	return stockLevel(*item), nil
}

// AdjustStock applies a manual correction. Corrections are not movements:
// they do not appear in reconstructed inbound or outbound volume.
func (s *Service) AdjustStock(ctx context.Context, itemID string, delta int64, reason string) (domain.StockLevel, error) {
	if delta == 0 {
		return domain.StockLevel{}, fmt.Errorf("%w: delta must not be zero", store.ErrInvalidInput)
	}
	magnitude := delta
	if magnitude < 0 {
		magnitude = -magnitude
	}
	if err := s.bounds.Check("delta", magnitude); err != nil {
		return domain.StockLevel{}, err
	}

	item, err := s.repo.AdjustStock(ctx, itemID, delta, s.now())
	if err != nil {
		return domain.StockLevel{}, err
	}

	s.logAudit(ctx, "stock_adjust", "item", item.ID, fmt.Sprintf("delta=%d,stock=%d,reason=%s", delta, item.StockBaseUnits, strings.TrimSpace(reason)))
	return stockLevel(*item), nil
}

func stockLevel(item domain.Item) domain.StockLevel {
	packages, loose := ledger.SplitPackages(item.StockBaseUnits, item.PackageSize)
	return domain.StockLevel{
		ItemID:            item.ID,
		SKU:               item.SKU,
		StockBaseUnits:    item.StockBaseUnits,
		PackageSize:       item.PackageSize,
		PackageLabel:      item.PackageLabel,
		Packages:          packages,
		LooseUnits:        loose,
		PackageEquivalent: ledger.PackageEquivalent(item.StockBaseUnits, item.PackageSize),
	}
}
