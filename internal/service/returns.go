package service

import (
	"context"
	"fmt"
	"strings"

	"stockledger/backend/internal/calendar"
	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/store"
	"stockledger/backend/internal/xid"
)

// RecordReturn stores goods handed back after a sale. Only GOOD items go
// back on the shelf; damaged and expired ones are recorded for reporting.
func (s *Service) RecordReturn(ctx context.Context, req domain.ReturnRequest) (domain.ReturnRecord, error) {
	condition, err := parseCondition(req.Condition)
	if err != nil {
		return domain.ReturnRecord{}, err
	}
	item, err := s.repo.GetItem(ctx, strings.TrimSpace(req.ItemID))
	if err != nil {
		return domain.ReturnRecord{}, err
	}
	total, err := s.returnUnits(req.PackageQty, req.UnitQty, item.PackageSize)
	if err != nil {
		return domain.ReturnRecord{}, err
	}

	today := s.cal.Today()
	returnDate := today
	if req.ReturnDate != nil {
		returnDate = calendar.Normalize(*req.ReturnDate)
	}
	if returnDate.After(today) {
		return domain.ReturnRecord{}, fmt.Errorf("%w: return date is in the future", store.ErrInvalidInput)
	}
	if returnDate.Before(item.CreatedOn) {
		return domain.ReturnRecord{}, fmt.Errorf("%w: return date precedes item creation", store.ErrInvalidInput)
	}

	now := s.now()
	created, err := s.repo.CreateReturn(ctx, domain.ReturnRecord{
		ID:             xid.New("ret"),
		ItemID:         item.ID,
		SaleID:         strings.TrimSpace(req.SaleID),
		PackageQty:     req.PackageQty,
		UnitQty:        req.UnitQty,
		TotalBaseUnits: total,
		Condition:      condition,
		Note:           strings.TrimSpace(req.Note),
		ReturnDate:     returnDate,
		AppliedToStock: condition == domain.ConditionGood,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, today)
	if err != nil {
		return domain.ReturnRecord{}, err
	}

	s.logAudit(ctx, "return_record", "return", created.ID, fmt.Sprintf("item=%s,units=%d,condition=%s,applied=%t", created.ItemID, created.TotalBaseUnits, created.Condition, created.AppliedToStock))
	return *created, nil
}

// UpdateReturn reverses the stored effect and applies the new one in a
// single step.
func (s *Service) UpdateReturn(ctx context.Context, id string, req domain.ReturnUpdateRequest) (domain.ReturnRecord, error) {
	condition, err := parseCondition(req.Condition)
	if err != nil {
		return domain.ReturnRecord{}, err
	}
	existing, err := s.repo.GetReturn(ctx, id)
	if err != nil {
		return domain.ReturnRecord{}, err
	}
	item, err := s.repo.GetItem(ctx, existing.ItemID)
	if err != nil {
		return domain.ReturnRecord{}, err
	}
	total, err := s.returnUnits(req.PackageQty, req.UnitQty, item.PackageSize)
	if err != nil {
		return domain.ReturnRecord{}, err
	}

	updated, err := s.repo.UpdateReturn(ctx, domain.ReturnRecord{
		ID:             existing.ID,
		PackageQty:     req.PackageQty,
		UnitQty:        req.UnitQty,
		TotalBaseUnits: total,
		Condition:      condition,
		Note:           strings.TrimSpace(req.Note),
		AppliedToStock: condition == domain.ConditionGood,
		UpdatedAt:      s.now(),
	}, s.cal.Today())
	if err != nil {
		return domain.ReturnRecord{}, err
	}

	s.logAudit(ctx, "return_update", "return", updated.ID, fmt.Sprintf("units=%d->%d,condition=%s->%s", existing.TotalBaseUnits, updated.TotalBaseUnits, existing.Condition, updated.Condition))
	return *updated, nil
}

func (s *Service) GetReturn(ctx context.Context, id string) (domain.ReturnRecord, error) {
	ret, err := s.repo.GetReturn(ctx, id)
	if err != nil {
		return domain.ReturnRecord{}, err
	}
	return *ret, nil
}

func (s *Service) ListReturns(ctx context.Context, itemID string) ([]domain.ReturnRecord, error) {
	return s.repo.ListReturns(ctx, strings.TrimSpace(itemID))
}

func (s *Service) returnUnits(packageQty int64, unitQty int64, packageSize int64) (int64, error) {
	total, err := s.bounds.TotalBaseUnits(packageQty, unitQty, packageSize)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, fmt.Errorf("%w: return moves no stock", store.ErrInvalidInput)
	}
	return total, nil
}

func parseCondition(raw domain.ReturnCondition) (domain.ReturnCondition, error) {
	condition, ok := domain.ParseReturnCondition(strings.ToUpper(strings.TrimSpace(string(raw))))
	if !ok {
		return "", fmt.Errorf("%w: condition must be GOOD, DAMAGED or EXPIRED", store.ErrInvalidInput)
	}
	return condition, nil
}
