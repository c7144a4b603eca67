package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"stockledger/backend/internal/calendar"
	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/store"
	"stockledger/backend/internal/xid"
)

func (s *Service) CreateDraft(ctx context.Context, req domain.DraftRequest) (domain.Transaction, error) {
	kind, ok := domain.ParseTransactionKind(strings.ToUpper(strings.TrimSpace(string(req.Kind))))
	if !ok {
		return domain.Transaction{}, fmt.Errorf("%w: kind must be PURCHASE or SALE", store.ErrInvalidInput)
	}
	if len(req.Lines) == 0 {
		return domain.Transaction{}, fmt.Errorf("%w: at least one line is required", store.ErrInvalidInput)
	}

	counterpart, err := s.repo.GetCounterpart(ctx, strings.TrimSpace(req.CounterpartID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Transaction{}, fmt.Errorf("%w: counterpart %s", store.ErrNotFound, req.CounterpartID)
		}
		return domain.Transaction{}, err
	}
	if counterpart.Kind.DocumentKind() != kind {
		return domain.Transaction{}, fmt.Errorf("%w: %s cannot be the counterpart of a %s", store.ErrInvalidInput, strings.ToLower(string(counterpart.Kind)), strings.ToLower(string(kind)))
	}

	lines := make([]domain.TransactionLine, 0, len(req.Lines))
	for i, line := range req.Lines {
		lines = append(lines, domain.TransactionLine{
			LineNo:     i + 1,
			ItemID:     strings.TrimSpace(line.ItemID),
			PackageQty: line.PackageQty,
			UnitQty:    line.UnitQty,
			UnitPrice:  line.UnitPrice,
			Discount:   line.Discount,
		})
	}
	priced, err := s.priceLines(ctx, lines, req.HeaderDiscount)
	if err != nil {
		return domain.Transaction{}, err
	}

	now := s.now()
	created, err := s.repo.CreateTransaction(ctx, domain.Transaction{
		ID:             xid.New("trx"),
		Kind:           kind,
		CounterpartID:  counterpart.ID,
		Subtotal:       priced.Subtotal,
		HeaderDiscount: req.HeaderDiscount,
		Total:          priced.Total,
		Status:         domain.StatusDraft,
		Note:           strings.TrimSpace(req.Note),
		CreatedAt:      now,
		UpdatedAt:      now,
		Lines:          priced.Lines,
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	s.logAudit(ctx, "transaction_draft", "transaction", created.ID, fmt.Sprintf("kind=%s,counterpart=%s,total=%d,lines=%d", kind, counterpart.ID, created.Total, len(created.Lines)))
	return *created, nil
}

// Complete moves a draft to COMPLETED. Lines are re-priced against current
// package sizes and the resulting base-unit totals are frozen on the document,
// so a later cancellation reverses exactly what was applied here.
func (s *Service) Complete(ctx context.Context, id string, payment domain.PaymentRequest) (domain.CompletionResult, error) {
	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return domain.CompletionResult{}, err
	}
	if tx.Status != domain.StatusDraft || tx.SoftDeleted {
		return domain.CompletionResult{}, fmt.Errorf("%w: %s transaction cannot be completed", store.ErrInvalidStateTransition, strings.ToLower(string(tx.Status)))
	}

	priced, err := s.priceLines(ctx, tx.Lines, tx.HeaderDiscount)
	if err != nil {
		return domain.CompletionResult{}, err
	}
	settlement, err := s.bounds.Settle(priced.Total, payment.AmountPaid)
	if err != nil {
		return domain.CompletionResult{}, err
	}

	today := s.cal.Today()
	plan := domain.CompletionPlan{
		TransactionID:      tx.ID,
		Lines:              priced.Lines,
		Subtotal:           priced.Subtotal,
		Total:              priced.Total,
		AmountPaid:         payment.AmountPaid,
		Change:             settlement.Change,
		PaymentStatus:      settlement.PaymentStatus,
		CreditDelta:        settlement.CreditDelta,
		EnforceCreditLimit: s.policy == domain.CreditPolicyStrict,
		CompletedOn:        today,
		CompletedAt:        s.now(),
	}
	if settlement.PaymentStatus == domain.PaymentOnCredit {
		due := today.AddDate(0, 0, s.termDays)
		if payment.DueDate != nil {
			due = calendar.Normalize(*payment.DueDate)
		}
		plan.DueDate = &due
	}

	result, err := s.repo.CompleteTransaction(ctx, plan)
	if err != nil {
		if errors.Is(err, store.ErrCreditLimitExceeded) {
			s.logger.WithFields(logrus.Fields{
				"transaction": tx.ID,
				"account":     tx.CounterpartID,
				"delta":       settlement.CreditDelta,
			}).Info("completion rejected by credit limit")
		}
		return domain.CompletionResult{}, err
	}

	if account := result.Account; account != nil && settlement.CreditDelta > 0 && account.Limit > 0 && account.Balance > account.Limit {
		result.CreditWarning = &domain.CreditWarning{
			AccountID: account.ID,
			Balance:   account.Balance,
			Limit:     account.Limit,
			Message:   fmt.Sprintf("balance %d exceeds credit limit %d", account.Balance, account.Limit),
		}
		s.logger.WithFields(logrus.Fields{
			"transaction": tx.ID,
			"account":     account.ID,
			"balance":     account.Balance,
			"limit":       account.Limit,
		}).Warn("completed over credit limit")
	}

	s.logAudit(ctx, "transaction_complete", "transaction", tx.ID, fmt.Sprintf("kind=%s,total=%d,paid=%d,status=%s", tx.Kind, plan.Total, plan.AmountPaid, plan.PaymentStatus))
	return *result, nil
}

// Cancel reverses a completed document's effects. reason is the manager's
// note and lands in the audit detail.
func (s *Service) Cancel(ctx context.Context, id string, reason string) (domain.Transaction, error) {
	cancelled, err := s.repo.CancelTransaction(ctx, id, s.now(), s.cal.Today())
	if err != nil {
		return domain.Transaction{}, err
	}

	s.logAudit(ctx, "transaction_cancel", "transaction", cancelled.ID, fmt.Sprintf("kind=%s,total=%d,reason=%s", cancelled.Kind, cancelled.Total, strings.TrimSpace(reason)))
	return *cancelled, nil
}

func (s *Service) SoftDelete(ctx context.Context, id string, reason string) (domain.Transaction, error) {
	deleted, err := s.repo.SoftDeleteTransaction(ctx, id, s.now())
	if err != nil {
		return domain.Transaction{}, err
	}

	s.logAudit(ctx, "transaction_soft_delete", "transaction", deleted.ID, fmt.Sprintf("kind=%s,reason=%s", deleted.Kind, strings.TrimSpace(reason)))
	return *deleted, nil
}

func (s *Service) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

func (s *Service) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 50
	}
	return s.repo.ListTransactions(ctx, filter)
}

// priceLines stamps each line with its item's current package size and
// prices the document.
func (s *Service) priceLines(ctx context.Context, lines []domain.TransactionLine, headerDiscount int64) (pricedDocument, error) {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ItemID)
	}
	items, err := s.repo.GetItems(ctx, ids)
	if err != nil {
		return pricedDocument{}, err
	}

	stamped := make([]domain.TransactionLine, 0, len(lines))
	for _, line := range lines {
		item, ok := items[line.ItemID]
		if !ok {
			return pricedDocument{}, fmt.Errorf("%w: item %s", store.ErrNotFound, line.ItemID)
		}
		line.PackageSize = item.PackageSize
		stamped = append(stamped, line)
	}

	totals, err := s.bounds.PriceDocument(stamped, headerDiscount)
	if err != nil {
		return pricedDocument{}, err
	}
	return pricedDocument{Lines: totals.Lines, Subtotal: totals.Subtotal, Total: totals.Total}, nil
}

type pricedDocument struct {
	Lines    []domain.TransactionLine
	Subtotal int64
	Total    int64
}
