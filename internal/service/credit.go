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

func (s *Service) CreateCounterpart(ctx context.Context, req domain.CounterpartCreateRequest) (domain.CounterpartResponse, error) {
	kind, ok := domain.ParseCounterpartKind(strings.ToUpper(strings.TrimSpace(string(req.Kind))))
	if !ok {
		return domain.CounterpartResponse{}, fmt.Errorf("%w: kind must be CUSTOMER or SUPPLIER", store.ErrInvalidInput)
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.CounterpartResponse{}, fmt.Errorf("%w: name is required", store.ErrInvalidInput)
	}
	if err := s.bounds.Check("credit_limit", req.CreditLimit); err != nil {
		return domain.CounterpartResponse{}, err
	}

	prefix := "cust"
	if kind == domain.CounterpartSupplier {
		prefix = "supp"
	}
	now := s.now()
	counterpart := domain.Counterpart{
		ID:        xid.New(prefix),
		Kind:      kind,
		Name:      req.Name,
		CreatedAt: now,
	}
	account := domain.CreditAccount{
		ID:        counterpart.ID,
		Kind:      kind.AccountKind(),
		Limit:     req.CreditLimit,
		UpdatedAt: now,
	}

	created, err := s.repo.CreateCounterpart(ctx, counterpart, account)
	if err != nil {
		return domain.CounterpartResponse{}, err
	}

	s.logAudit(ctx, "counterpart_create", "counterpart", counterpart.ID, fmt.Sprintf("kind=%s,limit=%d", kind, req.CreditLimit))
	return *created, nil
}

func (s *Service) CurrentBalance(ctx context.Context, accountID string) (int64, error) {
	account, err := s.repo.GetCreditAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

func (s *Service) Limit(ctx context.Context, accountID string) (int64, error) {
	account, err := s.repo.GetCreditAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return account.Limit, nil
}

// CreditStatus summarises an account and classifies each open on-credit
// document by how close its due date is.
func (s *Service) CreditStatus(ctx context.Context, accountID string) (domain.CreditStatus, error) {
	account, err := s.repo.GetCreditAccount(ctx, accountID)
	if err != nil {
		return domain.CreditStatus{}, err
	}
	open, err := s.repo.ListOpenCredit(ctx, accountID)
	if err != nil {
		return domain.CreditStatus{}, err
	}

	today := s.cal.Today()
	docs := make([]domain.OpenCreditDocument, 0, len(open))
	for _, tx := range open {
		doc := domain.OpenCreditDocument{
			TransactionID: tx.ID,
			Kind:          tx.Kind,
			Total:         tx.Total,
			AmountPaid:    tx.AmountPaid,
			Outstanding:   tx.Total - tx.AmountPaid,
		}
		if tx.DueDate != nil {
			doc.DueDate = *tx.DueDate
			doc.DaysUntilDue, doc.Risk = ledger.ClassifyDueDate(*tx.DueDate, today)
		} else {
			doc.Risk = domain.RiskSafe
		}
		docs = append(docs, doc)
	}
	ledger.SortByRisk(docs)

	return domain.CreditStatus{
		AccountID:          account.ID,
		Kind:               account.Kind,
		Balance:            account.Balance,
		Limit:              account.Limit,
		Available:          ledger.Available(account.Balance, account.Limit),
		UtilizationPercent: ledger.Utilization(account.Balance, account.Limit),
		OverLimit:          account.Limit > 0 && account.Balance > account.Limit,
		OpenDocuments:      docs,
	}, nil
}

// RecordPayment settles part of an outstanding balance.
func (s *Service) RecordPayment(ctx context.Context, accountID string, req domain.CreditPaymentRequest) (domain.CreditAccount, error) {
	if req.Amount <= 0 {
		return domain.CreditAccount{}, fmt.Errorf("%w: amount must be positive", store.ErrInvalidInput)
	}
	if err := s.bounds.Check("amount", req.Amount); err != nil {
		return domain.CreditAccount{}, err
	}
	account, err := s.repo.GetCreditAccount(ctx, accountID)
	if err != nil {
		return domain.CreditAccount{}, err
	}
	if req.Amount > account.Balance {
		return domain.CreditAccount{}, fmt.Errorf("%w: payment %d exceeds balance %d", store.ErrInvalidInput, req.Amount, account.Balance)
	}

	updated, err := s.repo.AdjustBalance(ctx, accountID, -req.Amount, s.now())
	if err != nil {
		return domain.CreditAccount{}, err
	}

	s.logAudit(ctx, "credit_payment", "credit_account", accountID, fmt.Sprintf("amount=%d,balance=%d,note=%s", req.Amount, updated.Balance, strings.TrimSpace(req.Note)))
	return *updated, nil
}
