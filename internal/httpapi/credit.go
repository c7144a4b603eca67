package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"stockledger/backend/internal/domain"
)

type createCounterpartRequest struct {
	Kind        string `json:"kind" validate:"required,oneof=CUSTOMER SUPPLIER"`
	Name        string `json:"name" validate:"required,max=200"`
	CreditLimit int64  `json:"credit_limit" validate:"min=0"`
}

type paymentRequest struct {
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Note   string `json:"note" validate:"max=200"`
}

func (a *API) handleCreateCounterpart(w http.ResponseWriter, r *http.Request) {
	var req createCounterpartRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	kind, _ := domain.ParseCounterpartKind(req.Kind)

	created, err := a.service.CreateCounterpart(r.Context(), domain.CounterpartCreateRequest{
		Kind:        kind,
		Name:        req.Name,
		CreditLimit: req.CreditLimit,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleCreditStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.service.CreditStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	account, err := a.service.RecordPayment(r.Context(), chi.URLParam(r, "id"), domain.CreditPaymentRequest{
		Amount: req.Amount,
		Note:   req.Note,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account})
}
