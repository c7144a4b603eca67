package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/store"
)

type draftLine struct {
	ItemID     string `json:"item_id" validate:"required"`
	PackageQty int64  `json:"package_qty" validate:"min=0"`
	UnitQty    int64  `json:"unit_qty" validate:"min=0"`
	UnitPrice  int64  `json:"unit_price" validate:"min=0"`
	Discount   int64  `json:"discount" validate:"min=0"`
}

type createDraftRequest struct {
	Kind           string      `json:"kind" validate:"required,oneof=PURCHASE SALE"`
	CounterpartID  string      `json:"counterpart_id" validate:"required"`
	HeaderDiscount int64       `json:"header_discount" validate:"min=0"`
	Note           string      `json:"note" validate:"max=500"`
	Lines          []draftLine `json:"lines" validate:"required,min=1,dive"`
}

type completeRequest struct {
	AmountPaid int64  `json:"amount_paid" validate:"min=0"`
	DueDate    string `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
}

type managerPINRequest struct {
	ManagerPIN string `json:"manager_pin" validate:"required"`
	Reason     string `json:"reason" validate:"max=200"`
}

func (a *API) handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	var req createDraftRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	kind, _ := domain.ParseTransactionKind(req.Kind)

	lines := make([]domain.DraftLineRequest, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, domain.DraftLineRequest{
			ItemID:     line.ItemID,
			PackageQty: line.PackageQty,
			UnitQty:    line.UnitQty,
			UnitPrice:  line.UnitPrice,
			Discount:   line.Discount,
		})
	}

	draft, err := a.service.CreateDraft(r.Context(), domain.DraftRequest{
		Kind:           kind,
		CounterpartID:  req.CounterpartID,
		HeaderDiscount: req.HeaderDiscount,
		Note:           req.Note,
		Lines:          lines,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"transaction": draft})
}

func (a *API) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.TransactionFilter{
		CounterpartID: strings.TrimSpace(query.Get("counterpart_id")),
		Limit:         parsePositiveLimit(query.Get("limit"), 50, 200),
	}
	if raw := strings.TrimSpace(query.Get("kind")); raw != "" {
		kind, ok := domain.ParseTransactionKind(strings.ToUpper(raw))
		if !ok {
			a.fail(w, r, fmt.Errorf("%w: unknown kind %q", store.ErrInvalidInput, raw))
			return
		}
		filter.Kind = kind
	}
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status, ok := domain.ParseTransactionStatus(strings.ToUpper(raw))
		if !ok {
			a.fail(w, r, fmt.Errorf("%w: unknown status %q", store.ErrInvalidInput, raw))
			return
		}
		filter.Status = status
	}
	if raw := strings.TrimSpace(query.Get("include_deleted")); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			a.fail(w, r, fmt.Errorf("%w: include_deleted must be a boolean", store.ErrInvalidInput))
			return
		}
		filter.IncludeDeleted = include
	}

	transactions, err := a.service.ListTransactions(r.Context(), filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": transactions})
}

func (a *API) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := a.service.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": t})
}

func (a *API) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	dueDate, err := optionalDate(req.DueDate)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	result, err := a.service.Complete(r.Context(), chi.URLParam(r, "id"), domain.PaymentRequest{
		AmountPaid: req.AmountPaid,
		DueDate:    dueDate,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req managerPINRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if !a.checkManagerPIN(w, r, "cancel", req.ManagerPIN) {
		return
	}

	t, err := a.service.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": t})
}

func (a *API) handleSoftDelete(w http.ResponseWriter, r *http.Request) {
	var req managerPINRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if !a.checkManagerPIN(w, r, "soft-delete", req.ManagerPIN) {
		return
	}

	t, err := a.service.SoftDelete(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": t})
}
