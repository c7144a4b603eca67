package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"stockledger/backend/internal/domain"
)

type recordReturnRequest struct {
	ItemID     string `json:"item_id" validate:"required"`
	SaleID     string `json:"sale_id"`
	PackageQty int64  `json:"package_qty" validate:"min=0"`
	UnitQty    int64  `json:"unit_qty" validate:"min=0"`
	Condition  string `json:"condition" validate:"required,oneof=GOOD DAMAGED EXPIRED"`
	Note       string `json:"note" validate:"max=500"`
	ReturnDate string `json:"return_date" validate:"omitempty,datetime=2006-01-02"`
}

type updateReturnRequest struct {
	PackageQty int64  `json:"package_qty" validate:"min=0"`
	UnitQty    int64  `json:"unit_qty" validate:"min=0"`
	Condition  string `json:"condition" validate:"required,oneof=GOOD DAMAGED EXPIRED"`
	Note       string `json:"note" validate:"max=500"`
}

func (a *API) handleRecordReturn(w http.ResponseWriter, r *http.Request) {
	var req recordReturnRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	returnDate, err := optionalDate(req.ReturnDate)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	ret, err := a.service.RecordReturn(r.Context(), domain.ReturnRequest{
		ItemID:     req.ItemID,
		SaleID:     req.SaleID,
		PackageQty: req.PackageQty,
		UnitQty:    req.UnitQty,
		Condition:  domain.ReturnCondition(req.Condition),
		Note:       req.Note,
		ReturnDate: returnDate,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"return": ret})
}

func (a *API) handleUpdateReturn(w http.ResponseWriter, r *http.Request) {
	var req updateReturnRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	ret, err := a.service.UpdateReturn(r.Context(), chi.URLParam(r, "id"), domain.ReturnUpdateRequest{
		PackageQty: req.PackageQty,
		UnitQty:    req.UnitQty,
		Condition:  domain.ReturnCondition(req.Condition),
		Note:       req.Note,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"return": ret})
}

func (a *API) handleGetReturn(w http.ResponseWriter, r *http.Request) {
	ret, err := a.service.GetReturn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"return": ret})
}

func (a *API) handleListReturns(w http.ResponseWriter, r *http.Request) {
	returns, err := a.service.ListReturns(r.Context(), strings.TrimSpace(r.URL.Query().Get("item_id")))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"returns": returns})
}
