package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"stockledger/backend/internal/domain"
)

type createItemRequest struct {
	SKU                     string `json:"sku" validate:"required,max=64"`
	Name                    string `json:"name" validate:"required,max=200"`
	PackageSize             int64  `json:"package_size" validate:"required,min=1"`
	PackageLabel            string `json:"package_label" validate:"max=32"`
	InitialStockBaseUnits   int64  `json:"initial_stock_base_units" validate:"min=0"`
	DailySaleLimitBaseUnits int64  `json:"daily_sale_limit_base_units" validate:"min=0"`
}

type adjustStockRequest struct {
	DeltaBaseUnits int64  `json:"delta_base_units" validate:"required"`
	Reason         string `json:"reason" validate:"required,max=200"`
}

func (a *API) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.ListItems(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	item, err := a.service.CreateItem(r.Context(), domain.ItemCreateRequest{
		SKU:                     req.SKU,
		Name:                    req.Name,
		PackageSize:             req.PackageSize,
		PackageLabel:            req.PackageLabel,
		InitialStockBaseUnits:   req.InitialStockBaseUnits,
		DailySaleLimitBaseUnits: req.DailySaleLimitBaseUnits,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"item": item})
}

func (a *API) handleCurrentStock(w http.ResponseWriter, r *http.Request) {
	level, err := a.service.CurrentStock(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stock": level})
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustStockRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	level, err := a.service.AdjustStock(r.Context(), chi.URLParam(r, "id"), req.DeltaBaseUnits, req.Reason)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stock": level})
}
