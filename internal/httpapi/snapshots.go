package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"stockledger/backend/internal/calendar"
	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/store"
)

// materializeRequest selects one day, a backfill range, or (empty) the
// daily run.
type materializeRequest struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	From string `json:"from" validate:"omitempty,datetime=2006-01-02"`
	To   string `json:"to" validate:"omitempty,datetime=2006-01-02"`
}

func (a *API) handleDailySnapshot(w http.ResponseWriter, r *http.Request) {
	date, err := pathDate(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	snap, err := a.reconstructor.DailySnapshot(r.Context(), chi.URLParam(r, "id"), date)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshot": snap})
}

func (a *API) handleItemMovement(w http.ResponseWriter, r *http.Request) {
	date, err := pathDate(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	movement, err := a.reconstructor.MovementOnDate(r.Context(), chi.URLParam(r, "id"), date)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movement": movement})
}

func (a *API) handleMovements(w http.ResponseWriter, r *http.Request) {
	date, err := pathDate(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	movements, err := a.reconstructor.MovementsOnDate(r.Context(), date)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":      calendar.Format(date),
		"movements": movements,
	})
}

func (a *API) handleMaterialize(w http.ResponseWriter, r *http.Request) {
	var req materializeRequest
	if err := a.decodeOptionalJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	var (
		result *domain.MaterializeResult
		err    error
	)
	switch {
	case req.Date != "" && (req.From != "" || req.To != ""):
		err = fmt.Errorf("%w: give either date or from/to", store.ErrInvalidInput)
	case req.Date != "":
		day, _ := calendar.Parse(req.Date)
		result, err = a.materializer.Materialize(r.Context(), day)
	case req.From != "" && req.To != "":
		from, _ := calendar.Parse(req.From)
		to, _ := calendar.Parse(req.To)
		result, err = a.materializer.MaterializeRange(r.Context(), from, to)
	case req.From != "" || req.To != "":
		err = fmt.Errorf("%w: from and to go together", store.ErrInvalidInput)
	default:
		result, err = a.materializer.RunDaily(r.Context())
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}
