package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"stockledger/backend/internal/calendar"
	"stockledger/backend/internal/service"
	"stockledger/backend/internal/snapshot"
	"stockledger/backend/internal/store"
)

const maxBodyBytes = 1 << 20

type API struct {
	service       *service.Service
	materializer  *snapshot.Materializer
	reconstructor *snapshot.Reconstructor
	auth          *AuthManager
	allowedOrigin string
	pinLimiter    *attemptLimiter
	validate      *validator.Validate
	logger        logrus.FieldLogger
}

func New(svc *service.Service, materializer *snapshot.Materializer, reconstructor *snapshot.Reconstructor, auth *AuthManager, allowedOrigin string, logger logrus.FieldLogger) *API {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &API{
		service:       svc,
		materializer:  materializer,
		reconstructor: reconstructor,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		validate:      validator.New(),
		logger:        logger.WithField("module", "httpapi"),
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.withHeaders)
	r.Use(a.logRequests)

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/items", func(r chi.Router) {
			r.With(a.requireRole(RoleStaff, RoleAdmin)).Get("/", a.handleListItems)
			r.With(a.requireRole(RoleAdmin)).Post("/", a.handleCreateItem)
			r.Route("/{id}", func(r chi.Router) {
				r.Use(a.requireRole(RoleStaff, RoleAdmin))
				r.Get("/stock", a.handleCurrentStock)
				r.With(a.requireRole(RoleAdmin)).Post("/adjustments", a.handleAdjustStock)
				r.Get("/snapshots/{date}", a.handleDailySnapshot)
				r.Get("/movements/{date}", a.handleItemMovement)
			})
		})
		r.With(a.requireRole(RoleStaff, RoleAdmin)).Get("/movements/{date}", a.handleMovements)

		r.With(a.requireRole(RoleAdmin)).Post("/counterparts", a.handleCreateCounterpart)
		r.Route("/credit-accounts/{id}", func(r chi.Router) {
			r.With(a.requireRole(RoleStaff, RoleAdmin)).Get("/", a.handleCreditStatus)
			r.With(a.requireRole(RoleAdmin)).Post("/payments", a.handleRecordPayment)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Use(a.requireRole(RoleStaff, RoleAdmin))
			r.Post("/", a.handleCreateDraft)
			r.Get("/", a.handleListTransactions)
			r.Get("/{id}", a.handleGetTransaction)
			r.Post("/{id}/complete", a.handleComplete)
			r.With(a.requireRole(RoleAdmin)).Post("/{id}/cancel", a.handleCancel)
			r.With(a.requireRole(RoleAdmin)).Post("/{id}/soft-delete", a.handleSoftDelete)
		})

		r.Route("/returns", func(r chi.Router) {
			r.Use(a.requireRole(RoleStaff, RoleAdmin))
			r.Post("/", a.handleRecordReturn)
			r.Get("/", a.handleListReturns)
			r.Get("/{id}", a.handleGetReturn)
			r.With(a.requireRole(RoleAdmin)).Put("/{id}", a.handleUpdateReturn)
		})

		r.With(a.requireRole(RoleAdmin, RoleScheduler)).Post("/snapshots/materialize", a.handleMaterialize)
		r.With(a.requireRole(RoleAdmin)).Get("/audit-logs", a.handleAuditLogs)
	})

	return r
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	entityID := strings.TrimSpace(r.URL.Query().Get("entity_id"))
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), entityID, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(startedAt).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Info("request")
	})
}

// decodeJSON reads a strict JSON body into dest and runs its validate tags.
func (a *API) decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	return a.check(dest)
}

// decodeOptionalJSON is decodeJSON for endpoints where an empty body is
// meaningful.
func (a *API) decodeOptionalJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	return a.check(dest)
}

func (a *API) check(dest any) error {
	err := a.validate.Struct(dest)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		msgs := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", store.ErrInvalidInput, strings.Join(msgs, "; "))
	}
	return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
}

func pathDate(r *http.Request) (time.Time, error) {
	day, err := calendar.Parse(chi.URLParam(r, "date"))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	return day, nil
}

func optionalDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	day, err := calendar.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	return &day, nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// statusFor maps a service error onto an HTTP status and a stable code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrSnapshotMissing):
		return http.StatusNotFound, "SNAPSHOT_MISSING"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, store.ErrAmountOutOfRange):
		return http.StatusBadRequest, "AMOUNT_OUT_OF_RANGE"
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, store.ErrStockInsufficient):
		return http.StatusUnprocessableEntity, "STOCK_INSUFFICIENT"
	case errors.Is(err, store.ErrCreditLimitExceeded):
		return http.StatusUnprocessableEntity, "CREDIT_LIMIT_EXCEEDED"
	case errors.Is(err, store.ErrDailyLimitExceeded):
		return http.StatusUnprocessableEntity, "DAILY_LIMIT_EXCEEDED"
	case errors.Is(err, store.ErrInvalidStateTransition):
		return http.StatusConflict, "INVALID_STATE_TRANSITION"
	case errors.Is(err, store.ErrDayNotClosed):
		return http.StatusConflict, "DAY_NOT_CLOSED"
	case errors.Is(err, store.ErrMaterializeInProgress):
		return http.StatusConflict, "MATERIALIZE_IN_PROGRESS"
	}
	return http.StatusInternalServerError, "INTERNAL"
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= 500 {
		a.logger.WithFields(logrus.Fields{
			"path":       r.URL.Path,
			"request_id": middleware.GetReqID(r.Context()),
		}).WithError(err).Error("request failed")
	}
	writeError(w, status, code, err)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	// 5xx bodies stay generic; 4xx messages are meant for the caller.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
		"code":  code,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
