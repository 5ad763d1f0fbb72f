package reporting

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clubledger/clubledger/internal/platform/httpx"
	"github.com/clubledger/clubledger/internal/shared"
)

// Handler manages reporting endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers reporting routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/revenue", h.revenue)
	r.Get("/period", h.resolvePeriod)
}

func (h *Handler) revenue(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	req, err := periodRequestFromQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	report, err := h.service.Revenue(r.Context(), principal, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) resolvePeriod(w http.ResponseWriter, r *http.Request) {
	req, err := periodRequestFromQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	period, err := h.service.ResolvePeriodForTenant(req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func periodRequestFromQuery(r *http.Request) (PeriodRequest, error) {
	req := PeriodRequest{Preset: PeriodPreset(r.URL.Query().Get("preset"))}
	if req.Preset == "" {
		req.Preset = PresetYearToDate
	}

	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return req, shared.NewValidationError("invalid from timestamp", map[string]string{"from": "must be RFC3339"})
		}
		req.From = &from
	}
	if toStr := r.URL.Query().Get("to"); toStr != "" {
		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return req, shared.NewValidationError("invalid to timestamp", map[string]string{"to": "must be RFC3339"})
		}
		req.To = &to
	}

	// Explicit bounds imply a custom window. Without this, a caller passing
	// from/to but no preset would silently get year-to-date instead of a
	// both-bounds-required validation error.
	if r.URL.Query().Get("preset") == "" && (req.From != nil || req.To != nil) {
		req.Preset = PresetCustom
	}
	return req, nil
}
