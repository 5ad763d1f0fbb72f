package billing

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clubledger/clubledger/internal/platform/httpx"
	"github.com/clubledger/clubledger/internal/shared"
)

// Handler manages billing endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/invoices", h.listInvoices)
	r.Post("/invoices", h.createManualInvoice)
	r.Get("/invoices/{id}", h.getInvoice)
	r.Post("/invoices/{id}/charge", h.charge)
	r.Post("/invoices/{id}/send", h.requestSend)
	r.Post("/dues-runs", h.runDues)
	r.Post("/events/{eventID}/invoices", h.generateEventInvoices)
	r.Post("/registrations/{regID}/invoice", h.generateRegistrationInvoice)
	r.Post("/reminders/run", h.runReminders)
}

func (h *Handler) charge(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	invoiceID, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}

	var req ChargeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	// An Idempotency-Key header wins over the body field, matching common
	// client retry middleware.
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}

	result, err := h.service.Charge(r.Context(), principal, invoiceID, req)
	if err != nil {
		h.logger.Warn("charge failed", slog.Any("error", err), slog.Int64("invoice_id", invoiceID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) createManualInvoice(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	var req ManualInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}

	inv, err := h.service.CreateManualInvoice(r.Context(), principal, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	invoiceID, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}

	inv, err := h.service.GetInvoice(r.Context(), principal, invoiceID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoiceView(inv))
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	req := ListInvoicesRequest{
		Status: InvoiceStatus(r.URL.Query().Get("status")),
		Source: InvoiceSource(r.URL.Query().Get("source")),
	}
	if memberStr := r.URL.Query().Get("member_id"); memberStr != "" {
		req.MemberID, _ = strconv.ParseInt(memberStr, 10, 64)
	}

	invoices, err := h.service.ListInvoices(r.Context(), principal, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	// Pagination happens after the computed-status re-filter, so the page
	// window and the total always agree with what the caller sees.
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	pg := shared.NewPagination(page, perPage, len(invoices))
	start := (pg.Page - 1) * pg.PerPage
	if start > len(invoices) {
		start = len(invoices)
	}
	end := start + pg.PerPage
	if end > len(invoices) {
		end = len(invoices)
	}

	views := make([]map[string]any, 0, end-start)
	for i := start; i < end; i++ {
		views = append(views, invoiceView(&invoices[i]))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": views, "pagination": pg})
}

func (h *Handler) requestSend(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	invoiceID, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}

	if err := h.service.RequestSend(r.Context(), principal, invoiceID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) runDues(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	var req DuesRunRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}

	result, err := h.service.RunDuesGeneration(r.Context(), principal, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) generateEventInvoices(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	eventID, err := pathID(r, "eventID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid event id")
		return
	}

	result, err := h.service.GenerateEventInvoices(r.Context(), principal, eventID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) generateRegistrationInvoice(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	regID, err := pathID(r, "regID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid registration id")
		return
	}

	inv, created, err := h.service.GenerateRegistrationInvoice(r.Context(), principal, regID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, map[string]any{"invoice": inv, "created": created})
}

func (h *Handler) runReminders(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	result, err := h.service.RunReminders(r.Context(), principal)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

// invoiceView shapes an invoice for JSON, always carrying the computed
// status and balance rather than the stored cache.
func invoiceView(inv *InvoiceWithBalance) map[string]any {
	balance := inv.AmountCents - inv.AllocatedCents
	if balance < 0 {
		balance = 0
	}
	return map[string]any{
		"id":               inv.ID,
		"member_id":        inv.MemberID,
		"number":           inv.Number,
		"amount_cents":     inv.AmountCents,
		"currency":         inv.Currency,
		"source":           inv.Source,
		"status":           inv.Status,
		"reporting_status": ReportingStatusOf(inv.Status),
		"balance_cents":    balance,
		"description":      inv.Description,
		"issued_at":        inv.IssuedAt,
		"due_at":           inv.DueAt,
		"paid_at":          inv.PaidAt,
	}
}
