package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/vitrinai/backend/internal/services"
)

// AdminHandler serves the back-office surface: manual credit corrections and
// read-only reports over the processed-webhook and ledger tables.
type AdminHandler struct {
	credits   *services.CreditService
	validator *services.ValidationHelper
}

func NewAdminHandler(credits *services.CreditService) *AdminHandler {
	return &AdminHandler{
		credits:   credits,
		validator: services.NewValidationHelper(),
	}
}

// AdjustCredits applies a signed manual correction to a user's balance.
// @Summary Adjust user credits
// @Description Apply a manual credit correction (positive or negative)
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{email=string,delta=int64,note=string} true "Adjustment"
// @Success 200 {object} map[string]any
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /admin/credits/adjust [post]
func (h *AdminHandler) AdjustCredits(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email" validate:"required,email"`
		Delta int64  `json:"delta" validate:"required"`
		Note  string `json:"note" validate:"max=200"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	account, err := h.credits.AdminAdjust(r.Context(), req.Email, req.Delta, req.Note)
	if err != nil {
		services.SendErrorResponse(w, "Failed to adjust credits", http.StatusInternalServerError, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"account": account,
	})
}

// ListWebhooks lists recently processed webhook events.
// @Summary List processed webhooks
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Max rows (default 50)"
// @Success 200 {object} map[string]any
// @Router /admin/webhooks [get]
func (h *AdminHandler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := h.credits.RecentEvents(r.Context(), limit)
	if err != nil {
		services.SendErrorResponse(w, "Failed to load webhook events", http.StatusInternalServerError, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"events":  events,
	})
}

// ListLedger lists credit ledger entries, optionally filtered by email.
// @Summary List ledger entries
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param email query string false "Filter by account email"
// @Param limit query int false "Max rows (default 50)"
// @Success 200 {object} map[string]any
// @Router /admin/ledger [get]
func (h *AdminHandler) ListLedger(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.credits.LedgerEntries(r.Context(), email, limit)
	if err != nil {
		services.SendErrorResponse(w, "Failed to load ledger", http.StatusInternalServerError, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"entries": entries,
	})
}
