package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/vitrinai/backend/internal/middleware"
	"github.com/vitrinai/backend/internal/services"
)

// AccountHandler serves the signed-in user's credit surface.
type AccountHandler struct {
	credits   *services.CreditService
	validator *services.ValidationHelper
}

func NewAccountHandler(credits *services.CreditService) *AccountHandler {
	return &AccountHandler{
		credits:   credits,
		validator: services.NewValidationHelper(),
	}
}

// GetCredits returns the usable balance for the authenticated user, creating
// the account with the trial grant on first sight.
// @Summary Get credit balance
// @Description Current usable credit balance for the signed-in user
// @Tags credits
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]any
// @Failure 401 {object} services.ErrorResponse
// @Router /credits [get]
func (h *AccountHandler) GetCredits(w http.ResponseWriter, r *http.Request) {
	email := middleware.UserEmail(r.Context())
	if email == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	if _, err := h.credits.EnsureAccount(r.Context(), email); err != nil {
		services.SendErrorResponse(w, "Failed to load account", http.StatusInternalServerError, nil)
		return
	}

	info, err := h.credits.Balance(r.Context(), email)
	if err != nil {
		services.SendErrorResponse(w, "Failed to load balance", http.StatusInternalServerError, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"account":        info.Account,
		"usable_credits": info.UsableCredits,
	})
}

// ConsumeCredits deducts credits for one generation job.
// @Summary Consume credits
// @Description Deduct credits for a generation job
// @Tags credits
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int64,ref=string} true "Consumption request"
// @Success 200 {object} map[string]any
// @Failure 400 {object} services.ErrorResponse
// @Failure 402 {object} services.ErrorResponse
// @Router /credits/consume [post]
func (h *AccountHandler) ConsumeCredits(w http.ResponseWriter, r *http.Request) {
	email := middleware.UserEmail(r.Context())
	if email == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount int64  `json:"amount" validate:"required,gt=0"`
		Ref    string `json:"ref" validate:"required,max=200"`
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

	account, err := h.credits.Spend(r.Context(), email, req.Amount, req.Ref)
	if errors.Is(err, services.ErrInsufficientCredits) {
		services.SendErrorResponse(w, "Insufficient credits", http.StatusPaymentRequired, nil)
		return
	}
	if errors.Is(err, services.ErrAccountNotFound) {
		services.SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		services.SendErrorResponse(w, "Failed to consume credits", http.StatusInternalServerError, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"account": account,
	})
}
