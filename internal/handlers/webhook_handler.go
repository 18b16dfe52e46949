package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/vitrinai/backend/internal/catalog"
	"github.com/vitrinai/backend/internal/gumroad"
	"github.com/vitrinai/backend/internal/services"
)

const (
	maxWebhookBody   = 1 << 20
	processedKeyTTL  = 30 * 24 * time.Hour
	processedKeyPref = "webhook:processed:"
)

// WebhookHandler processes Gumroad purchase notifications. Postgres (via
// CreditService.ApplyPurchase) is the idempotency authority; Redis, when
// available, only short-circuits known duplicates before a database
// round-trip.
type WebhookHandler struct {
	credits *services.CreditService
	catalog *catalog.Catalog
	redis   *redis.Client
	secret  string
}

func NewWebhookHandler(credits *services.CreditService, cat *catalog.Catalog, rdb *redis.Client, secret string) *WebhookHandler {
	return &WebhookHandler{
		credits: credits,
		catalog: cat,
		redis:   rdb,
		secret:  secret,
	}
}

// HandleGumroad serves the webhook endpoint for every method: GET answers
// with a static description for diagnostics, POST processes the event, and
// everything else is rejected.
// @Summary Gumroad purchase webhook
// @Description Applies a Gumroad purchase to the buyer's credit balance exactly once
// @Tags webhooks
// @Accept json
// @Produce json
// @Param key query string true "Shared webhook secret"
// @Success 200 {object} map[string]any
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Failure 405 {object} services.ErrorResponse
// @Failure 500 {object} services.ErrorResponse
// @Router /webhooks/gumroad [post]
func (h *WebhookHandler) HandleGumroad(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "active",
			"message": "Gumroad webhook endpoint",
			"methods": []string{"POST"},
		})
		return
	case http.MethodPost:
		h.processEvent(w, r)
		return
	default:
		services.SendErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed, nil)
		return
	}
}

func (h *WebhookHandler) processEvent(w http.ResponseWriter, r *http.Request) {
	// Secret first, before any body content is touched.
	key := r.URL.Query().Get("key")
	if subtle.ConstantTimeCompare([]byte(key), []byte(h.secret)) != 1 {
		log.Printf("[WEBHOOK] Unauthorized attempt from %s", r.RemoteAddr)
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		body = nil // oversized or broken bodies parse as empty below
	}
	payload := gumroad.ParsePayload(r.Header.Get("Content-Type"), body)

	email := payload.Email()
	if email == "" {
		services.SendErrorResponse(w, "Email missing", http.StatusBadRequest, nil)
		return
	}

	slug := payload.ProductSlug()
	if slug == "" {
		services.SendErrorResponse(w, "Product permalink missing", http.StatusBadRequest, nil)
		return
	}

	product, known := h.catalog.Lookup(slug)
	if !known {
		// Events for products outside the catalog are acknowledged, not
		// rejected: a non-2xx would only trigger pointless provider retries.
		log.Printf("[WEBHOOK] Ignoring unknown product %q", slug)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "ignored"})
		return
	}

	eventKey := payload.EventKey(email, slug)
	ctx := r.Context()

	if h.isCachedDuplicate(ctx, eventKey) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "already_processed"})
		return
	}

	result, err := h.credits.ApplyPurchase(ctx, email, product, eventKey)
	if errors.Is(err, services.ErrAlreadyProcessed) {
		h.cacheProcessed(ctx, eventKey)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "already_processed"})
		return
	}
	if err != nil {
		log.Printf("[WEBHOOK] Failed to apply purchase for event %q: %v", eventKey, err)
		services.SendErrorResponse(w, "Failed to process webhook", http.StatusInternalServerError, nil)
		return
	}

	h.cacheProcessed(ctx, eventKey)
	log.Printf("[WEBHOOK] Applied %d credits to %s (plan %s, event %s)",
		result.CreditsApplied, email, result.Plan, eventKey)

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"email":   email,
		"credits": result.CreditsApplied,
		"plan":    result.Plan,
	})
}

func (h *WebhookHandler) isCachedDuplicate(ctx context.Context, eventKey string) bool {
	if h.redis == nil {
		return false
	}
	err := h.redis.Get(ctx, processedKeyPref+eventKey).Err()
	return err == nil
}

func (h *WebhookHandler) cacheProcessed(ctx context.Context, eventKey string) {
	if h.redis == nil {
		return
	}
	if err := h.redis.Set(ctx, processedKeyPref+eventKey, "1", processedKeyTTL).Err(); err != nil {
		log.Printf("[WEBHOOK] Failed to cache processed key %q: %v", eventKey, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
