package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/render"

	"github.com/skyvaultex/chrono-license-service/internal/app"
	"github.com/skyvaultex/chrono-license-service/internal/domain"
)

const maxWebhookBodyBytes = 1 << 20

// handleWebhook receives payment provider deliveries. The raw body is kept
// intact because the signature covers the exact bytes sent.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		respondWithError(w, r, http.StatusBadRequest, "Unable to read request body")
		return
	}

	result, err := h.webhooks.Process(r.Context(), body, r.Header.Get("x-signature"))
	switch {
	case err == nil:
	case errors.Is(err, app.ErrWebhookNotConfigured):
		h.logger.Error("webhook signing secret not configured")
		respondWithError(w, r, http.StatusInternalServerError, "Server configuration error")
		return
	case errors.Is(err, domain.ErrInvalidSignature):
		h.logger.Warn("webhook rejected: invalid signature", "remote_addr", r.RemoteAddr)
		respondWithError(w, r, http.StatusUnauthorized, "Invalid signature")
		return
	case errors.Is(err, domain.ErrInvalidInput):
		h.logger.Warn("webhook rejected: malformed payload", "error", err)
		respondWithError(w, r, http.StatusBadRequest, "Invalid JSON payload")
		return
	default:
		h.logger.Error("webhook processing failed", "event_id", result.EventID, "error", err)
		respondWithError(w, r, http.StatusInternalServerError, "Internal error")
		return
	}

	message := "Webhook processed"
	if result.Duplicate {
		message = "Already processed"
	}
	render.JSON(w, r, map[string]string{"message": message})
}
