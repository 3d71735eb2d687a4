package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/skyvaultex/chrono-license-service/internal/app"
	"github.com/skyvaultex/chrono-license-service/internal/domain"
)

type advisorChatRequest struct {
	LicenseKey string                 `json:"license_key" validate:"required"`
	DeviceID   string                 `json:"device_id" validate:"required"`
	Question   string                 `json:"question" validate:"required,max=2000"`
	Context    map[string]interface{} `json:"context"`
}

type advisorUsage struct {
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
}

// handleAdvisorChat answers a productivity question within the device's
// daily quota.
func (h *Handler) handleAdvisorChat(w http.ResponseWriter, r *http.Request) {
	if h.advisor == nil {
		respondWithError(w, r, http.StatusServiceUnavailable, "AI advisor is not configured")
		return
	}

	var req advisorChatRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	reply, err := h.advisor.Ask(r.Context(), app.AdvisorRequest{
		LicenseKey: req.LicenseKey,
		DeviceID:   req.DeviceID,
		Question:   req.Question,
		Context:    req.Context,
	})
	if err != nil {
		var limitErr *app.RateLimitError
		switch {
		case errors.As(err, &limitErr):
			render.Status(r, http.StatusTooManyRequests)
			render.JSON(w, r, map[string]interface{}{
				"error":     fmt.Sprintf("Daily limit reached (%d queries/day). Resets at midnight.", limitErr.Decision.Limit),
				"remaining": limitErr.Decision.Remaining,
				"reset_at":  limitErr.Decision.ResetAt,
			})
		case errors.Is(err, domain.ErrLicenseNotFound),
			errors.Is(err, domain.ErrLicenseRevoked),
			errors.Is(err, domain.ErrLicenseExpired):
			respondWithError(w, r, http.StatusForbidden, "Invalid or expired license")
		case errors.Is(err, domain.ErrUpstreamUnavailable):
			respondWithError(w, r, http.StatusBadGateway, "AI service error")
		default:
			h.respondWithServiceError(w, r, "advisor", err)
		}
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"response": reply.Response,
		"usage": advisorUsage{
			Remaining: reply.Remaining,
			Limit:     reply.Limit,
			ResetAt:   reply.ResetAt,
		},
	})
}
