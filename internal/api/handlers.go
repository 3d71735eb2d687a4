/**
 * @description
 * HTTP handlers for the client-facing license endpoints. Handlers decode and
 * validate the request, call the service layer and shape the JSON answer the
 * desktop app expects.
 */
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/skyvaultex/chrono-license-service/internal/app"
	"github.com/skyvaultex/chrono-license-service/internal/domain"
)

// Handler holds the application services that handlers will interact with.
type Handler struct {
	licenses *app.LicenseService
	webhooks *app.WebhookProcessor
	advisor  *app.AdvisorService
	logger   *slog.Logger
}

// NewHandler creates a new Handler. advisor may be nil when no completion
// provider is configured.
func NewHandler(licenses *app.LicenseService, webhooks *app.WebhookProcessor, advisor *app.AdvisorService, logger *slog.Logger) *Handler {
	return &Handler{licenses: licenses, webhooks: webhooks, advisor: advisor, logger: logger}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeRequest reads a JSON body into dst and runs its validate tags. On
// failure the 400 answer has already been written.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		respondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		respondWithError(w, r, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return "Invalid request body"
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", ")))
		case "email":
			msgs = append(msgs, fmt.Sprintf("%s must be a valid email address", fe.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

type activationCounts struct {
	Count int `json:"count"`
	Max   int `json:"max"`
}

type activateRequest struct {
	LicenseKey string  `json:"license_key" validate:"required"`
	DeviceID   string  `json:"device_id" validate:"required,max=255"`
	DeviceName *string `json:"device_name" validate:"omitempty,max=255"`
}

type activateResponse struct {
	Success    bool                 `json:"success"`
	Tier       domain.Tier          `json:"tier"`
	Limits     domain.FeatureLimits `json:"limits"`
	Activation activationCounts     `json:"activation"`
}

// handleActivate binds a device to a license.
func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	result, err := h.licenses.Activate(r.Context(), req.LicenseKey, req.DeviceID, req.DeviceName)
	if err != nil {
		var limitErr *domain.ActivationLimitError
		if errors.As(err, &limitErr) {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, map[string]interface{}{
				"error":      fmt.Sprintf("Maximum activations reached (%d). Deactivate another device first.", limitErr.Max),
				"activation": activationCounts{Count: limitErr.Count, Max: limitErr.Max},
			})
			return
		}
		h.respondWithServiceError(w, r, "activate", err)
		return
	}

	render.JSON(w, r, activateResponse{
		Success:    true,
		Tier:       result.License.Tier,
		Limits:     result.Limits,
		Activation: activationCounts{Count: result.Count, Max: result.Max},
	})
}

type deactivateRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	DeviceID   string `json:"device_id" validate:"required"`
}

// handleDeactivate frees a device slot.
func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	var req deactivateRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	status, err := h.licenses.Deactivate(r.Context(), req.LicenseKey, req.DeviceID)
	if err != nil {
		h.respondWithServiceError(w, r, "deactivate", err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"success":    true,
		"message":    "Device deactivated",
		"activation": activationCounts{Count: status.Count, Max: status.Max},
	})
}

type validateRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	DeviceID   string `json:"device_id"`
}

type validateResponse struct {
	Valid            bool                  `json:"valid"`
	Error            string                `json:"error,omitempty"`
	Tier             domain.Tier           `json:"tier,omitempty"`
	Status           domain.LicenseStatus  `json:"status,omitempty"`
	ExpiresAt        interface{}           `json:"expires_at,omitempty"`
	Limits           *domain.FeatureLimits `json:"limits,omitempty"`
	Activation       *app.ActivationStatus `json:"activation,omitempty"`
	EntitlementToken string                `json:"entitlement_token,omitempty"`
}

// handleValidate always answers 200 so clients can fall back to free mode on
// any negative result.
func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	result, err := h.licenses.Validate(r.Context(), req.LicenseKey, req.DeviceID)
	if errors.Is(err, domain.ErrLicenseNotFound) {
		render.JSON(w, r, validateResponse{Valid: false, Error: "License not found"})
		return
	}
	if err != nil {
		h.respondWithServiceError(w, r, "validate", err)
		return
	}

	if !result.Validity.Valid {
		render.JSON(w, r, validateResponse{
			Valid:  false,
			Error:  result.Validity.ReasonText(),
			Tier:   domain.TierFree,
			Limits: &result.Limits,
		})
		return
	}

	resp := validateResponse{
		Valid:            true,
		Tier:             result.License.Tier,
		Status:           result.License.Status,
		Limits:           &result.Limits,
		Activation:       result.Activation,
		EntitlementToken: result.EntitlementToken,
	}
	// expires_at is always present on a valid answer, null for lifetime.
	if result.License.ExpiresAt != nil {
		resp.ExpiresAt = result.License.ExpiresAt
	} else {
		resp.ExpiresAt = json.RawMessage("null")
	}
	render.JSON(w, r, resp)
}

// respondWithServiceError maps service errors onto status codes. Unexpected
// errors are logged and answered with a generic 500.
func (h *Handler) respondWithServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrLicenseNotFound):
		respondWithError(w, r, http.StatusNotFound, "License not found")
	case errors.Is(err, domain.ErrLicenseRevoked):
		respondWithError(w, r, http.StatusForbidden, "License has been revoked")
	case errors.Is(err, domain.ErrLicenseExpired):
		respondWithError(w, r, http.StatusForbidden, "License has expired")
	case errors.Is(err, domain.ErrDeviceNotActivated):
		respondWithError(w, r, http.StatusForbidden, "Device not activated for this license")
	case errors.Is(err, domain.ErrActivationLimitReached):
		respondWithError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrLicenseConflict):
		respondWithError(w, r, http.StatusConflict, "License already exists")
	case errors.Is(err, domain.ErrInvalidInput):
		respondWithError(w, r, http.StatusBadRequest, strings.TrimPrefix(err.Error(), domain.ErrInvalidInput.Error()+": "))
	case errors.Is(err, domain.ErrUnauthorized):
		respondWithError(w, r, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		respondWithError(w, r, http.StatusBadGateway, "Upstream service unavailable")
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		respondWithError(w, r, http.StatusInternalServerError, "Internal error")
	}
}
