package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/skyvaultex/chrono-license-service/internal/app"
	"github.com/skyvaultex/chrono-license-service/internal/domain"
)

const defaultAdminPageSize = 50

// handleListLicenses pages through licenses, or searches them when q (or
// query) is set.
func (h *Handler) handleListLicenses(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	query := params.Get("q")
	if query == "" {
		query = params.Get("query")
	}
	limit := queryInt(params.Get("limit"), defaultAdminPageSize)
	offset := queryInt(params.Get("offset"), 0)

	licenses, err := h.licenses.ListLicenses(r.Context(), query, limit, offset)
	if err != nil {
		h.respondWithServiceError(w, r, "list licenses", err)
		return
	}
	if licenses == nil {
		licenses = []domain.License{}
	}

	render.JSON(w, r, map[string]interface{}{
		"licenses": licenses,
		"count":    len(licenses),
		"limit":    limit,
		"offset":   offset,
	})
}

// handleGetLicense returns a license with its device activations.
func (h *Handler) handleGetLicense(w http.ResponseWriter, r *http.Request) {
	detail, err := h.licenses.GetLicense(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithServiceError(w, r, "get license", err)
		return
	}
	if detail.Activations == nil {
		detail.Activations = []domain.Activation{}
	}
	render.JSON(w, r, detail)
}

type issueLicenseRequest struct {
	LicenseKey     string     `json:"license_key" validate:"omitempty,max=64"`
	Tier           string     `json:"tier" validate:"required,oneof=free pro lifetime"`
	Email          string     `json:"email" validate:"omitempty,email"`
	MaxActivations int        `json:"max_activations" validate:"gte=0,lte=100"`
	ExpiresAt      *time.Time `json:"expires_at"`
}

// handleIssueLicense creates a license by hand, e.g. for support cases.
func (h *Handler) handleIssueLicense(w http.ResponseWriter, r *http.Request) {
	var req issueLicenseRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	input := app.IssueInput{
		LicenseKey:     req.LicenseKey,
		Tier:           domain.Tier(req.Tier),
		MaxActivations: req.MaxActivations,
		ExpiresAt:      req.ExpiresAt,
	}
	if email := strings.TrimSpace(req.Email); email != "" {
		input.Email = &email
	}

	license, err := h.licenses.Issue(r.Context(), input)
	if err != nil {
		h.respondWithServiceError(w, r, "issue license", err)
		return
	}
	h.logger.Info("license issued by admin", "license_id", license.ID, "tier", license.Tier)

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]interface{}{
		"success": true,
		"license": license,
	})
}

// handleRevokeLicense revokes a license and frees all of its devices.
func (h *Handler) handleRevokeLicense(w http.ResponseWriter, r *http.Request) {
	license, err := h.licenses.Revoke(r.Context(), chi.URLParam(r, "id"), domain.ReasonAdmin, domain.Purchaser{})
	if err != nil {
		h.respondWithServiceError(w, r, "revoke license", err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"success":     true,
		"message":     "License revoked",
		"license_key": license.LicenseKey,
	})
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
