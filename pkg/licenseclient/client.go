/**
 * @description
 * This package provides a client for the license service admin API. It is
 * used by the licensectl operator tool.
 */
package licenseclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/skyvaultex/chrono-license-service/internal/domain"
)

// Client is a client for the admin API.
type Client struct {
	baseURL    string
	adminToken string
	httpClient *http.Client
}

// NewClient creates a new admin API client.
func NewClient(baseURL, adminToken string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		adminToken: strings.TrimSpace(adminToken),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// StatusError is a non-2xx response from the service.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("license service returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("license service returned status %d: %s", e.StatusCode, e.Message)
}

// ListResponse is one page of licenses.
type ListResponse struct {
	Licenses []domain.License `json:"licenses"`
	Count    int              `json:"count"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// DetailResponse is a license with its devices.
type DetailResponse struct {
	License     domain.License      `json:"license"`
	Activations []domain.Activation `json:"activations"`
}

// IssueRequest is the manual issuance payload.
type IssueRequest struct {
	LicenseKey     string     `json:"license_key,omitempty"`
	Tier           string     `json:"tier"`
	Email          string     `json:"email,omitempty"`
	MaxActivations int        `json:"max_activations,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

type issueResponse struct {
	Success bool           `json:"success"`
	License domain.License `json:"license"`
}

// RevokeResponse confirms a revocation.
type RevokeResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	LicenseKey string `json:"license_key"`
}

// ListLicenses searches by key or email when query is set.
func (c *Client) ListLicenses(ctx context.Context, query string, limit, offset int) (*ListResponse, error) {
	params := url.Values{}
	if query != "" {
		params.Set("q", query)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/admin/licenses"
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var out ListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetLicense fetches one license by id.
func (c *Client) GetLicense(ctx context.Context, id string) (*DetailResponse, error) {
	var out DetailResponse
	if err := c.do(ctx, http.MethodGet, "/api/admin/licenses/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IssueLicense creates a license by hand.
func (c *Client) IssueLicense(ctx context.Context, req IssueRequest) (*domain.License, error) {
	var out issueResponse
	if err := c.do(ctx, http.MethodPost, "/api/admin/licenses", req, &out); err != nil {
		return nil, err
	}
	return &out.License, nil
}

// RevokeLicense revokes a license by id.
func (c *Client) RevokeLicense(ctx context.Context, id string) (*RevokeResponse, error) {
	var out RevokeResponse
	if err := c.do(ctx, http.MethodPost, "/api/admin/licenses/"+url.PathEscape(id)+"/revoke", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	if c.baseURL == "" {
		return errors.New("license service base url is empty")
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("x-admin-token", c.adminToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request to license service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr)
		return &StatusError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
