package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/skyvaultex/chrono-license-service/internal/domain"
	"github.com/skyvaultex/chrono-license-service/internal/metrics"
	"github.com/skyvaultex/chrono-license-service/internal/ratelimit"
	"github.com/skyvaultex/chrono-license-service/internal/store"
)

// Completer produces a chat completion for a system and user prompt.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// AdvisorRequest is a productivity question from an activated device.
type AdvisorRequest struct {
	LicenseKey string
	DeviceID   string
	Question   string
	Context    map[string]any
}

// AdvisorReply is the advisor's answer and the device's remaining quota.
type AdvisorReply struct {
	Response  string
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// RateLimitError is returned when the daily advisor quota is spent.
type RateLimitError struct {
	Decision ratelimit.Decision
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("daily limit reached (%d requests). Resets at midnight.", e.Decision.Limit)
}

func (e *RateLimitError) Unwrap() error { return domain.ErrRateLimited }

const advisorSystemPrompt = `You are a productivity advisor inside Chrono, a time tracking app.
Answer using the user's tracked data when it is provided. Be specific, brief and practical.
Keep answers under 200 words and never invent numbers that are not in the data.`

// AdvisorService answers metered advisor questions for licensed devices.
type AdvisorService struct {
	repo      store.Repository
	limiter   *ratelimit.Limiter
	completer Completer
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewAdvisorService(repo store.Repository, limiter *ratelimit.Limiter, completer Completer, logger *slog.Logger) *AdvisorService {
	return &AdvisorService{
		repo:      repo,
		limiter:   limiter,
		completer: completer,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *AdvisorService) WithMetrics(m *metrics.Metrics) *AdvisorService {
	s.metrics = m
	return s
}

func (s *AdvisorService) WithClock(now func() time.Time) *AdvisorService {
	s.now = now
	return s
}

// Ask checks the license and device, spends one unit of the tier's daily
// quota and forwards the question to the completer.
func (s *AdvisorService) Ask(ctx context.Context, req AdvisorRequest) (*AdvisorReply, error) {
	ctx, span := tracer.Start(ctx, "AdvisorService.Ask")
	defer span.End()

	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("%w: question is required", domain.ErrInvalidInput)
	}

	licenseKey := NormaliseLicenseKey(req.LicenseKey)
	license, err := s.repo.FindLicenseByKey(ctx, licenseKey)
	if err != nil {
		return nil, err
	}
	if validity := CheckValidity(license, s.now()); !validity.Valid {
		s.metrics.AdvisorRequest(string(license.Tier), "invalid_license")
		return nil, validity.Reason
	}

	activations, err := s.repo.ListActivations(ctx, license.ID)
	if err != nil {
		return nil, err
	}
	if !deviceHoldsSlot(activations, req.DeviceID) {
		s.metrics.AdvisorRequest(string(license.Tier), "device_not_activated")
		return nil, domain.ErrDeviceNotActivated
	}

	quota := domain.LimitsFor(license.Tier).DailyAdvisorQuota
	decision, err := s.limiter.CheckAndConsume(ctx, ratelimit.Key(licenseKey, req.DeviceID), quota)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		s.metrics.AdvisorRequest(string(license.Tier), "rate_limited")
		return nil, &RateLimitError{Decision: decision}
	}

	userPrompt, err := buildAdvisorPrompt(req.Question, req.Context)
	if err != nil {
		return nil, err
	}
	answer, err := s.completer.Complete(ctx, advisorSystemPrompt, userPrompt)
	if err != nil {
		s.metrics.AdvisorRequest(string(license.Tier), "upstream_error")
		s.logger.Error("advisor completion failed", "license_id", license.ID, "error", err)
		if errors.Is(err, domain.ErrUpstreamUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}

	s.metrics.AdvisorRequest(string(license.Tier), "answered")
	return &AdvisorReply{
		Response:  answer,
		Remaining: decision.Remaining,
		Limit:     decision.Limit,
		ResetAt:   decision.ResetAt,
	}, nil
}

func deviceHoldsSlot(activations []domain.Activation, deviceID string) bool {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return false
	}
	for _, a := range activations {
		if a.DeviceID == deviceID {
			return true
		}
	}
	return false
}

func buildAdvisorPrompt(question string, data map[string]any) (string, error) {
	var b strings.Builder
	if len(data) > 0 {
		encoded, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", fmt.Errorf("%w: context is not serialisable: %v", domain.ErrInvalidInput, err)
		}
		b.WriteString("Tracked data:\n")
		b.Write(encoded)
		b.WriteString("\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(strings.TrimSpace(question))
	return b.String(), nil
}
