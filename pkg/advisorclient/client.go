/**
 * @description
 * This package provides the chat completion client behind the productivity
 * advisor. It wraps the OpenAI SDK and exposes a single Complete call.
 */
package advisorclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

const (
	maxTokens   = 600
	temperature = 0.7
)

// ErrEmptyCompletion means the provider answered without any content.
var ErrEmptyCompletion = errors.New("advisor returned an empty completion")

// Client calls the chat completions API.
type Client struct {
	client openai.Client
	model  string
}

// NewClient creates a client for apiKey. baseURL is optional and mostly
// useful for tests and API-compatible gateways.
func NewClient(apiKey, model, baseURL string) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(60 * time.Second),
		option.WithMaxRetries(1),
	}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	return &Client{client: openai.NewClient(opts...), model: model}
}

// Complete sends one system and one user message and returns the reply text.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		MaxTokens:   openai.Int(maxTokens),
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("advisor api returned status %d: %w", apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("advisor request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}
