package advisorclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func completionServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestCompleteReturnsFirstChoice(t *testing.T) {
	var seen map[string]any
	server := completionServer(t, http.StatusOK, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 1700000000,
		"model": "gpt-4o-mini",
		"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "  Take a break.  "}}]
	}`, &seen)

	client := NewClient("sk-test", "", server.URL+"/")
	answer, err := client.Complete(context.Background(), "system", "question")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if answer != "Take a break." {
		t.Fatalf("unexpected answer %q", answer)
	}
	if seen["model"] != DefaultModel {
		t.Fatalf("expected default model, got %v", seen["model"])
	}
	messages, _ := seen["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected system and user messages, got %v", seen["messages"])
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	server := completionServer(t, http.StatusOK, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`, nil)

	_, err := NewClient("sk-test", "m", server.URL+"/").Complete(context.Background(), "s", "u")
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}

func TestCompleteAPIError(t *testing.T) {
	server := completionServer(t, http.StatusBadRequest, `{"error":{"message":"bad model","type":"invalid_request_error"}}`, nil)

	_, err := NewClient("sk-test", "nope", server.URL+"/").Complete(context.Background(), "s", "u")
	if err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Fatalf("expected status 400 error, got %v", err)
	}
}
