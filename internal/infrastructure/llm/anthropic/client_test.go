package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/ports"
)

type capturedMessagesRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	System    []struct {
		Text string `json:"text"`
	} `json:"system"`
	Messages []struct {
		Role string `json:"role"`
	} `json:"messages"`
}

func errorServer(t *testing.T, status int, body string, calls *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestCompleteSendsMessagesRequest(t *testing.T) {
	var captured capturedMessagesRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("x-api-key") != "secret" || r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing auth headers: %v", r.Header)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-haiku-20241022",` +
			`"content":[{"type":"text","text":"SMC "},{"type":"text","text":"MXJ6-10"}],` +
			`"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":4}}`))
	}))
	defer server.Close()

	provider := NewProvider(Config{APIKey: "secret", BaseURL: server.URL}, "claude-3-5-haiku-20241022", nil)
	answer, err := provider.Complete(context.Background(), ports.CompletionRequest{
		Prompt:       "which cylinder?",
		SystemPrompt: "you are a sales engineer",
		MaxTokens:    2000,
		Temperature:  0.1,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if answer != "SMC MXJ6-10" {
		t.Fatalf("unexpected answer %q", answer)
	}
	if captured.Model != "claude-3-5-haiku-20241022" || captured.MaxTokens != 2000 {
		t.Fatalf("unexpected request %+v", captured)
	}
	if len(captured.System) != 1 || captured.System[0].Text != "you are a sales engineer" {
		t.Fatalf("unexpected system prompt %+v", captured.System)
	}
	if len(captured.Messages) != 1 || captured.Messages[0].Role != "user" {
		t.Fatalf("unexpected messages %+v", captured.Messages)
	}
}

func TestCompleteClassifiesRateLimitAsQuota(t *testing.T) {
	var calls int32
	server := errorServer(t, http.StatusTooManyRequests,
		`{"type":"error","error":{"type":"rate_limit_error","message":"Number of request tokens has exceeded your per-minute rate limit"}}`, &calls)

	_, err := NewProvider(Config{BaseURL: server.URL}, "m", nil).Complete(context.Background(), ports.CompletionRequest{Prompt: "p"})
	if !errors.Is(err, domain.ErrProviderQuota) {
		t.Fatalf("expected ErrProviderQuota, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected a single call without client retries, got %d", got)
	}
}

func TestCompleteClassifiesOverloadedAsQuota(t *testing.T) {
	server := errorServer(t, 529, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`, nil)

	_, err := NewProvider(Config{BaseURL: server.URL}, "m", nil).Complete(context.Background(), ports.CompletionRequest{Prompt: "p"})
	if !errors.Is(err, domain.ErrProviderQuota) {
		t.Fatalf("expected ErrProviderQuota, got %v", err)
	}
}

func TestCompleteClassifiesUsageLimitMessageAsQuota(t *testing.T) {
	server := errorServer(t, http.StatusBadRequest,
		`{"type":"error","error":{"type":"invalid_request_error","message":"You have reached your specified API usage limits."}}`, nil)

	_, err := NewProvider(Config{BaseURL: server.URL}, "m", nil).Complete(context.Background(), ports.CompletionRequest{Prompt: "p"})
	if !errors.Is(err, domain.ErrProviderQuota) {
		t.Fatalf("expected ErrProviderQuota, got %v", err)
	}
}

func TestCompleteWrapsServerErrors(t *testing.T) {
	server := errorServer(t, http.StatusInternalServerError, `{"type":"error","error":{"type":"api_error","message":"internal failure"}}`, nil)

	_, err := NewProvider(Config{BaseURL: server.URL}, "m", nil).Complete(context.Background(), ports.CompletionRequest{Prompt: "p"})
	if !errors.Is(err, domain.ErrProvider) || errors.Is(err, domain.ErrProviderQuota) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
	if !strings.Contains(err.Error(), "internal failure") {
		t.Fatalf("expected body in error, got %v", err)
	}
}
