package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vnmchuo/labflow/internal/llmerr"
	"github.com/vnmchuo/labflow/internal/provider"
)

func testConfig(baseURL string) provider.Config {
	return provider.Config{
		Kind:          provider.KindOpenAI,
		APIKey:        "test-key",
		BaseURL:       baseURL,
		Model:         "gpt-4o-mini",
		Temperature:   0.2,
		MaxTokens:     256,
		Timeout:       2 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	}
}

func TestChat_Mock(t *testing.T) {
	var captured openAIRequest
	var authHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		authHeader = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)

		resp := openAIResponse{
			ID: "chatcmpl-123",
			Choices: []openAIChoice{
				{Message: openAIMessage{Role: "assistant", Content: "Hello from OpenAI mock!"}, FinishReason: "stop"},
			},
			Usage: &openAIUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
			Model: "gpt-4o-mini",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p, err := New(testConfig(server.URL))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	resp, err := p.Chat(context.Background(), []provider.Message{
		{Role: "system", Content: "You are a lab assistant."},
		{Role: "user", Content: "hi"},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if resp.Content != "Hello from OpenAI mock!" {
		t.Errorf("Expected 'Hello from OpenAI mock!', got %s", resp.Content)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 30 {
		t.Errorf("Expected 30 total tokens, got %+v", resp.Usage)
	}
	if resp.FinishReason != "stop" || !resp.NormalStop() {
		t.Errorf("Expected normal stop, got %q", resp.FinishReason)
	}
	if resp.Provider != provider.KindOpenAI {
		t.Errorf("Expected provider openai, got %s", resp.Provider)
	}
	if authHeader != "Bearer test-key" {
		t.Errorf("Expected bearer auth header, got %q", authHeader)
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Role != "system" {
		t.Errorf("Expected system message kept inline, got %+v", captured.Messages)
	}
	if captured.Model != "gpt-4o-mini" || captured.MaxTokens != 256 {
		t.Errorf("Unexpected request settings: %+v", captured)
	}
}

func TestNew_MissingKey(t *testing.T) {
	cfg := testConfig("")
	cfg.APIKey = "  "

	_, err := New(cfg)
	if err == nil {
		t.Fatal("Expected error for missing API key")
	}
	if llmerr.CodeOf(err) != llmerr.CodeMissingAPIKey {
		t.Errorf("Expected MISSING_API_KEY, got %s", llmerr.CodeOf(err))
	}
	if llmerr.IsRetryable(err) {
		t.Error("Missing key must not be retryable")
	}
}

func TestChat_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"requests","code":"rate_limit_exceeded"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(openAIResponse{
			Choices: []openAIChoice{{Message: openAIMessage{Content: "ok"}, FinishReason: "stop"}},
		})
	}))
	defer server.Close()

	p, _ := New(testConfig(server.URL))
	resp, err := p.Chat(context.Background(), []provider.Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("Expected 'ok', got %s", resp.Content)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 calls, got %d", calls.Load())
	}
}

func TestChat_AuthErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	defer server.Close()

	p, _ := New(testConfig(server.URL))
	_, err := p.Chat(context.Background(), []provider.Message{{Role: "user", Content: "hi"}})
	if err == nil {
		t.Fatal("Expected error")
	}
	e, ok := llmerr.As(err)
	if !ok {
		t.Fatalf("Expected *llmerr.Error, got %T", err)
	}
	if e.Code != "invalid_api_key" || e.Retryable || e.StatusCode != http.StatusUnauthorized {
		t.Errorf("Unexpected error: %+v", e)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 call, got %d", calls.Load())
	}
}

func TestChat_EmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(openAIResponse{Choices: []openAIChoice{}})
	}))
	defer server.Close()

	p, _ := New(testConfig(server.URL))
	_, err := p.Chat(context.Background(), []provider.Message{{Role: "user", Content: "hi"}})
	if llmerr.CodeOf(err) != llmerr.CodeEmptyResponse {
		t.Errorf("Expected EMPTY_RESPONSE, got %v", err)
	}
}

func TestChat_StatusDerivedCode(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("upstream unavailable"))
	}))
	defer server.Close()

	p, _ := New(testConfig(server.URL))
	_, err := p.Chat(context.Background(), []provider.Message{{Role: "user", Content: "hi"}})
	if llmerr.CodeOf(err) != "service_unavailable" {
		t.Errorf("Expected service_unavailable, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
}

func TestComplete(t *testing.T) {
	var captured openAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		_ = json.NewEncoder(w).Encode(openAIResponse{
			Choices: []openAIChoice{{Message: openAIMessage{Content: "done"}}},
		})
	}))
	defer server.Close()

	p, _ := New(testConfig(server.URL))
	text, err := p.Complete(context.Background(), "prompt", "system")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != "done" {
		t.Errorf("Expected 'done', got %s", text)
	}
	if len(captured.Messages) != 2 || captured.Messages[1].Content != "prompt" {
		t.Errorf("Unexpected messages: %+v", captured.Messages)
	}
}

func TestModelInfo(t *testing.T) {
	cfg := testConfig("")
	cfg.Model = ""
	p, _ := New(cfg)
	info := p.ModelInfo()
	if info.Model != DefaultModel {
		t.Errorf("Expected default model, got %s", info.Model)
	}
	if info.Endpoint != DefaultBaseURL {
		t.Errorf("Expected default endpoint, got %s", info.Endpoint)
	}
	if p.Kind() != provider.KindOpenAI {
		t.Errorf("Expected 'openai', got %s", p.Kind())
	}
}
