package gemini

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
		Kind:          provider.KindGemini,
		APIKey:        "test-key",
		BaseURL:       baseURL,
		Model:         "gemini-1.5-flash",
		Temperature:   0.7,
		MaxTokens:     512,
		Timeout:       2 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	}
}

func TestChat_Mock(t *testing.T) {
	var captured geminiRequest
	var path, apiKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		apiKey = r.Header.Get("x-goog-api-key")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)

		resp := geminiResponse{
			Candidates: []geminiCandidate{
				{
					Content: geminiContent{
						Role:  "model",
						Parts: []geminiPart{{Text: "Hello from Gemini mock!"}},
					},
					FinishReason: "STOP",
				},
			},
			UsageMetadata: &geminiUsageMetadata{
				PromptTokenCount:     5,
				CandidatesTokenCount: 15,
				TotalTokenCount:      20,
			},
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
		{Role: "system", Content: "Be precise."},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "again"},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if resp.Content != "Hello from Gemini mock!" {
		t.Errorf("Expected 'Hello from Gemini mock!', got %s", resp.Content)
	}
	if resp.Usage.PromptTokens != 5 || resp.Usage.CompletionTokens != 15 || resp.Usage.TotalTokens != 20 {
		t.Errorf("Unexpected usage: %+v", resp.Usage)
	}
	if !resp.NormalStop() {
		t.Errorf("Expected STOP to count as a normal stop")
	}
	if resp.Model != "gemini-1.5-flash" {
		t.Errorf("Expected configured model echo, got %s", resp.Model)
	}
	if path != "/v1beta/models/gemini-1.5-flash:generateContent" {
		t.Errorf("Unexpected path %s", path)
	}
	if apiKey != "test-key" {
		t.Errorf("Expected x-goog-api-key header, got %q", apiKey)
	}
	if captured.SystemInstruction == nil || captured.SystemInstruction.Parts[0].Text != "Be precise." {
		t.Errorf("Expected system instruction to be hoisted, got %+v", captured.SystemInstruction)
	}
	if len(captured.Contents) != 3 {
		t.Fatalf("Expected 3 contents, got %d", len(captured.Contents))
	}
	if captured.Contents[1].Role != "model" {
		t.Errorf("Expected assistant mapped to model, got %s", captured.Contents[1].Role)
	}
	if captured.GenerationConfig.MaxOutputTokens != 512 {
		t.Errorf("Expected maxOutputTokens 512, got %d", captured.GenerationConfig.MaxOutputTokens)
	}
}

func TestChat_ResourceExhaustedRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"Quota exceeded","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer server.Close()

	p, _ := New(testConfig(server.URL))
	_, err := p.Chat(context.Background(), []provider.Message{{Role: "user", Content: "hi"}})
	if llmerr.CodeOf(err) != "RESOURCE_EXHAUSTED" {
		t.Errorf("Expected RESOURCE_EXHAUSTED, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
}

func TestChat_InvalidArgumentNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"bad","status":"INVALID_ARGUMENT"}}`))
	}))
	defer server.Close()

	p, _ := New(testConfig(server.URL))
	_, err := p.Chat(context.Background(), []provider.Message{{Role: "user", Content: "hi"}})
	if llmerr.IsRetryable(err) {
		t.Errorf("Expected non-retryable error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 attempt, got %d", calls.Load())
	}
}

func TestChat_NoCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	p, _ := New(testConfig(server.URL))
	_, err := p.Chat(context.Background(), []provider.Message{{Role: "user", Content: "hi"}})
	if llmerr.CodeOf(err) != llmerr.CodeEmptyResponse {
		t.Errorf("Expected EMPTY_RESPONSE, got %v", err)
	}
}

func TestChat_Timeout(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Timeout = 20 * time.Millisecond
	cfg.RetryAttempts = 2
	p, _ := New(cfg)

	_, err := p.Chat(context.Background(), []provider.Message{{Role: "user", Content: "hi"}})
	if llmerr.CodeOf(err) != llmerr.CodeTimeout {
		t.Errorf("Expected TIMEOUT, got %v", err)
	}
}

func TestTestConnection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	p, _ := New(testConfig(server.URL))
	if p.TestConnection(context.Background()) {
		t.Error("Expected TestConnection to report false on 403")
	}
}
