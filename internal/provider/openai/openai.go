package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vnmchuo/labflow/internal/provider"
	"github.com/vnmchuo/labflow/internal/resilience"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
)

var retryableCodes = map[string]bool{
	"rate_limit_exceeded": true,
	"server_error":        true,
	"service_unavailable": true,
	"timeout":             true,
}

type OpenAIClient struct {
	cfg        provider.Config
	baseURL    string
	httpClient *http.Client
	policy     resilience.Policy
}

type Option func(*OpenAIClient)

func WithHTTPClient(c *http.Client) Option {
	return func(p *OpenAIClient) { p.httpClient = c }
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Choices []openAIChoice `json:"choices"`
	Usage   *openAIUsage   `json:"usage,omitempty"`
	Model   string         `json:"model"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func New(cfg provider.Config, opts ...Option) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, provider.MissingKey(provider.KindOpenAI)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	p := &OpenAIClient{
		cfg:        cfg,
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		policy: resilience.Policy{
			Attempts: cfg.RetryAttempts,
			Delay:    cfg.RetryDelay,
			Timeout:  cfg.Timeout,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *OpenAIClient) Chat(ctx context.Context, messages []provider.Message) (*provider.Response, error) {
	start := time.Now()
	resp, err := resilience.Do(ctx, p.policy, func(ctx context.Context) (*provider.Response, error) {
		return p.send(ctx, messages)
	})
	if err != nil {
		return nil, err
	}
	resp.Duration = time.Since(start)
	return resp, nil
}

func (p *OpenAIClient) send(ctx context.Context, messages []provider.Message) (*provider.Response, error) {
	url := fmt.Sprintf("%s/chat/completions", p.baseURL)
	headers := map[string]string{
		"Authorization": fmt.Sprintf("Bearer %s", p.cfg.APIKey),
	}

	status, body, err := provider.PostJSON(ctx, p.httpClient, url, headers, p.mapRequest(messages))
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, p.apiError(status, body)
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(body, &openAIResp); err != nil {
		return nil, provider.InvalidResponse(provider.KindOpenAI, body, err)
	}
	if len(openAIResp.Choices) == 0 || strings.TrimSpace(openAIResp.Choices[0].Message.Content) == "" {
		return nil, provider.EmptyResponse(provider.KindOpenAI)
	}

	out := &provider.Response{
		Content:      openAIResp.Choices[0].Message.Content,
		Model:        openAIResp.Model,
		FinishReason: openAIResp.Choices[0].FinishReason,
		Provider:     provider.KindOpenAI,
	}
	if u := openAIResp.Usage; u != nil {
		out.Usage = &provider.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

func (p *OpenAIClient) mapRequest(messages []provider.Message) openAIRequest {
	mapped := make([]openAIMessage, len(messages))
	for i, m := range messages {
		mapped[i] = openAIMessage{Role: m.Role, Content: m.Content}
	}
	return openAIRequest{
		Model:       p.cfg.Model,
		Messages:    mapped,
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
	}
}

func (p *OpenAIClient) apiError(status int, body []byte) error {
	var env openAIErrorEnvelope
	_ = json.Unmarshal(body, &env)

	code := ""
	if s, ok := env.Error.Code.(string); ok {
		code = s
	}
	if code == "" {
		code = env.Error.Type
	}
	if code == "" {
		code = codeForStatus(status)
	}
	return provider.APIError(provider.KindOpenAI, status, code, env.Error.Message, body, retryableCodes)
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusTooManyRequests:
		return "rate_limit_exceeded"
	case http.StatusInternalServerError:
		return "server_error"
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return "service_unavailable"
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return "timeout"
	case http.StatusUnauthorized:
		return "invalid_api_key"
	case http.StatusBadRequest:
		return "invalid_request_error"
	default:
		return fmt.Sprintf("http_%d", status)
	}
}

func (p *OpenAIClient) Complete(ctx context.Context, prompt, systemPrompt string) (string, error) {
	return provider.Complete(ctx, p.Chat, prompt, systemPrompt)
}

func (p *OpenAIClient) TestConnection(ctx context.Context) bool {
	return provider.Probe(ctx, p.Chat)
}

func (p *OpenAIClient) ModelInfo() provider.ModelInfo {
	return provider.ModelInfo{
		Provider:    provider.KindOpenAI,
		Model:       p.cfg.Model,
		Endpoint:    p.baseURL,
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	}
}

func (p *OpenAIClient) Kind() provider.Kind {
	return provider.KindOpenAI
}
