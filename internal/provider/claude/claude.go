package claude

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
	DefaultBaseURL = "https://api.anthropic.com/v1"
	DefaultModel   = "claude-3-5-sonnet-20241022"
	APIVersion     = "2023-06-01"

	defaultMaxTokens = 4096
)

var retryableCodes = map[string]bool{
	"rate_limit_error": true,
	"api_error":        true,
	"overloaded_error": true,
	"timeout_error":    true,
}

type ClaudeClient struct {
	cfg        provider.Config
	baseURL    string
	httpClient *http.Client
	policy     resilience.Policy
}

type Option func(*ClaudeClient)

func WithHTTPClient(c *http.Client) Option {
	return func(p *ClaudeClient) { p.httpClient = c }
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	ID         string          `json:"id"`
	Content    []claudeContent `json:"content"`
	Model      string          `json:"model"`
	StopReason string          `json:"stop_reason"`
	Usage      *claudeUsage    `json:"usage,omitempty"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeErrorEnvelope struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func New(cfg provider.Config, opts ...Option) (*ClaudeClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, provider.MissingKey(provider.KindClaude)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	p := &ClaudeClient{
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

func (p *ClaudeClient) Chat(ctx context.Context, messages []provider.Message) (*provider.Response, error) {
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

func (p *ClaudeClient) send(ctx context.Context, messages []provider.Message) (*provider.Response, error) {
	url := fmt.Sprintf("%s/messages", p.baseURL)
	headers := map[string]string{
		"x-api-key":         p.cfg.APIKey,
		"anthropic-version": APIVersion,
	}

	status, body, err := provider.PostJSON(ctx, p.httpClient, url, headers, p.mapRequest(messages))
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, p.apiError(status, body)
	}

	var claudeResp claudeResponse
	if err := json.Unmarshal(body, &claudeResp); err != nil {
		return nil, provider.InvalidResponse(provider.KindClaude, body, err)
	}

	var text strings.Builder
	for _, block := range claudeResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, provider.EmptyResponse(provider.KindClaude)
	}

	out := &provider.Response{
		Content:      text.String(),
		Model:        claudeResp.Model,
		FinishReason: claudeResp.StopReason,
		Provider:     provider.KindClaude,
	}
	if u := claudeResp.Usage; u != nil {
		out.Usage = &provider.Usage{
			PromptTokens:     u.InputTokens,
			CompletionTokens: u.OutputTokens,
			TotalTokens:      u.InputTokens + u.OutputTokens,
		}
	}
	return out, nil
}

func (p *ClaudeClient) mapRequest(messages []provider.Message) claudeRequest {
	system, rest := provider.SplitSystem(messages)

	mapped := make([]claudeMessage, 0, len(rest))
	for _, m := range rest {
		role := provider.RoleUser
		if m.Role == provider.RoleAssistant {
			role = provider.RoleAssistant
		}
		mapped = append(mapped, claudeMessage{Role: role, Content: m.Content})
	}

	maxTokens := p.cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	return claudeRequest{
		Model:       p.cfg.Model,
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    mapped,
		Temperature: p.cfg.Temperature,
	}
}

func (p *ClaudeClient) apiError(status int, body []byte) error {
	var env claudeErrorEnvelope
	_ = json.Unmarshal(body, &env)

	code := env.Error.Type
	if code == "" {
		code = codeForStatus(status)
	}
	return provider.APIError(provider.KindClaude, status, code, env.Error.Message, body, retryableCodes)
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	case http.StatusInternalServerError:
		return "api_error"
	case 529, http.StatusServiceUnavailable, http.StatusBadGateway:
		return "overloaded_error"
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return "timeout_error"
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusForbidden:
		return "permission_error"
	case http.StatusBadRequest:
		return "invalid_request_error"
	default:
		return fmt.Sprintf("http_%d", status)
	}
}

func (p *ClaudeClient) Complete(ctx context.Context, prompt, systemPrompt string) (string, error) {
	return provider.Complete(ctx, p.Chat, prompt, systemPrompt)
}

func (p *ClaudeClient) TestConnection(ctx context.Context) bool {
	return provider.Probe(ctx, p.Chat)
}

func (p *ClaudeClient) ModelInfo() provider.ModelInfo {
	return provider.ModelInfo{
		Provider:    provider.KindClaude,
		Model:       p.cfg.Model,
		Endpoint:    p.baseURL,
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	}
}

func (p *ClaudeClient) Kind() provider.Kind {
	return provider.KindClaude
}
