package gemini

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
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-1.5-flash"
)

var retryableCodes = map[string]bool{
	"RESOURCE_EXHAUSTED": true,
	"INTERNAL":           true,
	"UNAVAILABLE":        true,
	"DEADLINE_EXCEEDED":  true,
}

type GeminiClient struct {
	cfg        provider.Config
	baseURL    string
	httpClient *http.Client
	policy     resilience.Policy
}

type Option func(*GeminiClient)

func WithHTTPClient(c *http.Client) Option {
	return func(p *GeminiClient) { p.httpClient = c }
}

type geminiRequest struct {
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	Contents          []geminiContent  `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string               `json:"modelVersion,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiErrorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func New(cfg provider.Config, opts ...Option) (*GeminiClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, provider.MissingKey(provider.KindGemini)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	p := &GeminiClient{
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

func (p *GeminiClient) Chat(ctx context.Context, messages []provider.Message) (*provider.Response, error) {
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

func (p *GeminiClient) send(ctx context.Context, messages []provider.Message) (*provider.Response, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", p.baseURL, p.cfg.Model)
	headers := map[string]string{
		"x-goog-api-key": p.cfg.APIKey,
	}

	status, body, err := provider.PostJSON(ctx, p.httpClient, url, headers, p.mapRequest(messages))
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, p.apiError(status, body)
	}

	var geminiResp geminiResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return nil, provider.InvalidResponse(provider.KindGemini, body, err)
	}
	if len(geminiResp.Candidates) == 0 {
		return nil, provider.EmptyResponse(provider.KindGemini)
	}

	candidate := geminiResp.Candidates[0]
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		text.WriteString(part.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, provider.EmptyResponse(provider.KindGemini)
	}

	model := geminiResp.ModelVersion
	if model == "" {
		model = p.cfg.Model
	}
	out := &provider.Response{
		Content:      text.String(),
		Model:        model,
		FinishReason: candidate.FinishReason,
		Provider:     provider.KindGemini,
	}
	if u := geminiResp.UsageMetadata; u != nil {
		out.Usage = &provider.Usage{
			PromptTokens:     u.PromptTokenCount,
			CompletionTokens: u.CandidatesTokenCount,
			TotalTokens:      u.TotalTokenCount,
		}
	}
	return out, nil
}

func (p *GeminiClient) mapRequest(messages []provider.Message) geminiRequest {
	system, rest := provider.SplitSystem(messages)

	contents := make([]geminiContent, len(rest))
	for i, m := range rest {
		role := "user"
		if m.Role == provider.RoleAssistant {
			role = "model"
		}
		contents[i] = geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		}
	}

	req := geminiRequest{
		Contents: contents,
		GenerationConfig: generationConfig{
			MaxOutputTokens: p.cfg.MaxTokens,
			Temperature:     p.cfg.Temperature,
		},
	}
	if system != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}
	return req
}

func (p *GeminiClient) apiError(status int, body []byte) error {
	var env geminiErrorEnvelope
	_ = json.Unmarshal(body, &env)

	code := env.Error.Status
	if code == "" {
		code = codeForStatus(status)
	}
	return provider.APIError(provider.KindGemini, status, code, env.Error.Message, body, retryableCodes)
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case http.StatusInternalServerError:
		return "INTERNAL"
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return "UNAVAILABLE"
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return "DEADLINE_EXCEEDED"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	default:
		return fmt.Sprintf("HTTP_%d", status)
	}
}

func (p *GeminiClient) Complete(ctx context.Context, prompt, systemPrompt string) (string, error) {
	return provider.Complete(ctx, p.Chat, prompt, systemPrompt)
}

func (p *GeminiClient) TestConnection(ctx context.Context) bool {
	return provider.Probe(ctx, p.Chat)
}

func (p *GeminiClient) ModelInfo() provider.ModelInfo {
	return provider.ModelInfo{
		Provider:    provider.KindGemini,
		Model:       p.cfg.Model,
		Endpoint:    p.baseURL,
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	}
}

func (p *GeminiClient) Kind() provider.Kind {
	return provider.KindGemini
}
