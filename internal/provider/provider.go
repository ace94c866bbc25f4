package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vnmchuo/labflow/internal/llmerr"
)

type Kind string

const (
	KindOpenAI  Kind = "openai"
	KindClaude  Kind = "claude"
	KindGemini  Kind = "gemini"
	KindOffline Kind = "offline"
)

// Kinds lists every supported provider kind in configuration precedence order.
var Kinds = []Kind{KindOpenAI, KindClaude, KindGemini, KindOffline}

func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Response struct {
	Content      string        `json:"content"`
	Usage        *Usage        `json:"usage,omitempty"`
	Model        string        `json:"model,omitempty"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Duration     time.Duration `json:"duration"`
	Provider     Kind          `json:"provider"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (r *Response) MarshalBinary() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (r *Response) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, r)
}

// NormalStop reports whether a finish reason means the model ended its turn
// on its own rather than being cut off.
func (r *Response) NormalStop() bool {
	switch strings.ToLower(r.FinishReason) {
	case "stop", "end_turn", "stop_sequence":
		return true
	}
	return false
}

// Config describes a single backend. Values are treated as an immutable
// snapshot: callers replace the whole struct rather than editing a live one.
type Config struct {
	Kind          Kind          `json:"kind" yaml:"kind"`
	APIKey        string        `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL       string        `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model         string        `json:"model" yaml:"model"`
	Temperature   float64       `json:"temperature" yaml:"temperature"`
	MaxTokens     int           `json:"max_tokens" yaml:"max_tokens"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	RetryAttempts int           `json:"retry_attempts" yaml:"retry_attempts"`
	RetryDelay    time.Duration `json:"retry_delay" yaml:"retry_delay"`
}

func (c Config) Validate() error {
	if !c.Kind.Valid() {
		return llmerr.New(llmerr.CodeUnsupportedProvider, fmt.Sprintf("unsupported provider kind %q", c.Kind))
	}
	if c.Kind != KindOffline && strings.TrimSpace(c.APIKey) == "" {
		return llmerr.New(llmerr.CodeMissingAPIKey, fmt.Sprintf("%s requires an API key", c.Kind))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return llmerr.New(llmerr.CodeInvalidConfig, fmt.Sprintf("temperature %.2f out of range [0, 2]", c.Temperature))
	}
	if c.MaxTokens < 0 || c.Timeout < 0 || c.RetryAttempts < 0 || c.RetryDelay < 0 {
		return llmerr.New(llmerr.CodeInvalidConfig, "max tokens, timeout and retry settings must not be negative")
	}
	return nil
}

// configJSON carries the durations as strings so that status output can be
// fed back into a configuration update unchanged.
type configJSON struct {
	configAlias
	Timeout    jsonDuration `json:"timeout"`
	RetryDelay jsonDuration `json:"retry_delay"`
}

type configAlias Config

func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(configJSON{
		configAlias: configAlias(c),
		Timeout:     jsonDuration(c.Timeout),
		RetryDelay:  jsonDuration(c.RetryDelay),
	})
}

func (c *Config) UnmarshalJSON(data []byte) error {
	var aux configJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*c = Config(aux.configAlias)
	c.Timeout = time.Duration(aux.Timeout)
	c.RetryDelay = time.Duration(aux.RetryDelay)
	return nil
}

type jsonDuration time.Duration

func (d jsonDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *jsonDuration) UnmarshalJSON(data []byte) error {
	s := string(bytes.TrimSpace(data))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = jsonDuration(parsed)
	return nil
}

// ParseDuration accepts a Go duration string ("30s") or a bare number of
// milliseconds.
func ParseDuration(s string) (time.Duration, error) {
	if ms, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(ms * float64(time.Millisecond)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// Redacted returns a copy safe to expose in status output.
func (c Config) Redacted() Config {
	if c.APIKey != "" {
		c.APIKey = "***"
	}
	return c
}

type ModelInfo struct {
	Provider    Kind    `json:"provider"`
	Model       string  `json:"model"`
	Endpoint    string  `json:"endpoint,omitempty"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type Client interface {
	Chat(ctx context.Context, messages []Message) (*Response, error)
	Complete(ctx context.Context, prompt, systemPrompt string) (string, error)
	TestConnection(ctx context.Context) bool
	ModelInfo() ModelInfo
	Kind() Kind
}

// ChatFunc is the Chat method of a Client.
type ChatFunc func(ctx context.Context, messages []Message) (*Response, error)

// Complete builds a one-shot conversation and returns the reply text.
func Complete(ctx context.Context, chat ChatFunc, prompt, systemPrompt string) (string, error) {
	messages := make([]Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, Message{Role: RoleUser, Content: prompt})

	resp, err := chat(ctx, messages)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Probe sends a trivial prompt and reports whether any reply came back.
func Probe(ctx context.Context, chat ChatFunc) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	resp, err := chat(ctx, []Message{{Role: RoleUser, Content: "Reply with OK."}})
	return err == nil && resp != nil && resp.Content != ""
}

// SplitSystem separates leading system messages from the rest of the
// conversation for backends that carry the system prompt out of band.
func SplitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}
