package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vnmchuo/labflow/internal/llmerr"
	"github.com/vnmchuo/labflow/internal/provider"
)

// Service is the orchestration snapshot held by the manager. It is never
// edited in place; Merge returns a new value.
type Service struct {
	Primary          provider.Config   `json:"primary" yaml:"primary"`
	Fallbacks        []provider.Config `json:"fallbacks" yaml:"fallbacks"`
	EnableFallback   bool              `json:"enable_fallback" yaml:"enable_fallback"`
	CacheResponses   bool              `json:"cache_responses" yaml:"cache_responses"`
	LogResponses     bool              `json:"log_responses" yaml:"log_responses"`
	BreakerThreshold int               `json:"breaker_threshold" yaml:"breaker_threshold"`
}

func (s Service) Validate() error {
	if err := s.Primary.Validate(); err != nil {
		return fmt.Errorf("primary: %w", err)
	}
	for i, fb := range s.Fallbacks {
		if err := fb.Validate(); err != nil {
			return fmt.Errorf("fallback %d: %w", i, err)
		}
	}
	if s.BreakerThreshold < 0 {
		return llmerr.New(llmerr.CodeInvalidConfig, "breaker threshold must not be negative")
	}
	return nil
}

// Clone returns a copy that shares no slices with s.
func (s Service) Clone() Service {
	c := s
	c.Fallbacks = append([]provider.Config(nil), s.Fallbacks...)
	return c
}

// Redacted returns a copy with every API key masked.
func (s Service) Redacted() Service {
	c := s.Clone()
	c.Primary = c.Primary.Redacted()
	for i := range c.Fallbacks {
		c.Fallbacks[i] = c.Fallbacks[i].Redacted()
	}
	return c
}

// Update is an explicit partial change to a Service. Nil fields are left
// untouched.
type Update struct {
	Primary          *ProviderUpdate   `json:"primary,omitempty" yaml:"primary,omitempty"`
	Fallbacks        *[]ProviderUpdate `json:"fallbacks,omitempty" yaml:"fallbacks,omitempty"`
	EnableFallback   *bool             `json:"enable_fallback,omitempty" yaml:"enable_fallback,omitempty"`
	CacheResponses   *bool             `json:"cache_responses,omitempty" yaml:"cache_responses,omitempty"`
	LogResponses     *bool             `json:"log_responses,omitempty" yaml:"log_responses,omitempty"`
	BreakerThreshold *int              `json:"breaker_threshold,omitempty" yaml:"breaker_threshold,omitempty"`
}

// ProviderUpdate patches one provider.Config.
type ProviderUpdate struct {
	Kind          *provider.Kind `json:"kind,omitempty" yaml:"kind,omitempty"`
	APIKey        *string        `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL       *string        `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model         *string        `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens     *int           `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Timeout       *Duration      `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RetryAttempts *int           `json:"retry_attempts,omitempty" yaml:"retry_attempts,omitempty"`
	RetryDelay    *Duration      `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty"`
}

// RebuildsPrimary reports whether applying u requires a new primary client.
func (u Update) RebuildsPrimary() bool { return u.Primary != nil }

// RebuildsFallbacks reports whether applying u requires new fallback clients.
func (u Update) RebuildsFallbacks() bool { return u.Fallbacks != nil }

// Apply patches base. When the kind changes, the model and endpoint reset to
// the new backend's defaults unless the patch sets them too.
func (p ProviderUpdate) Apply(base provider.Config) provider.Config {
	out := base
	if p.Kind != nil && *p.Kind != base.Kind {
		out.Kind = *p.Kind
		out.Model = ""
		out.BaseURL = ""
		out.APIKey = ""
	}
	if p.APIKey != nil {
		out.APIKey = *p.APIKey
	}
	if p.BaseURL != nil {
		out.BaseURL = *p.BaseURL
	}
	if p.Model != nil {
		out.Model = *p.Model
	}
	if p.Temperature != nil {
		out.Temperature = *p.Temperature
	}
	if p.MaxTokens != nil {
		out.MaxTokens = *p.MaxTokens
	}
	if p.Timeout != nil {
		out.Timeout = time.Duration(*p.Timeout)
	}
	if p.RetryAttempts != nil {
		out.RetryAttempts = *p.RetryAttempts
	}
	if p.RetryDelay != nil {
		out.RetryDelay = time.Duration(*p.RetryDelay)
	}
	return out
}

// Merge applies u over s and validates the result. Fallback entries inherit
// the tuning (temperature, tokens, timeout, retries) of the resulting
// primary. s is not modified.
func (s Service) Merge(u Update) (Service, error) {
	out := s.Clone()

	if u.Primary != nil {
		out.Primary = u.Primary.Apply(s.Primary)
	}
	if u.Fallbacks != nil {
		tuning := out.Primary
		tuning.Kind, tuning.APIKey, tuning.BaseURL, tuning.Model = "", "", "", ""

		out.Fallbacks = make([]provider.Config, 0, len(*u.Fallbacks))
		for _, fb := range *u.Fallbacks {
			out.Fallbacks = append(out.Fallbacks, fb.Apply(tuning))
		}
	}
	if u.EnableFallback != nil {
		out.EnableFallback = *u.EnableFallback
	}
	if u.CacheResponses != nil {
		out.CacheResponses = *u.CacheResponses
	}
	if u.LogResponses != nil {
		out.LogResponses = *u.LogResponses
	}
	if u.BreakerThreshold != nil {
		out.BreakerThreshold = *u.BreakerThreshold
	}

	if err := out.Validate(); err != nil {
		return s, err
	}
	return out, nil
}

// DecodeUpdateJSON reads an Update, rejecting unknown keys.
func DecodeUpdateJSON(r io.Reader) (Update, error) {
	var u Update
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&u); err != nil {
		return Update{}, llmerr.Wrap(err, llmerr.CodeInvalidConfig, "invalid configuration update", false)
	}
	return u, nil
}

// DecodeUpdateYAML reads an Update, rejecting unknown keys. An empty document
// yields an empty Update.
func DecodeUpdateYAML(r io.Reader) (Update, error) {
	var u Update
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&u); err != nil && !errors.Is(err, io.EOF) {
		return Update{}, llmerr.Wrap(err, llmerr.CodeInvalidConfig, "invalid configuration update", false)
	}
	return u, nil
}

// Duration decodes from a Go duration string ("30s") or a number of
// milliseconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return d.set(s)
	}
	return d.set(string(data))
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.set(node.Value)
}

func (d *Duration) set(s string) error {
	parsed, err := provider.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}
