// Package providerfactory builds provider clients from configuration records.
package providerfactory

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vnmchuo/labflow/internal/llmerr"
	"github.com/vnmchuo/labflow/internal/provider"
	"github.com/vnmchuo/labflow/internal/provider/claude"
	"github.com/vnmchuo/labflow/internal/provider/gemini"
	"github.com/vnmchuo/labflow/internal/provider/offline"
	"github.com/vnmchuo/labflow/internal/provider/openai"
)

type options struct {
	httpClient     *http.Client
	offlineLatency func() time.Duration
}

type Option func(*options)

// WithHTTPClient sets the transport shared by the network clients.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithOfflineLatency overrides the simulated delay of the offline client.
func WithOfflineLatency(fn func() time.Duration) Option {
	return func(o *options) { o.offlineLatency = fn }
}

// New validates cfg and returns the client for its kind.
//
// Supported kinds:
//   - "openai": OpenAI chat completions
//   - "claude": Anthropic Messages API
//   - "gemini": Google generateContent
//   - "offline": canned templates, no network
func New(cfg provider.Config, opts ...Option) (provider.Client, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if !cfg.Kind.Valid() {
		return nil, llmerr.New(llmerr.CodeUnsupportedProvider,
			fmt.Sprintf("unsupported provider kind: %q (supported: openai, claude, gemini, offline)", cfg.Kind))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.Debug("creating provider client",
		"kind", cfg.Kind,
		"model", cfg.Model,
		"base_url", cfg.BaseURL,
	)

	var (
		client provider.Client
		err    error
	)
	switch cfg.Kind {
	case provider.KindOpenAI:
		var copts []openai.Option
		if o.httpClient != nil {
			copts = append(copts, openai.WithHTTPClient(o.httpClient))
		}
		client, err = openai.New(cfg, copts...)

	case provider.KindClaude:
		var copts []claude.Option
		if o.httpClient != nil {
			copts = append(copts, claude.WithHTTPClient(o.httpClient))
		}
		client, err = claude.New(cfg, copts...)

	case provider.KindGemini:
		var copts []gemini.Option
		if o.httpClient != nil {
			copts = append(copts, gemini.WithHTTPClient(o.httpClient))
		}
		client, err = gemini.New(cfg, copts...)

	case provider.KindOffline:
		var copts []offline.Option
		if o.offlineLatency != nil {
			copts = append(copts, offline.WithLatency(o.offlineLatency))
		}
		client = offline.New(copts...)
	}
	if err != nil {
		return nil, err
	}

	slog.Info("provider client created", "kind", cfg.Kind, "model", client.ModelInfo().Model)
	return client, nil
}
