// Package orchestrator sequences chat requests across a primary client and an
// ordered list of fallbacks, caching successful responses.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/labflow/config"
	"github.com/vnmchuo/labflow/internal/llmerr"
	"github.com/vnmchuo/labflow/internal/provider"
	"github.com/vnmchuo/labflow/internal/provider/offline"
	"github.com/vnmchuo/labflow/internal/providerfactory"
	"github.com/vnmchuo/labflow/internal/telemetry"
	"github.com/vnmchuo/labflow/internal/usage"
)

type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseInitializing  Phase = "initializing"
	PhaseReady         Phase = "ready"
)

const defaultBreakerTimeout = 30 * time.Second

// Factory builds a client from a configuration record.
type Factory func(cfg provider.Config) (provider.Client, error)

type Manager struct {
	logger         *slog.Logger
	factory        Factory
	factoryOpts    []providerfactory.Option
	cache          Cache
	tracer         trace.Tracer
	metrics        *telemetry.Metrics
	recorder       usage.Recorder
	breakerTimeout time.Duration

	ready chan struct{}

	// updateMu serializes UpdateConfig so merges never race each other.
	updateMu sync.Mutex

	mu        sync.RWMutex
	phase     Phase
	cfg       config.Service
	primary   *link
	fallbacks []*link
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithFactory replaces the client factory, mainly for tests.
func WithFactory(f Factory) Option {
	return func(m *Manager) { m.factory = f }
}

// WithProviderOptions passes options to the default client factory.
func WithProviderOptions(opts ...providerfactory.Option) Option {
	return func(m *Manager) { m.factoryOpts = append(m.factoryOpts, opts...) }
}

func WithCache(c Cache) Option {
	return func(m *Manager) { m.cache = c }
}

func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithRecorder writes one usage record per Chat outcome.
func WithRecorder(r usage.Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithBreakerTimeout sets how long an open breaker stays open.
func WithBreakerTimeout(d time.Duration) Option {
	return func(m *Manager) { m.breakerTimeout = d }
}

// New returns a Manager and starts building its clients in the background.
func New(cfg config.Service, opts ...Option) *Manager {
	m := &Manager{
		logger:         slog.Default(),
		cache:          NewMemoryCache(),
		tracer:         otel.Tracer(telemetry.TracerName),
		breakerTimeout: defaultBreakerTimeout,
		ready:          make(chan struct{}),
		phase:          PhaseUninitialized,
		cfg:            cfg.Clone(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "orchestrator")
	if m.factory == nil {
		m.factory = func(c provider.Config) (provider.Client, error) {
			return providerfactory.New(c, m.factoryOpts...)
		}
	}

	m.phase = PhaseInitializing
	go m.initialize()
	return m
}

func (m *Manager) initialize() {
	m.mu.RLock()
	cfg := m.cfg
	m.mu.RUnlock()

	primary, err := m.factory(cfg.Primary)
	if err != nil {
		m.logger.Warn("primary client unavailable, using offline stand-in",
			"kind", cfg.Primary.Kind,
			"error", err,
		)
		primary = m.standIn()
	}

	fallbacks := make([]*link, 0, len(cfg.Fallbacks))
	for i, fc := range cfg.Fallbacks {
		client, err := m.factory(fc)
		if err != nil {
			m.logger.Warn("skipping fallback client", "index", i, "kind", fc.Kind, "error", err)
			continue
		}
		fallbacks = append(fallbacks, m.newLink(client, fmt.Sprintf("fallback-%d", i), cfg.BreakerThreshold))
	}

	m.mu.Lock()
	m.primary = m.newLink(primary, "primary", cfg.BreakerThreshold)
	m.fallbacks = fallbacks
	m.phase = PhaseReady
	m.mu.Unlock()
	close(m.ready)

	m.logger.Info("orchestrator ready",
		"primary", primary.Kind(),
		"fallbacks", len(fallbacks),
	)
}

func (m *Manager) standIn() provider.Client {
	client, err := m.factory(provider.Config{Kind: provider.KindOffline})
	if err != nil {
		return offline.New()
	}
	return client
}

func (m *Manager) newLink(client provider.Client, name string, threshold int) *link {
	return newLink(client, fmt.Sprintf("%s:%s", name, client.Kind()), threshold, m.breakerTimeout)
}

// Initialize blocks until the clients are built. Calling it again after
// completion returns immediately.
func (m *Manager) Initialize(ctx context.Context) error {
	select {
	case <-m.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for orchestrator initialization: %w", ctx.Err())
	}
}

// Chat answers from the cache if possible, otherwise tries the primary and
// then each fallback in order until one succeeds.
func (m *Manager) Chat(ctx context.Context, messages []provider.Message) (*provider.Response, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}

	ctx, span := m.tracer.Start(ctx, "orchestrator.chat")
	defer span.End()

	m.mu.RLock()
	cfg := m.cfg
	chain := make([]*link, 0, 1+len(m.fallbacks))
	chain = append(chain, m.primary)
	if cfg.EnableFallback {
		chain = append(chain, m.fallbacks...)
	}
	m.mu.RUnlock()

	requestID := uuid.NewString()
	key := CacheKey(messages)
	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.Int("messages", len(messages)),
		attribute.Int("chain_length", len(chain)),
	)

	if cfg.CacheResponses {
		if resp, ok := m.cacheGet(ctx, key); ok {
			m.metrics.IncCacheHit()
			span.SetAttributes(attribute.Bool("cache_hit", true))
			m.record(requestID, resp, 0, true, 0, nil)
			return resp, nil
		}
		m.metrics.IncCacheMiss()
	}

	start := time.Now()
	var lastErr error
	for depth, l := range chain {
		kind := l.client.Kind()

		if l.open() {
			m.logger.Warn("skipping client with open circuit breaker", "provider", kind, "depth", depth)
			m.metrics.IncBreakerSkip(string(kind))
			if lastErr == nil {
				lastErr = circuitOpen(kind)
			}
			continue
		}

		attemptStart := time.Now()
		resp, err := l.chat(ctx, messages)
		elapsed := time.Since(attemptStart)
		if err != nil {
			m.metrics.ObserveRequest(string(kind), "error", elapsed.Seconds())
			m.logger.Warn("provider chat failed",
				"provider", kind,
				"depth", depth,
				"code", llmerr.CodeOf(err),
				"error", err,
			)
			lastErr = err
			continue
		}
		m.metrics.ObserveRequest(string(kind), "success", elapsed.Seconds())

		if resp.Provider == "" {
			resp.Provider = kind
		}
		if depth > 0 {
			m.metrics.IncFallback()
			m.logger.Info("request served by fallback", "provider", kind, "depth", depth)
		}
		if cfg.CacheResponses {
			m.cacheSet(ctx, key, resp)
		}
		if cfg.LogResponses {
			m.logger.Info("llm response",
				"request_id", requestID,
				"provider", kind,
				"model", resp.Model,
				"finish_reason", resp.FinishReason,
				"duration_ms", resp.Duration.Milliseconds(),
				"content", preview(resp.Content),
			)
		}

		span.SetAttributes(
			attribute.String("provider", string(kind)),
			attribute.String("model", resp.Model),
			attribute.Int("fallback_depth", depth),
		)
		m.record(requestID, resp, depth, false, time.Since(start), nil)
		return resp, nil
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	m.record(requestID, nil, len(chain)-1, false, time.Since(start), lastErr)
	return nil, lastErr
}

func (m *Manager) cacheGet(ctx context.Context, key string) (*provider.Response, bool) {
	resp, ok, err := m.cache.Get(ctx, key)
	if err != nil {
		m.logger.Warn("cache lookup failed", "error", err)
		return nil, false
	}
	return resp, ok
}

func (m *Manager) cacheSet(ctx context.Context, key string, resp *provider.Response) {
	if err := m.cache.Set(ctx, key, resp); err != nil {
		m.logger.Warn("cache store failed", "error", err)
	}
}

func (m *Manager) record(requestID string, resp *provider.Response, depth int, cached bool, latency time.Duration, err error) {
	if m.recorder == nil {
		return
	}
	rec := &usage.Record{
		RequestID:     requestID,
		LatencyMs:     latency.Milliseconds(),
		Cached:        cached,
		FallbackDepth: depth,
	}
	if resp != nil {
		rec.Provider = string(resp.Provider)
		rec.Model = resp.Model
		if u := resp.Usage; u != nil {
			rec.PromptTokens = u.PromptTokens
			rec.CompletionTokens = u.CompletionTokens
			rec.TotalTokens = u.TotalTokens
		}
	}
	if err != nil {
		rec.ErrorCode = llmerr.CodeOf(err)
		if e, ok := llmerr.As(err); ok {
			rec.Provider = e.Provider
		}
	}

	go func() {
		if err := m.recorder.Record(context.Background(), rec); err != nil {
			m.logger.Error("failed to record usage", "request_id", requestID, "error", err)
		}
	}()
}

const previewLen = 200

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen]) + "..."
}

// Complete is a one-shot Chat.
func (m *Manager) Complete(ctx context.Context, prompt, systemPrompt string) (string, error) {
	return provider.Complete(ctx, m.Chat, prompt, systemPrompt)
}
