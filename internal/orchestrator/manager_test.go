package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/labflow/config"
	"github.com/vnmchuo/labflow/internal/llmerr"
	"github.com/vnmchuo/labflow/internal/provider"
	"github.com/vnmchuo/labflow/internal/providerfactory"
	"github.com/vnmchuo/labflow/internal/telemetry"
	"github.com/vnmchuo/labflow/internal/usage"
)

type fakeClient struct {
	kind  provider.Kind
	name  string
	err   error
	probe bool
	panic bool

	mu    sync.Mutex
	calls int
}

func (f *fakeClient) Chat(ctx context.Context, messages []provider.Message) (*provider.Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &provider.Response{
		Content:      "reply from " + f.name,
		Model:        f.name,
		FinishReason: "stop",
		Usage:        &provider.Usage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7},
	}, nil
}

func (f *fakeClient) Complete(ctx context.Context, prompt, systemPrompt string) (string, error) {
	return provider.Complete(ctx, f.Chat, prompt, systemPrompt)
}

func (f *fakeClient) TestConnection(ctx context.Context) bool {
	if f.panic {
		panic("probe exploded")
	}
	return f.probe
}

func (f *fakeClient) ModelInfo() provider.ModelInfo {
	return provider.ModelInfo{Provider: f.kind, Model: f.name}
}

func (f *fakeClient) Kind() provider.Kind { return f.kind }

func (f *fakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// registry builds clients by model name so tests can tell chain members apart.
type registry struct {
	mu      sync.Mutex
	clients map[string]*fakeClient
	builds  map[string]int
}

func newRegistry(clients ...*fakeClient) *registry {
	r := &registry{clients: make(map[string]*fakeClient), builds: make(map[string]int)}
	for _, c := range clients {
		r.clients[c.name] = c
	}
	return r
}

func (r *registry) factory(cfg provider.Config) (provider.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builds[cfg.Model]++
	if c, ok := r.clients[cfg.Model]; ok {
		return c, nil
	}
	return providerfactory.New(cfg, providerfactory.WithOfflineLatency(func() time.Duration { return 0 }))
}

func (r *registry) Builds(model string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.builds[model]
}

func pc(kind provider.Kind, model string) provider.Config {
	return provider.Config{Kind: kind, APIKey: "key", Model: model}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, cfg config.Service, reg *registry, opts ...Option) *Manager {
	t.Helper()
	base := []Option{
		WithFactory(reg.factory),
		WithLogger(quietLogger()),
		WithTracer(noop.NewTracerProvider().Tracer("test")),
	}
	m := New(cfg, append(base, opts...)...)
	require.NoError(t, m.Initialize(context.Background()))
	return m
}

var hello = []provider.Message{{Role: provider.RoleUser, Content: "hello"}}

func TestChat_FallbackOrder(t *testing.T) {
	primary := &fakeClient{kind: provider.KindOpenAI, name: "primary", err: llmerr.Transient(llmerr.CodeTimeout, "slow")}
	first := &fakeClient{kind: provider.KindClaude, name: "first", err: errors.New("boom")}
	second := &fakeClient{kind: provider.KindGemini, name: "second"}
	third := &fakeClient{kind: provider.KindOffline, name: "third"}
	reg := newRegistry(primary, first, second, third)

	m := newTestManager(t, config.Service{
		Primary:        pc(provider.KindOpenAI, "primary"),
		Fallbacks:      []provider.Config{pc(provider.KindClaude, "first"), pc(provider.KindGemini, "second"), pc(provider.KindOffline, "third")},
		EnableFallback: true,
	}, reg)

	resp, err := m.Chat(context.Background(), hello)
	require.NoError(t, err)

	assert.Equal(t, "reply from second", resp.Content)
	assert.Equal(t, provider.KindGemini, resp.Provider)
	assert.Equal(t, 1, primary.Calls())
	assert.Equal(t, 1, first.Calls())
	assert.Equal(t, 1, second.Calls())
	assert.Equal(t, 0, third.Calls())
}

func TestChat_AllFailReturnsLastError(t *testing.T) {
	primary := &fakeClient{kind: provider.KindOpenAI, name: "primary", err: llmerr.New("invalid_api_key", "bad key")}
	fb := &fakeClient{kind: provider.KindGemini, name: "fb", err: llmerr.Transient("UNAVAILABLE", "down")}
	reg := newRegistry(primary, fb)

	m := newTestManager(t, config.Service{
		Primary:        pc(provider.KindOpenAI, "primary"),
		Fallbacks:      []provider.Config{pc(provider.KindGemini, "fb")},
		EnableFallback: true,
	}, reg)

	_, err := m.Chat(context.Background(), hello)
	require.Error(t, err)
	assert.Equal(t, "UNAVAILABLE", llmerr.CodeOf(err))
}

func TestChat_FallbackDisabled(t *testing.T) {
	primary := &fakeClient{kind: provider.KindOpenAI, name: "primary", err: llmerr.Transient("server_error", "oops")}
	fb := &fakeClient{kind: provider.KindOffline, name: "fb"}
	reg := newRegistry(primary, fb)

	m := newTestManager(t, config.Service{
		Primary:        pc(provider.KindOpenAI, "primary"),
		Fallbacks:      []provider.Config{pc(provider.KindOffline, "fb")},
		EnableFallback: false,
	}, reg)

	_, err := m.Chat(context.Background(), hello)
	assert.Equal(t, "server_error", llmerr.CodeOf(err))
	assert.Equal(t, 0, fb.Calls())
}

func TestChat_CacheHitSkipsBackend(t *testing.T) {
	primary := &fakeClient{kind: provider.KindOpenAI, name: "primary"}
	reg := newRegistry(primary)

	m := newTestManager(t, config.Service{
		Primary:        pc(provider.KindOpenAI, "primary"),
		CacheResponses: true,
	}, reg)

	first, err := m.Chat(context.Background(), hello)
	require.NoError(t, err)
	second, err := m.Chat(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "hello"}})
	require.NoError(t, err)

	assert.Equal(t, 1, primary.Calls())
	assert.Equal(t, first.Content, second.Content)

	_, err = m.Chat(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "something else"}})
	require.NoError(t, err)
	assert.Equal(t, 2, primary.Calls())

	st, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.CacheSize)

	require.NoError(t, m.ClearCache(context.Background()))
	_, err = m.Chat(context.Background(), hello)
	require.NoError(t, err)
	assert.Equal(t, 3, primary.Calls())
}

func TestChat_CacheDisabled(t *testing.T) {
	primary := &fakeClient{kind: provider.KindOpenAI, name: "primary"}
	m := newTestManager(t, config.Service{Primary: pc(provider.KindOpenAI, "primary")}, newRegistry(primary))

	for i := 0; i < 2; i++ {
		_, err := m.Chat(context.Background(), hello)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, primary.Calls())
}

func TestNoCredentials_UsesStandIn(t *testing.T) {
	m := New(config.Service{
		Primary:        provider.Config{Kind: provider.KindOffline},
		EnableFallback: true,
		CacheResponses: true,
	},
		WithLogger(quietLogger()),
		WithProviderOptions(providerfactory.WithOfflineLatency(func() time.Duration { return 0 })),
	)

	for _, text := range []string{"Generate a workflow", "anything at all", "parameter review"} {
		resp, err := m.Chat(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: text}})
		require.NoError(t, err)
		assert.NotEmpty(t, resp.Content)
	}

	st, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseReady, st.Phase)
	assert.Equal(t, provider.KindOffline, st.PrimaryProvider)
}

func TestPrimaryBuildFailure_SubstitutesStandIn(t *testing.T) {
	m := New(config.Service{
		Primary:        provider.Config{Kind: provider.KindOpenAI},
		Fallbacks:      []provider.Config{{Kind: provider.KindClaude}, {Kind: provider.KindOffline}},
		EnableFallback: true,
	},
		WithLogger(quietLogger()),
		WithProviderOptions(providerfactory.WithOfflineLatency(func() time.Duration { return 0 })),
	)

	resp, err := m.Chat(context.Background(), hello)
	require.NoError(t, err)
	assert.Equal(t, provider.KindOffline, resp.Provider)

	st, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, provider.KindOffline, st.PrimaryProvider)
	assert.Equal(t, []provider.Kind{provider.KindOffline}, st.FallbackProviders, "unbuildable fallback is skipped")
}

func TestInitialize_WaitsAndHonoursContext(t *testing.T) {
	release := make(chan struct{})
	primary := &fakeClient{kind: provider.KindOpenAI, name: "primary"}
	factory := func(cfg provider.Config) (provider.Client, error) {
		<-release
		return primary, nil
	}

	m := New(config.Service{Primary: pc(provider.KindOpenAI, "primary")}, WithFactory(factory), WithLogger(quietLogger()))
	assert.Equal(t, PhaseInitializing, m.Phase())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Chat(ctx, hello)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, m.Initialize(context.Background()))
	require.NoError(t, m.Initialize(context.Background()))
	assert.Equal(t, PhaseReady, m.Phase())
}

func TestTestConnection(t *testing.T) {
	primary := &fakeClient{kind: provider.KindOpenAI, name: "primary", probe: false}
	good := &fakeClient{kind: provider.KindClaude, name: "good", probe: true}
	bad := &fakeClient{kind: provider.KindGemini, name: "bad", panic: true}
	reg := newRegistry(primary, good, bad)

	m := newTestManager(t, config.Service{
		Primary:   pc(provider.KindOpenAI, "primary"),
		Fallbacks: []provider.Config{pc(provider.KindClaude, "good"), pc(provider.KindGemini, "bad")},
	}, reg)

	report, err := m.TestConnection(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Primary)
	assert.Equal(t, []bool{true, false}, report.Fallbacks)
	assert.True(t, report.Overall)
}

func TestUpdateConfig_RebuildsAndSwaps(t *testing.T) {
	old := &fakeClient{kind: provider.KindOpenAI, name: "old"}
	replacement := &fakeClient{kind: provider.KindClaude, name: "new"}
	reg := newRegistry(old, replacement)

	m := newTestManager(t, config.Service{Primary: pc(provider.KindOpenAI, "old")}, reg)

	u, err := config.DecodeUpdateJSON(strings.NewReader(`{"primary":{"kind":"claude","api_key":"k","model":"new"},"cache_responses":true}`))
	require.NoError(t, err)
	require.NoError(t, m.UpdateConfig(context.Background(), u))

	resp, err := m.Chat(context.Background(), hello)
	require.NoError(t, err)
	assert.Equal(t, "reply from new", resp.Content)
	assert.Equal(t, 0, old.Calls())
	assert.Equal(t, 1, reg.Builds("new"))

	st, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, provider.KindClaude, st.PrimaryProvider)
	assert.True(t, st.Config.CacheResponses)
	assert.Equal(t, "***", st.Config.Primary.APIKey)
}

func TestUpdateConfig_FlagsOnlyKeepsClients(t *testing.T) {
	primary := &fakeClient{kind: provider.KindOpenAI, name: "primary"}
	reg := newRegistry(primary)
	m := newTestManager(t, config.Service{Primary: pc(provider.KindOpenAI, "primary")}, reg)

	on := true
	require.NoError(t, m.UpdateConfig(context.Background(), config.Update{LogResponses: &on}))
	assert.Equal(t, 1, reg.Builds("primary"))
}

func TestUpdateConfig_InvalidLeavesStateUntouched(t *testing.T) {
	primary := &fakeClient{kind: provider.KindOpenAI, name: "primary"}
	reg := newRegistry(primary)
	m := newTestManager(t, config.Service{Primary: pc(provider.KindOpenAI, "primary"), CacheResponses: true}, reg)

	empty := ""
	off := false
	err := m.UpdateConfig(context.Background(), config.Update{
		Primary:        &config.ProviderUpdate{APIKey: &empty},
		CacheResponses: &off,
	})
	require.Error(t, err)
	assert.Equal(t, llmerr.CodeMissingAPIKey, llmerr.CodeOf(err))

	st, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Config.CacheResponses)
	assert.Equal(t, provider.KindOpenAI, st.PrimaryProvider)

	_, err = config.DecodeUpdateJSON(strings.NewReader(`{"enable_fallbacks":true}`))
	assert.Error(t, err, "unknown keys are rejected before reaching the manager")
}

func TestBreaker_SkipsOpenClient(t *testing.T) {
	primary := &fakeClient{kind: provider.KindOpenAI, name: "primary", err: llmerr.Transient("server_error", "down")}
	fb := &fakeClient{kind: provider.KindOffline, name: "fb"}
	reg := newRegistry(primary, fb)
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())

	m := newTestManager(t, config.Service{
		Primary:          pc(provider.KindOpenAI, "primary"),
		Fallbacks:        []provider.Config{pc(provider.KindOffline, "fb")},
		EnableFallback:   true,
		BreakerThreshold: 2,
	}, reg, WithMetrics(metrics), WithBreakerTimeout(time.Hour))

	for i := 0; i < 4; i++ {
		resp, err := m.Chat(context.Background(), hello)
		require.NoError(t, err)
		assert.Equal(t, "reply from fb", resp.Content)
	}

	assert.Equal(t, 2, primary.Calls(), "breaker opens after two consecutive failures")
	assert.Equal(t, 4, fb.Calls())

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `labflow_breaker_skips_total{provider="openai"} 2`)
	assert.Contains(t, rec.Body.String(), "labflow_fallbacks_total 4")
}

func TestBreaker_AllOpenReturnsCircuitError(t *testing.T) {
	primary := &fakeClient{kind: provider.KindOpenAI, name: "primary", err: llmerr.Transient("server_error", "down")}
	reg := newRegistry(primary)

	m := newTestManager(t, config.Service{
		Primary:          pc(provider.KindOpenAI, "primary"),
		BreakerThreshold: 1,
	}, reg, WithBreakerTimeout(time.Hour))

	_, err := m.Chat(context.Background(), hello)
	assert.Equal(t, "server_error", llmerr.CodeOf(err))

	_, err = m.Chat(context.Background(), hello)
	assert.Equal(t, llmerr.CodeCircuitOpen, llmerr.CodeOf(err))
	assert.Equal(t, 1, primary.Calls())
}

func TestChat_RecordsUsage(t *testing.T) {
	primary := &fakeClient{kind: provider.KindOpenAI, name: "primary", err: errors.New("down")}
	fb := &fakeClient{kind: provider.KindGemini, name: "fb"}
	reg := newRegistry(primary, fb)
	store := usage.NewMemoryStore()

	m := newTestManager(t, config.Service{
		Primary:        pc(provider.KindOpenAI, "primary"),
		Fallbacks:      []provider.Config{pc(provider.KindGemini, "fb")},
		EnableFallback: true,
	}, reg, WithRecorder(store))

	_, err := m.Chat(context.Background(), hello)
	require.NoError(t, err)

	var records []*usage.Record
	require.Eventually(t, func() bool {
		records, _ = store.List(context.Background(), time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
		return len(records) == 1
	}, time.Second, 10*time.Millisecond)

	r := records[0]
	assert.Equal(t, "gemini", r.Provider)
	assert.Equal(t, 1, r.FallbackDepth)
	assert.Equal(t, 7, r.TotalTokens)
	assert.False(t, r.Cached)
	assert.Empty(t, r.ErrorCode)
}
