// Package offline implements a provider that never touches the network. It
// answers from a small keyword-indexed template table after a simulated
// delay, and backs every fallback chain as the last resort.
package offline

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/vnmchuo/labflow/internal/provider"
)

const (
	Model = "offline-template-v1"

	minLatency = 800 * time.Millisecond
	maxLatency = 2000 * time.Millisecond
)

// The keyword appearing earliest in the prompt picks the template.
var buckets = []string{"workflow", "parameter", "error"}

var templates = map[string]string{
	"workflow": "Here is a draft workflow based on your description.\n\n" +
		"```json\n" +
		`{"operations":[` +
		`{"type":"prepare_sample","parameters":{"volume_ml":10}},` +
		`{"type":"mix","parameters":{"speed_rpm":300,"duration_s":60}},` +
		`{"type":"incubate","parameters":{"temperature":37,"duration_min":30}},` +
		`{"type":"measure","parameters":{"wavelength_nm":600}}` +
		"]}\n" +
		"```\n\n" +
		"## Explanation\n" +
		"This offline draft follows a generic prepare, mix, incubate and measure sequence. " +
		"Adjust volumes, speeds and temperatures to match your protocol before running it.\n\n" +
		"## Warnings\n" +
		"- Generated without a language model; review every parameter.\n" +
		"- Confirm incubation temperature against reagent specifications.\n\n" +
		"## Recommendations\n" +
		"- Configure an API key for a hosted model to get protocol-specific workflows.\n",
	"parameter": "## Analysis\n" +
		"The offline reviewer cannot inspect parameter values in depth. The workflow has been returned unchanged.\n\n" +
		"## Recommendations\n" +
		"- Check temperatures against reagent stability limits.\n" +
		"- Verify that durations match the validated protocol.\n" +
		"- Confirm volumes are within instrument tolerances.\n",
	"error": "## Explanation\n" +
		"Common causes of run failures are incorrect volumes, expired reagents and instrument calibration drift.\n\n" +
		"## Recommendations\n" +
		"- Re-run the failed step with fresh reagents.\n" +
		"- Check the instrument calibration log.\n",
	"general": "I am running in offline mode without access to a language model. " +
		"I can draft generic workflows and checklists, but the output should be reviewed carefully before use.",
}

type OfflineClient struct {
	latency func() time.Duration
}

type Option func(*OfflineClient)

// WithLatency replaces the randomized delay, mainly so tests run fast.
func WithLatency(fn func() time.Duration) Option {
	return func(c *OfflineClient) { c.latency = fn }
}

func New(opts ...Option) *OfflineClient {
	c := &OfflineClient{latency: randomLatency}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func randomLatency() time.Duration {
	return minLatency + rand.N(maxLatency-minLatency+1)
}

// Template returns the canned reply for a prompt.
func Template(prompt string) string {
	lower := strings.ToLower(prompt)
	best, bestAt := "general", -1
	for _, key := range buckets {
		at := strings.Index(lower, key)
		if at >= 0 && (bestAt < 0 || at < bestAt) {
			best, bestAt = key, at
		}
	}
	return templates[best]
}

func (c *OfflineClient) Chat(ctx context.Context, messages []provider.Message) (*provider.Response, error) {
	start := time.Now()

	if d := c.latency(); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	prompt := lastUserMessage(messages)
	content := Template(prompt)

	promptTokens := 0
	for _, m := range messages {
		promptTokens += len(strings.Fields(m.Content))
	}
	completionTokens := len(strings.Fields(content))

	return &provider.Response{
		Content: content,
		Usage: &provider.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
		Model:        Model,
		FinishReason: "stop",
		Duration:     time.Since(start),
		Provider:     provider.KindOffline,
	}, nil
}

func lastUserMessage(messages []provider.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == provider.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func (c *OfflineClient) Complete(ctx context.Context, prompt, systemPrompt string) (string, error) {
	return provider.Complete(ctx, c.Chat, prompt, systemPrompt)
}

func (c *OfflineClient) TestConnection(ctx context.Context) bool {
	return true
}

func (c *OfflineClient) ModelInfo() provider.ModelInfo {
	return provider.ModelInfo{
		Provider: provider.KindOffline,
		Model:    Model,
	}
}

func (c *OfflineClient) Kind() provider.Kind {
	return provider.KindOffline
}
