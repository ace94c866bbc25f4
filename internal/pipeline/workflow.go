package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/labflow/internal/provider"
	"github.com/vnmchuo/labflow/internal/telemetry"
)

const (
	baseConfidence     = 0.7
	fallbackConfidence = 0.3
	longReplyChars     = 200

	ManualOperationType = "manual_configuration"
)

type options struct {
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *telemetry.Metrics
	now     func() time.Time
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock overrides time.Now for metadata timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func newOptions(component string, opts []Option) options {
	o := options{
		logger: slog.Default(),
		tracer: otel.Tracer(telemetry.TracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With("component", component)
	return o
}

// Generator drafts workflows from free-text descriptions.
type Generator struct {
	chat Chatter
	options
}

func NewGenerator(chat Chatter, opts ...Option) *Generator {
	return &Generator{chat: chat, options: newOptions("workflow_generator", opts)}
}

// Generate never fails: when no backend answers, the response carries a
// single manual step and a low confidence.
func (g *Generator) Generate(ctx context.Context, req WorkflowRequest) *WorkflowResponse {
	requestID := uuid.NewString()
	ctx, span := g.tracer.Start(ctx, "pipeline.generate")
	defer span.End()
	span.SetAttributes(attribute.String("request_id", requestID))

	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: generationSystemPrompt(req.Context.Catalog)},
		{Role: provider.RoleUser, Content: GenerationUserPrompt(req)},
	}

	resp, err := g.chat.Chat(ctx, messages)
	if err != nil {
		g.logger.Warn("workflow generation failed, returning manual step",
			"request_id", requestID,
			"error", err,
		)
		span.RecordError(err)
		g.metrics.IncPipelineResult("generate", SourceFallback)
		return g.fallback(requestID, req, err)
	}

	out := &WorkflowResponse{
		RequestID:       requestID,
		Warnings:        []string{},
		Recommendations: []string{},
		Metadata: Metadata{
			GeneratedAt: g.now().UTC(),
			Source:      SourceAI,
			Provider:    resp.Provider,
			Model:       resp.Model,
		},
	}

	if wf, ok := g.decodeWorkflow(requestID, resp.Content); ok {
		meta := out.Metadata
		wf.Metadata = &meta
		out.Workflow = wf
	} else {
		out.Warnings = append(out.Warnings, "the model reply did not contain a structured workflow")
	}

	sections := ParseSections(resp.Content)
	out.Explanation = sections[SectionExplanation].Text
	out.Rationale = sections[SectionRationale].Text
	out.Warnings = append(out.Warnings, sections[SectionWarnings].Items...)
	out.Warnings = append(out.Warnings, sections[SectionSafety].Items...)
	out.Recommendations = append(out.Recommendations, sections[SectionRecommendations].Items...)

	if req.Options.ValidateParameters && out.Workflow != nil {
		out.Warnings = append(out.Warnings, unknownOperations(out.Workflow, req.Context.Catalog)...)
	}

	out.Confidence = confidence(out.Workflow != nil, resp)
	span.SetAttributes(
		attribute.Float64("confidence", out.Confidence),
		attribute.String("provider", string(resp.Provider)),
	)
	g.metrics.IncPipelineResult("generate", SourceAI)
	return out
}

func (g *Generator) decodeWorkflow(requestID, content string) (*Workflow, bool) {
	block, ok := ExtractJSONBlock(content)
	if !ok {
		return nil, false
	}
	var wf Workflow
	if err := json.Unmarshal([]byte(block), &wf); err != nil {
		g.logger.Debug("discarding malformed workflow block", "request_id", requestID, "error", err)
		return nil, false
	}
	if len(wf.Operations) == 0 {
		g.logger.Debug("discarding workflow block without operations", "request_id", requestID)
		return nil, false
	}
	return &wf, true
}

func (g *Generator) fallback(requestID string, req WorkflowRequest, cause error) *WorkflowResponse {
	meta := Metadata{GeneratedAt: g.now().UTC(), Source: SourceFallback}
	return &WorkflowResponse{
		RequestID: requestID,
		Workflow: &Workflow{
			Operations: []Operation{{
				Type: ManualOperationType,
				Parameters: map[string]any{
					"description": req.Description,
					"reason":      "manual configuration required",
				},
			}},
			Metadata: &meta,
		},
		Explanation:     "No language model backend was available, so the workflow must be configured manually.",
		Warnings:        []string{fmt.Sprintf("workflow generation failed: %v", cause)},
		Recommendations: []string{},
		Confidence:      fallbackConfidence,
		Metadata:        meta,
	}
}

func confidence(decoded bool, resp *provider.Response) float64 {
	c := baseConfidence
	if decoded {
		c += 0.2
	}
	if len(resp.Content) > longReplyChars {
		c += 0.1
	}
	if resp.NormalStop() {
		c += 0.1
	}
	if c > 1 {
		c = 1
	}
	return c
}

func unknownOperations(wf *Workflow, catalog []OperationSpec) []string {
	if len(catalog) == 0 {
		return nil
	}
	known := make(map[string]bool, len(catalog))
	for _, op := range catalog {
		known[op.Type] = true
	}
	var warnings []string
	for i, op := range wf.Operations {
		if !known[op.Type] {
			warnings = append(warnings, fmt.Sprintf("operation %d uses type %q which is not in the catalog", i+1, op.Type))
		}
	}
	return warnings
}
