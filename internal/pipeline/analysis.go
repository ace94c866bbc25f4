package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vnmchuo/labflow/internal/provider"
)

const staticAnalysis = "Automatic analysis is unavailable. Review temperatures, durations and volumes " +
	"against the validated protocol and equipment limits before running this workflow."

// Analyzer reviews existing workflows and proposes optimized parameters.
type Analyzer struct {
	chat Chatter
	options
}

func NewAnalyzer(chat Chatter, opts ...Option) *Analyzer {
	return &Analyzer{chat: chat, options: newOptions("parameter_analyzer", opts)}
}

// Analyze never fails. Without a usable reply the original workflow comes
// back unchanged.
func (a *Analyzer) Analyze(ctx context.Context, req AnalysisRequest) *AnalysisResponse {
	requestID := uuid.NewString()
	ctx, span := a.tracer.Start(ctx, "pipeline.analyze")
	defer span.End()
	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.Int("operations", len(req.Workflow.Operations)),
	)

	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: analysisSystemPrompt},
		{Role: provider.RoleUser, Content: AnalysisUserPrompt(req)},
	}

	resp, err := a.chat.Chat(ctx, messages)
	if err != nil {
		a.logger.Warn("parameter analysis failed, returning workflow unchanged",
			"request_id", requestID,
			"error", err,
		)
		span.RecordError(err)
		a.metrics.IncPipelineResult("analyze", SourceFallback)
		return &AnalysisResponse{
			RequestID:       requestID,
			Workflow:        req.Workflow,
			Analysis:        staticAnalysis,
			Recommendations: []string{},
			Warnings:        []string{fmt.Sprintf("parameter analysis failed: %v", err)},
			Metadata:        Metadata{GeneratedAt: a.now().UTC(), Source: SourceFallback},
		}
	}

	meta := Metadata{
		GeneratedAt: a.now().UTC(),
		Source:      SourceAI,
		Provider:    resp.Provider,
		Model:       resp.Model,
	}
	out := &AnalysisResponse{
		RequestID:       requestID,
		Workflow:        req.Workflow,
		Recommendations: []string{},
		Warnings:        []string{},
		Metadata:        meta,
	}

	if block, ok := ExtractJSONBlock(resp.Content); ok {
		var wf Workflow
		if err := json.Unmarshal([]byte(block), &wf); err != nil {
			a.logger.Debug("discarding malformed workflow block", "request_id", requestID, "error", err)
		} else if len(wf.Operations) > 0 {
			wf.Metadata = &meta
			out.Workflow = wf
		}
	}

	sections := ParseSections(resp.Content)
	out.Analysis = sections[SectionAnalysis].Text
	if out.Analysis == "" {
		out.Analysis = StripFences(resp.Content)
	}
	out.Recommendations = append(out.Recommendations, sections[SectionRecommendations].Items...)
	out.Warnings = append(out.Warnings, sections[SectionWarnings].Items...)
	out.Warnings = append(out.Warnings, sections[SectionSafety].Items...)

	a.metrics.IncPipelineResult("analyze", SourceAI)
	return out
}
