// Package pipeline turns free-text laboratory descriptions into workflows and
// reviews existing workflows, degrading to a usable result when every model
// backend fails.
package pipeline

import (
	"context"
	"time"

	"github.com/vnmchuo/labflow/internal/provider"
)

// Chatter is the part of the orchestrator the pipelines depend on.
type Chatter interface {
	Chat(ctx context.Context, messages []provider.Message) (*provider.Response, error)
}

const (
	SourceAI       = "ai"
	SourceFallback = "fallback"
)

type Operation struct {
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters"`
}

type Metadata struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Source      string        `json:"source"`
	Provider    provider.Kind `json:"provider,omitempty"`
	Model       string        `json:"model,omitempty"`
}

type Workflow struct {
	Operations []Operation `json:"operations"`
	Metadata   *Metadata   `json:"metadata,omitempty"`
}

// ParameterSpec describes one parameter an operation type accepts.
type ParameterSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Unit        string `json:"unit,omitempty"`
	Description string `json:"description,omitempty"`
}

// OperationSpec is one entry of the operation catalog.
type OperationSpec struct {
	Type        string          `json:"type"`
	Description string          `json:"description,omitempty"`
	Parameters  []ParameterSpec `json:"parameters,omitempty"`
}

type GenerationContext struct {
	Catalog     []OperationSpec   `json:"catalog,omitempty"`
	Current     *Workflow         `json:"current,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
}

type GenerationOptions struct {
	IncludeRationale   bool `json:"include_rationale"`
	ValidateParameters bool `json:"validate_parameters"`
	OptimizeForSafety  bool `json:"optimize_for_safety"`
}

type WorkflowRequest struct {
	Description string            `json:"description"`
	Context     GenerationContext `json:"context"`
	Options     GenerationOptions `json:"options"`
}

type WorkflowResponse struct {
	RequestID       string    `json:"request_id"`
	Workflow        *Workflow `json:"workflow,omitempty"`
	Explanation     string    `json:"explanation,omitempty"`
	Rationale       string    `json:"rationale,omitempty"`
	Warnings        []string  `json:"warnings"`
	Recommendations []string  `json:"recommendations"`
	Confidence      float64   `json:"confidence"`
	Metadata        Metadata  `json:"metadata"`
}

type AnalysisRequest struct {
	Workflow Workflow `json:"workflow"`
	Feedback string   `json:"feedback,omitempty"`
}

type AnalysisResponse struct {
	RequestID       string   `json:"request_id"`
	Workflow        Workflow `json:"workflow"`
	Analysis        string   `json:"analysis"`
	Recommendations []string `json:"recommendations"`
	Warnings        []string `json:"warnings"`
	Metadata        Metadata `json:"metadata"`
}
