// Package api exposes the orchestrator and the workflow pipelines over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/labflow/config"
	"github.com/vnmchuo/labflow/internal/llmerr"
	"github.com/vnmchuo/labflow/internal/orchestrator"
	"github.com/vnmchuo/labflow/internal/pipeline"
	"github.com/vnmchuo/labflow/internal/usage"
)

// Orchestrator is the management surface of *orchestrator.Manager.
type Orchestrator interface {
	Status(ctx context.Context) (orchestrator.Status, error)
	TestConnection(ctx context.Context) (orchestrator.ConnectionReport, error)
	ClearCache(ctx context.Context) error
	UpdateConfig(ctx context.Context, u config.Update) error
}

type Generator interface {
	Generate(ctx context.Context, req pipeline.WorkflowRequest) *pipeline.WorkflowResponse
}

type Analyzer interface {
	Analyze(ctx context.Context, req pipeline.AnalysisRequest) *pipeline.AnalysisResponse
}

const maxBodyBytes = 1 << 20

type Handler struct {
	orch      Orchestrator
	generator Generator
	analyzer  Analyzer
	usage     usage.Store
	tracer    trace.Tracer
	logger    *slog.Logger
}

func NewHandler(orch Orchestrator, generator Generator, analyzer Analyzer, store usage.Store, tracer trace.Tracer, logger *slog.Logger) *Handler {
	return &Handler{
		orch:      orch,
		generator: generator,
		analyzer:  analyzer,
		usage:     store,
		tracer:    tracer,
		logger:    logger.With("component", "api"),
	}
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "labflow"})
}

func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req pipeline.WorkflowRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}

	ctx, span := h.tracer.Start(r.Context(), "api.generate")
	defer span.End()
	span.SetAttributes(attribute.Int("catalog_size", len(req.Context.Catalog)))

	writeJSON(w, http.StatusOK, h.generator.Generate(ctx, req))
}

func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req pipeline.AnalysisRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Workflow.Operations) == 0 {
		writeError(w, http.StatusBadRequest, "workflow must contain at least one operation")
		return
	}

	ctx, span := h.tracer.Start(r.Context(), "api.analyze")
	defer span.End()

	writeJSON(w, http.StatusOK, h.analyzer.Analyze(ctx, req))
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.orch.Status(r.Context())
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) HandleTestConnection(w http.ResponseWriter, r *http.Request) {
	report, err := h.orch.TestConnection(r.Context())
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.ClearCache(r.Context()); err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *Handler) HandleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	u, err := config.DecodeUpdateJSON(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.orch.UpdateConfig(r.Context(), u); err != nil {
		h.writeErr(w, err)
		return
	}

	st, err := h.orch.Status(r.Context())
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	from := now.AddDate(0, 0, -30) // Default: last 30 days
	to := now

	if s := r.URL.Query().Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' date format (use RFC3339)")
			return
		}
		from = t
	}
	if s := r.URL.Query().Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' date format (use RFC3339)")
			return
		}
		to = t
	}

	summary, err := h.usage.Summarize(r.Context(), from, to)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from":    from,
		"to":      to,
		"summary": summary,
	})
}

// writeErr maps domain errors to status codes.
func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	default:
		switch llmerr.CodeOf(err) {
		case llmerr.CodeInvalidConfig, llmerr.CodeUnsupportedProvider, llmerr.CodeMissingAPIKey:
			status = http.StatusBadRequest
		}
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "status", status, "error", err)
	}
	writeError(w, status, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
