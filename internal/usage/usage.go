// Package usage keeps a ledger of orchestrated chat requests: which backend
// answered, how many tokens it cost and whether the cache or a fallback was
// involved.
package usage

import (
	"context"
	"time"
)

type Record struct {
	ID               string    `json:"id"`
	RequestID        string    `json:"request_id"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	LatencyMs        int64     `json:"latency_ms"`
	Cached           bool      `json:"cached"`
	FallbackDepth    int       `json:"fallback_depth"` // 0 = primary
	ErrorCode        string    `json:"error_code,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

type ProviderSummary struct {
	Requests    int `json:"requests"`
	TotalTokens int `json:"total_tokens"`
}

type Summary struct {
	TotalRequests  int                        `json:"total_requests"`
	CachedRequests int                        `json:"cached_requests"`
	FailedRequests int                        `json:"failed_requests"`
	TotalTokens    int                        `json:"total_tokens"`
	ByProvider     map[string]ProviderSummary `json:"by_provider"`
}

// Recorder is what the orchestration manager needs from a ledger.
type Recorder interface {
	Record(ctx context.Context, r *Record) error
}

type Store interface {
	Recorder
	List(ctx context.Context, from, to time.Time) ([]*Record, error)
	Summarize(ctx context.Context, from, to time.Time) (*Summary, error)
}

func summarize(records []*Record) *Summary {
	s := &Summary{ByProvider: make(map[string]ProviderSummary)}
	for _, r := range records {
		s.TotalRequests++
		if r.Cached {
			s.CachedRequests++
		}
		if r.ErrorCode != "" {
			s.FailedRequests++
		}
		s.TotalTokens += r.TotalTokens

		if r.Provider == "" {
			continue
		}
		p := s.ByProvider[r.Provider]
		p.Requests++
		p.TotalTokens += r.TotalTokens
		s.ByProvider[r.Provider] = p
	}
	return s
}
