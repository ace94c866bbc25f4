package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the ledger table. It is safe to run on every start.
const Schema = `
CREATE TABLE IF NOT EXISTS llm_usage (
	id                UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	request_id        TEXT NOT NULL,
	provider          TEXT NOT NULL DEFAULT '',
	model             TEXT NOT NULL DEFAULT '',
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens      INTEGER NOT NULL DEFAULT 0,
	latency_ms        BIGINT NOT NULL DEFAULT 0,
	cached            BOOLEAN NOT NULL DEFAULT FALSE,
	fallback_depth    INTEGER NOT NULL DEFAULT 0,
	error_code        TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS llm_usage_created_at_idx ON llm_usage (created_at);
`

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate usage schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Record(ctx context.Context, r *Record) error {
	query := `
		INSERT INTO llm_usage (request_id, provider, model, prompt_tokens, completion_tokens, total_tokens, latency_ms, cached, fallback_depth, error_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		r.RequestID, r.Provider, r.Model,
		r.PromptTokens, r.CompletionTokens, r.TotalTokens,
		r.LatencyMs, r.Cached, r.FallbackDepth, r.ErrorCode,
	).Scan(&r.ID, &r.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}

	return nil
}

func (s *PostgresStore) List(ctx context.Context, from, to time.Time) ([]*Record, error) {
	query := `
		SELECT id, request_id, provider, model, prompt_tokens, completion_tokens, total_tokens, latency_ms, cached, fallback_depth, error_code, created_at
		FROM llm_usage
		WHERE created_at BETWEEN $1 AND $2
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var r Record
		err := rows.Scan(
			&r.ID, &r.RequestID, &r.Provider, &r.Model,
			&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens,
			&r.LatencyMs, &r.Cached, &r.FallbackDepth, &r.ErrorCode, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage records: %w", err)
	}

	return records, nil
}

func (s *PostgresStore) Summarize(ctx context.Context, from, to time.Time) (*Summary, error) {
	query := `
		SELECT provider,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE cached),
		       COUNT(*) FILTER (WHERE error_code <> ''),
		       COALESCE(SUM(total_tokens), 0)
		FROM llm_usage
		WHERE created_at BETWEEN $1 AND $2
		GROUP BY provider
	`
	rows, err := s.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}
	defer rows.Close()

	sum := &Summary{ByProvider: make(map[string]ProviderSummary)}
	for rows.Next() {
		var (
			provider                 string
			requests, cached, failed int
			tokens                   int64
		)
		if err := rows.Scan(&provider, &requests, &cached, &failed, &tokens); err != nil {
			return nil, fmt.Errorf("failed to scan usage summary: %w", err)
		}
		sum.TotalRequests += requests
		sum.CachedRequests += cached
		sum.FailedRequests += failed
		sum.TotalTokens += int(tokens)
		if provider != "" {
			sum.ByProvider[provider] = ProviderSummary{Requests: requests, TotalTokens: int(tokens)}
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage summary: %w", err)
	}

	return sum, nil
}
