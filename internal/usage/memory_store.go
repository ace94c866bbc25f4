package usage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the ledger used when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) Record(ctx context.Context, r *Record) error {
	c := *r
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	r.ID, r.CreatedAt = c.ID, c.CreatedAt

	s.mu.Lock()
	s.records = append(s.records, &c)
	s.mu.Unlock()
	return nil
}

// List returns records created in [from, to], newest first.
func (s *MemoryStore) List(ctx context.Context, from, to time.Time) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, r := range s.records {
		if r.CreatedAt.Before(from) || r.CreatedAt.After(to) {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Summarize(ctx context.Context, from, to time.Time) (*Summary, error) {
	records, err := s.List(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return summarize(records), nil
}
