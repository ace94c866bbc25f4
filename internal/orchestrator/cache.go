package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"

	"github.com/vnmchuo/labflow/internal/provider"
)

// Cache stores responses by conversation key. Entries never expire; Set
// overwrites.
type Cache interface {
	Get(ctx context.Context, key string) (*provider.Response, bool, error)
	Set(ctx context.Context, key string, resp *provider.Response) error
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int, error)
}

// CacheKey is the hex SHA-256 of the JSON encoding of the ordered messages.
func CacheKey(messages []provider.Message) string {
	data, _ := json.Marshal(messages)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*provider.Response
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*provider.Response)}
}

func (c *MemoryCache) Get(ctx context.Context, key string) (*provider.Response, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	resp, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	cp := *resp
	return &cp, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, resp *provider.Response) error {
	cp := *resp
	c.mu.Lock()
	c.entries[key] = &cp
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]*provider.Response)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Len(ctx context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries), nil
}
