package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/vnmchuo/labflow/config"
	"github.com/vnmchuo/labflow/internal/provider"
)

type ConnectionReport struct {
	Primary   bool   `json:"primary"`
	Fallbacks []bool `json:"fallbacks"`
	Overall   bool   `json:"overall"`
}

type Status struct {
	Phase             Phase           `json:"phase"`
	PrimaryProvider   provider.Kind   `json:"primary_provider"`
	FallbackProviders []provider.Kind `json:"fallback_providers"`
	CacheSize         int             `json:"cache_size"`
	Config            config.Service  `json:"config"`
}

// TestConnection probes every client concurrently. A probe that fails only
// marks its own slot false.
func (m *Manager) TestConnection(ctx context.Context) (ConnectionReport, error) {
	if err := m.Initialize(ctx); err != nil {
		return ConnectionReport{}, err
	}

	m.mu.RLock()
	clients := make([]provider.Client, 0, 1+len(m.fallbacks))
	clients = append(clients, m.primary.client)
	for _, l := range m.fallbacks {
		clients = append(clients, l.client)
	}
	m.mu.RUnlock()

	results := make([]bool, len(clients))
	var wg sync.WaitGroup
	for i, c := range clients {
		wg.Add(1)
		go func(i int, c provider.Client) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.logger.Warn("connection probe panicked", "provider", c.Kind(), "panic", r)
				}
			}()
			results[i] = c.TestConnection(ctx)
		}(i, c)
	}
	wg.Wait()

	report := ConnectionReport{
		Primary:   results[0],
		Fallbacks: results[1:],
	}
	for _, ok := range results {
		if ok {
			report.Overall = true
			break
		}
	}
	return report, nil
}

// UpdateConfig merges u into the held configuration. When u touches the
// primary or the fallback list, those clients are rebuilt before the new
// snapshot is swapped in. A rejected update leaves the manager unchanged.
func (m *Manager) UpdateConfig(ctx context.Context, u config.Update) error {
	if err := m.Initialize(ctx); err != nil {
		return err
	}

	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	m.mu.RLock()
	current := m.cfg
	primary := m.primary
	fallbacks := m.fallbacks
	m.mu.RUnlock()

	next, err := current.Merge(u)
	if err != nil {
		return fmt.Errorf("invalid configuration update: %w", err)
	}
	rewire := next.BreakerThreshold != current.BreakerThreshold

	if u.RebuildsPrimary() {
		client, err := m.factory(next.Primary)
		if err != nil {
			return fmt.Errorf("failed to build primary client: %w", err)
		}
		primary = m.newLink(client, "primary", next.BreakerThreshold)
	} else if rewire {
		primary = m.newLink(primary.client, "primary", next.BreakerThreshold)
	}

	if u.RebuildsFallbacks() {
		built := make([]*link, 0, len(next.Fallbacks))
		for i, fc := range next.Fallbacks {
			client, err := m.factory(fc)
			if err != nil {
				return fmt.Errorf("failed to build fallback client %d: %w", i, err)
			}
			built = append(built, m.newLink(client, fmt.Sprintf("fallback-%d", i), next.BreakerThreshold))
		}
		fallbacks = built
	} else if rewire {
		rebuilt := make([]*link, len(fallbacks))
		for i, l := range fallbacks {
			rebuilt[i] = m.newLink(l.client, fmt.Sprintf("fallback-%d", i), next.BreakerThreshold)
		}
		fallbacks = rebuilt
	}

	m.mu.Lock()
	m.cfg = next
	m.primary = primary
	m.fallbacks = fallbacks
	m.mu.Unlock()

	m.logger.Info("configuration updated",
		"primary", primary.client.Kind(),
		"fallbacks", len(fallbacks),
		"rebuilt_primary", u.RebuildsPrimary(),
		"rebuilt_fallbacks", u.RebuildsFallbacks(),
	)
	return nil
}

func (m *Manager) ClearCache(ctx context.Context) error {
	if err := m.Initialize(ctx); err != nil {
		return err
	}
	if err := m.cache.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	m.logger.Info("response cache cleared")
	return nil
}

// Status returns a snapshot with API keys masked.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	if err := m.Initialize(ctx); err != nil {
		return Status{}, err
	}

	m.mu.RLock()
	st := Status{
		Phase:             m.phase,
		PrimaryProvider:   m.primary.client.Kind(),
		FallbackProviders: make([]provider.Kind, 0, len(m.fallbacks)),
		Config:            m.cfg.Redacted(),
	}
	for _, l := range m.fallbacks {
		st.FallbackProviders = append(st.FallbackProviders, l.client.Kind())
	}
	m.mu.RUnlock()

	size, err := m.cache.Len(ctx)
	if err != nil {
		m.logger.Warn("cache size unavailable", "error", err)
	}
	st.CacheSize = size
	return st, nil
}

// Phase reports the initialization phase without waiting.
func (m *Manager) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}
