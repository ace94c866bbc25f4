package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/labflow/config"
	"github.com/vnmchuo/labflow/internal/provider"
)

func TestStatusConfig_FeedsBackIntoUpdate(t *testing.T) {
	m := newTestManager(t, config.Service{
		Primary: provider.Config{
			Kind:          provider.KindOffline,
			Timeout:       30 * time.Second,
			RetryAttempts: 2,
			RetryDelay:    time.Second,
		},
		Fallbacks:      []provider.Config{{Kind: provider.KindOffline, Timeout: 5 * time.Second}},
		EnableFallback: true,
	}, newRegistry())

	st, err := m.Status(context.Background())
	require.NoError(t, err)

	raw, err := json.Marshal(st.Config)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"timeout":"30s"`)
	assert.Contains(t, string(raw), `"retry_delay":"1s"`)

	u, err := config.DecodeUpdateJSON(bytes.NewReader(raw))
	require.NoError(t, err)
	require.NotNil(t, u.Primary)
	require.NotNil(t, u.Primary.Timeout)
	require.NotNil(t, u.Primary.RetryDelay)
	assert.Equal(t, 30*time.Second, time.Duration(*u.Primary.Timeout))
	assert.Equal(t, time.Second, time.Duration(*u.Primary.RetryDelay))

	merged, err := config.Service{}.Merge(u)
	require.NoError(t, err)
	assert.Equal(t, st.Config, merged)
}
