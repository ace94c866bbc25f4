package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// offlineEnv makes sure no backend key or external store leaks in from the
// environment, so commands run against the offline stand-in.
func offlineEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY",
		"POSTGRES_DSN", "REDIS_ADDR", "LABFLOW_CONFIG",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("LOG_LEVEL", "error")
}

func run(t *testing.T, args ...string) []byte {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { cfgFile = "" })
	require.NoError(t, rootCmd.Execute())
	return out.Bytes()
}

func TestStatusCommand_Offline(t *testing.T) {
	offlineEnv(t)

	var st map[string]any
	require.NoError(t, json.Unmarshal(run(t, "status", "--probe"), &st))

	assert.Equal(t, "offline", st["primary_provider"])
	assert.Empty(t, st["fallback_providers"])
	conn := st["connection"].(map[string]any)
	assert.Equal(t, true, conn["overall"])
}

func TestStatusCommand_ConfigOverlay(t *testing.T) {
	offlineEnv(t)
	path := filepath.Join(t.TempDir(), "labflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache_responses: false\nbreaker_threshold: 3\n"), 0o644))

	var st map[string]any
	require.NoError(t, json.Unmarshal(run(t, "--config", path, "status"), &st))

	cfg := st["config"].(map[string]any)
	assert.Equal(t, false, cfg["cache_responses"])
	assert.Equal(t, float64(3), cfg["breaker_threshold"])
}

func TestAnalyzeCommand_RejectsEmptyWorkflow(t *testing.T) {
	offlineEnv(t)
	path := filepath.Join(t.TempDir(), "wf.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"operations":[]}`), 0o644))

	rootCmd.SetArgs([]string{"analyze", path})
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no operations")
}
