package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babelloop/babelloop/internal/provider"
)

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.yml")

	_, err := Load(path, false)
	assert.Error(t, err)

	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, provider.KindRemote, cfg.Translate.Provider.Kind)
	assert.Equal(t, 1000, cfg.Translate.Memory.CacheSize)
	assert.True(t, cfg.LocalService.AutoStart)
}

func TestLoadAppliesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "babelloop.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
metric:
  listen: "127.0.0.1:9090"
translate:
  provider:
    kind: openai
    model: gpt-4o-mini
  retry:
    max_attempts: 7
  memory:
    cache_size: 50
    similarity_threshold: 0.9
local_service:
  auto_start: false
  timeout_seconds: 12
`), 0o644))

	cfg, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:9090", cfg.Metric.Listen)
	assert.Equal(t, provider.KindOpenAI, cfg.Translate.Provider.Kind)
	assert.Equal(t, "gpt-4o-mini", cfg.Translate.Provider.Model)
	assert.Equal(t, 7, cfg.Translate.Retry.MaxAttempts)
	assert.Equal(t, 50, cfg.Translate.Memory.CacheSize)
	assert.InDelta(t, 0.9, cfg.Translate.Memory.SimilarityThreshold, 0.001)
	assert.False(t, cfg.LocalService.AutoStart)
	assert.Equal(t, 12, cfg.LocalService.TimeoutSeconds)

	// Untouched sections keep their defaults.
	assert.Equal(t, 500*time.Millisecond, cfg.Translate.Retry.InitialDelay)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "babelloop.yml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: [unclosed"), 0o644))

	_, err := Load(path, false)
	assert.Error(t, err)
}
