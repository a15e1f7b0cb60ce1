package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
engine:
  max_turns: 8
  router:
    provider: anthropic
    model: claude-sonnet-4-20250514
retry:
  max_attempts: 3
  base_delay: 1s
breaker:
  failure_threshold: 3
  cool_down: 30s
cache:
  enabled: true
  backend: memory
  similarity_threshold: 0.95
  default_ttl: 6h
  ttl_by_specialist:
    research: 24h
    security: 1h
  non_cacheable: [builder]
  embedder: disabled
specialists:
  - name: research
    provider: anthropic
    model: claude-sonnet-4-20250514
    cacheable: true
  - name: builder
    provider: ollama
    model: qwen2.5-coder:14b
    self_retries: 2
    handoffs: [research]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ensemble.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Engine.MaxTurns)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay.Std())
	assert.Equal(t, 30*time.Second, cfg.Breaker.CoolDown.Std())
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTLBySpecialist["research"].Std())
	assert.Equal(t, []string{"builder"}, cfg.Cache.NonCacheable)
	require.Len(t, cfg.Specialists, 2)
	assert.Equal(t, 2, cfg.Specialists[1].SelfRetries)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
engine:
  router:
    provider: openai
    model: gpt-4o
specialists:
  - name: research
    provider: openai
    model: gpt-4o
`))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, 12, cfg.Engine.MaxTurns)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay.Std())
	assert.Equal(t, 0.95, cfg.Cache.SimilarityThreshold)
	assert.Equal(t, 6*time.Hour, cfg.Cache.DefaultTTL.Std())
	assert.Equal(t, CacheBackendMemory, cfg.Cache.Backend)
	assert.Equal(t, 2, cfg.Specialists[0].SelfRetries)
}

func TestLoadSubstitutesEnvVars(t *testing.T) {
	t.Setenv("TEST_ROUTER_MODEL", "claude-sonnet-4-20250514")

	cfg, err := Load(writeConfig(t, `
engine:
  router:
    provider: anthropic
    model: ${TEST_ROUTER_MODEL}
specialists:
  - name: research
    provider: anthropic
    model: ${TEST_ROUTER_MODEL}
`))
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-20250514", cfg.Engine.Router.Model)
}

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "no specialists",
			mutate:  func(c *Config) { c.Specialists = nil },
			wantErr: "at least one specialist",
		},
		{
			name:    "bad router provider",
			mutate:  func(c *Config) { c.Engine.Router.Provider = "palm" },
			wantErr: "not supported",
		},
		{
			name:    "duplicate specialist",
			mutate:  func(c *Config) { c.Specialists = append(c.Specialists, c.Specialists[0]) },
			wantErr: "duplicate",
		},
		{
			name:    "unknown handoff target",
			mutate:  func(c *Config) { c.Specialists[1].Handoffs = []string{"ghost"} },
			wantErr: "handoff target",
		},
		{
			name:    "redis backend without addr",
			mutate:  func(c *Config) { c.Cache.Backend = CacheBackendRedis },
			wantErr: "redis addr",
		},
		{
			name:    "threshold out of range",
			mutate:  func(c *Config) { c.Cache.SimilarityThreshold = 1.5 },
			wantErr: "similarity_threshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validYAML))
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDurationUnmarshalRejectsGarbage(t *testing.T) {
	_, err := Load(writeConfig(t, `
retry:
  base_delay: soon
engine:
  router:
    provider: openai
    model: gpt-4o
specialists:
  - name: research
    provider: openai
    model: gpt-4o
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}
