// Package config loads and validates the orchestrator configuration from
// YAML with environment variable substitution, plus the encrypted secrets
// store.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider names accepted for specialists and the router.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderGemini    = "gemini"
)

// Embedder backends for the semantic cache.
const (
	EmbedderOpenAI   = "openai"
	EmbedderOllama   = "ollama"
	EmbedderDisabled = "disabled"
)

// Cache store backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// envVarRegex matches ${VAR} placeholders in the raw config file.
var envVarRegex = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*\}`)

// Duration wraps time.Duration so YAML values like "30s" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// RouterConfig names the model that performs routing decisions.
type RouterConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// EngineConfig holds turn-loop tunables.
type EngineConfig struct {
	MaxTurns           int          `yaml:"max_turns"`
	ContextTokenBudget int          `yaml:"context_token_budget"`
	Router             RouterConfig `yaml:"router"`
}

// RetryConfig holds resilient-call tunables.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
}

// BreakerConfig holds circuit-breaker tunables.
type BreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	CoolDown         Duration `yaml:"cool_down"`
}

// CacheConfig holds semantic-cache tunables.
type CacheConfig struct {
	Enabled             bool                `yaml:"enabled"`
	Backend             string              `yaml:"backend"`
	SimilarityThreshold float64             `yaml:"similarity_threshold"`
	DefaultTTL          Duration            `yaml:"default_ttl"`
	TTLBySpecialist     map[string]Duration `yaml:"ttl_by_specialist"`
	NonCacheable        []string            `yaml:"non_cacheable"`
	Embedder            string              `yaml:"embedder"`
	EmbedModel          string              `yaml:"embed_model"`
}

// RedisConfig holds connection settings for the redis cache backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CheckpointConfig holds the SQLite checkpoint location.
type CheckpointConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig holds the optional Prometheus server used for usage queries.
type MetricsConfig struct {
	PrometheusURL string `yaml:"prometheus_url"`
}

// SpecialistConfig declares one specialist in the catalog.
type SpecialistConfig struct {
	Name        string   `yaml:"name"`
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	Prompt      string   `yaml:"prompt"`
	Cacheable   bool     `yaml:"cacheable"`
	SelfRetries int      `yaml:"self_retries"`
	Handoffs    []string `yaml:"handoffs"`
	Fallback    string   `yaml:"fallback"`
}

// OllamaConfig holds the local inference host.
type OllamaConfig struct {
	HostURL string `yaml:"host_url"`
}

// Config is the root configuration document.
type Config struct {
	Server      ServerConfig       `yaml:"server"`
	Engine      EngineConfig       `yaml:"engine"`
	Retry       RetryConfig        `yaml:"retry"`
	Breaker     BreakerConfig      `yaml:"breaker"`
	Cache       CacheConfig        `yaml:"cache"`
	Redis       RedisConfig        `yaml:"redis"`
	Checkpoint  CheckpointConfig   `yaml:"checkpoint"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Ollama      OllamaConfig       `yaml:"ollama"`
	DataDir     string             `yaml:"data_dir"`
	Specialists []SpecialistConfig `yaml:"specialists"`
}

// Load reads, substitutes, defaults, and validates the config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Replace ${VAR} placeholders with environment values; unknown
	// placeholders are left as-is so validation can surface them.
	raw := envVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
		if value := os.Getenv(match[2 : len(match)-1]); value != "" {
			return value
		}
		return match
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Engine.MaxTurns == 0 {
		c.Engine.MaxTurns = 12
	}
	if c.Engine.ContextTokenBudget == 0 {
		c.Engine.ContextTokenBudget = 8000
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = Duration(time.Second)
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 3
	}
	if c.Breaker.CoolDown == 0 {
		c.Breaker.CoolDown = Duration(30 * time.Second)
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = CacheBackendMemory
	}
	if c.Cache.SimilarityThreshold == 0 {
		c.Cache.SimilarityThreshold = 0.95
	}
	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = Duration(6 * time.Hour)
	}
	if c.Cache.Embedder == "" {
		c.Cache.Embedder = EmbedderDisabled
	}
	if c.Checkpoint.Path == "" {
		c.Checkpoint.Path = "ensemble.db"
	}
	if c.DataDir == "" {
		c.DataDir = ".ensemble"
	}
	if c.Ollama.HostURL == "" {
		c.Ollama.HostURL = "http://localhost:11434"
	}
	for i := range c.Specialists {
		if c.Specialists[i].SelfRetries == 0 {
			c.Specialists[i].SelfRetries = 2
		}
	}
}

func validProvider(p string) bool {
	switch p {
	case ProviderAnthropic, ProviderOpenAI, ProviderOllama, ProviderGemini:
		return true
	}
	return false
}

// Validate checks cross-field consistency before the config is used.
func (c *Config) Validate() error {
	if len(c.Specialists) == 0 {
		return fmt.Errorf("at least one specialist must be configured")
	}
	if !validProvider(c.Engine.Router.Provider) {
		return fmt.Errorf("router provider %q is not supported", c.Engine.Router.Provider)
	}
	if c.Engine.Router.Model == "" {
		return fmt.Errorf("router model cannot be empty")
	}
	if c.Engine.MaxTurns < 1 {
		return fmt.Errorf("engine max_turns must be positive, got %d", c.Engine.MaxTurns)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker failure_threshold must be positive, got %d", c.Breaker.FailureThreshold)
	}
	if c.Cache.SimilarityThreshold <= 0 || c.Cache.SimilarityThreshold > 1 {
		return fmt.Errorf("cache similarity_threshold must be in (0, 1], got %v", c.Cache.SimilarityThreshold)
	}
	switch c.Cache.Backend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required when cache backend is %q", CacheBackendRedis)
		}
	default:
		return fmt.Errorf("cache backend %q is not supported", c.Cache.Backend)
	}
	switch c.Cache.Embedder {
	case EmbedderOpenAI, EmbedderOllama, EmbedderDisabled:
	default:
		return fmt.Errorf("cache embedder %q is not supported", c.Cache.Embedder)
	}

	names := make(map[string]bool, len(c.Specialists))
	for i := range c.Specialists {
		sp := &c.Specialists[i]
		if sp.Name == "" {
			return fmt.Errorf("specialist %d has no name", i)
		}
		if names[sp.Name] {
			return fmt.Errorf("duplicate specialist name %q", sp.Name)
		}
		names[sp.Name] = true
		if !validProvider(sp.Provider) {
			return fmt.Errorf("specialist %q: provider %q is not supported", sp.Name, sp.Provider)
		}
		if sp.Model == "" {
			return fmt.Errorf("specialist %q: model cannot be empty", sp.Name)
		}
		if sp.SelfRetries < 0 {
			return fmt.Errorf("specialist %q: self_retries cannot be negative", sp.Name)
		}
	}

	// Every declared handoff target must name a configured specialist.
	for i := range c.Specialists {
		sp := &c.Specialists[i]
		for _, target := range sp.Handoffs {
			if !names[target] {
				return fmt.Errorf("specialist %q: handoff target %q is not a configured specialist", sp.Name, target)
			}
		}
	}

	return nil
}
