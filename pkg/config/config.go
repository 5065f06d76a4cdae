// Package config loads the taskflow configuration from a YAML file with
// environment variables taking precedence, then applies defaults and
// validates the result.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zen-systems/taskflow/pkg/metrics"
	"github.com/zen-systems/taskflow/pkg/rollout"
	"github.com/zen-systems/taskflow/pkg/router"
)

// Config is the full application configuration.
type Config struct {
	APIKeys   APIKeys         `yaml:"api_keys"`
	Router    RouterConfig    `yaml:"router"`
	Planner   PlannerConfig   `yaml:"planner"`
	Rollout   RolloutConfig   `yaml:"rollout"`
	Agent     AgentConfig     `yaml:"agent"`
	RAG       RAGConfig       `yaml:"rag"`
	MCP       MCPConfig       `yaml:"mcp"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Store     StoreConfig     `yaml:"store"`
	LogLevel  string          `yaml:"log_level"`
}

// APIKeys holds provider credentials. Environment variables override the
// file values.
type APIKeys struct {
	OpenAI    string `yaml:"openai"`
	Anthropic string `yaml:"anthropic"`
	Google    string `yaml:"google"`
}

// RouterConfig configures the resilient model router.
type RouterConfig struct {
	Strategy      string           `yaml:"load_balancing_strategy"`
	DefaultModel  string           `yaml:"default_model"`
	CallTimeoutMs int              `yaml:"call_timeout_ms"`
	Providers     []ProviderConfig `yaml:"providers"`
}

// ProviderConfig is the YAML shape of one provider entry.
type ProviderConfig struct {
	Name            string               `yaml:"name"`
	BaseURL         string               `yaml:"base_url,omitempty"`
	Models          []string             `yaml:"models"`
	Priority        int                  `yaml:"priority"`
	CostPer1KInput  float64              `yaml:"cost_per_1k_input"`
	CostPer1KOutput float64              `yaml:"cost_per_1k_output"`
	RateLimit       RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry           RetryConfig          `yaml:"retry"`
}

// RateLimitConfig bounds a provider's call rate.
type RateLimitConfig struct {
	MaxConcurrent   int     `yaml:"max_concurrent"`
	TokensPerSecond float64 `yaml:"tokens_per_second"`
}

// CircuitBreakerConfig tunes a provider's circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	SuccessThreshold int `yaml:"success_threshold"`
	TimeoutMs        int `yaml:"timeout_ms"`
}

// RetryConfig defines bounded retry with exponential backoff.
type RetryConfig struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialDelayMs    int     `yaml:"initial_delay_ms"`
	MaxDelayMs        int     `yaml:"max_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

// PlannerConfig selects the routing classifier model.
type PlannerConfig struct {
	Model string `yaml:"model"`
}

// RolloutConfig stages the policy layer across traffic.
type RolloutConfig struct {
	Mode                   string        `yaml:"mode"`
	Percent                int           `yaml:"percent"`
	LowConfidenceThreshold float64       `yaml:"low_confidence_threshold"`
	SuccessGates           metrics.Gates `yaml:"success_gates"`
}

// AgentConfig tunes the policy-enforcement supervisor.
type AgentConfig struct {
	RetrievalOnly bool   `yaml:"retrieval_only"`
	MaxIterations int    `yaml:"max_iterations"`
	ExecTimeoutMs int    `yaml:"exec_timeout_ms"`
	AnswerModel   string `yaml:"answer_model"`
}

// RAGConfig configures document retrieval.
type RAGConfig struct {
	Enabled bool `yaml:"enabled"`
	TopK    int  `yaml:"top_k"`
}

// MCPConfig points at the domain tool server.
type MCPConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// SynthesisConfig selects the evidence formatter model. An empty model
// disables the model-assisted pass; the heuristic renderer still runs.
type SynthesisConfig struct {
	Model string `yaml:"model"`
}

// StoreConfig configures the optional decision audit log.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Load reads configuration from path. An empty path falls back to
// ~/.taskflow/taskflow.yaml; a missing fallback file yields the defaults.
// An explicitly given path must exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving config directory: %w", err)
		}
		path = filepath.Join(home, ".taskflow", "taskflow.yaml")
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case explicit:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the file values.
func (c *Config) applyEnv() {
	c.APIKeys.OpenAI = envOr("OPENAI_API_KEY", c.APIKeys.OpenAI)
	c.APIKeys.Anthropic = envOr("ANTHROPIC_API_KEY", c.APIKeys.Anthropic)
	c.APIKeys.Google = envOr("GOOGLE_API_KEY", c.APIKeys.Google)

	c.Rollout.Mode = envOr("TASKFLOW_ROLLOUT_MODE", c.Rollout.Mode)
	if v := os.Getenv("TASKFLOW_ROLLOUT_PERCENT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Rollout.Percent = p
		}
	}
	c.MCP.Endpoint = envOr("TASKFLOW_MCP_ENDPOINT", c.MCP.Endpoint)
	c.Store.Path = envOr("TASKFLOW_DB_PATH", c.Store.Path)
	c.LogLevel = envOr("TASKFLOW_LOG_LEVEL", c.LogLevel)
}

func (c *Config) applyDefaults() {
	if c.Router.Strategy == "" {
		c.Router.Strategy = string(router.StrategyRoundRobin)
	}
	if c.Router.DefaultModel == "" {
		c.Router.DefaultModel = "gpt-4o-mini"
	}
	if c.Router.CallTimeoutMs == 0 {
		c.Router.CallTimeoutMs = 60000
	}
	if len(c.Router.Providers) == 0 {
		c.Router.Providers = defaultProviders()
	}
	if c.Planner.Model == "" {
		c.Planner.Model = c.Router.DefaultModel
	}
	if c.Agent.AnswerModel == "" {
		c.Agent.AnswerModel = c.Router.DefaultModel
	}
	if c.Rollout.Mode == "" {
		c.Rollout.Mode = string(rollout.ModeOff)
	}
	if c.Rollout.LowConfidenceThreshold == 0 {
		c.Rollout.LowConfidenceThreshold = 0.45
	}
	if c.RAG.TopK == 0 {
		c.RAG.TopK = 5
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 6
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate rejects configurations the decision layer cannot run with.
func (c *Config) Validate() error {
	if !rollout.Mode(c.Rollout.Mode).IsValid() {
		return fmt.Errorf("rollout.mode %q: must be off, shadow, or enforced", c.Rollout.Mode)
	}
	if c.Rollout.Percent < 0 || c.Rollout.Percent > 100 {
		return fmt.Errorf("rollout.percent %d: must be in [0,100]", c.Rollout.Percent)
	}
	if c.Rollout.LowConfidenceThreshold < 0 || c.Rollout.LowConfidenceThreshold > 1 {
		return fmt.Errorf("rollout.low_confidence_threshold %g: must be in [0,1]", c.Rollout.LowConfidenceThreshold)
	}
	switch router.Strategy(c.Router.Strategy) {
	case router.StrategyRoundRobin, router.StrategyCostPriority:
	default:
		return fmt.Errorf("router.load_balancing_strategy %q: must be %s or %s",
			c.Router.Strategy, router.StrategyRoundRobin, router.StrategyCostPriority)
	}
	seen := make(map[string]bool)
	for i, p := range c.Router.Providers {
		if p.Name == "" {
			return fmt.Errorf("router.providers[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("router.providers: duplicate name %q", p.Name)
		}
		seen[p.Name] = true
		if len(p.Models) == 0 {
			return fmt.Errorf("router.providers[%d] (%s): at least one model is required", i, p.Name)
		}
	}
	if c.RAG.TopK < 1 {
		return fmt.Errorf("rag.top_k %d: must be positive", c.RAG.TopK)
	}
	return nil
}

// HasProvider reports whether the named provider has the credentials it
// needs. Local providers need none.
func (c *Config) HasProvider(name string) bool {
	switch name {
	case "openai":
		return c.APIKeys.OpenAI != ""
	case "anthropic":
		return c.APIKeys.Anthropic != ""
	case "google":
		return c.APIKeys.Google != ""
	case "ollama":
		return true
	default:
		return false
	}
}

// RouterConfig converts the YAML router section into the router's own
// configuration type.
func (rc RouterConfig) ToRouter() router.Config {
	return router.Config{
		Strategy:     router.Strategy(rc.Strategy),
		DefaultModel: rc.DefaultModel,
		CallTimeout:  time.Duration(rc.CallTimeoutMs) * time.Millisecond,
	}
}

// ToRouter converts one provider entry into the router's provider
// configuration.
func (pc ProviderConfig) ToRouter() router.ProviderConfig {
	return router.ProviderConfig{
		Name:            pc.Name,
		Models:          pc.Models,
		Priority:        pc.Priority,
		CostPer1KInput:  pc.CostPer1KInput,
		CostPer1KOutput: pc.CostPer1KOutput,
		RateLimit: router.RateLimitConfig{
			MaxConcurrent:   pc.RateLimit.MaxConcurrent,
			TokensPerSecond: pc.RateLimit.TokensPerSecond,
		},
		Breaker: router.BreakerConfig{
			FailureThreshold: pc.CircuitBreaker.FailureThreshold,
			SuccessThreshold: pc.CircuitBreaker.SuccessThreshold,
			Timeout:          time.Duration(pc.CircuitBreaker.TimeoutMs) * time.Millisecond,
		},
		Retry: router.RetryConfig{
			MaxAttempts:       pc.Retry.MaxAttempts,
			InitialDelay:      time.Duration(pc.Retry.InitialDelayMs) * time.Millisecond,
			MaxDelay:          time.Duration(pc.Retry.MaxDelayMs) * time.Millisecond,
			BackoffMultiplier: pc.Retry.BackoffMultiplier,
		},
	}
}

// ToRollout converts the YAML rollout section into the rollout package's
// configuration.
func (rc RolloutConfig) ToRollout() rollout.Config {
	return rollout.Config{
		Mode:    rollout.Mode(rc.Mode),
		Percent: rc.Percent,
	}
}

// defaultProviders mirrors the stock provider set: hosted providers by
// priority with a local ollama fallback.
func defaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			Name:            "openai",
			Models:          []string{"gpt-4o", "gpt-4o-mini"},
			Priority:        4,
			CostPer1KInput:  0.0025,
			CostPer1KOutput: 0.01,
		},
		{
			Name:            "anthropic",
			Models:          []string{"claude-sonnet-4-20250514"},
			Priority:        3,
			CostPer1KInput:  0.003,
			CostPer1KOutput: 0.015,
		},
		{
			Name:            "google",
			Models:          []string{"gemini-2.0-flash"},
			Priority:        2,
			CostPer1KInput:  0.0001,
			CostPer1KOutput: 0.0004,
		},
		{
			Name:     "ollama",
			BaseURL:  "http://localhost:11434/v1",
			Models:   []string{"llama3.1"},
			Priority: 1,
		},
	}
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
