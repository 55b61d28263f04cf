package core

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the declarative configuration for the orchestration core.
// It is loaded once from a single YAML document and treated as immutable
// afterwards. Priority: defaults, then file, then environment overrides.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Planning  PlanningConfig  `yaml:"planning"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Reasoning ReasoningConfig `yaml:"reasoning_trace"`
	Models    ModelsConfig    `yaml:"models"`
	LLM       LLMConfig       `yaml:"llm"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Prompts   PromptsConfig   `yaml:"prompts"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	Screenshots ScreenshotsConfig `yaml:"screenshots"`
}

// ServerConfig configures the WebSocket transport
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DeliveryConfig drives delivery-intent detection and enforcement.
// No verbs or tool names are hard-coded anywhere else.
type DeliveryConfig struct {
	IntentVerbs  []string                 `yaml:"intent_verbs"`
	RequiredTool string                   `yaml:"required_tool"`
	Validation   DeliveryValidationConfig `yaml:"validation"`
}

// DeliveryValidationConfig selects reject-vs-warn behavior for missing delivery tools
type DeliveryValidationConfig struct {
	RejectMissingTool bool `yaml:"reject_missing_tool"`
}

// PlanningConfig bounds the plan repair and replan loops
type PlanningConfig struct {
	MaxRepairRounds int `yaml:"max_repair_rounds"`
	MaxReplanRounds int `yaml:"max_replan_rounds"`
}

// ExecutorConfig bounds per-step behavior
type ExecutorConfig struct {
	PerStepRetries    int `yaml:"per_step_retries"`
	DefaultDeadlineMS int `yaml:"default_deadline_ms"`
}

// SandboxConfig restricts file operations to the listed roots
type SandboxConfig struct {
	Roots []string `yaml:"roots"`
}

// ReasoningConfig toggles the per-interaction reasoning trace
type ReasoningConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ModelConstraint overrides temperature for model names matching Pattern
type ModelConstraint struct {
	Pattern     string  `yaml:"pattern"`
	Temperature float32 `yaml:"temperature"`
	Reason      string  `yaml:"reason"`

	re *regexp.Regexp
}

// AgentDefaults carries per-agent generation defaults
type AgentDefaults struct {
	Temperature float32 `yaml:"temperature"`
}

// ModelsConfig holds model constraints and per-agent defaults
type ModelsConfig struct {
	Constraints   []ModelConstraint        `yaml:"constraints"`
	AgentDefaults map[string]AgentDefaults `yaml:"agent_defaults"`
}

// LLMConfig configures the OpenAI-compatible chat client
type LLMConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// SessionsConfig configures session persistence
type SessionsConfig struct {
	Dir string `yaml:"dir"`
}

// PromptsConfig configures the prompt store
type PromptsConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// RedisConfig selects the optional Redis session store backend
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// LoggingConfig configures the structured logger
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig configures tracing/metrics export
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "otlp" or "stdout"
	Endpoint string `yaml:"endpoint"`
}

// ScreenshotsConfig locates captured screenshots referenced by tools
type ScreenshotsConfig struct {
	BaseDir string `yaml:"base_dir"`
}

// DefaultConfig returns the configuration defaults.
// Delivery verbs and the required tool deliberately have no built-in
// fallback beyond this function: code paths read them only from Config.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Delivery: DeliveryConfig{
			IntentVerbs:  []string{"email", "send", "mail", "attach"},
			RequiredTool: "compose_email",
			Validation:   DeliveryValidationConfig{RejectMissingTool: true},
		},
		Planning: PlanningConfig{
			MaxRepairRounds: 2,
			MaxReplanRounds: 2,
		},
		Executor: ExecutorConfig{
			PerStepRetries:    1,
			DefaultDeadlineMS: 60000,
		},
		Reasoning: ReasoningConfig{Enabled: false},
		LLM: LLMConfig{
			BaseURL:   "https://api.openai.com/v1",
			APIKeyEnv: "CONCORD_LLM_API_KEY",
			Model:     "gpt-4o",
			MaxTokens: 4096,
			Timeout:   90 * time.Second,
		},
		Sessions: SessionsConfig{Dir: "sessions"},
		Prompts:  PromptsConfig{Dir: "prompts"},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
		Telemetry: TelemetryConfig{
			Enabled:  false,
			Exporter: "stdout",
		},
	}
}

// LoadConfig reads and validates a YAML configuration file,
// layered over DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if v := os.Getenv("CONCORD_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("CONCORD_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("CONCORD_SESSIONS_DIR"); v != "" {
		cfg.Sessions.Dir = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants and compiles model constraint patterns
func (c *Config) Validate() error {
	if c.Planning.MaxRepairRounds < 0 || c.Planning.MaxReplanRounds < 0 {
		return fmt.Errorf("%w: planning rounds must be non-negative", ErrInvalidConfiguration)
	}
	if c.Executor.PerStepRetries < 0 {
		return fmt.Errorf("%w: executor.per_step_retries must be non-negative", ErrInvalidConfiguration)
	}
	if c.Executor.DefaultDeadlineMS <= 0 {
		return fmt.Errorf("%w: executor.default_deadline_ms must be positive", ErrInvalidConfiguration)
	}
	if c.Delivery.RequiredTool == "" && len(c.Delivery.IntentVerbs) > 0 {
		return fmt.Errorf("%w: delivery.required_tool required when intent verbs are set", ErrInvalidConfiguration)
	}
	for i := range c.Models.Constraints {
		re, err := regexp.Compile(c.Models.Constraints[i].Pattern)
		if err != nil {
			return fmt.Errorf("%w: models.constraints[%d].pattern: %v", ErrInvalidConfiguration, i, err)
		}
		c.Models.Constraints[i].re = re
	}
	return nil
}

// DefaultDeadline returns the per-step deadline as a duration
func (c *Config) DefaultDeadline() time.Duration {
	return time.Duration(c.Executor.DefaultDeadlineMS) * time.Millisecond
}

// TemperatureFor resolves the generation temperature for a model used by a
// named agent. Constraint patterns win over agent defaults; the fallback
// applies when neither matches.
func (c *Config) TemperatureFor(model, agent string, fallback float32) float32 {
	for i := range c.Models.Constraints {
		mc := &c.Models.Constraints[i]
		if mc.re != nil && mc.re.MatchString(model) {
			return mc.Temperature
		}
	}
	if d, ok := c.Models.AgentDefaults[agent]; ok {
		return d.Temperature
	}
	return fallback
}
