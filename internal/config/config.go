// Package config loads the runtime configuration from YAML with
// environment expansion, applying defaults for everything left unset.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `yaml:"driver"`

	// Path is the sqlite database file.
	Path string `yaml:"path"`
}

// LLMConfig configures the language model provider.
type LLMConfig struct {
	// Provider is "anthropic" or "openai".
	Provider string `yaml:"provider"`

	// APIKey authenticates against the provider. Supports ${ENV} expansion.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `yaml:"base_url"`

	// DefaultModel is used when a component does not pick its own model.
	DefaultModel string `yaml:"default_model"`

	// MaxTokens caps completion length.
	MaxTokens int `yaml:"max_tokens"`
}

// ExecutorConfig tunes the background executor and retry policy.
type ExecutorConfig struct {
	// TickInterval is the due-item sweep cadence.
	TickInterval Duration `yaml:"tick_interval"`

	// ClaimTimeout is how long a claim may sit before reclamation.
	ClaimTimeout Duration `yaml:"claim_timeout"`

	// ToolCallTimeout bounds each outbound tool execution.
	ToolCallTimeout Duration `yaml:"tool_call_timeout"`

	// MaxRetries caps execution retries per item.
	MaxRetries int `yaml:"max_retries"`

	// BaseDelay and MaxDelay shape the exponential retry backoff.
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// ApprovalConfig tunes the approval protocol.
type ApprovalConfig struct {
	// MaxRegenerationRounds bounds regeneration cycles per operation.
	MaxRegenerationRounds int `yaml:"max_regeneration_rounds"`
}

// Config is the full runtime configuration.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	LLM      LLMConfig      `yaml:"llm"`
	Executor ExecutorConfig `yaml:"executor"`
	Approval ApprovalConfig `yaml:"approval"`
}

// Default returns the engine defaults.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Driver: "memory",
			Path:   "rin.db",
		},
		LLM: LLMConfig{
			Provider:     "anthropic",
			DefaultModel: "claude-3-5-sonnet-latest",
			MaxTokens:    1024,
		},
		Executor: ExecutorConfig{
			TickInterval:    Duration(time.Second),
			ClaimTimeout:    Duration(60 * time.Second),
			ToolCallTimeout: Duration(30 * time.Second),
			MaxRetries:      3,
			BaseDelay:       Duration(30 * time.Second),
			MaxDelay:        Duration(30 * time.Minute),
		},
		Approval: ApprovalConfig{
			MaxRegenerationRounds: 3,
		},
	}
}

// Load reads path, expands ${ENV} references, and unmarshals over the
// defaults. An empty path returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration for contradictions.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.LLM.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.Executor.TickInterval.Std() <= 0 {
		return fmt.Errorf("executor.tick_interval must be positive")
	}
	if c.Executor.ClaimTimeout.Std() <= 0 {
		return fmt.Errorf("executor.claim_timeout must be positive")
	}
	if c.Executor.BaseDelay.Std() > c.Executor.MaxDelay.Std() {
		return fmt.Errorf("executor.base_delay exceeds executor.max_delay")
	}
	return nil
}
