// Package config holds the engine configuration: recognized providers,
// their default models and credential environment variables, and the
// optional YAML config file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderID identifies a recognized provider.
type ProviderID string

const (
	ProviderAnthropic ProviderID = "anthropic"
	ProviderOpenAI    ProviderID = "openai"
	ProviderGemini    ProviderID = "gemini"
	ProviderOllama    ProviderID = "ollama"
)

// Default model per provider.
const (
	DefaultAnthropicModel = "claude-sonnet-4-20250514"
	DefaultOpenAIModel    = "gpt-4o"
	DefaultGeminiModel    = "gemini-2.5-pro"
	DefaultOllamaModel    = "qwen2.5-coder:14b"
)

// DefaultOllamaBase is the local server default; OLLAMA_API_BASE overrides.
const DefaultOllamaBase = "http://localhost:11434"

// APIKeyEnv returns the credential environment variable for a provider,
// empty for providers that need none.
func APIKeyEnv(id ProviderID) string {
	switch id {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderGemini:
		return "GEMINI_API_KEY"
	default:
		return ""
	}
}

// DefaultModel returns the default model string for a provider.
func DefaultModel(id ProviderID) string {
	switch id {
	case ProviderAnthropic:
		return DefaultAnthropicModel
	case ProviderOpenAI:
		return DefaultOpenAIModel
	case ProviderGemini:
		return DefaultGeminiModel
	case ProviderOllama:
		return DefaultOllamaModel
	default:
		return ""
	}
}

// ParseProviderID validates a provider identifier.
func ParseProviderID(s string) (ProviderID, error) {
	switch ProviderID(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderAnthropic:
		return ProviderAnthropic, nil
	case ProviderOpenAI:
		return ProviderOpenAI, nil
	case ProviderGemini:
		return ProviderGemini, nil
	case ProviderOllama:
		return ProviderOllama, nil
	default:
		return "", fmt.Errorf("unknown provider %q (recognized: anthropic, openai, gemini, ollama)", s)
	}
}

// ModelInfo describes a selectable model for the frontend.
type ModelInfo struct {
	Name          string     `json:"name" yaml:"name"`
	Model         string     `json:"model" yaml:"model"`
	Provider      ProviderID `json:"provider" yaml:"provider"`
	Description   string     `json:"description" yaml:"description"`
	SupportsAgent bool       `json:"supports_agent" yaml:"supports_agent"`
}

// StaticModels is the built-in catalog of API models; locally available
// Ollama models are appended at runtime.
func StaticModels() []ModelInfo {
	return []ModelInfo{
		{
			Name:          "Claude 4 Sonnet",
			Model:         DefaultAnthropicModel,
			Provider:      ProviderAnthropic,
			Description:   "Anthropic Claude with advanced code capabilities; requires ANTHROPIC_API_KEY",
			SupportsAgent: true,
		},
		{
			Name:          "GPT-4o",
			Model:         DefaultOpenAIModel,
			Provider:      ProviderOpenAI,
			Description:   "OpenAI model with advanced tool use; requires OPENAI_API_KEY",
			SupportsAgent: true,
		},
		{
			Name:          "Gemini 2.5 Pro",
			Model:         DefaultGeminiModel,
			Provider:      ProviderGemini,
			Description:   "Google Gemini with advanced code capabilities; requires GEMINI_API_KEY",
			SupportsAgent: true,
		},
	}
}

// Config is the engine configuration.
type Config struct {
	// Provider selects the default provider for run requests.
	Provider ProviderID `yaml:"provider"`

	// Model overrides the provider's default model.
	Model string `yaml:"model"`

	// SessionCapacity caps the session message count. Default: 100.
	SessionCapacity int `yaml:"session_capacity"`

	// MaxLoops caps the executor's tool loop. Default: 100.
	MaxLoops int `yaml:"max_loops"`

	// OllamaBase is the local Ollama endpoint.
	OllamaBase string `yaml:"ollama_base"`

	// Summarize tunes history compaction.
	Summarize SummarizeConfig `yaml:"summarize"`

	// LogLevel is one of debug, info, warn, error. Default: info.
	LogLevel string `yaml:"log_level"`
}

// SummarizeConfig tunes the history manager thresholds.
type SummarizeConfig struct {
	CountThreshold int `yaml:"count_threshold"`
	CharThreshold  int `yaml:"char_threshold"`
	KeepRecent     int `yaml:"keep_recent"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Provider:        ProviderAnthropic,
		SessionCapacity: 100,
		MaxLoops:        100,
		OllamaBase:      DefaultOllamaBase,
		LogLevel:        "info",
	}
}

// Load reads the configuration: defaults, then the YAML file at path when
// it exists, then environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OLLAMA_API_BASE"); v != "" {
		c.OllamaBase = v
	}
	if v := os.Getenv("QUILL_PROVIDER"); v != "" {
		if id, err := ParseProviderID(v); err == nil {
			c.Provider = id
		}
	}
	if v := os.Getenv("QUILL_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("QUILL_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderAnthropic
	}
	if c.SessionCapacity <= 0 {
		c.SessionCapacity = 100
	}
	if c.MaxLoops <= 0 {
		c.MaxLoops = 100
	}
	if c.OllamaBase == "" {
		c.OllamaBase = DefaultOllamaBase
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// APIKey reads the provider's credential from the environment. Providers
// without a credential requirement return "" with ok=true.
func (c *Config) APIKey(id ProviderID) (string, bool) {
	env := APIKeyEnv(id)
	if env == "" {
		return "", true
	}
	key := os.Getenv(env)
	return key, key != ""
}

// OllamaListTimeout bounds live model enumeration so a stopped local
// server does not stall the frontend.
const OllamaListTimeout = 2 * time.Second
