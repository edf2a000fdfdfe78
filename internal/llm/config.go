package llm

import (
	"fmt"
	"os"
	"time"
)

// Config selects and parameterizes the language-model provider.
type Config struct {
	// Provider is one of "anthropic", "openai", "gemini", "openrouter"
	// or "mock".
	Provider string

	Anthropic  AnthropicConfig
	OpenAI     OpenAIConfig
	Gemini     GeminiConfig
	OpenRouter OpenRouterConfig
	Retry      RetryConfig

	// Timeout bounds a single Generate call including its retries.
	Timeout time.Duration
}

type AnthropicConfig struct {
	APIKey string
	Model  string // defaults to "claude-haiku"
}

type OpenAIConfig struct {
	APIKey  string
	Model   string // defaults to "gpt-4o-mini"
	BaseURL string // set for OpenRouter or other compatible endpoints
}

type GeminiConfig struct {
	APIKey string
	Model  string // defaults to "gemini-flash"
}

type OpenRouterConfig struct {
	APIKey  string
	Model   string // defaults to "google/gemini-2.0-flash-exp"
	BaseURL string // defaults to the public OpenRouter endpoint
}

// RetryConfig tunes the backoff decorator.
type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultConfig returns the baseline configuration. The model choices
// favor the cheap tier of each vendor since extraction and reflection
// prompts are short.
func DefaultConfig() Config {
	return Config{
		Provider:   "anthropic",
		Anthropic:  AnthropicConfig{Model: "claude-haiku"},
		OpenAI:     OpenAIConfig{Model: "gpt-4o-mini"},
		Gemini:     GeminiConfig{Model: "gemini-flash"},
		OpenRouter: OpenRouterConfig{Model: "google/gemini-2.0-flash-exp"},
		Retry: RetryConfig{
			MaxAttempts: 3,
			InitialWait: 1 * time.Second,
			MaxWait:     10 * time.Second,
			Multiplier:  2.0,
		},
		Timeout: 30 * time.Second,
	}
}

// ConfigFromEnv layers TUTORCORE_* environment variables over the
// defaults.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	envOverride("TUTORCORE_LLM_PROVIDER", &cfg.Provider)

	envOverride("TUTORCORE_ANTHROPIC_API_KEY", &cfg.Anthropic.APIKey)
	envOverride("TUTORCORE_ANTHROPIC_MODEL", &cfg.Anthropic.Model)

	envOverride("TUTORCORE_OPENAI_API_KEY", &cfg.OpenAI.APIKey)
	envOverride("TUTORCORE_OPENAI_MODEL", &cfg.OpenAI.Model)
	envOverride("TUTORCORE_OPENAI_BASE_URL", &cfg.OpenAI.BaseURL)

	envOverride("TUTORCORE_GEMINI_API_KEY", &cfg.Gemini.APIKey)
	envOverride("TUTORCORE_GEMINI_MODEL", &cfg.Gemini.Model)

	envOverride("TUTORCORE_OPENROUTER_API_KEY", &cfg.OpenRouter.APIKey)
	envOverride("TUTORCORE_OPENROUTER_MODEL", &cfg.OpenRouter.Model)

	return cfg
}

func envOverride(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// DiscoverConfig probes the vendors' conventional API key variables in
// priority order (Gemini, then OpenAI, Anthropic, OpenRouter) and
// returns a Config for the first key found. The second return is false
// when no key is present.
func DiscoverConfig() (Config, bool) {
	cfg := DefaultConfig()

	if k := os.Getenv("GEMINI_API_KEY"); k != "" {
		cfg.Provider = "gemini"
		cfg.Gemini.APIKey = k
		return cfg, true
	}
	if k := os.Getenv("OPENAI_API_KEY"); k != "" {
		cfg.Provider = "openai"
		cfg.OpenAI.APIKey = k
		return cfg, true
	}
	if k := os.Getenv("ANTHROPIC_API_KEY"); k != "" {
		cfg.Provider = "anthropic"
		cfg.Anthropic.APIKey = k
		return cfg, true
	}
	if k := os.Getenv("OPENROUTER_API_KEY"); k != "" {
		cfg.Provider = "openrouter"
		cfg.OpenRouter.APIKey = k
		return cfg, true
	}

	return Config{}, false
}

// Validate confirms the selected provider has its API key.
func (c Config) Validate() error {
	switch c.Provider {
	case "anthropic":
		if c.Anthropic.APIKey == "" {
			return fmt.Errorf("TUTORCORE_ANTHROPIC_API_KEY is required for the anthropic provider")
		}
	case "openai":
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("TUTORCORE_OPENAI_API_KEY is required for the openai provider")
		}
	case "gemini":
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("TUTORCORE_GEMINI_API_KEY is required for the gemini provider")
		}
	case "openrouter":
		if c.OpenRouter.APIKey == "" {
			return fmt.Errorf("TUTORCORE_OPENROUTER_API_KEY is required for the openrouter provider")
		}
	case "mock":
		// Keyless.
	default:
		return fmt.Errorf("unknown LLM provider: %q", c.Provider)
	}
	return nil
}
