package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// NewProvider creates a Provider from configuration, wrapped with
// logging, circuit-breaker and retry middleware.
func NewProvider(ctx context.Context, cfg Config, breaker BreakerConfig, log *zap.Logger) (Provider, error) {
	var base Provider
	var err error

	switch cfg.Provider {
	case "anthropic":
		base, err = NewAnthropicProvider(cfg.Anthropic)
	case "openai":
		base, err = NewOpenAIProvider(cfg.OpenAI)
	case "gemini":
		base, err = NewGeminiProvider(ctx, cfg.Gemini)
	case "openrouter":
		base, err = NewOpenRouterProvider(cfg.OpenRouter)
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s provider: %w", cfg.Provider, err)
	}

	// Middleware order: caller → retry → breaker → logging → base.
	// Each raw call is logged; the breaker sees unretried failures; the
	// retry layer backs off around both.
	logged := WithLogging(base, log)
	guarded := WithBreaker(logged, breaker)
	retried := WithRetry(guarded, cfg.Retry)

	return retried, nil
}
