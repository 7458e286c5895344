package llm

import (
	"fmt"
	"strings"
)

// Supported provider types.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderDeepSeek   = "deepseek"
	ProviderAnthropic  = "anthropic"
)

// Default endpoints for the OpenAI-compatible providers.
const (
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	DeepSeekBaseURL   = "https://api.deepseek.com"
)

// ProviderConfig selects and configures a provider.
type ProviderConfig struct {
	Type         string
	APIKey       string
	BaseURL      string
	RequireTools bool
}

// NewGateway builds the Gateway for cfg.Type.
func NewGateway(cfg ProviderConfig) (Gateway, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required for provider %q", cfg.Type)
	}

	switch strings.ToLower(cfg.Type) {
	case ProviderOpenAI, "":
		return NewOpenAIProvider(OpenAIOptions{
			Name:         ProviderOpenAI,
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			RequireTools: cfg.RequireTools,
		}), nil
	case ProviderOpenRouter:
		return NewOpenAIProvider(OpenAIOptions{
			Name:         ProviderOpenRouter,
			APIKey:       cfg.APIKey,
			BaseURL:      orDefault(cfg.BaseURL, OpenRouterBaseURL),
			RequireTools: cfg.RequireTools,
			Headers:      map[string]string{"X-Title": "make-it-heavy"},
		}), nil
	case ProviderDeepSeek:
		// DeepSeek rejects tool-less requests on its tool-calling models.
		return NewOpenAIProvider(OpenAIOptions{
			Name:         ProviderDeepSeek,
			APIKey:       cfg.APIKey,
			BaseURL:      orDefault(cfg.BaseURL, DeepSeekBaseURL),
			RequireTools: true,
		}), nil
	case ProviderAnthropic:
		return NewAnthropicProvider(AnthropicOptions{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Type)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
