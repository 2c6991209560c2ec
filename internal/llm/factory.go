package llm

import (
	"fmt"
	"net/http"

	"memnet/internal/config"
	"memnet/internal/llm/anthropic"
	"memnet/internal/llm/openai"
)

// Build constructs a Provider based on cfg.Provider.
func Build(cfg config.LLMConfig, httpClient *http.Client) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openai.New(cfg, httpClient), nil
	case "anthropic":
		return anthropic.New(cfg, httpClient), nil
	default:
		return nil, &config.ConfigurationError{Reason: fmt.Sprintf("unsupported llm provider: %s", cfg.Provider)}
	}
}
