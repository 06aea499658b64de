package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tact/internal/config"
	"tact/internal/domain"
	"tact/internal/httpx"
)

var (
	ErrMissingAPIKey   = errors.New("anthropic api key is required")
	ErrUnknownProvider = errors.New("unknown llm provider")
)

// Provider sends one entry to a generation backend. Failures never escape as
// errors; they come back as an outcome with Error set.
type Provider interface {
	Parse(ctx context.Context, text string, pc domain.ParseContext) domain.ParseOutcome
	Name() string
	Model() string
}

// NewProvider builds the backend selected by cfg.LLMProvider.
func NewProvider(cfg config.Config) (Provider, error) {
	switch cfg.LLMProvider {
	case "ollama":
		return NewOllamaProvider(
			cfg.OllamaURL,
			cfg.OllamaModel,
			httpx.NewClient(time.Duration(cfg.OllamaTimeoutSeconds)*time.Second),
			httpx.NewClient(time.Duration(cfg.OllamaPullTimeoutSeconds)*time.Second),
		), nil
	case "anthropic":
		return NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.LLMProvider)
	}
}
