package llm

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"tact/internal/domain"
	"tact/internal/httpx"
)

const DefaultAnthropicModel = "claude-3-haiku-20240307"

// AnthropicProvider sends entries to the hosted Messages API. The SDK's own
// retries are off: a failed parse is retried only by an explicit reparse.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider fails with ErrMissingAPIKey when apiKey is empty.
// Extra request options (base URL, HTTP client) are mainly for tests.
func NewAnthropicProvider(apiKey, model string, opts ...option.RequestOption) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if model == "" {
		model = DefaultAnthropicModel
	}
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(httpx.ExternalHTTPClient()),
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(append(base, opts...)...),
		model:  model,
	}, nil
}

func (p *AnthropicProvider) Name() string  { return "anthropic" }
func (p *AnthropicProvider) Model() string { return p.model }

func (p *AnthropicProvider) Parse(ctx context.Context, text string, pc domain.ParseContext) domain.ParseOutcome {
	system, user := BuildPrompts(text, pc)

	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			log.Printf("llm anthropic API error status=%d model=%s", apiErr.StatusCode, p.model)
			return domain.FailedOutcome(fmt.Sprintf("API error: status %d", apiErr.StatusCode))
		}
		log.Printf("llm anthropic connection error model=%s: %v", p.model, err)
		return domain.FailedOutcome(fmt.Sprintf("connection error: %v", err))
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("llm anthropic response model=%s size=%d tokens_in=%d tokens_out=%d",
				p.model, len(block.Text), message.Usage.InputTokens, message.Usage.OutputTokens)
			return decodeOutcome(block.Text)
		}
	}
	return domain.FailedOutcome("no text content in Anthropic response")
}
