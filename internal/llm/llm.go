package llm

import (
	"context"
	"errors"

	"dinner-roulette/internal/config"
)

// ErrNoProvider is returned when no LLM API key is configured.
var ErrNoProvider = errors.New("no LLM provider configured")

// TokenUsage tracks the tokens consumed by a request.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Model            string
}

// ContentResponse contains the generated text and metadata like token usage.
type ContentResponse struct {
	Content string
	Usage   TokenUsage
}

// TextGenerator is an interface for generating text from a prompt.
type TextGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (ContentResponse, error)
}

// Closer is an interface for closing resources.
type Closer interface {
	Close() error
}

// NewFromConfig picks Gemini when its key is set, then Groq.
func NewFromConfig(ctx context.Context, cfg *config.Config) (TextGenerator, error) {
	switch {
	case cfg.GeminiAPIKey != "":
		client, err := NewGeminiClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	case cfg.GroqAPIKey != "":
		return NewGroqClient(cfg), nil
	default:
		return nil, ErrNoProvider
	}
}
