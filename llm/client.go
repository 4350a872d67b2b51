package llm

import (
	"context"
	"fmt"
	"strings"

	"portside/config"
)

// Chunk is one incremental unit of a streamed assistant response.
type Chunk struct {
	Content string
}

// Stream is a finite, single-consumer sequence of chunks. It is pulled
// one chunk at a time with Next/Current, reports a mid-stream provider
// failure through Err after Next returns false, and is cancelled by
// Close (or by cancelling the context it was created with). There is
// no replay.
type Stream interface {
	Next() bool
	Current() Chunk
	Err() error
	Close() error
}

// Client is the language-model provider boundary.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Stream(ctx context.Context, prompt string) Stream
	ModelName() string
}

// New builds the provider selected by configuration.
func New(cfg *config.Config) (Client, error) {
	switch strings.ToLower(cfg.LLMProvider) {
	case "anthropic":
		return NewAnthropicClient(cfg.AnthropicAPIKey, cfg.LLMModel)
	case "openai":
		return NewOpenAIClient(cfg.OpenAIAPIKey, cfg.LLMModel)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}
