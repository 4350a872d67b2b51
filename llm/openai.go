package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient implements Client on the official OpenAI SDK using the
// Chat Completions API.
type OpenAIClient struct {
	client openai.Client
	model  string
}

func NewOpenAIClient(apiKey, modelName string) (*OpenAIClient, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return nil, fmt.Errorf("openai client requires an API key")
	}

	model := strings.TrimSpace(modelName)
	if model == "" {
		model = defaultOpenAIModel
	}

	return &OpenAIClient{
		client: openai.NewClient(option.WithAPIKey(key)),
		model:  model,
	}, nil
}

func (c *OpenAIClient) ModelName() string {
	return c.model
}

func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.chatParams(prompt))
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) Stream(ctx context.Context, prompt string) Stream {
	return &openaiStream{
		events: c.client.Chat.Completions.NewStreaming(ctx, c.chatParams(prompt)),
	}
}

func (c *OpenAIClient) chatParams(prompt string) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
}

type openaiStream struct {
	events *ssestream.Stream[openai.ChatCompletionChunk]
	cur    Chunk
}

func (s *openaiStream) Next() bool {
	for s.events.Next() {
		chunk := s.events.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		text := chunk.Choices[0].Delta.Content
		if text == "" {
			continue
		}

		s.cur = Chunk{Content: text}
		return true
	}
	return false
}

func (s *openaiStream) Current() Chunk {
	return s.cur
}

func (s *openaiStream) Err() error {
	if err := s.events.Err(); err != nil {
		return fmt.Errorf("openai stream failed: %w", err)
	}
	return nil
}

func (s *openaiStream) Close() error {
	return s.events.Close()
}
