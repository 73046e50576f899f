// Package llm provides the model client used by the interactive controller
// and the sub-call router: a thin wrapper over an OpenAI-compatible chat
// completions endpoint (OpenRouter by default).
package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// Client is the model-calling surface the rest of the engine depends on.
type Client interface {
	// Complete sends a single-turn prompt and returns the model's text
	// response, truncated at maxTokens output tokens.
	Complete(ctx context.Context, model, prompt string, maxTokens int) (string, error)
}

// OpenAICompatClient implements Client against any OpenAI-compatible chat
// completions endpoint.
type OpenAICompatClient struct {
	raw openai.Client
}

// Config configures an OpenAICompatClient.
type Config struct {
	// APIKey authenticates against the endpoint. Falls back to
	// OPENROUTER_API_KEY then OPENAI_API_KEY when empty.
	APIKey string

	// BaseURL points at an OpenAI-compatible endpoint. Defaults to
	// OpenRouter's API when empty.
	BaseURL string
}

const defaultBaseURL = "https://openrouter.ai/api/v1"

// NewOpenAICompatClient builds a Client from cfg.
func NewOpenAICompatClient(cfg Config) (*OpenAICompatClient, error) {
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("OPENROUTER_API_KEY")
	}
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("no API key provided (set OPENROUTER_API_KEY or OPENAI_API_KEY)")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	raw := openai.NewClient(option.WithAPIKey(key), option.WithBaseURL(baseURL))
	return &OpenAICompatClient{raw: raw}, nil
}

// Complete implements Client.
func (c *OpenAICompatClient) Complete(ctx context.Context, model, prompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	resp, err := c.raw.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxTokens: openai.Int(int64(maxTokens)),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty choices from completion")
	}
	return resp.Choices[0].Message.Content, nil
}
