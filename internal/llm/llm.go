// Package llm provides an OpenAI-compatible text generation client and the
// connections that expose it to the action dispatcher. The same client serves
// OpenAI and any provider with the same endpoint shape (Ollama, vLLM).
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/agentfi/agentfi-social-agent/internal/connection"
	"github.com/agentfi/agentfi-social-agent/pkg/config"
)

// ErrEmptyCompletion is returned when the provider answered without content.
// It wraps connection.ErrGenerationFailed.
var ErrEmptyCompletion = fmt.Errorf("llm: empty completion: %w", connection.ErrGenerationFailed)

// Client generates text from a prompt and a system prompt.
type Client interface {
	GenerateText(ctx context.Context, prompt, systemPrompt string) (string, error)
}

// OpenAIClient implements Client with the Chat Completions API.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewOpenAIClient creates a client for the given settings. An empty APIURL
// selects the public OpenAI endpoint.
func NewOpenAIClient(cfg config.LLMConfig) *OpenAIClient {
	apiKey := cfg.APIKey
	if apiKey == "" {
		// Local providers ignore the key but the header must be present.
		apiKey = "sk-xxx"
	}
	oc := openai.DefaultConfig(apiKey)
	if cfg.APIURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.APIURL, "/")
	}
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

// GenerateText sends one chat completion request and returns the first choice.
func (c *OpenAIClient) GenerateText(ctx context.Context, prompt, systemPrompt string) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if systemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			slog.Error("llm: api error",
				slog.String("model", c.model),
				slog.Int("status", apiErr.HTTPStatusCode),
				slog.String("message", connection.Truncate(apiErr.Message, 500)),
			)
		}
		return "", fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}

	slog.Info("llm: chat response",
		slog.String("model", c.model),
		slog.Int("duration_ms", int(time.Since(start).Milliseconds())),
		slog.Int("prompt_tokens", resp.Usage.PromptTokens),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return text, nil
}

