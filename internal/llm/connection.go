package llm

import (
	"context"
	"sync"

	"github.com/agentfi/agentfi-social-agent/internal/connection"
	"github.com/agentfi/agentfi-social-agent/pkg/config"
)

// ActionGenerateText is the only action LLM connections support.
const ActionGenerateText = "generate-text"

// Connection exposes a text generation Client as a dispatcher connection.
type Connection struct {
	name       string
	requireKey bool
	newClient  func(config.LLMConfig) Client

	mu     sync.RWMutex
	cfg    config.LLMConfig
	client Client

	actions connection.Actions
}

var _ connection.Connection = (*Connection)(nil)

// NewOpenAIConnection returns the "openai" connection. It is configured once
// an API key is set.
func NewOpenAIConnection(cfg config.LLMConfig) *Connection {
	return newConnection("openai", true, cfg, defaultClient)
}

// NewOllamaConnection returns the "ollama" connection, which talks to the
// OpenAI-compatible endpoint of a local Ollama server and needs no key.
func NewOllamaConnection(cfg config.OllamaConfig) *Connection {
	return newConnection("ollama", false, config.LLMConfig{APIURL: cfg.APIURL, Model: cfg.Model}, defaultClient)
}

func defaultClient(cfg config.LLMConfig) Client { return NewOpenAIClient(cfg) }

func newConnection(name string, requireKey bool, cfg config.LLMConfig, newClient func(config.LLMConfig) Client) *Connection {
	c := &Connection{name: name, requireKey: requireKey, newClient: newClient, cfg: cfg}
	c.client = newClient(cfg)
	c.actions = connection.Actions{ActionGenerateText: c.generateText}
	return c
}

func (c *Connection) Name() string        { return c.name }
func (c *Connection) IsLLMProvider() bool { return true }

// Configure accepts api_key, api_url and model; absent keys keep their value.
func (c *Connection) Configure(_ context.Context, params map[string]any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.cfg
	if v := connection.ParamString(params, "api_key"); v != "" {
		next.APIKey = v
	}
	if v := connection.ParamString(params, "api_url"); v != "" {
		next.APIURL = v
	}
	if v := connection.ParamString(params, "model"); v != "" {
		next.Model = v
	}
	if !usable(next, c.requireKey) {
		return false, nil
	}
	c.cfg = next
	c.client = c.newClient(next)
	return true, nil
}

func (c *Connection) IsConfigured(context.Context) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return usable(c.cfg, c.requireKey)
}

func (c *Connection) Perform(ctx context.Context, action string, params []any) (any, error) {
	return c.actions.Run(ctx, c.name, action, params)
}

func (c *Connection) ActionNames() []string { return c.actions.Names() }

// generateText: params [prompt, system_prompt].
func (c *Connection) generateText(ctx context.Context, params []any) (any, error) {
	prompt, err := connection.StringParam(params, 0, "prompt")
	if err != nil {
		return nil, err
	}
	system := connection.OptionalString(params, 1, "")

	c.mu.RLock()
	client, ok := c.client, usable(c.cfg, c.requireKey)
	c.mu.RUnlock()
	if !ok {
		return nil, connection.ErrNotConfigured
	}
	return client.GenerateText(ctx, prompt, system)
}

func usable(cfg config.LLMConfig, requireKey bool) bool {
	if cfg.Model == "" {
		return false
	}
	if requireKey {
		return cfg.APIKey != ""
	}
	return cfg.APIURL != ""
}
