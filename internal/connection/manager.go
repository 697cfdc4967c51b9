package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Status is the externally visible state of one registered connection.
type Status struct {
	Name          string   `json:"name"`
	Configured    bool     `json:"configured"`
	IsLLMProvider bool     `json:"is_llm_provider"`
	Actions       []string `json:"actions,omitempty"`
}

// actionLister is implemented by connections that can advertise their actions.
type actionLister interface {
	ActionNames() []string
}

// Manager is the registry of connections keyed by name. It is safe for
// concurrent use.
type Manager struct {
	mu    sync.RWMutex
	conns map[string]Connection
}

// NewManager creates a Manager holding the given connections.
func NewManager(conns ...Connection) *Manager {
	m := &Manager{conns: make(map[string]Connection)}
	for _, c := range conns {
		m.Register(c)
	}
	return m
}

// Register adds or replaces a connection.
func (m *Manager) Register(c Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[c.Name()] = c
}

// Get returns a connection by name.
func (m *Manager) Get(name string) (Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[name]
	return c, ok
}

// Names returns registered connection names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.conns))
	for n := range m.conns {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Perform resolves the connection and delegates the action to it. There are
// no retries: the connection's error is returned unchanged.
func (m *Manager) Perform(ctx context.Context, conn, action string, params []any) (any, error) {
	c, ok := m.Get(conn)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConnectionNotFound, conn)
	}

	start := time.Now()
	result, err := c.Perform(ctx, action, params)
	if err != nil {
		slog.Debug("connection: action failed",
			slog.String("connection", conn),
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	slog.Debug("connection: action performed",
		slog.String("connection", conn),
		slog.String("action", action),
		slog.Int("duration_ms", int(time.Since(start).Milliseconds())),
	)
	return result, nil
}

// Configure applies params to the named connection.
func (m *Manager) Configure(ctx context.Context, name string, params map[string]any) (bool, error) {
	c, ok := m.Get(name)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrConnectionNotFound, name)
	}
	return c.Configure(ctx, params)
}

// Status returns the configuration status of one connection.
func (m *Manager) Status(ctx context.Context, name string) (Status, error) {
	c, ok := m.Get(name)
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrConnectionNotFound, name)
	}
	return statusOf(ctx, c), nil
}

// Statuses returns the status of every registered connection keyed by name.
func (m *Manager) Statuses(ctx context.Context) map[string]Status {
	m.mu.RLock()
	conns := make([]Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	out := make(map[string]Status, len(conns))
	for _, c := range conns {
		out[c.Name()] = statusOf(ctx, c)
	}
	return out
}

// LLMProvider returns the first configured LLM provider connection in name
// order, preferring the given name when it is registered and configured.
func (m *Manager) LLMProvider(ctx context.Context, preferred string) (string, error) {
	if preferred != "" {
		if c, ok := m.Get(preferred); ok && c.IsLLMProvider() && c.IsConfigured(ctx) {
			return preferred, nil
		}
	}
	for _, name := range m.Names() {
		c, _ := m.Get(name)
		if c != nil && c.IsLLMProvider() && c.IsConfigured(ctx) {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: no configured llm provider", ErrConnectionNotFound)
}

func statusOf(ctx context.Context, c Connection) Status {
	st := Status{
		Name:          c.Name(),
		Configured:    c.IsConfigured(ctx),
		IsLLMProvider: c.IsLLMProvider(),
	}
	if l, ok := c.(actionLister); ok {
		st.Actions = l.ActionNames()
	}
	return st
}
