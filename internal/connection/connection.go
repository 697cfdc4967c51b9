// Package connection provides the uniform contract for external platforms and
// LLM providers, and the Manager that dispatches named actions to them.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"
)

// Errors returned by the connection package.
var (
	ErrConnectionNotFound    = errors.New("connection: not found")
	ErrActionNotSupported    = errors.New("connection: action not supported")
	ErrActionExecutionFailed = errors.New("connection: action execution failed")
	ErrNotConfigured         = errors.New("connection: not configured")
	ErrInvalidParams         = errors.New("connection: invalid params")
	ErrGenerationFailed      = errors.New("connection: generation returned no usable content")
)

// Connection is an adapter to one external platform or LLM provider.
type Connection interface {
	// Name is the registry key, e.g. "twitter" or "ollama".
	Name() string
	// Configure applies key/value settings. It returns false when the
	// settings were rejected without an underlying fault.
	Configure(ctx context.Context, params map[string]any) (bool, error)
	IsConfigured(ctx context.Context) bool
	IsLLMProvider() bool
	// Perform runs a named action with positional parameters. Unknown
	// actions fail with ErrActionNotSupported; downstream faults are
	// returned as *ActionError.
	Perform(ctx context.Context, action string, params []any) (any, error)
}

// ActionError carries the cause of a failed action.
type ActionError struct {
	Connection string
	Action     string
	Err        error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("connection: %s/%s failed: %v", e.Connection, e.Action, e.Err)
}

// Unwrap exposes both the taxonomy sentinel and the cause to errors.Is.
func (e *ActionError) Unwrap() []error {
	return []error{ErrActionExecutionFailed, e.Err}
}

// Failed wraps err as an ActionError unless it is nil or already classified.
func Failed(conn, action string, err error) error {
	if err == nil {
		return nil
	}
	var ae *ActionError
	if errors.As(err, &ae) || errors.Is(err, ErrActionNotSupported) {
		return err
	}
	return &ActionError{Connection: conn, Action: action, Err: err}
}

// ActionFunc implements one action of a connection.
type ActionFunc func(ctx context.Context, params []any) (any, error)

// Actions is a name-indexed action table that concrete connections embed to
// implement Perform.
type Actions map[string]ActionFunc

// Run looks up and invokes an action, classifying the outcome.
func (a Actions) Run(ctx context.Context, conn, action string, params []any) (any, error) {
	fn, ok := a[action]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrActionNotSupported, conn, action)
	}
	result, err := fn(ctx, params)
	if err != nil {
		return nil, Failed(conn, action, err)
	}
	return result, nil
}

// Names returns the supported action names, sorted.
func (a Actions) Names() []string {
	names := make([]string, 0, len(a))
	for n := range a {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// --- positional param helpers ---

// StringParam returns params[i] as a string.
func StringParam(params []any, i int, name string) (string, error) {
	if i >= len(params) {
		return "", fmt.Errorf("%w: missing %s (position %d)", ErrInvalidParams, name, i)
	}
	s, ok := params[i].(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidParams, name, params[i])
	}
	return s, nil
}

// OptionalString returns params[i] as a string, or def if absent.
func OptionalString(params []any, i int, def string) string {
	if i >= len(params) {
		return def
	}
	if s, ok := params[i].(string); ok {
		return s
	}
	return def
}

// IntParam returns params[i] as an int. JSON numbers and numeric strings are accepted.
func IntParam(params []any, i int, name string, def int) (int, error) {
	if i >= len(params) {
		return def, nil
	}
	switch v := params[i].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
			return 0, fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalidParams, name, v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %s must be an integer, got %T", ErrInvalidParams, name, params[i])
	}
}

// ParamString reads a configure parameter as a string.
func ParamString(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return v
}

// Truncate shortens s to at most maxLen bytes plus "...", cutting at a rune
// boundary. Used for upstream error bodies in logs and errors.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
