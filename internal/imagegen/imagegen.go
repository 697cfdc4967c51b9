// Package imagegen generates images for posts and stores them as local files
// that platform connections can upload.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/agentfi/agentfi-social-agent/internal/connection"
	"github.com/agentfi/agentfi-social-agent/pkg/config"
)

// DefaultPrompt is used when a caller does not supply an image prompt.
const DefaultPrompt = "Astronaut in a jungle, cold color palette, muted colors, detailed, 8k"

// ErrNoImage wraps connection.ErrGenerationFailed for providers that answered
// without image data.
var ErrNoImage = fmt.Errorf("imagegen: no image returned: %w", connection.ErrGenerationFailed)

// Generator produces an image for a prompt and returns the path of the saved file.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// New returns the generator selected by cfg.Provider.
func New(cfg config.ImageConfig) (Generator, error) {
	switch cfg.Provider {
	case "", "stability":
		return NewStability(cfg), nil
	case "openai":
		return NewOpenAI(cfg), nil
	default:
		return nil, fmt.Errorf("%w: unknown image provider %q", config.ErrInvalidConfig, cfg.Provider)
	}
}

// save writes data to dir/<uuid>.<ext> and returns the path.
func save(dir, ext string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrNoImage
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("imagegen: create output dir: %w", err)
	}
	path := filepath.Join(dir, uuid.NewString()+"."+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("imagegen: write image: %w", err)
	}
	return path, nil
}

// Remove deletes a generated file once it has been uploaded.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("imagegen: remove %s: %w", path, err)
	}
	return nil
}
