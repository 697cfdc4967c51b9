package imagegen

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/agentfi/agentfi-social-agent/internal/connection"
	"github.com/agentfi/agentfi-social-agent/pkg/config"
)

// DefaultStabilityURL is the Stable Image Ultra endpoint.
const DefaultStabilityURL = "https://api.stability.ai/v2beta/stable-image/generate/ultra"

// Stability generates JPEG images with the Stability AI REST API.
type Stability struct {
	apiURL     string
	apiKey     string
	outputDir  string
	httpClient *http.Client
}

// NewStability creates a Stability generator.
func NewStability(cfg config.ImageConfig) *Stability {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = DefaultStabilityURL
	}
	return &Stability{
		apiURL:     apiURL,
		apiKey:     cfg.APIKey,
		outputDir:  cfg.OutputDir,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// Generate posts the prompt as multipart form data and saves the returned image.
// Any non-200 answer is a generation failure carrying the provider's body.
func (s *Stability) Generate(ctx context.Context, prompt string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range map[string]string{"prompt": prompt, "output_format": "jpeg"} {
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("imagegen: build request: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("imagegen: build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, &buf)
	if err != nil {
		return "", fmt.Errorf("imagegen: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Accept", "image/*")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("imagegen: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("imagegen: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: stability status %d: %s", ErrNoImage, resp.StatusCode, connection.Truncate(string(body), 200))
	}

	path, err := save(s.outputDir, "jpeg", body)
	if err != nil {
		return "", err
	}
	slog.Info("imagegen: image generated",
		slog.String("provider", "stability"),
		slog.String("path", path),
		slog.Int("duration_ms", int(time.Since(start).Milliseconds())),
	)
	return path, nil
}

