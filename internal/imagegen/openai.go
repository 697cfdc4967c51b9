package imagegen

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/agentfi/agentfi-social-agent/pkg/config"
)

// OpenAI generates PNG images with the OpenAI images API.
type OpenAI struct {
	client    *openai.Client
	model     string
	outputDir string
}

// NewOpenAI creates an OpenAI image generator. APIURL overrides the base URL
// of OpenAI-compatible servers; the Stability default URL is ignored.
func NewOpenAI(cfg config.ImageConfig) *OpenAI {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIURL != "" && cfg.APIURL != DefaultStabilityURL {
		oc.BaseURL = strings.TrimRight(cfg.APIURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	return &OpenAI{
		client:    openai.NewClientWithConfig(oc),
		model:     model,
		outputDir: cfg.OutputDir,
	}
}

func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          o.model,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		N:              1,
	})
	if err != nil {
		return "", fmt.Errorf("%w: openai: %v", ErrNoImage, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return "", ErrNoImage
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return "", fmt.Errorf("%w: decode image: %v", ErrNoImage, err)
	}

	path, err := save(o.outputDir, "png", data)
	if err != nil {
		return "", err
	}
	slog.Info("imagegen: image generated",
		slog.String("provider", "openai"),
		slog.String("model", o.model),
		slog.String("path", path),
	)
	return path, nil
}
