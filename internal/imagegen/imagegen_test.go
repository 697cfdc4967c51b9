package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentfi/agentfi-social-agent/internal/connection"
	"github.com/agentfi/agentfi-social-agent/pkg/config"
)

func TestStabilityGenerateSavesImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("unexpected authorization %q", got)
		}
		if got := r.Header.Get("Accept"); got != "image/*" {
			t.Errorf("unexpected accept %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("prompt") != "a cat" || r.FormValue("output_format") != "jpeg" {
			t.Errorf("unexpected form %v", r.MultipartForm.Value)
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("\xff\xd8jpeg"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	gen := NewStability(config.ImageConfig{APIKey: "key", APIURL: srv.URL, OutputDir: dir})

	path, err := gen.Generate(context.Background(), "a cat")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Dir(path) != dir || filepath.Ext(path) != ".jpeg" {
		t.Fatalf("unexpected path %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "\xff\xd8jpeg" {
		t.Fatalf("unexpected file content %q, %v", data, err)
	}
}

func TestStabilityErrorStatusIsGenerationFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"errors":["content moderation"]}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	gen := NewStability(config.ImageConfig{APIKey: "key", APIURL: srv.URL, OutputDir: dir})

	_, err := gen.Generate(context.Background(), "a cat")
	if !errors.Is(err, connection.ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("no file should be written on failure, found %d", len(entries))
	}
}

func TestOpenAIGenerateDecodesB64(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Prompt         string `json:"prompt"`
			ResponseFormat string `json:"response_format"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Prompt != "a dog" || req.ResponseFormat != "b64_json" {
			t.Errorf("unexpected request %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"created": 1,
			"data":    []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString([]byte("png!"))}},
		})
	}))
	defer srv.Close()

	gen := NewOpenAI(config.ImageConfig{APIKey: "k", APIURL: srv.URL, OutputDir: t.TempDir()})
	path, err := gen.Generate(context.Background(), "a dog")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "png!" {
		t.Fatalf("unexpected content %q", data)
	}
	if err := Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := Remove(path); err != nil {
		t.Fatalf("removing a missing file should be a no-op, got %v", err)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	if g, err := New(config.ImageConfig{Provider: "stability"}); err != nil {
		t.Fatalf("stability: %v", err)
	} else if _, ok := g.(*Stability); !ok {
		t.Fatalf("expected *Stability, got %T", g)
	}
	if g, err := New(config.ImageConfig{Provider: "openai"}); err != nil {
		t.Fatalf("openai: %v", err)
	} else if _, ok := g.(*OpenAI); !ok {
		t.Fatalf("expected *OpenAI, got %T", g)
	}
	if _, err := New(config.ImageConfig{Provider: "midjourney"}); !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
