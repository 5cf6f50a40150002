package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nightowlhq/aigate/internal/config"
)

func embedderWith(baseURL string, dimension int) Embedder {
	cfg := config.DefaultConfig()
	cfg.Embedding.Enabled = true
	cfg.Embedding.APIKey = "test-key"
	cfg.Embedding.BaseURL = baseURL
	cfg.Embedding.Dimension = dimension
	return NewEmbedder(config.NewStaticManager(cfg))
}

func TestEmbedderAvailable(t *testing.T) {
	cfg := config.DefaultConfig()
	e := NewEmbedder(config.NewStaticManager(cfg))
	if e.Available() {
		t.Fatal("embedder should be unavailable when disabled")
	}

	cfg = config.DefaultConfig()
	cfg.Embedding.Enabled = true
	e = NewEmbedder(config.NewStaticManager(cfg))
	if e.Available() {
		t.Fatal("embedder should be unavailable without an api key")
	}

	if !embedderWith("http://example.invalid", 0).Available() {
		t.Fatal("embedder should be available with key and base url")
	}
}

func TestEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/embeddings") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["input"] != "hello" {
			t.Errorf("input = %v", body["input"])
		}
		_, _ = w.Write([]byte(`{"data": [{"embedding": [0.1, 0.2, 0.3]}]}`))
	}))
	defer server.Close()

	vec, err := embedderWith(server.URL, 3).Embed(context.Background(), "  hello  ")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Fatalf("unexpected vector: %v", vec)
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": [{"embedding": [0.1, 0.2]}]}`))
	}))
	defer server.Close()

	if _, err := embedderWith(server.URL, 3).Embed(context.Background(), "hi"); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestEmbedHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	if _, err := embedderWith(server.URL, 0).Embed(context.Background(), "hi"); err == nil {
		t.Fatal("expected http error")
	}
}

func TestEmbedRejectsEmptyText(t *testing.T) {
	if _, err := embedderWith("http://example.invalid", 0).Embed(context.Background(), "   "); err == nil {
		t.Fatal("expected error for blank text")
	}
}

func TestEmbedderModel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Embedding.Model = ""
	if got := NewEmbedder(config.NewStaticManager(cfg)).Model(); got != config.DefaultEmbeddingModel {
		t.Fatalf("default model: got %q", got)
	}

	cfg = config.DefaultConfig()
	cfg.Embedding.Model = "custom-embed"
	if got := NewEmbedder(config.NewStaticManager(cfg)).Model(); got != "custom-embed" {
		t.Fatalf("configured model: got %q", got)
	}
}
