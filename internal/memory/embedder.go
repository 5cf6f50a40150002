package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nightowlhq/aigate/internal/config"
)

// Embedder turns text into a fixed-length vector. Available reports whether
// the embedder can serve requests at all; callers treat an unavailable
// embedder as "skip vectors", not as an error. Model names the model that
// produces the vectors, recorded per row so a model switch leaves stale
// embeddings detectable.
type Embedder interface {
	Available() bool
	Model() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

type httpEmbedder struct {
	cfg        *config.Manager
	httpClient *http.Client
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewEmbedder builds an OpenAI-compatible /v1/embeddings client reading its
// credentials from the live config snapshot on every call.
func NewEmbedder(cfg *config.Manager) Embedder {
	timeout := 30 * time.Second
	if c := cfg.Current(); c.Embedding.TimeoutMs > 0 {
		timeout = time.Duration(c.Embedding.TimeoutMs) * time.Millisecond
	}
	return &httpEmbedder{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (e *httpEmbedder) Available() bool {
	c := e.cfg.Current()
	if !c.Embedding.Enabled {
		return false
	}
	return e.apiKey(c) != "" && e.baseURL(c) != ""
}

func (e *httpEmbedder) Model() string {
	if m := strings.TrimSpace(e.cfg.Current().Embedding.Model); m != "" {
		return m
	}
	return config.DefaultEmbeddingModel
}

func (e *httpEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("embed: empty text")
	}
	c := e.cfg.Current()
	if !e.Available() {
		return nil, fmt.Errorf("embed: embedder not configured")
	}

	payload, err := json.Marshal(embeddingRequest{Model: e.Model(), Input: trimmed})
	if err != nil {
		return nil, fmt.Errorf("embed: marshal request: %w", err)
	}

	url := strings.TrimRight(e.baseURL(c), "/") + "/v1/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("embed: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey(c))

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embed: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embed: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded embeddingResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("embed: decode response: %w", err)
	}
	if len(decoded.Data) == 0 || len(decoded.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embed: empty embedding in response")
	}
	vec := decoded.Data[0].Embedding
	if want := c.Embedding.Dimension; want > 0 && len(vec) != want {
		return nil, fmt.Errorf("embed: dimension mismatch: got %d want %d", len(vec), want)
	}
	return vec, nil
}

func (e *httpEmbedder) apiKey(c *config.Config) string {
	if k := strings.TrimSpace(c.Embedding.APIKey); k != "" {
		return k
	}
	return strings.TrimSpace(c.Providers.OpenAI.APIKey)
}

func (e *httpEmbedder) baseURL(c *config.Config) string {
	if u := strings.TrimSpace(c.Embedding.BaseURL); u != "" {
		return u
	}
	if u := strings.TrimSpace(c.Providers.OpenAI.BaseURL); u != "" {
		return u
	}
	return "https://api.openai.com"
}
