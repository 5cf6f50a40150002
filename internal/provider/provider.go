// Package provider holds the vendor adapters behind a uniform capability
// interface. Every adapter is cheap to construct and reads credentials from
// the config manager on each call, so a rotated key takes effect without a
// restart.
package provider

import (
	"context"
	"encoding/json"

	"github.com/nightowlhq/aigate/internal/prompt"
)

// Usage is the normalized token accounting for one vendor call. A nil *Usage
// means the vendor did not report usage; zero values are real zeros.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// Result is one normalized generation outcome.
type Result struct {
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
	Text     string          `json:"text"`
	Usage    *Usage          `json:"usage,omitempty"`
	Raw      json.RawMessage `json:"-"`
}

// Moderation is the normalized moderation verdict.
type Moderation struct {
	Flagged    bool     `json:"flagged"`
	Categories []string `json:"categories"`
}

// Request is the vendor-agnostic generation request assembled by the gateway.
type Request struct {
	Messages        []prompt.Message
	Temperature     *float64
	MaxOutputTokens int
	Model           string // override; empty uses the configured default
	Tools           bool   // grounding/tool directive requested
}

// StreamFunc receives incremental text. After the final content chunk the
// adapter calls fn("", true) exactly once.
type StreamFunc func(chunk string, done bool)

// Provider is the capability surface every vendor adapter implements.
type Provider interface {
	// Name returns the lower-case registry key ("openai", "anthropic", ...).
	Name() string
	// Configured reports whether required credentials are present. It is
	// called on every registry lookup and must stay cheap and side-effect
	// free.
	Configured() bool
	Generate(ctx context.Context, req Request) (*Result, error)
	Moderate(ctx context.Context, content string) (Moderation, error)
}

// Streamer is implemented by adapters whose vendor supports incremental
// delivery. Adapters without it are driven through Generate and the gateway
// synthesizes the stream callbacks.
type Streamer interface {
	GenerateStream(ctx context.Context, req Request, fn StreamFunc) (*Result, error)
}
