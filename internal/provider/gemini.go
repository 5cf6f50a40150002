package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/nightowlhq/aigate/internal/config"
	"github.com/nightowlhq/aigate/internal/prompt"
)

const (
	geminiDisplay          = "Gemini"
	defaultGeminiBaseURL   = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel     = "gemini-2.0-flash"
	defaultGeminiMaxTokens = 1024
)

// Gemini adapts the generateContent API over plain HTTP. The system
// instruction is supplied out-of-band and responses carry layered
// candidate/part trees; text extraction walks every text-bearing leaf in
// order and skips non-text media.
type Gemini struct {
	cfg        *config.Manager
	httpClient *http.Client
}

func NewGemini(cfg *config.Manager) *Gemini {
	return &Gemini{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *Gemini) Name() string { return "gemini" }

func (p *Gemini) creds() config.ProviderConfig {
	return p.cfg.Current().Providers.Gemini
}

func (p *Gemini) Configured() bool {
	return strings.TrimSpace(p.creds().APIKey) != ""
}

func (p *Gemini) Generate(ctx context.Context, req Request) (*Result, error) {
	res, err := p.complete(ctx, req)
	if err != nil {
		return nil, opError(geminiDisplay, "generate", err)
	}
	return res, nil
}

func (p *Gemini) Moderate(ctx context.Context, content string) (Moderation, error) {
	res, err := p.complete(ctx, buildModerationRequest(content))
	if err != nil {
		return Moderation{}, opError(geminiDisplay, "moderate", err)
	}
	return parseModeration(res.Text), nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
	Tools             []map[string]any       `json:"tools,omitempty"`
}

func (p *Gemini) complete(ctx context.Context, req Request) (*Result, error) {
	creds := p.creds()
	apiKey := strings.TrimSpace(creds.APIKey)
	if apiKey == "" {
		return nil, &ConfigurationError{Provider: p.Name()}
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = strings.TrimSpace(creds.Model)
	}
	if model == "" {
		model = defaultGeminiModel
	}

	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultGeminiMaxTokens
	}

	body := geminiRequest{
		GenerationConfig: geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: maxTokens,
		},
	}
	var systemParts []geminiPart
	for _, m := range req.Messages {
		switch m.Role {
		case prompt.RoleSystem:
			systemParts = append(systemParts, geminiPart{Text: m.Content})
		case prompt.RoleAssistant:
			body.Contents = append(body.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			body.Contents = append(body.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	if len(systemParts) > 0 {
		body.SystemInstruction = &geminiContent{Parts: systemParts}
	}
	if len(body.Contents) == 0 {
		body.Contents = append(body.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: "."}}})
	}
	if req.Tools {
		body.Tools = []map[string]any{{"google_search": map[string]any{}}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	baseURL := strings.TrimRight(strings.TrimSpace(creds.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	url := fmt.Sprintf("%s/models/%s:generateContent", baseURL, model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gemini http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	raw := string(respBody)
	return &Result{
		Provider: p.Name(),
		Model:    model,
		Text:     geminiText(gjson.Get(raw, "candidates")),
		Usage:    geminiUsage(gjson.Get(raw, "usageMetadata")),
		Raw:      json.RawMessage(respBody),
	}, nil
}

// geminiText concatenates every text leaf under the candidate tree in
// document order. Parts may nest (tool results wrap further content objects)
// and non-text leaves such as inlineData are skipped.
func geminiText(candidates gjson.Result) string {
	var sb strings.Builder
	var walk func(node gjson.Result)
	walk = func(node gjson.Result) {
		if node.IsArray() {
			node.ForEach(func(_, item gjson.Result) bool {
				walk(item)
				return true
			})
			return
		}
		if !node.IsObject() {
			return
		}
		if text := node.Get("text"); text.Exists() && text.Type == gjson.String {
			sb.WriteString(text.String())
		}
		if content := node.Get("content"); content.Exists() {
			walk(content)
		}
		if parts := node.Get("parts"); parts.Exists() {
			walk(parts)
		}
	}
	walk(candidates)
	return sb.String()
}

func geminiUsage(meta gjson.Result) *Usage {
	if !meta.Exists() {
		return nil
	}
	in := int(meta.Get("promptTokenCount").Int())
	out := int(meta.Get("candidatesTokenCount").Int())
	total := int(meta.Get("totalTokenCount").Int())
	if in == 0 && out == 0 && total == 0 {
		return nil
	}
	if total == 0 {
		total = in + out
	}
	return &Usage{InputTokens: in, OutputTokens: out, TotalTokens: total}
}
