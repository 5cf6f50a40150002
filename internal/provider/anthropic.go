package provider

import (
	"context"
	"encoding/json"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/nightowlhq/aigate/internal/config"
	"github.com/nightowlhq/aigate/internal/prompt"
)

const (
	anthropicDisplay          = "Anthropic"
	defaultAnthropicModel     = "claude-sonnet-4-5"
	defaultAnthropicMaxTokens = 1024
)

// Anthropic adapts the Messages API. The system instruction travels
// out-of-band (params.System), never as a conversation message.
type Anthropic struct {
	cfg *config.Manager
}

func NewAnthropic(cfg *config.Manager) *Anthropic {
	return &Anthropic{cfg: cfg}
}

func (p *Anthropic) Name() string { return "anthropic" }

func (p *Anthropic) creds() config.ProviderConfig {
	return p.cfg.Current().Providers.Anthropic
}

func (p *Anthropic) Configured() bool {
	return strings.TrimSpace(p.creds().APIKey) != ""
}

func (p *Anthropic) Generate(ctx context.Context, req Request) (*Result, error) {
	res, err := p.complete(ctx, req)
	if err != nil {
		return nil, opError(anthropicDisplay, "generate", err)
	}
	return res, nil
}

func (p *Anthropic) GenerateStream(ctx context.Context, req Request, fn StreamFunc) (*Result, error) {
	if fn == nil {
		return p.Generate(ctx, req)
	}
	// The streaming path has no grounding support; run the batch call and
	// synthesize the callbacks.
	if req.Tools {
		res, err := p.complete(ctx, req)
		if err != nil {
			return nil, opError(anthropicDisplay, "generateStream", err)
		}
		fn(res.Text, false)
		fn("", true)
		return res, nil
	}

	client, creds, err := p.client()
	if err != nil {
		return nil, opError(anthropicDisplay, "generateStream", err)
	}
	params := buildAnthropicParams(creds, req)

	stream := client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var final anthropic.Message
	for stream.Next() {
		event := stream.Current()
		if err := final.Accumulate(event); err != nil {
			return nil, opError(anthropicDisplay, "generateStream", err)
		}
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if text := ev.Delta.AsTextDelta().Text; text != "" {
				fn(text, false)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, opError(anthropicDisplay, "generateStream", err)
	}
	fn("", true)

	return &Result{
		Provider: p.Name(),
		Model:    string(params.Model),
		Text:     anthropicText(final.Content),
		Usage:    anthropicUsage(final.Usage),
		Raw:      json.RawMessage(final.RawJSON()),
	}, nil
}

func (p *Anthropic) Moderate(ctx context.Context, content string) (Moderation, error) {
	res, err := p.complete(ctx, buildModerationRequest(content))
	if err != nil {
		return Moderation{}, opError(anthropicDisplay, "moderate", err)
	}
	return parseModeration(res.Text), nil
}

func (p *Anthropic) complete(ctx context.Context, req Request) (*Result, error) {
	client, creds, err := p.client()
	if err != nil {
		return nil, err
	}
	params := buildAnthropicParams(creds, req)

	msg, err := client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	return &Result{
		Provider: p.Name(),
		Model:    string(params.Model),
		Text:     anthropicText(msg.Content),
		Usage:    anthropicUsage(msg.Usage),
		Raw:      json.RawMessage(msg.RawJSON()),
	}, nil
}

func (p *Anthropic) client() (anthropic.Client, config.ProviderConfig, error) {
	creds := p.creds()
	apiKey := strings.TrimSpace(creds.APIKey)
	if apiKey == "" {
		return anthropic.Client{}, creds, &ConfigurationError{Provider: p.Name()}
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if creds.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(creds.BaseURL))
	}
	return anthropic.NewClient(opts...), creds, nil
}

func buildAnthropicParams(creds config.ProviderConfig, req Request) anthropic.MessageNewParams {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = strings.TrimSpace(creds.Model)
	}
	if model == "" {
		model = defaultAnthropicModel
	}

	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	var system []anthropic.TextBlockParam
	var messages []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case prompt.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case prompt.RoleAssistant:
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)},
			})
		default:
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)},
			})
		}
	}
	if len(messages) == 0 {
		messages = append(messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRoleUser,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(".")},
		})
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}
	return params
}

func anthropicText(blocks []anthropic.ContentBlockUnion) string {
	var sb strings.Builder
	for _, block := range blocks {
		if block.Type == "text" && block.Text != "" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

func anthropicUsage(u anthropic.Usage) *Usage {
	in := int(u.InputTokens)
	out := int(u.OutputTokens)
	if in == 0 && out == 0 {
		return nil
	}
	return &Usage{
		InputTokens:  in,
		OutputTokens: out,
		TotalTokens:  in + out,
	}
}
