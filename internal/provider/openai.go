package provider

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/nightowlhq/aigate/internal/config"
	"github.com/nightowlhq/aigate/internal/prompt"
)

const (
	openaiDisplay          = "OpenAI"
	defaultOpenAIModel     = "gpt-4o-mini"
	defaultOpenAIMaxTokens = 1024
)

// OpenAI adapts the chat completions API.
type OpenAI struct {
	cfg *config.Manager
}

func NewOpenAI(cfg *config.Manager) *OpenAI {
	return &OpenAI{cfg: cfg}
}

func (p *OpenAI) Name() string { return "openai" }

func (p *OpenAI) creds() config.ProviderConfig {
	return p.cfg.Current().Providers.OpenAI
}

func (p *OpenAI) Configured() bool {
	return strings.TrimSpace(p.creds().APIKey) != ""
}

func (p *OpenAI) Generate(ctx context.Context, req Request) (*Result, error) {
	res, err := p.complete(ctx, req)
	if err != nil {
		return nil, opError(openaiDisplay, "generate", err)
	}
	return res, nil
}

func (p *OpenAI) GenerateStream(ctx context.Context, req Request, fn StreamFunc) (*Result, error) {
	if fn == nil {
		return p.Generate(ctx, req)
	}
	if req.Tools {
		res, err := p.complete(ctx, req)
		if err != nil {
			return nil, opError(openaiDisplay, "generateStream", err)
		}
		fn(res.Text, false)
		fn("", true)
		return res, nil
	}

	client, creds, err := p.client()
	if err != nil {
		return nil, opError(openaiDisplay, "generateStream", err)
	}
	params := buildOpenAIParams(creds, req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	stream := client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var text strings.Builder
	var usage *Usage
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Usage.TotalTokens > 0 {
			usage = openaiUsage(chunk.Usage)
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				text.WriteString(choice.Delta.Content)
				fn(choice.Delta.Content, false)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, opError(openaiDisplay, "generateStream", err)
	}
	fn("", true)

	return &Result{
		Provider: p.Name(),
		Model:    string(params.Model),
		Text:     text.String(),
		Usage:    usage,
	}, nil
}

func (p *OpenAI) Moderate(ctx context.Context, content string) (Moderation, error) {
	res, err := p.complete(ctx, buildModerationRequest(content))
	if err != nil {
		return Moderation{}, opError(openaiDisplay, "moderate", err)
	}
	return parseModeration(res.Text), nil
}

func (p *OpenAI) complete(ctx context.Context, req Request) (*Result, error) {
	client, creds, err := p.client()
	if err != nil {
		return nil, err
	}
	params := buildOpenAIParams(creds, req)

	completion, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}

	var text string
	if len(completion.Choices) > 0 {
		text = completion.Choices[0].Message.Content
	}

	return &Result{
		Provider: p.Name(),
		Model:    string(params.Model),
		Text:     text,
		Usage:    openaiUsage(completion.Usage),
		Raw:      json.RawMessage(completion.RawJSON()),
	}, nil
}

func (p *OpenAI) client() (openai.Client, config.ProviderConfig, error) {
	creds := p.creds()
	apiKey := strings.TrimSpace(creds.APIKey)
	if apiKey == "" {
		return openai.Client{}, creds, &ConfigurationError{Provider: p.Name()}
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if creds.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(creds.BaseURL))
	}
	return openai.NewClient(opts...), creds, nil
}

func buildOpenAIParams(creds config.ProviderConfig, req Request) openai.ChatCompletionNewParams {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = strings.TrimSpace(creds.Model)
	}
	if model == "" {
		model = defaultOpenAIModel
	}

	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultOpenAIMaxTokens
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case prompt.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case prompt.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	if len(messages) == 0 {
		messages = append(messages, openai.UserMessage("."))
	}

	params := openai.ChatCompletionNewParams{
		Model:               shared.ChatModel(model),
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
		Messages:            messages,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	return params
}

func openaiUsage(u openai.CompletionUsage) *Usage {
	if u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0 {
		return nil
	}
	return &Usage{
		InputTokens:  int(u.PromptTokens),
		OutputTokens: int(u.CompletionTokens),
		TotalTokens:  int(u.TotalTokens),
	}
}
