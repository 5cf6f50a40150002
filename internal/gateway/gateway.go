// Package gateway is the public entry point of the service: runTask admits a
// generate or moderate task, schedules it on the queue, dispatches it to the
// resolved provider, and logs usage after settlement.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nightowlhq/aigate/internal/config"
	"github.com/nightowlhq/aigate/internal/prompt"
	"github.com/nightowlhq/aigate/internal/provider"
	"github.com/nightowlhq/aigate/internal/queue"
	"github.com/nightowlhq/aigate/internal/usage"
)

type TaskType string

const (
	TaskGenerate TaskType = "generate"
	TaskModerate TaskType = "moderate"
)

// UnknownTaskTypeError is a caller programming error and is never enqueued.
type UnknownTaskTypeError struct {
	Type TaskType
}

func (e *UnknownTaskTypeError) Error() string {
	return fmt.Sprintf("unknown task type %q", string(e.Type))
}

// DisabledError rejects every task while the AI subsystem is switched off.
type DisabledError struct{}

func (e *DisabledError) Error() string { return "ai subsystem is disabled" }

// GeneratePayload is the input of a generate task.
type GeneratePayload struct {
	System          string
	Context         string
	Conversation    []prompt.Message
	Prompt          string
	Temperature     *float64
	MaxOutputTokens int
	Tools           bool
}

// Meta scopes a task for usage accounting.
type Meta struct {
	TenantID  string
	UserID    string
	ChannelID string
}

// Task is one unit of work submitted to RunTask. Never persisted, executed
// at most once, never retried.
type Task struct {
	Type     TaskType
	Generate *GeneratePayload
	Content  string // moderate input
	Provider string // provider override
	Model    string // model override
	Meta     Meta
	OnStream provider.StreamFunc
}

// Result normalizes both task kinds. Moderation is nil for generate tasks.
type Result struct {
	Provider   string
	Model      string
	Text       string
	Usage      *provider.Usage
	Moderation *provider.Moderation
}

// Service wires the registry, queue, and usage tracker together.
type Service struct {
	cfg      *config.Manager
	registry *provider.Registry
	queue    *queue.Queue
	usage    *usage.Tracker
}

func NewService(cfg *config.Manager, registry *provider.Registry, q *queue.Queue, tracker *usage.Tracker) *Service {
	return &Service{cfg: cfg, registry: registry, queue: q, usage: tracker}
}

// RunTask admits, schedules, and executes one task, blocking until it
// settles. Admission failures reject immediately without touching the queue.
func (s *Service) RunTask(ctx context.Context, t Task) (*Result, error) {
	if !s.cfg.Current().AI.Enabled {
		return nil, &DisabledError{}
	}

	p, err := s.resolveProvider(t.Provider)
	if err != nil {
		return nil, err
	}

	switch t.Type {
	case TaskGenerate:
		if t.Generate == nil {
			return nil, fmt.Errorf("generate task has no payload")
		}
	case TaskModerate:
		if strings.TrimSpace(t.Content) == "" {
			return nil, fmt.Errorf("moderate task has no content")
		}
	default:
		return nil, &UnknownTaskTypeError{Type: t.Type}
	}

	var res *Result
	err = s.queue.Do(ctx, func(ctx context.Context) error {
		var runErr error
		res, runErr = s.dispatch(ctx, p, t)
		return runErr
	})
	if err != nil {
		return nil, err
	}

	if t.Type == TaskGenerate && res.Usage != nil && t.Meta.TenantID != "" {
		s.logUsage(t, res)
	}
	return res, nil
}

func (s *Service) resolveProvider(override string) (provider.Provider, error) {
	if override == "" {
		return s.registry.Primary()
	}
	p, ok := s.registry.Get(override)
	if !ok {
		return nil, &provider.UnknownProviderError{Name: override}
	}
	if !p.Configured() {
		return nil, &provider.ConfigurationError{Provider: p.Name()}
	}
	return p, nil
}

func (s *Service) dispatch(ctx context.Context, p provider.Provider, t Task) (*Result, error) {
	switch t.Type {
	case TaskGenerate:
		res, err := s.generate(ctx, p, t)
		if err != nil {
			return nil, err
		}
		return &Result{Provider: res.Provider, Model: res.Model, Text: res.Text, Usage: res.Usage}, nil
	case TaskModerate:
		mod, err := p.Moderate(ctx, t.Content)
		if err != nil {
			return nil, err
		}
		return &Result{Provider: p.Name(), Moderation: &mod}, nil
	default:
		return nil, &UnknownTaskTypeError{Type: t.Type}
	}
}

func (s *Service) generate(ctx context.Context, p provider.Provider, t Task) (*provider.Result, error) {
	temperature := t.Generate.Temperature
	if temperature == nil {
		d := config.DefaultTemperature
		temperature = &d
	}
	maxTokens := t.Generate.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = config.DefaultMaxOutputTokens
	}

	req := provider.Request{
		Messages: prompt.Assemble(prompt.Input{
			System:  t.Generate.System,
			Context: t.Generate.Context,
			History: t.Generate.Conversation,
			Prompt:  t.Generate.Prompt,
		}),
		Temperature:     temperature,
		MaxOutputTokens: maxTokens,
		Model:           t.Model,
		Tools:           t.Generate.Tools,
	}

	if t.OnStream == nil {
		return p.Generate(ctx, req)
	}
	if streamer, ok := p.(provider.Streamer); ok {
		return streamer.GenerateStream(ctx, req, t.OnStream)
	}

	// Provider has no streaming path. Run the batch call and synthesize the
	// callback sequence so callers see the same shape either way.
	res, err := p.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	t.OnStream(res.Text, false)
	t.OnStream("", true)
	return res, nil
}

// logUsage fires the usage write without blocking the caller. Failures are
// logged and swallowed.
func (s *Service) logUsage(t Task, res *Result) {
	meta, _ := json.Marshal(map[string]string{
		"userId":    t.Meta.UserID,
		"channelId": t.Meta.ChannelID,
	})
	rec := usage.Record{
		TenantID:     t.Meta.TenantID,
		Provider:     res.Provider,
		Model:        res.Model,
		TaskType:     string(t.Type),
		TokensInput:  res.Usage.InputTokens,
		TokensOutput: res.Usage.OutputTokens,
		TokensTotal:  res.Usage.TotalTokens,
		Metadata:     string(meta),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.usage.Record(ctx, rec); err != nil {
			log.Printf("[gateway] usage logging failed: %v", err)
		}
	}()
}
