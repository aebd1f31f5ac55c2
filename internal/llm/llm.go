// Package llm is the boundary to the reasoning service. It narrows the
// agentsdk model interface, applies per-call timeouts and bounded retries, and
// classifies faults as external service errors.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/rs/zerolog"

	"github.com/stellarlinkco/mealclaw/internal/config"
	"github.com/stellarlinkco/mealclaw/internal/meal"
)

// Model is the subset of model.Model used by mealclaw.
type Model interface {
	Complete(ctx context.Context, req model.Request) (*model.Response, error)
}

// Turn is one prior exchange in a conversation. Role is "user" or "assistant".
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func UserTurn(content string) Turn      { return Turn{Role: "user", Content: content} }
func AssistantTurn(content string) Turn { return Turn{Role: "assistant", Content: content} }

// Messages converts history into request messages, skipping blank turns.
func Messages(history []Turn) []model.Message {
	out := make([]model.Message, 0, len(history))
	for _, t := range history {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		role := strings.ToLower(strings.TrimSpace(t.Role))
		if role != "assistant" {
			role = "user"
		}
		out = append(out, model.Message{Role: role, Content: t.Content})
	}
	return out
}

// Trim keeps the most recent max turns.
func Trim(history []Turn, max int) []Turn {
	if max <= 0 || len(history) <= max {
		return history
	}
	return append([]Turn(nil), history[len(history)-max:]...)
}

type Options struct {
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	MaxTokens  int
	Logger     zerolog.Logger
}

// Client wraps a Model with timeouts and retries. It satisfies Model itself.
type Client struct {
	model      Model
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	maxTokens  int
	log        zerolog.Logger
}

func NewClient(m Model, opts Options) *Client {
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Client{
		model:      m,
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		maxTokens:  opts.MaxTokens,
		log:        opts.Logger,
	}
}

// Complete sends req, retrying transient failures. The returned error wraps
// meal.ErrExternalService.
func (c *Client) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	if c.model == nil {
		return nil, fmt.Errorf("%w: no model configured", meal.ErrExternalService)
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.maxTokens
	}

	attempt := 0
	op := func() (*model.Response, error) {
		attempt++
		callCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		resp, err := c.model.Complete(callCtx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("model call failed")
			return nil, err
		}
		if resp == nil {
			return nil, errors.New("empty model response")
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.backoff)),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: model call: %v", meal.ErrExternalService, err)
	}
	return resp, nil
}

// Text runs a single completion and returns the trimmed answer text.
func (c *Client) Text(ctx context.Context, system string, messages []model.Message) (string, error) {
	resp, err := c.Complete(ctx, model.Request{System: system, Messages: messages})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(ResponseText(resp)), nil
}

// ResponseText extracts the assistant text from resp.
func ResponseText(resp *model.Response) string {
	if resp == nil {
		return ""
	}
	if len(resp.Message.ContentBlocks) > 0 && strings.TrimSpace(resp.Message.Content) == "" {
		return resp.Message.TextContent()
	}
	return resp.Message.Content
}

// NewModel builds the configured provider model.
func NewModel(ctx context.Context, cfg *config.Config) (model.Model, error) {
	if strings.TrimSpace(cfg.Provider.APIKey) == "" {
		return nil, fmt.Errorf("api key not set. Run 'mealclaw onboard' or set MEALCLAW_API_KEY")
	}
	temperature := cfg.Agent.Temperature

	switch strings.ToLower(strings.TrimSpace(cfg.Provider.Type)) {
	case "anthropic":
		p := &model.AnthropicProvider{
			APIKey:      cfg.Provider.APIKey,
			BaseURL:     cfg.Provider.BaseURL,
			ModelName:   cfg.Agent.Model,
			MaxTokens:   cfg.Agent.MaxTokens,
			Temperature: &temperature,
		}
		return p.Model(ctx)
	case "", "openai":
		p := &model.OpenAIProvider{
			APIKey:      cfg.Provider.APIKey,
			BaseURL:     cfg.Provider.BaseURL,
			ModelName:   cfg.Agent.Model,
			MaxTokens:   cfg.Agent.MaxTokens,
			Temperature: &temperature,
		}
		return p.Model(ctx)
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Provider.Type)
	}
}

// ConfiguredOptions derives client options from cfg.
func ConfiguredOptions(cfg *config.Config, log zerolog.Logger) Options {
	return Options{
		Timeout:    time.Duration(cfg.Provider.TimeoutMs) * time.Millisecond,
		MaxRetries: cfg.Provider.MaxRetries,
		MaxTokens:  cfg.Agent.MaxTokens,
		Logger:     log,
	}
}
