// Package agent routes a free-form utterance to the meal tracker's
// capabilities through a tool-calling reasoning loop.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/rs/zerolog"

	"github.com/stellarlinkco/mealclaw/internal/config"
	"github.com/stellarlinkco/mealclaw/internal/llm"
	"github.com/stellarlinkco/mealclaw/internal/meal"
	"github.com/stellarlinkco/mealclaw/internal/tracker"
)

const systemPrompt = `You are a meal tracking assistant that can search for nutritional information and manage meals.
Today is %s

Your capabilities:
%s

When creating a meal:
1. Use search_meal_info first if you need nutritional details to answer the user
2. Then use create_meal_with_search to save the meal
3. If the search results are unclear, ask the user for clarification

Dates passed to tools use the YYYY-MM-DD format.
Always provide clear, concise responses.
If an operation fails, explain why and suggest alternatives.
When searching for nutritional information, include relevant details from the search results in your response.`

const exhaustedReply = "Sorry, I could not finish this request. Please try again with a simpler or more specific request."

// Tracker is the set of meal operations the agent can route to.
type Tracker interface {
	Search(ctx context.Context, query string, history []llm.Turn) tracker.Outcome
	Create(ctx context.Context, description string, history []llm.Turn) tracker.Outcome
	Update(ctx context.Context, id, description string, history []llm.Turn) tracker.Outcome
	Delete(ctx context.Context, id string) tracker.Outcome
	Get(ctx context.Context, id string) tracker.Outcome
	Day(ctx context.Context, day time.Time) tracker.Outcome
	Total(ctx context.Context, day time.Time) tracker.Outcome
}

// Invocation records one dispatched tool call.
type Invocation struct {
	Capability string         `json:"capability"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Result     string         `json:"result"`
}

type Reply struct {
	Text        string       `json:"text"`
	Invocations []Invocation `json:"invocations,omitempty"`
	Exhausted   bool         `json:"exhausted,omitempty"`
}

type Options struct {
	MaxIterations int
	Now           func() time.Time
	Logger        zerolog.Logger
}

type Agent struct {
	model   llm.Model
	tracker Tracker
	maxIter int
	now     func() time.Time
	log     zerolog.Logger
}

func New(m llm.Model, t Tracker, opts Options) *Agent {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = config.DefaultMaxToolIterations
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Agent{model: m, tracker: t, maxIter: opts.MaxIterations, now: opts.Now, log: opts.Logger}
}

// Handle answers utterance, invoking capabilities as the model requests them.
// The returned error is non-nil only when the reasoning service fails.
func (a *Agent) Handle(ctx context.Context, utterance string, history []llm.Turn) (Reply, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return Reply{}, fmt.Errorf("%w: empty message", meal.ErrInvalidInput)
	}

	messages := llm.Messages(history)
	messages = append(messages, model.Message{Role: "user", Content: utterance})
	tools := Definitions()
	system := fmt.Sprintf(systemPrompt, a.now().Format(meal.DayLayout), capabilityList())

	var reply Reply
	for i := 0; i < a.maxIter; i++ {
		resp, err := a.model.Complete(ctx, model.Request{
			System:   system,
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			return reply, fmt.Errorf("agent step %d: %w", i+1, err)
		}

		calls := resp.Message.ToolCalls
		if len(calls) == 0 {
			reply.Text = strings.TrimSpace(llm.ResponseText(resp))
			return reply, nil
		}

		assistant := model.Message{Role: "assistant", Content: resp.Message.Content}
		for _, call := range calls {
			assistant.ToolCalls = append(assistant.ToolCalls, model.ToolCall{ID: call.ID, Name: call.Name, Arguments: call.Arguments})
		}
		messages = append(messages, assistant)

		for _, call := range calls {
			result := a.dispatch(ctx, call, history)
			reply.Invocations = append(reply.Invocations, Invocation{
				Capability: call.Name,
				Arguments:  call.Arguments,
				Result:     result,
			})
			messages = append(messages, model.Message{
				Role:      "tool",
				ToolCalls: []model.ToolCall{{ID: call.ID, Name: call.Name, Result: result}},
			})
		}
	}

	a.log.Warn().Int("iterations", a.maxIter).Msg("agent stopped before a final answer")
	reply.Text = exhaustedReply
	reply.Exhausted = true
	return reply, nil
}

// dispatch decodes and runs one tool call and returns its JSON result.
func (a *Agent) dispatch(ctx context.Context, call model.ToolCall, history []llm.Turn) string {
	c, ok := Lookup(call.Name)
	if !ok {
		return invalid(fmt.Errorf("%w: unknown capability %q", meal.ErrInvalidInput, call.Name))
	}
	args, err := c.Decode(call.Arguments)
	if err != nil {
		a.log.Debug().Err(err).Str("capability", c.Name()).Msg("rejected tool call")
		return invalid(err)
	}

	start := time.Now()
	out := a.run(ctx, c, args, history)
	a.log.Info().Str("capability", c.Name()).Str("status", string(out.Status)).
		Dur("elapsed", time.Since(start)).Msg("capability invoked")
	return encode(out)
}

func (a *Agent) run(ctx context.Context, c Capability, args Args, history []llm.Turn) tracker.Outcome {
	switch c {
	case SearchMealInfo:
		return a.tracker.Search(ctx, args.Query, history)
	case CreateMealWithSearch:
		return a.tracker.Create(ctx, args.Query, history)
	case UpdateMeal:
		return a.tracker.Update(ctx, args.ID, args.Query, history)
	case DeleteMeal:
		return a.tracker.Delete(ctx, args.ID)
	case GetMealByID:
		return a.tracker.Get(ctx, args.ID)
	case GetMealsByDay:
		return a.tracker.Day(ctx, args.Day)
	case GetTotalCalories:
		return a.tracker.Total(ctx, args.Day)
	default:
		return tracker.Outcome{Status: tracker.StatusFailed, ErrorKind: meal.KindInternal, Error: "unhandled capability " + c.Name()}
	}
}

func capabilityList() string {
	var b strings.Builder
	for i, c := range Capabilities {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, c.Name(), c.Description())
	}
	return strings.TrimRight(b.String(), "\n")
}

// invalidResult is the tool result for a call that never reached a handler.
type invalidResult struct {
	Status     string `json:"status"`
	ErrorKind  string `json:"error_kind"`
	Error      string `json:"error"`
	Suggestion string `json:"suggestion"`
}

func invalid(err error) string {
	data, _ := json.Marshal(invalidResult{
		Status:     string(tracker.StatusFailed),
		ErrorKind:  meal.KindOf(err),
		Error:      err.Error(),
		Suggestion: "Call the tool again with the documented arguments.",
	})
	return string(data)
}

func encode(out tracker.Outcome) string {
	data, err := json.Marshal(out)
	if err != nil {
		return invalid(fmt.Errorf("encode result: %v", err))
	}
	return string(data)
}
