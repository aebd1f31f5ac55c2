// Package estimator derives a calorie total for a meal description by having
// the model write a small arithmetic expression and evaluating it.
package estimator

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/expr-lang/expr"
	"github.com/rs/zerolog"

	"github.com/stellarlinkco/mealclaw/internal/config"
)

// Sentinel is returned when no calorie figure could be produced.
const Sentinel = -1

const instructions = `You are an agent designed to calculate calories from meal descriptions.
You answer by writing one expression in the expr language, which will be evaluated for you.
You need to calculate the calories for a meal based on the ingredients and portions.
You should:
1. Break down the meal into its components
2. Estimate portions in standard units (grams, pieces, etc.)
3. Calculate calories for each component
4. Sum all components to get the total calories
5. Make the expression evaluate to the total calories as a single number

Write the expression in a fenced block, for example:
` + "```expr" + `
let bun = 150;
let patty = 2.5 * 100;
bun + patty
` + "```" + `
If you get an error, debug your expression and try again.
If it does not seem like you can write an expression to answer the question, just return "-1" as the answer.`

var fenced = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)```")

// Reasoner produces a text completion.
type Reasoner interface {
	Text(ctx context.Context, system string, messages []model.Message) (string, error)
}

type Options struct {
	MaxAttempts int
	ExecTimeout time.Duration
	Logger      zerolog.Logger
}

type Estimator struct {
	reasoner    Reasoner
	maxAttempts int
	execTimeout time.Duration
	log         zerolog.Logger
}

func New(r Reasoner, opts Options) *Estimator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = config.DefaultEstimatorAttempts
	}
	if opts.MaxAttempts > config.MaxEstimatorAttempts {
		opts.MaxAttempts = config.MaxEstimatorAttempts
	}
	if opts.ExecTimeout <= 0 {
		opts.ExecTimeout = time.Duration(config.DefaultExecTimeoutMs) * time.Millisecond
	}
	return &Estimator{
		reasoner:    r,
		maxAttempts: opts.MaxAttempts,
		execTimeout: opts.ExecTimeout,
		log:         opts.Logger,
	}
}

// Estimate returns the calorie total for description, or Sentinel when the
// model declines or every attempt fails. A non-nil error is returned only for
// reasoning-service faults.
func (e *Estimator) Estimate(ctx context.Context, description string) (int, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Sentinel, nil
	}
	messages := []model.Message{{
		Role:    "user",
		Content: "Calculate the total calories for this meal: " + description,
	}}

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		reply, err := e.reasoner.Text(ctx, instructions, messages)
		if err != nil {
			return Sentinel, fmt.Errorf("estimate calories: %w", err)
		}
		messages = append(messages, model.Message{Role: "assistant", Content: reply})

		code := Snippet(reply)
		if code == "" || code == "-1" {
			e.log.Info().Int("attempt", attempt).Msg("estimator declined")
			return Sentinel, nil
		}

		value, err := e.run(ctx, code)
		if err == nil {
			e.log.Debug().Int("attempt", attempt).Int("calories", value).Msg("calories estimated")
			return value, nil
		}
		e.log.Debug().Err(err).Int("attempt", attempt).Msg("estimator expression failed")
		messages = append(messages, model.Message{
			Role:    "user",
			Content: fmt.Sprintf("Evaluating your expression failed: %v\nDebug it and reply with a corrected expression, or -1.", err),
		})
	}

	e.log.Warn().Int("attempts", e.maxAttempts).Msg("calorie estimation exhausted")
	return Sentinel, nil
}

// Snippet extracts the expression from a reply: the first fenced block, or the
// whole reply when there is none.
func Snippet(reply string) string {
	if m := fenced.FindStringSubmatch(reply); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.Trim(strings.TrimSpace(reply), `"`)
}

type result struct {
	value any
	err   error
}

// run evaluates code with a hard timeout and returns a non-negative integer.
func (e *Estimator) run(ctx context.Context, code string) (int, error) {
	program, err := expr.Compile(code)
	if err != nil {
		return 0, fmt.Errorf("compile: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.execTimeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := expr.Run(program, nil)
		done <- result{value: v, err: err}
	}()

	var r result
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("evaluation timed out after %s", e.execTimeout)
	case r = <-done:
	}
	if r.err != nil {
		return 0, fmt.Errorf("run: %w", r.err)
	}
	f, ok := number(r.value)
	if !ok {
		return 0, fmt.Errorf("result %v (%T) is not a number", r.value, r.value)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, fmt.Errorf("result %v is not a valid calorie total", f)
	}
	return int(math.Round(f)), nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
