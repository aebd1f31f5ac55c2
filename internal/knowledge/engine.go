// Package knowledge answers nutrition questions grounded in an ingested
// corpus: it rephrases follow-ups, retrieves similar chunks and synthesizes an
// answer that carries its sources.
package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/rs/zerolog"

	"github.com/stellarlinkco/mealclaw/internal/config"
	"github.com/stellarlinkco/mealclaw/internal/llm"
	"github.com/stellarlinkco/mealclaw/internal/meal"
)

const (
	rephrasePrompt = `Given the following conversation and a follow up question, rephrase the follow up question to be a standalone question.
Do not answer the question. Return only the standalone question.

Chat History:
%s
Follow Up Input: %s
Standalone Question:`

	answerSystemPrompt = `Answer any user questions based solely on the context below:

<context>
%s
</context>`

	mealInfoInstruction = `Please provide information about %s in the following json format:
- name: Name of the food/meal
- description: Detailed description
- calories: Calories (as a number)
- category: One of: %s
- date: Date of the meal in YYYY-MM-DD HH:MM format, Today is: %s
If you can't find the information, you return a question to the user to specify.`
)

// Reasoner produces a text completion.
type Reasoner interface {
	Text(ctx context.Context, system string, messages []model.Message) (string, error)
}

// CategorySource lists the live category names.
type CategorySource interface {
	ListCategories(ctx context.Context) ([]string, error)
}

type Options struct {
	TopK   int
	Now    func() time.Time
	Logger zerolog.Logger
}

type Engine struct {
	reasoner   Reasoner
	embedder   Embedder
	index      Searcher
	categories CategorySource
	topK       int
	now        func() time.Time
	log        zerolog.Logger
}

func NewEngine(r Reasoner, e Embedder, idx Searcher, cats CategorySource, opts Options) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = config.DefaultTopK
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		reasoner:   r,
		embedder:   e,
		index:      idx,
		categories: cats,
		topK:       opts.TopK,
		now:        opts.Now,
		log:        opts.Logger,
	}
}

// Categories returns the live category names joined for prompts.
func (e *Engine) Categories(ctx context.Context) (string, error) {
	cats, err := e.categories.ListCategories(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: list categories: %v", meal.ErrExternalService, err)
	}
	return strings.Join(cats, ", "), nil
}

// Now formats the engine's current time in the record date layout.
func (e *Engine) Now() string {
	return e.now().Format(meal.DateLayout)
}

// Answer asks for meal information about query in the record JSON shape.
func (e *Engine) Answer(ctx context.Context, query string, history []llm.Turn) (meal.GroundedAnswer, error) {
	cats, err := e.Categories(ctx)
	if err != nil {
		return meal.GroundedAnswer{}, err
	}
	input := fmt.Sprintf(mealInfoInstruction, strings.TrimSpace(query), cats, e.Now())
	return e.AnswerWith(ctx, query, input, history)
}

// AnswerWith retrieves context for query and synthesizes a reply to input.
// An empty retrieval still synthesizes.
func (e *Engine) AnswerWith(ctx context.Context, query, input string, history []llm.Turn) (meal.GroundedAnswer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return meal.GroundedAnswer{}, fmt.Errorf("%w: empty query", meal.ErrInvalidInput)
	}

	standalone, err := e.standalone(ctx, query, history)
	if err != nil {
		return meal.GroundedAnswer{}, err
	}

	vector, err := e.embedder.Embed(ctx, standalone)
	if err != nil {
		return meal.GroundedAnswer{}, fmt.Errorf("embed query: %w", err)
	}
	matches, err := e.index.Search(ctx, vector, e.topK)
	if err != nil {
		return meal.GroundedAnswer{}, fmt.Errorf("retrieve: %w", err)
	}
	if len(matches) == 0 {
		e.log.Warn().Str("query", standalone).Msg("no knowledge chunks retrieved")
	}

	sources := make([]meal.Source, 0, len(matches))
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		sources = append(sources, meal.Source{Locator: m.Chunk.Source, Content: m.Chunk.Content, Score: m.Score})
		parts = append(parts, m.Chunk.Content)
	}

	messages := llm.Messages(history)
	messages = append(messages, model.Message{Role: "user", Content: input})
	answer, err := e.reasoner.Text(ctx, fmt.Sprintf(answerSystemPrompt, strings.Join(parts, "\n\n")), messages)
	if err != nil {
		return meal.GroundedAnswer{}, fmt.Errorf("synthesize: %w", err)
	}

	e.log.Debug().Str("query", standalone).Int("sources", len(sources)).Msg("grounded answer ready")
	return meal.GroundedAnswer{
		Query:      query,
		Standalone: standalone,
		AnswerText: answer,
		Sources:    sources,
	}, nil
}

// standalone rewrites a follow-up into a self-contained question. Without
// history the query is already standalone.
func (e *Engine) standalone(ctx context.Context, query string, history []llm.Turn) (string, error) {
	turns := llm.Messages(history)
	if len(turns) == 0 {
		return query, nil
	}
	var b strings.Builder
	for _, t := range turns {
		label := "Human"
		if t.Role == "assistant" {
			label = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, t.Content)
	}
	prompt := fmt.Sprintf(rephrasePrompt, strings.TrimRight(b.String(), "\n"), query)
	rephrased, err := e.reasoner.Text(ctx, "", []model.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return "", fmt.Errorf("rephrase: %w", err)
	}
	if rephrased = strings.TrimSpace(rephrased); rephrased == "" {
		return query, nil
	}
	return rephrased, nil
}

// FormatSources lists the unique source locators of an answer, sorted.
func FormatSources(answer meal.GroundedAnswer) []string {
	seen := make(map[string]struct{}, len(answer.Sources))
	out := make([]string, 0, len(answer.Sources))
	for _, s := range answer.Sources {
		if s.Locator == "" {
			continue
		}
		if _, ok := seen[s.Locator]; ok {
			continue
		}
		seen[s.Locator] = struct{}{}
		out = append(out, s.Locator)
	}
	sort.Strings(out)
	return out
}
