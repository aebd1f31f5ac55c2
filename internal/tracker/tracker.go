// Package tracker orchestrates meal creation and updates: it grounds the
// description in the knowledge base, falls back to calorie estimation,
// extracts and validates a draft, then persists it. Every component fault is
// reported as a failed Outcome instead of an error.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/mealclaw/internal/estimator"
	"github.com/stellarlinkco/mealclaw/internal/extract"
	"github.com/stellarlinkco/mealclaw/internal/knowledge"
	"github.com/stellarlinkco/mealclaw/internal/llm"
	"github.com/stellarlinkco/mealclaw/internal/meal"
)

const mealPrompt = `Tell me about the nutritional information and calories for: %s.
Format your response as valid JSON with the following fields: name, description, calories, category, date.
The date should be in YYYY-MM-DD HH:MM format. If the date or time is not specified, use %s.
The category should be one of the following: %s
The name should be a short description of the meal.
The description should be a detailed description of the meal. Only describe the ingredients from the query. Don't add any other ingredients.
The calories should be the number of calories in the meal (all the ingredients).
If you can't find the information, return a question to the user to specify.`

// Grounder answers queries from the knowledge base.
type Grounder interface {
	Answer(ctx context.Context, query string, history []llm.Turn) (meal.GroundedAnswer, error)
	AnswerWith(ctx context.Context, query, input string, history []llm.Turn) (meal.GroundedAnswer, error)
}

// Estimator derives a calorie total, or estimator.Sentinel.
type Estimator interface {
	Estimate(ctx context.Context, description string) (int, error)
}

// Store is the record store and category reference used by the tracker.
type Store interface {
	Create(ctx context.Context, d meal.Draft) (meal.Record, error)
	Get(ctx context.Context, id string) (meal.Record, bool, error)
	Update(ctx context.Context, id string, d meal.Draft) (meal.Record, bool, error)
	Delete(ctx context.Context, id string) (bool, error)
	ListDay(ctx context.Context, day time.Time) ([]meal.Record, error)
	TotalCalories(ctx context.Context, day time.Time) (int, error)
	ListCategories(ctx context.Context) ([]string, error)
	Settings(ctx context.Context) (meal.Settings, error)
}

type Tracker struct {
	grounder  Grounder
	estimator Estimator
	store     Store
	now       func() time.Time
	log       zerolog.Logger
}

type Options struct {
	Now    func() time.Time
	Logger zerolog.Logger
}

func New(g Grounder, e Estimator, s Store, opts Options) *Tracker {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{grounder: g, estimator: e, store: s, now: opts.Now, log: opts.Logger}
}

type stage int

const (
	stageGrounding stage = iota
	stageFallback
	stageExtraction
	stageValidation
	stageDone
)

func (s stage) String() string {
	switch s {
	case stageGrounding:
		return "grounding"
	case stageFallback:
		return "calorie_fallback"
	case stageExtraction:
		return "extraction"
	case stageValidation:
		return "validation"
	default:
		return "done"
	}
}

// flow carries one create or update request through the stages.
type flow struct {
	description   string
	defaultDate   time.Time
	history       []llm.Turn
	answer        meal.GroundedAnswer
	text          string
	draft         meal.Draft
	usedEstimator bool
	stage         stage
}

// Create records the meal described by description.
func (t *Tracker) Create(ctx context.Context, description string, history []llm.Turn) Outcome {
	f := &flow{description: strings.TrimSpace(description), defaultDate: t.now(), history: history}
	if f.description == "" {
		return failed(fmt.Errorf("%w: meal description is empty", meal.ErrInvalidInput))
	}
	if err := t.prepare(ctx, f); err != nil {
		return t.failure(f, err)
	}

	rec, err := t.store.Create(ctx, f.draft)
	if err != nil {
		return t.failure(f, persistErr(err))
	}
	t.log.Info().Str("id", rec.ID).Str("name", rec.Name).Int("calories", rec.Calories).
		Bool("estimated", f.usedEstimator).Msg("meal created")
	return t.success(StatusCreated, f, rec)
}

// Update overwrites the record id with the meal described by description.
func (t *Tracker) Update(ctx context.Context, id, description string, history []llm.Turn) Outcome {
	id = strings.TrimSpace(id)
	f := &flow{description: strings.TrimSpace(description), history: history}
	if id == "" || f.description == "" {
		return failed(fmt.Errorf("%w: meal id and description are required", meal.ErrInvalidInput))
	}

	existing, ok, err := t.store.Get(ctx, id)
	if err != nil {
		return failed(persistErr(err))
	}
	if !ok {
		return notFound(id)
	}
	f.defaultDate = existing.Date

	if err := t.prepare(ctx, f); err != nil {
		return t.failure(f, err)
	}

	rec, ok, err := t.store.Update(ctx, id, f.draft)
	if err != nil {
		return t.failure(f, persistErr(err))
	}
	if !ok {
		return notFound(id)
	}
	t.log.Info().Str("id", rec.ID).Int("calories", rec.Calories).Msg("meal updated")
	return t.success(StatusUpdated, f, rec)
}

// prepare drives the flow from grounding to a validated draft.
func (t *Tracker) prepare(ctx context.Context, f *flow) error {
	f.stage = stageGrounding
	for f.stage != stageDone {
		t.log.Debug().Stringer("stage", f.stage).Msg("meal flow")
		switch f.stage {
		case stageGrounding:
			if err := t.ground(ctx, f); err != nil {
				return err
			}
			if !extract.HasObject(f.text) {
				return fmt.Errorf("%w: answer has no meal object", meal.ErrExtraction)
			}
			if _, ok := extract.Calories(f.text); ok {
				f.stage = stageExtraction
			} else {
				f.stage = stageFallback
			}

		case stageFallback:
			kcal, err := t.estimator.Estimate(ctx, f.description)
			if err != nil {
				return err
			}
			if kcal == estimator.Sentinel {
				return fmt.Errorf("%w: no calorie figure for %q", meal.ErrEstimationExhausted, f.description)
			}
			patched, err := extract.SetCalories(f.text, kcal)
			if err != nil {
				return err
			}
			f.text = patched
			f.usedEstimator = true
			f.stage = stageExtraction

		case stageExtraction:
			d, err := extract.Parse(f.text)
			if err != nil {
				return err
			}
			f.draft = d
			f.stage = stageValidation

		case stageValidation:
			d, err := t.validate(ctx, f.draft)
			if err != nil {
				return err
			}
			f.draft = d
			f.stage = stageDone
		}
	}
	return nil
}

func (t *Tracker) ground(ctx context.Context, f *flow) error {
	cats, err := t.store.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("%w: list categories: %v", meal.ErrExternalService, err)
	}
	input := fmt.Sprintf(mealPrompt, f.description, f.defaultDate.Format(meal.DateLayout), strings.Join(cats, ", "))
	answer, err := t.grounder.AnswerWith(ctx, f.description, input, f.history)
	if err != nil {
		return err
	}
	f.answer = answer
	f.text = answer.AnswerText
	return nil
}

// validate checks the draft against the category set as it is now and
// canonicalizes the category spelling.
func (t *Tracker) validate(ctx context.Context, d meal.Draft) (meal.Draft, error) {
	if d.Calories < 0 {
		return d, fmt.Errorf("%w: calories must be non-negative, got %d", meal.ErrValidation, d.Calories)
	}
	cats, err := t.store.ListCategories(ctx)
	if err != nil {
		return d, fmt.Errorf("%w: list categories: %v", meal.ErrExternalService, err)
	}
	for _, c := range cats {
		if strings.EqualFold(c, d.Category) {
			d.Category = c
			return d, nil
		}
	}
	return d, &categoryError{category: d.Category, allowed: cats}
}

type categoryError struct {
	category string
	allowed  []string
}

func (e *categoryError) Error() string {
	return fmt.Sprintf("%v: category %q is not one of %s", meal.ErrValidation, e.category, strings.Join(e.allowed, ", "))
}

func (e *categoryError) Unwrap() error { return meal.ErrValidation }

func persistErr(err error) error {
	if errors.Is(err, meal.ErrValidation) || errors.Is(err, meal.ErrInvalidInput) {
		return err
	}
	return fmt.Errorf("%w: store: %v", meal.ErrExternalService, err)
}

func (t *Tracker) success(status Status, f *flow, rec meal.Record) Outcome {
	return Outcome{
		Status:        status,
		Meal:          &rec,
		Message:       fmt.Sprintf("%s meal: %s with %d calories", statusVerb(status), rec.Name, rec.Calories),
		Sources:       knowledge.FormatSources(f.answer),
		UsedEstimator: f.usedEstimator,
	}
}

func (t *Tracker) failure(f *flow, err error) Outcome {
	out := failed(err)
	out.Answer = f.answer.AnswerText
	out.Sources = knowledge.FormatSources(f.answer)
	out.UsedEstimator = f.usedEstimator
	var ce *categoryError
	if errors.As(err, &ce) {
		out.Suggestion = "Use one of the categories: " + strings.Join(ce.allowed, ", ") + "."
	}
	t.log.Warn().Err(err).Stringer("stage", f.stage).Str("kind", out.ErrorKind).Msg("meal flow failed")
	return out
}

func statusVerb(s Status) string {
	if s == StatusUpdated {
		return "Updated"
	}
	return "Created"
}
