package tracker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/mealclaw/internal/estimator"
	"github.com/stellarlinkco/mealclaw/internal/llm"
	"github.com/stellarlinkco/mealclaw/internal/llm/llmtest"
	"github.com/stellarlinkco/mealclaw/internal/logging"
	"github.com/stellarlinkco/mealclaw/internal/meal"
	"github.com/stellarlinkco/mealclaw/internal/store"
)

var fixedNow = time.Date(2024, 3, 1, 12, 30, 0, 0, time.Local)

type fakeGrounder struct {
	answer  string
	err     error
	inputs  []string
	queries []string
	history [][]llm.Turn
}

func (g *fakeGrounder) Answer(ctx context.Context, query string, history []llm.Turn) (meal.GroundedAnswer, error) {
	return g.AnswerWith(ctx, query, query, history)
}

func (g *fakeGrounder) AnswerWith(_ context.Context, query, input string, history []llm.Turn) (meal.GroundedAnswer, error) {
	g.queries = append(g.queries, query)
	g.inputs = append(g.inputs, input)
	g.history = append(g.history, history)
	if g.err != nil {
		return meal.GroundedAnswer{}, g.err
	}
	return meal.GroundedAnswer{
		Query:      query,
		AnswerText: g.answer,
		Sources: []meal.Source{
			{Locator: "https://kb/burger", Content: "burger facts"},
			{Locator: "https://kb/burger", Content: "more burger facts"},
		},
	}, nil
}

type fixture struct {
	tracker  *Tracker
	store    *store.Store
	grounder *fakeGrounder
	script   *llmtest.Script
}

func newFixture(t *testing.T, answer string, estimatorReplies ...string) *fixture {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "meals.db"), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureDefaultCategories(context.Background()))

	script := llmtest.Texts(estimatorReplies...)
	client := llm.NewClient(script, llm.Options{Backoff: time.Millisecond, Logger: logging.Nop()})
	est := estimator.New(client, estimator.Options{MaxAttempts: 3, Logger: logging.Nop()})
	g := &fakeGrounder{answer: answer}

	return &fixture{
		tracker:  New(g, est, s, Options{Now: func() time.Time { return fixedNow }, Logger: logging.Nop()}),
		store:    s,
		grounder: g,
		script:   script,
	}
}

func (f *fixture) count(t *testing.T) int {
	t.Helper()
	records, err := f.store.ListDay(context.Background(), fixedNow)
	require.NoError(t, err)
	return len(records)
}

func answerJSON(name string, calories any, category string) string {
	cal, _ := calories.(string)
	if cal == "" {
		cal = fmt.Sprint(calories)
	}
	return fmt.Sprintf(`Here you go: {"name":%q,"description":"beef patty, bun","calories":%s,"category":%q,"date":"2024-03-01 12:30"}`,
		name, cal, category)
}

// Scenario A: a grounded answer is extracted, persisted and readable by id.
func TestCreateGroundedMeal(t *testing.T) {
	f := newFixture(t, answerJSON("Hamburger", 250, "Lunch"))
	history := []llm.Turn{llm.UserTurn("hi"), llm.AssistantTurn("hello")}

	out := f.tracker.Create(context.Background(), "I ate a hamburger", history)
	require.Equal(t, StatusCreated, out.Status, out.Error)
	require.NotNil(t, out.Meal)
	assert.False(t, out.UsedEstimator)
	assert.Equal(t, []string{"https://kb/burger"}, out.Sources)
	assert.Equal(t, "Created meal: Hamburger with 250 calories", out.Message)
	assert.Zero(t, f.script.Calls())

	got := f.tracker.Get(context.Background(), out.Meal.ID)
	require.Equal(t, StatusFound, got.Status)
	assert.Equal(t, out.Meal.ID, got.Meal.ID)
	assert.Equal(t, "Hamburger", got.Meal.Name)
	assert.Equal(t, "beef patty, bun", got.Meal.Description)
	assert.Equal(t, 250, got.Meal.Calories)
	assert.Equal(t, "Lunch", got.Meal.Category)
	assert.True(t, got.Meal.Date.Equal(fixedNow))

	require.Len(t, f.grounder.inputs, 1)
	assert.Contains(t, f.grounder.inputs[0], "I ate a hamburger")
	assert.Contains(t, f.grounder.inputs[0], "Only describe the ingredients from the query")
	assert.Contains(t, f.grounder.inputs[0], "use 2024-03-01 12:30")
	assert.Contains(t, f.grounder.inputs[0], "Breakfast, Brunch, Lunch, Dinner, Snack")
	assert.Equal(t, history, f.grounder.history[0])
}

// Scenario B: no calorie figure, the estimator keeps failing, nothing is stored.
func TestCreateEstimationExhausted(t *testing.T) {
	f := newFixture(t, answerJSON("Mystery stew", `"unknown"`, "Dinner"),
		"```\nstew +\n```", "```\nstew * \n```", "```\n)(\n```")

	out := f.tracker.Create(context.Background(), "a bowl of mystery stew", nil)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, meal.KindEstimationExhausted, out.ErrorKind)
	assert.ErrorIs(t, out.Err, meal.ErrEstimationExhausted)
	assert.NotEmpty(t, out.Suggestion)
	assert.Equal(t, 3, f.script.Calls())
	assert.Zero(t, f.count(t))
}

func TestCreateUsesEstimatorFallback(t *testing.T) {
	f := newFixture(t, answerJSON("Burger and fries", "null", "Lunch"), "```expr\n540 + 365\n```")

	out := f.tracker.Create(context.Background(), "burger and fries", nil)
	require.Equal(t, StatusCreated, out.Status, out.Error)
	assert.True(t, out.UsedEstimator)
	assert.Equal(t, 905, out.Meal.Calories)
	assert.Equal(t, 1, f.count(t))
	assert.Contains(t, llmtest.LastUser(f.script.Request(0)), "burger and fries")
}

// Scenario C: updating an unknown id is a not-found result and writes nothing.
func TestUpdateMissing(t *testing.T) {
	f := newFixture(t, answerJSON("Hamburger", 250, "Lunch"))
	before := f.count(t)

	out := f.tracker.Update(context.Background(), "nonexistent-id", "a hamburger", nil)
	assert.Equal(t, StatusNotFound, out.Status)
	assert.False(t, out.Failed())
	assert.ErrorIs(t, out.Err, meal.ErrNotFound)
	assert.Empty(t, out.ErrorKind)
	assert.Equal(t, before, f.count(t))
	assert.Empty(t, f.grounder.inputs)
}

func TestUpdateOverwrites(t *testing.T) {
	f := newFixture(t, answerJSON("Hamburger", 250, "Lunch"))
	created := f.tracker.Create(context.Background(), "a hamburger", nil)
	require.Equal(t, StatusCreated, created.Status)

	f.grounder.answer = `{"name":"Cheeseburger","description":"beef patty, bun, cheddar","calories":"330","category":"dinner","date":"2024-03-01 19:00"}`
	out := f.tracker.Update(context.Background(), created.Meal.ID, "actually a cheeseburger for dinner", nil)
	require.Equal(t, StatusUpdated, out.Status, out.Error)
	assert.Equal(t, "Updated meal: Cheeseburger with 330 calories", out.Message)

	got := f.tracker.Get(context.Background(), created.Meal.ID)
	require.Equal(t, StatusFound, got.Status)
	assert.Equal(t, "Cheeseburger", got.Meal.Name)
	assert.Equal(t, "Dinner", got.Meal.Category)
	assert.Equal(t, 19, got.Meal.Date.Hour())
	assert.Equal(t, 1, f.count(t))
}

// Scenario D: a category outside the live set fails validation.
func TestCreateRejectsUnknownCategory(t *testing.T) {
	f := newFixture(t, answerJSON("Eggs benedict", 600, "Brunch"))
	require.NoError(t, f.store.ReplaceCategories(context.Background(), []string{"Breakfast", "Lunch", "Dinner"}))

	out := f.tracker.Create(context.Background(), "eggs benedict", nil)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, meal.KindValidation, out.ErrorKind)
	assert.ErrorIs(t, out.Err, meal.ErrValidation)
	assert.Contains(t, out.Suggestion, "Breakfast, Lunch, Dinner")
	assert.Zero(t, f.count(t))
}

func TestCreateNeedsClarification(t *testing.T) {
	f := newFixture(t, "How big was the portion of pasta?")

	out := f.tracker.Create(context.Background(), "some pasta", nil)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, meal.KindExtraction, out.ErrorKind)
	assert.Equal(t, "How big was the portion of pasta?", out.Answer)
	assert.Contains(t, out.Suggestion, "clarify")
	assert.Zero(t, f.script.Calls())
}

func TestCreateRejectsMalformedDate(t *testing.T) {
	f := newFixture(t, `{"name":"Toast","description":"bread","calories":90,"category":"Breakfast","date":"tomorrow"}`)

	out := f.tracker.Create(context.Background(), "toast", nil)
	assert.Equal(t, meal.KindExtraction, out.ErrorKind)
	assert.Zero(t, f.count(t))
}

func TestCreateNegativeCalories(t *testing.T) {
	f := newFixture(t, answerJSON("Celery", -10, "Snack"))

	out := f.tracker.Create(context.Background(), "celery", nil)
	assert.Equal(t, meal.KindValidation, out.ErrorKind)
	assert.Zero(t, f.count(t))
}

func TestCreateGroundingFault(t *testing.T) {
	f := newFixture(t, "")
	f.grounder.err = fmt.Errorf("embed query: %w", meal.ErrExternalService)

	out := f.tracker.Create(context.Background(), "an apple", nil)
	assert.Equal(t, meal.KindExternalService, out.ErrorKind)
	assert.NotEmpty(t, out.Suggestion)

	out = f.tracker.Create(context.Background(), "   ", nil)
	assert.Equal(t, meal.KindInvalidInput, out.ErrorKind)
}

func TestReadHelpers(t *testing.T) {
	f := newFixture(t, answerJSON("Hamburger", 250, "Lunch"))
	ctx := context.Background()

	empty := f.tracker.Total(ctx, fixedNow)
	require.Equal(t, StatusOK, empty.Status)
	assert.Equal(t, 0, empty.Totals.Calories)
	assert.Equal(t, 2000, empty.Totals.Remaining)

	first := f.tracker.Create(ctx, "a hamburger", nil)
	require.Equal(t, StatusCreated, first.Status)
	second := f.tracker.Create(ctx, "another hamburger", nil)
	require.Equal(t, StatusCreated, second.Status)

	day := f.tracker.Day(ctx, fixedNow)
	require.Equal(t, StatusOK, day.Status)
	assert.Len(t, day.Meals, 2)

	total := f.tracker.Total(ctx, fixedNow)
	assert.Equal(t, &Totals{Date: "2024-03-01", Calories: 500, Target: 2000, Remaining: 1500}, total.Totals)

	assert.Equal(t, StatusDeleted, f.tracker.Delete(ctx, first.Meal.ID).Status)
	assert.Equal(t, StatusNotFound, f.tracker.Delete(ctx, first.Meal.ID).Status)
	missing := f.tracker.Get(ctx, first.Meal.ID)
	assert.Equal(t, StatusNotFound, missing.Status)
	assert.ErrorIs(t, missing.Err, meal.ErrNotFound)
	assert.Equal(t, 250, f.tracker.Total(ctx, fixedNow).Totals.Calories)
	assert.Equal(t, fixedNow.Day(), f.tracker.Today().Day())
}

func TestSearch(t *testing.T) {
	f := newFixture(t, "A hamburger has about 250 calories.")
	out := f.tracker.Search(context.Background(), "calories in a hamburger", nil)
	require.Equal(t, StatusOK, out.Status)
	assert.Equal(t, "A hamburger has about 250 calories.", out.Answer)
	assert.Equal(t, []string{"https://kb/burger"}, out.Sources)

	f.grounder.err = errors.Join(meal.ErrExternalService, errors.New("down"))
	assert.Equal(t, meal.KindExternalService, f.tracker.Search(context.Background(), "x", nil).ErrorKind)
	assert.Equal(t, meal.KindInvalidInput, f.tracker.Search(context.Background(), "", nil).ErrorKind)
}
