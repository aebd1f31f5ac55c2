package tracker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stellarlinkco/mealclaw/internal/knowledge"
	"github.com/stellarlinkco/mealclaw/internal/llm"
	"github.com/stellarlinkco/mealclaw/internal/meal"
)

// Search answers a nutrition question from the knowledge base.
func (t *Tracker) Search(ctx context.Context, query string, history []llm.Turn) Outcome {
	if strings.TrimSpace(query) == "" {
		return failed(fmt.Errorf("%w: query is empty", meal.ErrInvalidInput))
	}
	answer, err := t.grounder.Answer(ctx, query, history)
	if err != nil {
		return failed(err)
	}
	return Outcome{
		Status:  StatusOK,
		Answer:  answer.AnswerText,
		Sources: knowledge.FormatSources(answer),
	}
}

func (t *Tracker) Get(ctx context.Context, id string) Outcome {
	rec, ok, err := t.store.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return failed(persistErr(err))
	}
	if !ok {
		return notFound(id)
	}
	return Outcome{Status: StatusFound, Meal: &rec}
}

func (t *Tracker) Delete(ctx context.Context, id string) Outcome {
	removed, err := t.store.Delete(ctx, strings.TrimSpace(id))
	if err != nil {
		return failed(persistErr(err))
	}
	if !removed {
		return notFound(id)
	}
	t.log.Info().Str("id", id).Msg("meal deleted")
	return Outcome{Status: StatusDeleted, Message: "Deleted meal " + id}
}

// Day lists the meals of day, oldest first.
func (t *Tracker) Day(ctx context.Context, day time.Time) Outcome {
	records, err := t.store.ListDay(ctx, day)
	if err != nil {
		return failed(persistErr(err))
	}
	if records == nil {
		records = []meal.Record{}
	}
	return Outcome{
		Status:  StatusOK,
		Message: fmt.Sprintf("%d meal(s) on %s", len(records), day.Format(meal.DayLayout)),
		Meals:   records,
	}
}

// Total sums the day's calories and compares them with the target.
func (t *Tracker) Total(ctx context.Context, day time.Time) Outcome {
	total, err := t.store.TotalCalories(ctx, day)
	if err != nil {
		return failed(persistErr(err))
	}
	settings, err := t.store.Settings(ctx)
	if err != nil {
		return failed(persistErr(err))
	}
	totals := &Totals{
		Date:      day.Format(meal.DayLayout),
		Calories:  total,
		Target:    settings.TargetCalories,
		Remaining: settings.TargetCalories - total,
	}
	return Outcome{
		Status:  StatusOK,
		Message: fmt.Sprintf("%d of %d calories on %s", total, settings.TargetCalories, totals.Date),
		Totals:  totals,
	}
}

// Today is the tracker's current day.
func (t *Tracker) Today() time.Time {
	return meal.StartOfDay(t.now())
}
