package tracker

import (
	"fmt"

	"github.com/stellarlinkco/mealclaw/internal/meal"
)

type Status string

const (
	StatusCreated  Status = "created"
	StatusUpdated  Status = "updated"
	StatusDeleted  Status = "deleted"
	StatusFound    Status = "found"
	StatusNotFound Status = "not_found"
	StatusOK       Status = "ok"
	StatusFailed   Status = "failed"
)

// Totals is the day's calorie sum against the user's target.
type Totals struct {
	Date      string `json:"date"`
	Calories  int    `json:"calories"`
	Target    int    `json:"target"`
	Remaining int    `json:"remaining"`
}

// Outcome is the result of every tracker operation. It is always
// well-formed: failures carry a kind, an explanation and a suggestion.
// A not_found outcome has no kind but its Err wraps meal.ErrNotFound.
type Outcome struct {
	Status        Status        `json:"status"`
	Message       string        `json:"message,omitempty"`
	Meal          *meal.Record  `json:"meal,omitempty"`
	Meals         []meal.Record `json:"meals,omitempty"`
	Totals        *Totals       `json:"totals,omitempty"`
	Answer        string        `json:"answer,omitempty"`
	Sources       []string      `json:"sources,omitempty"`
	UsedEstimator bool          `json:"used_estimator,omitempty"`
	ErrorKind     string        `json:"error_kind,omitempty"`
	Error         string        `json:"error,omitempty"`
	Suggestion    string        `json:"suggestion,omitempty"`

	Err error `json:"-"`
}

func (o Outcome) Failed() bool {
	return o.Status == StatusFailed
}

var suggestions = map[string]string{
	meal.KindExtraction:          "Please clarify the meal: say what you ate and roughly how much.",
	meal.KindEstimationExhausted: "Please describe the portions in more detail or give the calories yourself.",
	meal.KindValidation:          "Please correct the meal details and try again.",
	meal.KindExternalService:     "A backing service is unavailable; try again in a moment.",
	meal.KindInvalidInput:        "Check the request arguments and try again.",
	meal.KindInternal:            "Try again; if it keeps failing, report the error.",
}

func failed(err error) Outcome {
	kind := meal.KindOf(err)
	return Outcome{
		Status:     StatusFailed,
		ErrorKind:  kind,
		Error:      err.Error(),
		Suggestion: suggestions[kind],
		Err:        err,
	}
}

func notFound(id string) Outcome {
	return Outcome{
		Status:     StatusNotFound,
		Message:    "No meal with id " + id,
		Suggestion: "List the day's meals to find the right id.",
		Err:        fmt.Errorf("%w: meal %s", meal.ErrNotFound, id),
	}
}
