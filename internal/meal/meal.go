// Package meal holds the domain types shared by the store, the extractor
// and the orchestration layers.
package meal

import (
	"encoding/json"
	"time"
)

// DateLayout is the only accepted textual date form for meal records.
const DateLayout = "2006-01-02 15:04"

// DayLayout is used for day-granular inputs such as "meals for 2024-03-01".
const DayLayout = "2006-01-02"

// DefaultCategories are seeded into an empty store.
var DefaultCategories = []string{"Breakfast", "Brunch", "Lunch", "Dinner", "Snack"}

// Draft is an unpersisted meal produced by extraction.
type Draft struct {
	Name        string
	Description string
	Calories    int
	Category    string
	Date        time.Time
}

// Record is a persisted meal. ID is assigned by the store and never changes.
type Record struct {
	ID          string
	Name        string
	Description string
	Calories    int
	Category    string
	Date        time.Time
}

// Draft returns the record's fields without the id.
func (r Record) Draft() Draft {
	return Draft{
		Name:        r.Name,
		Description: r.Description,
		Calories:    r.Calories,
		Category:    r.Category,
		Date:        r.Date,
	}
}

// View is the JSON shape handed to callers outside the core.
type View struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Calories    int    `json:"calories"`
	Category    string `json:"category"`
	Date        string `json:"date"`
}

// MarshalJSON encodes the record as its View.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.View())
}

func (r Record) View() View {
	return View{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Calories:    r.Calories,
		Category:    r.Category,
		Date:        r.Date.Format(DateLayout),
	}
}

// Source is one retrieved knowledge chunk backing an answer.
type Source struct {
	Locator string  `json:"source"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// GroundedAnswer is the transient result of a knowledge-grounded query.
type GroundedAnswer struct {
	Query      string
	Standalone string
	AnswerText string
	Sources    []Source
}

// Settings are the single-user profile values.
type Settings struct {
	Sex            string `json:"sex"`
	Age            int    `json:"age"`
	HeightCm       int    `json:"heightCm"`
	WeightKg       int    `json:"weightKg"`
	TargetCalories int    `json:"targetCalories"`
}

func DefaultSettings() Settings {
	return Settings{
		Sex:            "Male",
		Age:            40,
		HeightCm:       170,
		WeightKg:       70,
		TargetCalories: 2000,
	}
}

// StartOfDay truncates t to 00:00:00 in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// EndOfDay returns 23:59:59 of t's day in t's location.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, t.Location())
}

// ParseDay parses a YYYY-MM-DD value in local time.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(DayLayout, s, time.Local)
}
