package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/cexll/agentsdk-go/pkg/model"

	"github.com/stellarlinkco/mealclaw/internal/meal"
)

// Capability is one operation the router may invoke. The set is closed.
type Capability int

const (
	SearchMealInfo Capability = iota
	CreateMealWithSearch
	UpdateMeal
	DeleteMeal
	GetMealByID
	GetMealsByDay
	GetTotalCalories
)

// Capabilities lists every capability in the order they are offered.
var Capabilities = []Capability{
	SearchMealInfo,
	CreateMealWithSearch,
	UpdateMeal,
	DeleteMeal,
	GetMealByID,
	GetMealsByDay,
	GetTotalCalories,
}

const (
	argQuery = "query"
	argID    = "meal_id"
	argDate  = "date"
)

type descriptor struct {
	name        string
	description string
	params      []param
}

type param struct {
	name        string
	description string
}

var descriptors = map[Capability]descriptor{
	SearchMealInfo: {
		name: "search_meal_info",
		description: "Search the nutrition knowledge base for information about a meal. " +
			"Input is a natural language description of the meal. Returns an answer and its sources.",
		params: []param{{argQuery, "Natural language description of the meal or nutrition question."}},
	},
	CreateMealWithSearch: {
		name: "create_meal_with_search",
		description: "Create a new meal entry, looking up its nutritional information first. " +
			"Input is a natural language description of what was eaten. Returns the status, the stored meal and the sources.",
		params: []param{{argQuery, "Natural language description of what was eaten, including portions and time if known."}},
	},
	UpdateMeal: {
		name: "update_meal",
		description: "Replace an existing meal entry with a new description. " +
			"Returns the updated meal, or not_found when the id does not exist.",
		params: []param{
			{argID, "Id of the meal to update."},
			{argQuery, "Natural language description of the corrected meal."},
		},
	},
	DeleteMeal: {
		name:        "delete_meal",
		description: "Delete a meal by its id. Returns deleted, or not_found when the id does not exist.",
		params:      []param{{argID, "Id of the meal to delete."}},
	},
	GetMealByID: {
		name:        "get_meal_by_id",
		description: "Retrieve a meal by its id. Returns the meal, or not_found.",
		params:      []param{{argID, "Id of the meal."}},
	},
	GetMealsByDay: {
		name:        "get_meals_by_day",
		description: "List all meals of a day, oldest first.",
		params:      []param{{argDate, "Day in YYYY-MM-DD format."}},
	},
	GetTotalCalories: {
		name:        "get_total_calories",
		description: "Get the total calories eaten on a day together with the daily target.",
		params:      []param{{argDate, "Day in YYYY-MM-DD format."}},
	},
}

func (d descriptor) declares(name string) bool {
	for _, p := range d.params {
		if p.name == name {
			return true
		}
	}
	return false
}

func (c Capability) Name() string {
	if s, ok := descriptors[c]; ok {
		return s.name
	}
	return fmt.Sprintf("capability(%d)", int(c))
}

func (c Capability) String() string { return c.Name() }

func (c Capability) Description() string {
	return descriptors[c].description
}

// Definition describes c as a tool for the model.
func (c Capability) Definition() model.ToolDefinition {
	s := descriptors[c]
	props := make(map[string]any, len(s.params))
	required := make([]string, 0, len(s.params))
	for _, p := range s.params {
		prop := map[string]any{"type": "string", "description": p.description}
		if p.name == argDate {
			prop["pattern"] = `^\d{4}-\d{2}-\d{2}$`
		}
		props[p.name] = prop
		required = append(required, p.name)
	}
	return model.ToolDefinition{
		Name:        s.name,
		Description: s.description,
		Parameters: map[string]any{
			"type":                 "object",
			"properties":           props,
			"required":             required,
			"additionalProperties": false,
		},
	}
}

// Lookup resolves a tool name to its capability.
func Lookup(name string) (Capability, bool) {
	name = strings.TrimSpace(name)
	for _, c := range Capabilities {
		if descriptors[c].name == name {
			return c, true
		}
	}
	return 0, false
}

// Definitions returns the tool definitions of every capability.
func Definitions() []model.ToolDefinition {
	defs := make([]model.ToolDefinition, 0, len(Capabilities))
	for _, c := range Capabilities {
		defs = append(defs, c.Definition())
	}
	return defs
}

// Args are decoded, validated capability arguments.
type Args struct {
	Query string
	ID    string
	Day   time.Time
}

// Decode checks raw tool arguments against the declared parameters of c.
// Errors wrap meal.ErrInvalidInput.
func (c Capability) Decode(raw map[string]any) (Args, error) {
	s, ok := descriptors[c]
	if !ok {
		return Args{}, fmt.Errorf("%w: unknown capability %d", meal.ErrInvalidInput, int(c))
	}
	for key := range raw {
		if !s.declares(key) {
			return Args{}, fmt.Errorf("%w: %s: unexpected argument %q", meal.ErrInvalidInput, s.name, key)
		}
	}
	var args Args
	for _, p := range s.params {
		v, ok := raw[p.name]
		if !ok || v == nil {
			return Args{}, fmt.Errorf("%w: %s: missing argument %q", meal.ErrInvalidInput, s.name, p.name)
		}
		str, ok := v.(string)
		if !ok {
			return Args{}, fmt.Errorf("%w: %s: argument %q must be a string, got %T", meal.ErrInvalidInput, s.name, p.name, v)
		}
		str = strings.TrimSpace(str)
		if str == "" {
			return Args{}, fmt.Errorf("%w: %s: argument %q is empty", meal.ErrInvalidInput, s.name, p.name)
		}
		switch p.name {
		case argQuery:
			args.Query = str
		case argID:
			args.ID = str
		case argDate:
			day, err := meal.ParseDay(str)
			if err != nil {
				return Args{}, fmt.Errorf("%w: %s: date %q is not YYYY-MM-DD", meal.ErrInvalidInput, s.name, str)
			}
			args.Day = day
		}
	}
	return args, nil
}
