package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/mealclaw/internal/meal"
)

func TestParseSerializeRoundTrip(t *testing.T) {
	d := meal.Draft{
		Name:        "Hamburger with fries",
		Description: "beef patty, bun, fries",
		Calories:    820,
		Category:    "Lunch",
		Date:        time.Date(2024, 3, 1, 12, 30, 0, 0, time.Local),
	}

	got, err := Parse(Serialize(d))
	require.NoError(t, err)
	assert.Equal(t, d.Name, got.Name)
	assert.Equal(t, d.Description, got.Description)
	assert.Equal(t, d.Calories, got.Calories)
	assert.Equal(t, d.Category, got.Category)
	assert.True(t, d.Date.Equal(got.Date))
}

func TestParseToleratesProseAndFences(t *testing.T) {
	text := "Here is the meal:\n```json\n{\"name\":\"Toast\",\"description\":\"bread, butter\",\"calories\":\"180\",\"category\":\"Breakfast\",\"date\":\"2024-03-01 08:00\"}\n```\nEnjoy!"

	got, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, "Toast", got.Name)
	assert.Equal(t, 180, got.Calories)
	assert.Equal(t, 8, got.Date.Hour())

	// Braces in trailing or leading prose do not hide the object.
	trailing := `{"name":"Toast","description":"bread, butter","calories":180,"category":"Breakfast","date":"2024-03-01 08:00"} (values per {serving})`
	got, err = Parse(trailing)
	require.NoError(t, err)
	assert.Equal(t, "Toast", got.Name)

	leading := `Per {serving}: {"name":"Jam {strawberry}","description":"jam","calories":50,"category":"Snack","date":"2024-03-01 09:00"} and {more}`
	got, err = Parse(leading)
	require.NoError(t, err)
	assert.Equal(t, "Jam {strawberry}", got.Name)
	assert.Equal(t, 50, got.Calories)
}

func TestParseAcceptsIntegralFloat(t *testing.T) {
	got, err := Parse(`{"name":"Egg","description":"egg","calories":78.0,"category":"Snack","date":"2024-03-01 10:00"}`)
	require.NoError(t, err)
	assert.Equal(t, 78, got.Calories)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"no object":         "Could you tell me how large the portion was?",
		"missing name":      `{"description":"d","calories":1,"category":"Lunch","date":"2024-03-01 12:00"}`,
		"missing calories":  `{"name":"n","description":"d","category":"Lunch","date":"2024-03-01 12:00"}`,
		"null category":     `{"name":"n","description":"d","calories":1,"category":null,"date":"2024-03-01 12:00"}`,
		"empty description": `{"name":"n","description":"  ","calories":1,"category":"Lunch","date":"2024-03-01 12:00"}`,
		"fractional":        `{"name":"n","description":"d","calories":12.5,"category":"Lunch","date":"2024-03-01 12:00"}`,
		"calorie words":     `{"name":"n","description":"d","calories":"about 300","category":"Lunch","date":"2024-03-01 12:00"}`,
		"date without time": `{"name":"n","description":"d","calories":1,"category":"Lunch","date":"2024-03-01"}`,
		"date other layout": `{"name":"n","description":"d","calories":1,"category":"Lunch","date":"01/03/2024 12:00"}`,
		"numeric name":      `{"name":5,"description":"d","calories":1,"category":"Lunch","date":"2024-03-01 12:00"}`,
		"array not object":  `[{"name":"n"}]`,
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(text)
			assert.ErrorIs(t, err, meal.ErrExtraction)
		})
	}
}

func TestCalories(t *testing.T) {
	n, ok := Calories(`{"name":"n","calories":"250"}`)
	assert.True(t, ok)
	assert.Equal(t, 250, n)

	_, ok = Calories(`{"name":"n","calories":"unknown"}`)
	assert.False(t, ok)
	_, ok = Calories(`{"name":"n"}`)
	assert.False(t, ok)
	_, ok = Calories(`please clarify`)
	assert.False(t, ok)
}

func TestSetCalories(t *testing.T) {
	out, err := SetCalories(`sure: {"name":"Pasta","description":"pasta","calories":"unknown","category":"Dinner","date":"2024-03-01 19:00"}`, 640)
	require.NoError(t, err)

	d, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, 640, d.Calories)
	assert.Equal(t, "Pasta", d.Name)

	_, err = SetCalories("no json here", 1)
	assert.ErrorIs(t, err, meal.ErrExtraction)
}

func TestHasObject(t *testing.T) {
	assert.True(t, HasObject(`{"a":1}`))
	assert.False(t, HasObject(`{broken`))
	assert.True(t, HasObject(`{"a":1} } trailing`))
	assert.False(t, HasObject(`what size was it?`))
}
