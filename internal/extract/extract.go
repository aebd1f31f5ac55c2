// Package extract turns free-form model answers into validated meal drafts.
package extract

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/stellarlinkco/mealclaw/internal/meal"
)

// Field names of the answer object.
const (
	FieldName        = "name"
	FieldDescription = "description"
	FieldCalories    = "calories"
	FieldCategory    = "category"
	FieldDate        = "date"
)

// Object returns the first JSON object embedded in text, tolerating code
// fences and surrounding prose.
func Object(text string) (string, bool) {
	text = stripFences(text)
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end, ok := objectEnd(text[start:]); ok {
			candidate := text[start : start+end]
			if gjson.Valid(candidate) && gjson.Parse(candidate).IsObject() {
				return candidate, true
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// objectEnd returns the length of the brace-balanced span at the start of s.
// Braces inside JSON strings are ignored.
func objectEnd(s string) (int, bool) {
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

func HasObject(text string) bool {
	_, ok := Object(text)
	return ok
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.Contains(text, "```") {
		return text
	}
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// Parse builds a draft from the object in text. Every field is required and
// nothing is defaulted.
func Parse(text string) (meal.Draft, error) {
	obj, ok := Object(text)
	if !ok {
		return meal.Draft{}, fmt.Errorf("%w: no JSON object in answer", meal.ErrExtraction)
	}
	res := gjson.Parse(obj)

	var (
		d   meal.Draft
		err error
	)
	if d.Name, err = stringField(res, FieldName); err != nil {
		return meal.Draft{}, err
	}
	if d.Description, err = stringField(res, FieldDescription); err != nil {
		return meal.Draft{}, err
	}
	if d.Category, err = stringField(res, FieldCategory); err != nil {
		return meal.Draft{}, err
	}
	cal, err := caloriesField(res)
	if err != nil {
		return meal.Draft{}, err
	}
	d.Calories = cal

	raw, err := stringField(res, FieldDate)
	if err != nil {
		return meal.Draft{}, err
	}
	d.Date, err = time.ParseInLocation(meal.DateLayout, raw, time.Local)
	if err != nil {
		return meal.Draft{}, fmt.Errorf("%w: date %q is not %s", meal.ErrExtraction, raw, "YYYY-MM-DD HH:MM")
	}
	return d, nil
}

func stringField(res gjson.Result, key string) (string, error) {
	v := res.Get(key)
	if !v.Exists() || v.Type == gjson.Null {
		return "", fmt.Errorf("%w: missing field %q", meal.ErrExtraction, key)
	}
	if v.Type != gjson.String {
		return "", fmt.Errorf("%w: field %q must be a string", meal.ErrExtraction, key)
	}
	s := strings.TrimSpace(v.String())
	if s == "" {
		return "", fmt.Errorf("%w: field %q is empty", meal.ErrExtraction, key)
	}
	return s, nil
}

func caloriesField(res gjson.Result) (int, error) {
	v := res.Get(FieldCalories)
	if !v.Exists() || v.Type == gjson.Null {
		return 0, fmt.Errorf("%w: missing field %q", meal.ErrExtraction, FieldCalories)
	}
	n, ok := integer(v)
	if !ok {
		return 0, fmt.Errorf("%w: calories %q is not an integer", meal.ErrExtraction, v.Raw)
	}
	return n, nil
}

func integer(v gjson.Result) (int, bool) {
	switch v.Type {
	case gjson.Number:
		f := v.Float()
		if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
			return 0, false
		}
		return int(f), true
	case gjson.String:
		n, err := strconv.Atoi(strings.TrimSpace(v.String()))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Calories reports the integer calorie figure of the answer, if any.
func Calories(text string) (int, bool) {
	obj, ok := Object(text)
	if !ok {
		return 0, false
	}
	v := gjson.Get(obj, FieldCalories)
	if !v.Exists() {
		return 0, false
	}
	return integer(v)
}

// SetCalories returns the answer object with its calorie field replaced.
func SetCalories(text string, calories int) (string, error) {
	obj, ok := Object(text)
	if !ok {
		return "", fmt.Errorf("%w: no JSON object in answer", meal.ErrExtraction)
	}
	out, err := sjson.Set(obj, FieldCalories, calories)
	if err != nil {
		return "", fmt.Errorf("set calories: %w", err)
	}
	return out, nil
}

// Serialize renders d in the shape Parse accepts.
func Serialize(d meal.Draft) string {
	out := "{}"
	out, _ = sjson.Set(out, FieldName, d.Name)
	out, _ = sjson.Set(out, FieldDescription, d.Description)
	out, _ = sjson.Set(out, FieldCalories, d.Calories)
	out, _ = sjson.Set(out, FieldCategory, d.Category)
	out, _ = sjson.Set(out, FieldDate, d.Date.Format(meal.DateLayout))
	return out
}
