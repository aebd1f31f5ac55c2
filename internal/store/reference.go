package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/stellarlinkco/mealclaw/internal/meal"
)

// ListCategories returns the live category names in insertion order.
func (s *Store) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM categories ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return out, nil
}

// AddCategory inserts name unless an equal name (case-insensitive) exists.
func (s *Store) AddCategory(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: category name is empty", meal.ErrInvalidInput)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO categories (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name); err != nil {
		return fmt.Errorf("add category: %w", err)
	}
	return nil
}

// ReplaceCategories swaps the whole reference set. Existing meal records keep
// their category text.
func (s *Store) ReplaceCategories(ctx context.Context, names []string) error {
	clean := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			clean = append(clean, n)
		}
	}
	if len(clean) == 0 {
		return fmt.Errorf("%w: at least one category is required", meal.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace categories: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM categories`); err != nil {
		return fmt.Errorf("clear categories: %w", err)
	}
	for _, n := range clean {
		if _, err := tx.ExecContext(ctx, `INSERT INTO categories (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, n); err != nil {
			return fmt.Errorf("insert category: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit categories: %w", err)
	}
	return nil
}

// EnsureDefaultCategories seeds the defaults only into an empty table.
func (s *Store) EnsureDefaultCategories(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM categories`).Scan(&count); err != nil {
		return fmt.Errorf("count categories: %w", err)
	}
	if count > 0 {
		return nil
	}
	return s.ReplaceCategories(ctx, meal.DefaultCategories)
}

// Settings returns the stored profile, or the defaults when none is saved.
func (s *Store) Settings(ctx context.Context) (meal.Settings, error) {
	var st meal.Settings
	err := s.db.QueryRowContext(ctx, `
		SELECT sex, age, height_cm, weight_kg, target_calories FROM settings WHERE id = 1
	`).Scan(&st.Sex, &st.Age, &st.HeightCm, &st.WeightKg, &st.TargetCalories)
	if errors.Is(err, sql.ErrNoRows) {
		return meal.DefaultSettings(), nil
	}
	if err != nil {
		return meal.Settings{}, fmt.Errorf("get settings: %w", err)
	}
	return st, nil
}

func (s *Store) UpdateSettings(ctx context.Context, st meal.Settings) error {
	if st.TargetCalories <= 0 {
		return fmt.Errorf("%w: target calories must be positive", meal.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, sex, age, height_cm, weight_kg, target_calories)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sex = excluded.sex,
			age = excluded.age,
			height_cm = excluded.height_cm,
			weight_kg = excluded.weight_kg,
			target_calories = excluded.target_calories
	`, st.Sex, st.Age, st.HeightCm, st.WeightKg, st.TargetCalories)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}

func (s *Store) EnsureDefaultSettings(ctx context.Context) error {
	d := meal.DefaultSettings()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO settings (id, sex, age, height_cm, weight_kg, target_calories)
		VALUES (1, ?, ?, ?, ?, ?)
	`, d.Sex, d.Age, d.HeightCm, d.WeightKg, d.TargetCalories)
	if err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}
	return nil
}
