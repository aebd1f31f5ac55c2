// Package store persists meal records, the category reference and the user
// settings in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/stellarlinkco/mealclaw/internal/meal"
	"github.com/stellarlinkco/mealclaw/internal/store/migrations"
)

type Store struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
	ids func() string
}

// Open creates the database file if needed, applies pragmas and runs the
// embedded migrations.
func Open(ctx context.Context, dbPath string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := configure(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db, log), nil
}

// New wraps an already prepared database handle.
func New(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log,
		now: time.Now,
		ids: func() string { return uuid.NewString() },
	}
}

func configure(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

// Migrate applies every pending embedded migration.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// DB exposes the handle for components sharing the database file.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

const mealColumns = `id, name, description, calories, category, eaten_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (meal.Record, error) {
	var (
		r       meal.Record
		eatenAt int64
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Calories, &r.Category, &eatenAt); err != nil {
		return meal.Record{}, err
	}
	r.Date = time.Unix(eatenAt, 0).In(time.Local)
	return r, nil
}

func validateDraft(d meal.Draft) error {
	switch {
	case strings.TrimSpace(d.Name) == "":
		return fmt.Errorf("%w: name is required", meal.ErrValidation)
	case strings.TrimSpace(d.Category) == "":
		return fmt.Errorf("%w: category is required", meal.ErrValidation)
	case d.Date.IsZero():
		return fmt.Errorf("%w: date is required", meal.ErrValidation)
	case d.Calories < 0:
		return fmt.Errorf("%w: calories must be non-negative", meal.ErrValidation)
	}
	return nil
}

// Create stores d under a freshly assigned id.
func (s *Store) Create(ctx context.Context, d meal.Draft) (meal.Record, error) {
	if err := validateDraft(d); err != nil {
		return meal.Record{}, err
	}
	id := s.ids()
	now := s.now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meals (id, name, description, calories, category, eaten_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, d.Name, d.Description, d.Calories, d.Category, d.Date.Unix(), now, now)
	if err != nil {
		return meal.Record{}, fmt.Errorf("insert meal: %w", err)
	}
	s.log.Debug().Str("id", id).Str("name", d.Name).Int("calories", d.Calories).Msg("meal created")
	return recordFrom(id, d), nil
}

func recordFrom(id string, d meal.Draft) meal.Record {
	return meal.Record{
		ID:          id,
		Name:        d.Name,
		Description: d.Description,
		Calories:    d.Calories,
		Category:    d.Category,
		Date:        time.Unix(d.Date.Unix(), 0).In(time.Local),
	}
}

// Get reports false when no record has the id.
func (s *Store) Get(ctx context.Context, id string) (meal.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mealColumns+` FROM meals WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return meal.Record{}, false, nil
	}
	if err != nil {
		return meal.Record{}, false, fmt.Errorf("get meal: %w", err)
	}
	return r, true, nil
}

// ListRange returns records dated from start's 00:00:00 through end's
// 23:59:59, oldest first.
func (s *Store) ListRange(ctx context.Context, start, end time.Time) ([]meal.Record, error) {
	from := meal.StartOfDay(start).Unix()
	to := meal.EndOfDay(end).Unix()
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+mealColumns+` FROM meals
		WHERE eaten_at BETWEEN ? AND ?
		ORDER BY eaten_at ASC, id ASC
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list meals: %w", err)
	}
	defer rows.Close()

	var out []meal.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan meal: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate meals: %w", err)
	}
	return out, nil
}

func (s *Store) ListDay(ctx context.Context, day time.Time) ([]meal.Record, error) {
	return s.ListRange(ctx, day, day)
}

// Update overwrites every field of the record. Nothing is written when the
// id is unknown.
func (s *Store) Update(ctx context.Context, id string, d meal.Draft) (meal.Record, bool, error) {
	if err := validateDraft(d); err != nil {
		return meal.Record{}, false, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE meals
		SET name = ?, description = ?, calories = ?, category = ?, eaten_at = ?, updated_at = ?
		WHERE id = ?
	`, d.Name, d.Description, d.Calories, d.Category, d.Date.Unix(), s.now().Unix(), id)
	if err != nil {
		return meal.Record{}, false, fmt.Errorf("update meal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return meal.Record{}, false, fmt.Errorf("update meal rows: %w", err)
	}
	if n == 0 {
		return meal.Record{}, false, nil
	}
	s.log.Debug().Str("id", id).Msg("meal updated")
	return recordFrom(id, d), true, nil
}

// Delete reports whether a record was removed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM meals WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete meal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete meal rows: %w", err)
	}
	if n > 0 {
		s.log.Debug().Str("id", id).Msg("meal deleted")
	}
	return n > 0, nil
}

// TotalCalories sums the calories of the day's records; an empty day is 0.
func (s *Store) TotalCalories(ctx context.Context, day time.Time) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(calories), 0) FROM meals
		WHERE eaten_at BETWEEN ? AND ?
	`, meal.StartOfDay(day).Unix(), meal.EndOfDay(day).Unix()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total calories: %w", err)
	}
	return total, nil
}
