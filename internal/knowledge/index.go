package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/stellarlinkco/mealclaw/internal/meal"
)

// Chunk is one piece of ingested nutrition text.
type Chunk struct {
	ID      int64
	Source  string
	Content string
	Vector  []float32
}

type Match struct {
	Chunk Chunk
	Score float64
}

// Searcher finds the k chunks closest to a query vector.
type Searcher interface {
	Search(ctx context.Context, vector []float32, k int) ([]Match, error)
}

// Index keeps chunks and their embeddings in the shared SQLite database and
// ranks them by cosine similarity.
type Index struct {
	db *sql.DB
}

func NewIndex(db *sql.DB) *Index {
	return &Index{db: db}
}

// Add stores chunks in one transaction.
func (x *Index) Add(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add chunks: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, c := range chunks {
		blob, err := packVector(c.Vector)
		if err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO knowledge_chunks (source, content, embedding, embedding_dim)
			VALUES (?, ?, ?, ?)
		`, c.Source, c.Content, blob, len(c.Vector)); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunks: %w", err)
	}
	return nil
}

// Search ranks stored chunks against vector, best first. Chunks embedded with
// a different dimension are skipped.
func (x *Index) Search(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := x.db.QueryContext(ctx, `
		SELECT id, source, content, embedding FROM knowledge_chunks WHERE embedding_dim = ?
	`, len(vector))
	if err != nil {
		return nil, fmt.Errorf("%w: search chunks: %v", meal.ErrExternalService, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			c    Chunk
			blob []byte
		)
		if err := rows.Scan(&c.ID, &c.Source, &c.Content, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		stored, err := unpackVector(blob)
		if err != nil {
			continue
		}
		score, err := cosine(vector, stored)
		if err != nil {
			continue
		}
		matches = append(matches, Match{Chunk: c, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Chunk.ID < matches[j].Chunk.ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// Reset removes every stored chunk.
func (x *Index) Reset(ctx context.Context) error {
	if _, err := x.db.ExecContext(ctx, `DELETE FROM knowledge_chunks`); err != nil {
		return fmt.Errorf("reset chunks: %w", err)
	}
	return nil
}
