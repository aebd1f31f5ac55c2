package knowledge

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/mealclaw/internal/llm"
	"github.com/stellarlinkco/mealclaw/internal/llm/llmtest"
	"github.com/stellarlinkco/mealclaw/internal/logging"
	"github.com/stellarlinkco/mealclaw/internal/meal"
	"github.com/stellarlinkco/mealclaw/internal/store"
)

type keywordEmbedder struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func keywordVector(text string) []float32 {
	text = strings.ToLower(text)
	v := []float32{0.01, 0.01, 0.01}
	for i, word := range []string{"apple", "burger", "rice"} {
		v[i] += float32(strings.Count(text, word))
	}
	return v
}

func (e *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.texts = append(e.texts, text)
	if e.err != nil {
		return nil, e.err
	}
	return keywordVector(text), nil
}

func (e *keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func newTestIndex(t *testing.T) (*Index, *store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "kb.db"), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureDefaultCategories(context.Background()))
	return NewIndex(s.DB()), s
}

func seed(t *testing.T, idx *Index) {
	t.Helper()
	chunks := []Chunk{
		{Source: "https://kb/apple", Content: "One medium apple has 95 calories."},
		{Source: "https://kb/burger", Content: "A hamburger burger has about 540 calories."},
		{Source: "https://kb/rice", Content: "A cup of cooked rice has 205 calories."},
	}
	for i := range chunks {
		chunks[i].Vector = keywordVector(chunks[i].Content)
	}
	require.NoError(t, idx.Add(context.Background(), chunks))
}

func TestVectorCodec(t *testing.T) {
	blob, err := packVector([]float32{0.5, -1, 2})
	require.NoError(t, err)
	v, err := unpackVector(blob)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -1, 2}, v)

	_, err = unpackVector(blob[:len(blob)-1])
	assert.Error(t, err)
	_, err = packVector(nil)
	assert.Error(t, err)

	score, err := cosine([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-9)
	_, err = cosine([]float32{1}, []float32{1, 2})
	assert.Error(t, err)
}

func TestIndexSearchRanksAndLimits(t *testing.T) {
	idx, _ := newTestIndex(t)
	seed(t, idx)
	require.NoError(t, idx.Add(context.Background(), []Chunk{{Source: "other-dim", Content: "x", Vector: []float32{1, 1}}}))

	matches, err := idx.Search(context.Background(), keywordVector("burger"), 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "https://kb/burger", matches[0].Chunk.Source)
	assert.GreaterOrEqual(t, matches[0].Score, matches[1].Score)

	all, err := idx.Search(context.Background(), keywordVector("apple"), 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.NoError(t, idx.Reset(context.Background()))
	n, err = idx.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func newEngine(t *testing.T, script *llmtest.Script, emb Embedder, withCorpus bool) *Engine {
	t.Helper()
	idx, s := newTestIndex(t)
	if withCorpus {
		seed(t, idx)
	}
	client := llm.NewClient(script, llm.Options{Backoff: time.Millisecond, Logger: logging.Nop()})
	return NewEngine(client, emb, idx, s, Options{
		TopK:   2,
		Now:    func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local) },
		Logger: logging.Nop(),
	})
}

func TestAnswerWithoutHistorySkipsRephrase(t *testing.T) {
	script := llmtest.Texts(`{"name":"Apple","description":"apple","calories":95,"category":"Snack","date":"2024-03-01 12:00"}`)
	emb := &keywordEmbedder{}
	engine := newEngine(t, script, emb, true)

	answer, err := engine.Answer(context.Background(), "an apple", nil)
	require.NoError(t, err)

	require.Equal(t, 1, script.Calls())
	req := script.Request(0)
	assert.Contains(t, req.System, "One medium apple has 95 calories.")
	input := llmtest.LastUser(req)
	assert.Contains(t, input, "Please provide information about an apple")
	assert.Contains(t, input, "Breakfast, Brunch, Lunch, Dinner, Snack")
	assert.Contains(t, input, "Today is: 2024-03-01 12:00")

	assert.Equal(t, []string{"an apple"}, emb.texts)
	assert.Equal(t, "an apple", answer.Standalone)
	require.Len(t, answer.Sources, 2)
	assert.Equal(t, "https://kb/apple", answer.Sources[0].Locator)
	assert.Contains(t, answer.AnswerText, `"calories":95`)
}

func TestAnswerRephrasesWithHistory(t *testing.T) {
	script := llmtest.Texts("How many calories are in a burger?", "About 540 calories.")
	emb := &keywordEmbedder{}
	engine := newEngine(t, script, emb, true)

	history := []llm.Turn{llm.UserTurn("I had a burger"), llm.AssistantTurn("Noted.")}
	answer, err := engine.AnswerWith(context.Background(), "how many calories is it?", "how many calories is it?", history)
	require.NoError(t, err)

	require.Equal(t, 2, script.Calls())
	rephrase := llmtest.LastUser(script.Request(0))
	assert.Contains(t, rephrase, "Human: I had a burger")
	assert.Contains(t, rephrase, "Follow Up Input: how many calories is it?")
	assert.Equal(t, []string{"How many calories are in a burger?"}, emb.texts)

	synth := script.Request(1)
	require.Len(t, synth.Messages, 3)
	assert.Equal(t, "assistant", synth.Messages[1].Role)
	assert.Equal(t, "https://kb/burger", answer.Sources[0].Locator)
	assert.Equal(t, "About 540 calories.", answer.AnswerText)
}

func TestAnswerWithEmptyCorpusStillSynthesizes(t *testing.T) {
	script := llmtest.Texts("Could you specify the portion size?")
	engine := newEngine(t, script, &keywordEmbedder{}, false)

	answer, err := engine.Answer(context.Background(), "mystery stew", nil)
	require.NoError(t, err)
	assert.Empty(t, answer.Sources)
	assert.Equal(t, "Could you specify the portion size?", answer.AnswerText)
	assert.Equal(t, 1, script.Calls())
}

func TestAnswerSurfacesFaults(t *testing.T) {
	engine := newEngine(t, llmtest.Texts("unused"), &keywordEmbedder{err: errors.Join(meal.ErrExternalService, errors.New("503"))}, true)
	_, err := engine.Answer(context.Background(), "apple", nil)
	assert.ErrorIs(t, err, meal.ErrExternalService)

	engine = newEngine(t, llmtest.NewScript(llmtest.Reply{Err: errors.New("down")}), &keywordEmbedder{}, true)
	_, err = engine.Answer(context.Background(), "apple", nil)
	assert.ErrorIs(t, err, meal.ErrExternalService)

	_, err = engine.Answer(context.Background(), "   ", nil)
	assert.ErrorIs(t, err, meal.ErrInvalidInput)
}

func TestFormatSources(t *testing.T) {
	got := FormatSources(meal.GroundedAnswer{Sources: []meal.Source{
		{Locator: "b"}, {Locator: "a"}, {Locator: "b"}, {Locator: ""},
	}})
	assert.Equal(t, []string{"a", "b"}, got)
}
