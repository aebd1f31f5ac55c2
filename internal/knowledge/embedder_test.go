package knowledge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/mealclaw/internal/config"
	"github.com/stellarlinkco/mealclaw/internal/meal"
)

func embeddingServer(t *testing.T, dim int, calls *[]int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model string `json:"model"`
			Input any    `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var inputs []string
		switch v := req.Input.(type) {
		case string:
			inputs = []string{v}
		case []any:
			for _, item := range v {
				inputs = append(inputs, item.(string))
			}
		}
		*calls = append(*calls, len(inputs))

		data := make([]map[string]any, 0, len(inputs))
		// Reverse order to check index placement.
		for i := len(inputs) - 1; i >= 0; i-- {
			vec := make([]float32, dim)
			vec[0] = float32(len(inputs[i]))
			data = append(data, map[string]any{"index": i, "embedding": vec})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
}

func testEmbeddingConfig(baseURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Knowledge.Embedding.BaseURL = baseURL
	cfg.Knowledge.Embedding.APIKey = "emb-key"
	cfg.Knowledge.Embedding.Dimension = 3
	cfg.Knowledge.Embedding.BatchSize = 2
	return cfg
}

func TestEmbedderBatchesAndOrders(t *testing.T) {
	var calls []int
	srv := embeddingServer(t, 3, &calls)
	defer srv.Close()

	e := NewEmbedder(testEmbeddingConfig(srv.URL))
	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, float32(1), vectors[0][0])
	assert.Equal(t, float32(2), vectors[1][0])
	assert.Equal(t, float32(3), vectors[2][0])
	assert.Equal(t, []int{2, 1}, calls)

	v, err := e.Embed(context.Background(), "  dddd ")
	require.NoError(t, err)
	assert.Equal(t, float32(4), v[0])
}

func TestEmbedderAcceptsV1BaseURL(t *testing.T) {
	var calls []int
	srv := embeddingServer(t, 3, &calls)
	defer srv.Close()

	e := NewEmbedder(testEmbeddingConfig(srv.URL + "/v1/"))
	_, err := e.Embed(context.Background(), "apple")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, calls)
}

func TestEmbedderDimensionMismatch(t *testing.T) {
	var calls []int
	srv := embeddingServer(t, 5, &calls)
	defer srv.Close()

	_, err := NewEmbedder(testEmbeddingConfig(srv.URL)).Embed(context.Background(), "apple")
	require.Error(t, err)
	assert.ErrorIs(t, err, meal.ErrExternalService)
	assert.Contains(t, err.Error(), "embedding dimension")
}

func TestEmbedderHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewEmbedder(testEmbeddingConfig(srv.URL)).Embed(context.Background(), "apple")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "embedding http 429"), err.Error())
}

func TestEmbedderRequiresAPIKey(t *testing.T) {
	cfg := testEmbeddingConfig("http://127.0.0.1:1")
	cfg.Knowledge.Embedding.APIKey = ""
	cfg.Provider.APIKey = ""

	_, err := NewEmbedder(cfg).Embed(context.Background(), "apple")
	assert.ErrorContains(t, err, "missing embedding api key")

	_, err = NewEmbedder(cfg).Embed(context.Background(), " ")
	assert.ErrorContains(t, err, "empty text")
}
