package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stellarlinkco/mealclaw/internal/config"
	"github.com/stellarlinkco/mealclaw/internal/meal"
)

const (
	embeddingProviderAPI    = "api"
	embeddingProviderOllama = "ollama"

	defaultAPIEmbeddingBaseURL    = "https://api.openai.com/v1"
	defaultOllamaEmbeddingBaseURL = "http://127.0.0.1:11434"
)

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type httpEmbedder struct {
	provider    string
	baseURL     string
	apiKey      string
	model       string
	expectedDim int
	batchSize   int
	httpClient  *http.Client
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type embeddingResponse struct {
	Data []embeddingData `json:"data"`
}

type embeddingData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

// NewEmbedder builds an OpenAI-compatible embeddings client. Unset fields fall
// back to the reasoning provider's credentials.
func NewEmbedder(cfg *config.Config) Embedder {
	ec := cfg.Knowledge.Embedding
	e := &httpEmbedder{
		provider:    strings.ToLower(firstNonEmpty(ec.Provider, embeddingProviderAPI)),
		apiKey:      firstNonEmpty(ec.APIKey, cfg.Provider.APIKey),
		model:       firstNonEmpty(ec.Model, config.DefaultEmbeddingModel),
		expectedDim: ec.Dimension,
		batchSize:   ec.BatchSize,
		httpClient:  &http.Client{Timeout: time.Duration(ec.TimeoutMs) * time.Millisecond},
	}
	switch e.provider {
	case embeddingProviderOllama:
		e.baseURL = firstNonEmpty(ec.BaseURL, defaultOllamaEmbeddingBaseURL)
	default:
		providerURL := ""
		if strings.EqualFold(cfg.Provider.Type, "openai") || cfg.Provider.Type == "" {
			providerURL = cfg.Provider.BaseURL
		}
		e.baseURL = firstNonEmpty(ec.BaseURL, providerURL, defaultAPIEmbeddingBaseURL)
	}
	return e
}

func (e *httpEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("embed: empty text")
	}
	vectors, err := e.request(ctx, trimmed, 1)
	if err != nil {
		return nil, fmt.Errorf("%w: embed: %v", meal.ErrExternalService, err)
	}
	return vectors[0], nil
}

func (e *httpEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	normalized := make([]string, len(texts))
	for i, text := range texts {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil, fmt.Errorf("embed batch: empty text at index %d", i)
		}
		normalized[i] = trimmed
	}

	size := e.batchSize
	if size <= 0 {
		size = len(normalized)
	}
	out := make([][]float32, 0, len(normalized))
	for start := 0; start < len(normalized); start += size {
		end := min(start+size, len(normalized))
		vectors, err := e.request(ctx, normalized[start:end], end-start)
		if err != nil {
			return nil, fmt.Errorf("%w: embed batch: %v", meal.ErrExternalService, err)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (e *httpEmbedder) endpoint() (string, error) {
	base := strings.TrimRight(strings.TrimSpace(e.baseURL), "/")
	switch e.provider {
	case "", embeddingProviderAPI:
		if strings.TrimSpace(e.apiKey) == "" {
			return "", fmt.Errorf("missing embedding api key")
		}
	case embeddingProviderOllama:
	default:
		return "", fmt.Errorf("unsupported embedding provider: %s", e.provider)
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/embeddings", nil
	}
	return base + "/v1/embeddings", nil
}

func (e *httpEmbedder) request(ctx context.Context, input any, expected int) ([][]float32, error) {
	url, err := e.endpoint()
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(embeddingRequest{Model: e.model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(e.apiKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedding http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded embeddingResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return e.order(decoded.Data, expected)
}

// order places vectors by their response index and checks count and dimension.
func (e *httpEmbedder) order(data []embeddingData, expected int) ([][]float32, error) {
	if len(data) != expected {
		return nil, fmt.Errorf("response count mismatch: got %d want %d", len(data), expected)
	}
	vectors := make([][]float32, expected)
	for _, item := range data {
		if item.Index < 0 || item.Index >= expected {
			return nil, fmt.Errorf("invalid embedding index %d", item.Index)
		}
		if vectors[item.Index] != nil {
			return nil, fmt.Errorf("duplicate embedding index %d", item.Index)
		}
		if len(item.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding vector at index %d", item.Index)
		}
		if e.expectedDim > 0 && len(item.Embedding) != e.expectedDim {
			return nil, fmt.Errorf("embedding dimension at index %d: got %d want %d", item.Index, len(item.Embedding), e.expectedDim)
		}
		vectors[item.Index] = append([]float32(nil), item.Embedding...)
	}
	return vectors, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
