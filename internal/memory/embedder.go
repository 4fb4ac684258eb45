package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultEmbedDim matches nomic-embed-text.
	DefaultEmbedDim = 768
	// DefaultEmbedBatch bounds texts per EmbedBatch round.
	DefaultEmbedBatch = 10
)

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// OllamaEmbedder calls the Ollama /api/embeddings endpoint.
type OllamaEmbedder struct {
	baseURL   string
	model     string
	dimension int
	batchSize int
	client    *http.Client
}

// NewOllamaEmbedder applies defaults for zero values.
func NewOllamaEmbedder(baseURL, model string, dimension, batchSize int) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	if dimension <= 0 {
		dimension = DefaultEmbedDim
	}
	if batchSize <= 0 {
		batchSize = DefaultEmbedBatch
	}
	return &OllamaEmbedder{
		baseURL:   strings.TrimRight(baseURL, "/"),
		model:     model,
		dimension: dimension,
		batchSize: batchSize,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (e *OllamaEmbedder) Dimension() int { return e.dimension }

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns the vector for one text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(embeddingRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("embeddings: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embeddings: decode: %w", err)
	}
	if len(out.Embedding) != e.dimension {
		return nil, fmt.Errorf("embeddings: got dimension %d, want %d", len(out.Embedding), e.dimension)
	}
	return out.Embedding, nil
}

// EmbedBatch embeds texts in rounds of batchSize, preserving order.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		for _, text := range texts[start:end] {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			vec, err := e.Embed(ctx, text)
			if err != nil {
				return nil, err
			}
			vectors = append(vectors, vec)
		}
	}
	return vectors, nil
}
