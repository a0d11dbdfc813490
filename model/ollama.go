package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

const defaultEmbedTimeout = 30 * time.Second

// OllamaEmbedder реализует создание эмбеддингов через Ollama
type OllamaEmbedder struct {
	apiURL  string
	model   string
	client  *http.Client
	timeout time.Duration
}

type OllamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type OllamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

func NewOllamaEmbedder(apiURL, model string, timeout time.Duration) *OllamaEmbedder {
	if timeout <= 0 {
		timeout = defaultEmbedTimeout
	}
	return &OllamaEmbedder{
		apiURL:  apiURL,
		model:   model,
		client:  http.DefaultClient,
		timeout: timeout,
	}
}

var _ Embedder = (*OllamaEmbedder)(nil)

// Embed returns the L2-normalized embedding of text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := OllamaEmbeddingRequest{
		Model:  e.model,
		Prompt: text,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var ollamaResp OllamaEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(ollamaResp.Embedding) == 0 {
		return nil, fmt.Errorf("ollama API returned an empty embedding")
	}

	norm := normalize64(ollamaResp.Embedding)

	// Конвертируем float64 в float32
	embedding := make([]float32, len(norm))
	for i, v := range norm {
		embedding[i] = float32(v)
	}

	return embedding, nil
}

// normalize64 scales vec to unit length in place. A zero vector is returned as is.
func normalize64(vec []float64) []float64 {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}

	for i, x := range vec {
		vec[i] = x / norm
	}
	return vec
}
