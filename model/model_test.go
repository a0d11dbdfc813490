package model

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req OllamaEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, "hello", req.Prompt)
		json.NewEncoder(w).Encode(OllamaEmbeddingResponse{Embedding: []float64{3, 4}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "nomic-embed-text", time.Second)
	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, vec, 2)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)
}

func TestOllamaEmbedderErrors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		}))
		defer srv.Close()

		_, err := NewOllamaEmbedder(srv.URL, "m", time.Second).Embed(context.Background(), "x")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 404")
	})

	t.Run("empty embedding", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"embedding":[]}`))
		}))
		defer srv.Close()

		_, err := NewOllamaEmbedder(srv.URL, "m", time.Second).Embed(context.Background(), "x")
		assert.Error(t, err)
	})
}

type staticEmbedder []float32

func (s staticEmbedder) Embed(context.Context, string) ([]float32, error) { return s, nil }

func TestDimensionChecker(t *testing.T) {
	ok := NewDimensionChecker(staticEmbedder{1, 0, 0}, 3, nil)
	_, err := ok.Embed(context.Background(), "x")
	assert.NoError(t, err)

	bad := NewDimensionChecker(staticEmbedder{1, 0}, 3, nil)
	_, err = bad.Embed(context.Background(), "x")
	assert.Error(t, err)
}

func TestNormalize64(t *testing.T) {
	v := normalize64([]float64{1, 1, 1, 1})
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-9)
	assert.Equal(t, []float64{0, 0}, normalize64([]float64{0, 0}))
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("Quarterly  report\n\nRevenue grew")
	b := Fingerprint("Quarterly report Revenue grew")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	// "é" precomposed vs. "e" + combining acute accent
	assert.Equal(t, Fingerprint("caf\u00e9"), Fingerprint("cafe\u0301"))
	assert.NotEqual(t, a, Fingerprint("Quarterly report Revenue fell"))
}

func TestChunker(t *testing.T) {
	text := strings.Repeat("lorem ipsum dolor sit amet. ", 40)
	c := NewChunker(WithChunkSize(100), WithChunkOverlap(10))

	chunks, err := c.Split(text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len([]rune(ch)), 100)
		assert.NotEmpty(t, strings.TrimSpace(ch))
	}

	empty, err := c.Split("   \n\n  ")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGenerateTitle(t *testing.T) {
	assert.Equal(t, "annual report 2024", generateTitle("/data/annual_report-2024.pdf"))
	assert.Equal(t, "Given", titleFrom(map[string]any{"title": " Given "}, "/x/a.pdf"))
	assert.Equal(t, "a", titleFrom(map[string]any{"title": 3}, "/x/a.pdf"))
}

func TestParsers(t *testing.T) {
	p := DefaultParsers()
	_, err := p.For("application/pdf")
	assert.NoError(t, err)
	_, err = p.For("text/html")
	assert.ErrorIs(t, err, ErrUnsupportedContentType)
}
