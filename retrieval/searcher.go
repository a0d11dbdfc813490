package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"hybridsearch/engine"
	"hybridsearch/types"

	"golang.org/x/sync/errgroup"
)

const (
	// LexicalOverfetch is how many lexical candidates are requested per
	// requested result.
	LexicalOverfetch     = 3
	DefaultNumCandidates = 100
)

// HybridSearcher runs a lexical and a vector query concurrently and fuses
// the two rankings by correlation id.
type HybridSearcher struct {
	engine        engine.SearchEngine
	numCandidates int
	logger        *slog.Logger
}

type Option func(*HybridSearcher)

func WithNumCandidates(n int) Option {
	return func(h *HybridSearcher) {
		if n > 0 {
			h.numCandidates = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *HybridSearcher) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewHybridSearcher(e engine.SearchEngine, opts ...Option) *HybridSearcher {
	h := &HybridSearcher{
		engine:        e,
		numCandidates: DefaultNumCandidates,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Search returns at most k hits, one per document, in fused order. Hit
// content comes from the first chunk seen for the document, lexical hits
// first. A failure of either query fails the search.
func (h *HybridSearcher) Search(ctx context.Context, queryText string, queryVec []float32, k int) ([]types.SearchHit, error) {
	if k < 1 {
		return nil, nil
	}

	var lexical, vector []types.SearchHit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := h.engine.LexicalSearch(gctx, queryText, LexicalOverfetch*k)
		if err != nil {
			return fmt.Errorf("lexical search: %w", err)
		}
		lexical = hits
		return nil
	})
	g.Go(func() error {
		hits, err := h.engine.VectorSearch(gctx, queryVec, k, h.numCandidates)
		if err != nil {
			return fmt.Errorf("vector search: %w", err)
		}
		vector = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[string]types.SearchHit, len(lexical)+len(vector))
	for _, hit := range append(append([]types.SearchHit{}, lexical...), vector...) {
		if _, ok := byID[hit.CorrelationID]; !ok {
			byID[hit.CorrelationID] = hit
		}
	}

	fused := Fuse(k, ids(lexical), ids(vector))
	h.logger.Debug("hybrid search",
		"lexical", len(lexical), "vector", len(vector), "fused", len(fused))

	out := make([]types.SearchHit, 0, len(fused))
	for _, f := range fused {
		hit := byID[f.ID]
		hit.Score = f.Score
		out = append(out, hit)
	}
	return out, nil
}

func ids(hits []types.SearchHit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.CorrelationID
	}
	return out
}
