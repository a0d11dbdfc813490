package retrieval

import (
	"context"
	"fmt"
	"strings"

	"hybridsearch/model"
	"hybridsearch/types"
)

const snippetLength = 200

// SearchService answers text queries: it embeds the query, runs the hybrid
// search and shapes the hits for the API.
type SearchService struct {
	embedder model.Embedder
	searcher *HybridSearcher
}

func NewSearchService(embedder model.Embedder, searcher *HybridSearcher) *SearchService {
	return &SearchService{embedder: embedder, searcher: searcher}
}

func (s *SearchService) Search(ctx context.Context, query string, limit int) ([]types.SearchResult, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.searcher.Search(ctx, query, vec, limit)
	if err != nil {
		return nil, err
	}

	results := make([]types.SearchResult, 0, len(hits))
	for _, h := range hits {
		title := h.Title
		if title == "" {
			title = h.SourceURI
		}
		results = append(results, types.SearchResult{
			Title:   title,
			Link:    h.SourceURI,
			Snippet: Snippet(h.Content),
		})
	}
	return results, nil
}

// Snippet returns the first 200 characters of content on one line,
// followed by "...".
func Snippet(content string) string {
	r := []rune(content)
	if len(r) > snippetLength {
		r = r[:snippetLength]
	}
	return strings.ReplaceAll(string(r), "\n", " ") + "..."
}
