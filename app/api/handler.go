package api

import (
	"context"
	"strconv"

	"hybridsearch/types"

	"github.com/gofiber/fiber/v2"
)

type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]types.SearchResult, error)
}

type SearchHandler struct {
	searcher Searcher
}

func NewSearchHandler(searcher Searcher) *SearchHandler {
	return &SearchHandler{searcher: searcher}
}

func (h *SearchHandler) HandleSearch(c *fiber.Ctx) error {
	params := types.SearchParams{Query: c.Query("q")}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return NewValidationError(map[string]string{"Limit": "must be an integer"})
		}
		params.Limit = &limit
	}

	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	results, err := h.searcher.Search(c.UserContext(), params.Query, params.EffectiveLimit())
	if err != nil {
		return err
	}

	return c.JSON(types.SearchResponse{
		Query:   params.Query,
		Results: results,
	})
}
