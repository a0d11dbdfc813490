package model

import (
	"context"
	"fmt"
	"log/slog"
)

// Embedder turns text into a vector. Implementations must be safe for
// concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DimensionChecker wraps an Embedder and rejects vectors whose length
// differs from the column size of the chunks table.
type DimensionChecker struct {
	Embedder
	dimensions int
	logger     *slog.Logger
}

func NewDimensionChecker(e Embedder, dimensions int, logger *slog.Logger) *DimensionChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &DimensionChecker{Embedder: e, dimensions: dimensions, logger: logger}
}

func (d *DimensionChecker) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := d.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if d.dimensions > 0 && len(vec) != d.dimensions {
		d.logger.Error("embedding dimension mismatch", "got", len(vec), "want", d.dimensions)
		return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(vec), d.dimensions)
	}
	return vec, nil
}
