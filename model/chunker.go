package model

import (
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	DefaultChunkSize    = 2048
	DefaultChunkOverlap = 64
)

type Chunker struct {
	splitter textsplitter.RecursiveCharacter
}

type ChunkerOption func(*chunkerConfig)

type chunkerConfig struct {
	size    int
	overlap int
	lenFunc func(string) int
}

func WithChunkSize(size int) ChunkerOption {
	return func(c *chunkerConfig) {
		if size > 0 {
			c.size = size
		}
	}
}

func WithChunkOverlap(overlap int) ChunkerOption {
	return func(c *chunkerConfig) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// WithTokenCounter measures chunk size in tokens instead of runes.
func WithTokenCounter(tc *TokenCounter) ChunkerOption {
	return func(c *chunkerConfig) {
		if tc != nil {
			c.lenFunc = tc.LenFunc()
		}
	}
}

func NewChunker(opts ...ChunkerOption) *Chunker {
	cfg := chunkerConfig{
		size:    DefaultChunkSize,
		overlap: DefaultChunkOverlap,
		lenFunc: func(s string) int { return len([]rune(s)) },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.overlap >= cfg.size {
		cfg.overlap = cfg.size / 4
	}

	return &Chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.size),
			textsplitter.WithChunkOverlap(cfg.overlap),
			textsplitter.WithLenFunc(cfg.lenFunc),
		),
	}
}

// Split returns the non-empty chunks of text in document order.
func (c *Chunker) Split(text string) ([]string, error) {
	parts, err := c.splitter.SplitText(text)
	if err != nil {
		return nil, err
	}
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out, nil
}
