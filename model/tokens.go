package model

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens with a tiktoken encoding. The encoding is
// loaded on first use.
type TokenCounter struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
	err      error
}

func NewTokenCounter(encoding string) *TokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &TokenCounter{encoding: encoding}
}

func (t *TokenCounter) load() error {
	t.once.Do(func() {
		t.enc, t.err = tiktoken.GetEncoding(t.encoding)
	})
	return t.err
}

func (t *TokenCounter) Count(text string) (int, error) {
	if err := t.load(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

// LenFunc adapts the counter to a splitter length function. When the
// encoding is unavailable it falls back to counting runes.
func (t *TokenCounter) LenFunc() func(string) int {
	return func(s string) int {
		n, err := t.Count(s)
		if err != nil {
			return len([]rune(s))
		}
		return n
	}
}
