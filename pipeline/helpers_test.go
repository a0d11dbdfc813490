package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"hybridsearch/model"
	"hybridsearch/queue"
	"hybridsearch/types"

	"github.com/stretchr/testify/require"
)

// textParser reads the file as plain text.
type textParser struct {
	err error
}

func (p textParser) Parse(_ context.Context, path string, props map[string]any) (*model.ParsedDocument, error) {
	if p.err != nil {
		return nil, p.err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &model.ParsedDocument{
		Text:    string(data),
		Title:   filepath.Base(path),
		Details: map[string]any{"pages": 1},
	}, nil
}

func testParsers() model.Parsers {
	return model.Parsers{types.ContentTypePDF: textParser{}}
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return "file://" + path
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 1}, nil
}

type fakeIndexer struct {
	mu     sync.Mutex
	chunks map[string][]types.Chunk
	writes int
	err    error
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{chunks: make(map[string][]types.Chunk)}
}

func (f *fakeIndexer) IndexChunks(_ context.Context, correlationID string, chunks []types.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.writes++
	f.chunks[correlationID] = chunks
	return nil
}

func (f *fakeIndexer) DeleteChunks(_ context.Context, correlationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.chunks, correlationID)
	return nil
}

func (f *fakeIndexer) get(id string) []types.Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chunks[id]
}

var errTransient = errors.New("transient failure")

func queueMessage(topic string, value []byte) queue.Message {
	return queue.Message{Topic: topic, Value: value}
}
