package internal

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"hybridsearch/config"
	"hybridsearch/pipeline"
	"hybridsearch/queue/memory"
	"hybridsearch/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	sources []string
	err     error
}

func (f *fakeSubmitter) Submit(_ context.Context, sourceURL, contentType string, props map[string]any) (*types.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sources = append(f.sources, sourceURL)
	return &types.Job{JobID: "job", SourceURL: sourceURL, ContentType: contentType, SourceProperties: props}, nil
}

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time { return c.t }

func newTestWatcher(t *testing.T, sub Submitter) (*Watcher, *clock, config.WatchConfig) {
	t.Helper()
	root := t.TempDir()
	cfg := config.WatchConfig{
		Dir:        filepath.Join(root, "inbox"),
		ArchiveDir: filepath.Join(root, "archive"),
		BadDir:     filepath.Join(root, "bad"),
		SettleTime: 5 * time.Second,
		Interval:   time.Second,
	}
	w, err := NewWatcher(cfg, sub, nil)
	require.NoError(t, err)
	c := &clock{t: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	w.now = c.now
	return w, c, cfg
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			n++
		}
		return err
	})
	require.NoError(t, err)
	return n
}

func TestWatcherScan(t *testing.T) {
	tests := []struct {
		name       string
		file       string
		submitErr  error
		wantSubmit bool
		wantArch   int
		wantBad    int
	}{
		{name: "pdf is archived and submitted", file: "report.pdf", wantSubmit: true, wantArch: 1},
		{name: "upper case extension", file: "REPORT.PDF", wantSubmit: true, wantArch: 1},
		{name: "not a pdf", file: "notes.txt", wantBad: 1},
		{name: "submit failure", file: "report.pdf", submitErr: errors.New("queue down"), wantBad: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{err: tt.submitErr}
			w, c, cfg := newTestWatcher(t, sub)
			ctx := context.Background()
			require.NoError(t, os.WriteFile(filepath.Join(cfg.Dir, tt.file), []byte("%PDF-1.4"), 0o644))

			// First sighting only starts the settle timer.
			require.NoError(t, w.Scan(ctx))
			assert.Empty(t, sub.sources)

			c.t = c.t.Add(2 * time.Second)
			require.NoError(t, w.Scan(ctx))
			assert.Empty(t, sub.sources)

			c.t = c.t.Add(5 * time.Second)
			require.NoError(t, w.Scan(ctx))

			if tt.wantSubmit {
				require.Len(t, sub.sources, 1)
				assert.True(t, strings.HasPrefix(sub.sources[0], "file://"))
				assert.Contains(t, sub.sources[0], "2025-03-01")
			} else {
				assert.Empty(t, sub.sources)
			}
			assert.Equal(t, 0, countFiles(t, cfg.Dir))
			assert.Equal(t, tt.wantArch, countFiles(t, cfg.ArchiveDir))
			assert.Equal(t, tt.wantBad, countFiles(t, cfg.BadDir))
		})
	}
}

func TestWatcherNameConflict(t *testing.T) {
	sub := &fakeSubmitter{}
	w, c, cfg := newTestWatcher(t, sub)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(cfg.Dir, "a.pdf"), []byte("%PDF"), 0o644))
		require.NoError(t, w.Scan(ctx))
		c.t = c.t.Add(10 * time.Second)
		require.NoError(t, w.Scan(ctx))
	}

	require.Len(t, sub.sources, 2)
	assert.NotEqual(t, sub.sources[0], sub.sources[1])
	assert.True(t, strings.HasSuffix(sub.sources[1], "a_1.pdf"))
}

func TestWatcherForgetsRemovedFiles(t *testing.T) {
	w, _, cfg := newTestWatcher(t, &fakeSubmitter{})
	path := filepath.Join(cfg.Dir, "gone.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))

	require.NoError(t, w.Scan(context.Background()))
	assert.Len(t, w.files, 1)

	require.NoError(t, os.Remove(path))
	require.NoError(t, w.Scan(context.Background()))
	assert.Empty(t, w.files)
}

func TestWatcherSubmitsAwkwardFileNames(t *testing.T) {
	names := []string{"plain.pdf", "report #1.pdf", "50%off.pdf", "a%20b.pdf", "with space.pdf"}

	broker := memory.NewBroker(1)
	ingest := pipeline.NewIngestionService(broker, "index.metadata", nil)
	w, c, cfg := newTestWatcher(t, ingest)
	ctx := context.Background()

	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(cfg.Dir, name), []byte("%PDF-1.4"), 0o644))
	}
	require.NoError(t, w.Scan(ctx))
	c.t = c.t.Add(10 * time.Second)
	require.NoError(t, w.Scan(ctx))

	assert.Equal(t, 0, countFiles(t, cfg.BadDir))
	assert.Equal(t, len(names), countFiles(t, cfg.ArchiveDir))

	msgs := broker.Messages("index.metadata")
	require.Len(t, msgs, len(names))
	var got []string
	for _, m := range msgs {
		job := types.DecodeJob(slog.Default(), m.Value)
		require.NotNil(t, job)
		path, err := pipeline.ValidateLocalSource(job.SourceURL)
		require.NoError(t, err, job.SourceURL)
		got = append(got, filepath.Base(path))
	}
	assert.ElementsMatch(t, names, got)
}

func TestFileURL(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{path: "/data/a.pdf", want: "file:///data/a.pdf"},
		{path: "/data/report #1.pdf", want: "file:///data/report%20%231.pdf"},
		{path: "/data/50%off.pdf", want: "file:///data/50%25off.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := fileURL(tt.path)
			assert.Equal(t, tt.want, got)

			back, err := pipeline.LocalPath(got)
			require.NoError(t, err)
			assert.Equal(t, tt.path, back)
		})
	}
}
