// Package internal holds the loader's inbox watcher: PDFs dropped into a
// directory are archived and submitted as indexing jobs.
package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"hybridsearch/config"
	"hybridsearch/types"
)

type Submitter interface {
	Submit(ctx context.Context, sourceURL, contentType string, props map[string]any) (*types.Job, error)
}

type fileState struct {
	firstSeen time.Time
	size      int64
	modTime   time.Time
}

type Watcher struct {
	cfg    config.WatchConfig
	submit Submitter
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	files map[string]fileState
}

func NewWatcher(cfg config.WatchConfig, submit Submitter, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := createDirectories(cfg.Dir, cfg.ArchiveDir, cfg.BadDir); err != nil {
		return nil, err
	}
	return &Watcher{
		cfg:    cfg,
		submit: submit,
		logger: logger.With("component", "watcher"),
		now:    time.Now,
		files:  make(map[string]fileState),
	}, nil
}

// Run polls the inbox until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("start monitoring folder", "dir", w.cfg.Dir)
	defer w.logger.Info("file watcher stopped")

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.Scan(ctx); err != nil {
				w.logger.Error("error while reading source directory", "error", err)
			}
		}
	}
}

// Scan makes one pass over the inbox. A file is submitted once its size and
// modification time have not changed for the settle time.
func (w *Watcher) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	current := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(w.cfg.Dir, e.Name())
		info, err := e.Info()
		if err != nil {
			continue
		}
		current[path] = true

		st, seen := w.files[path]
		if !seen || st.size != info.Size() || !st.modTime.Equal(info.ModTime()) {
			// Новый или изменившийся файл, ждем пока он перестанет меняться
			w.files[path] = fileState{firstSeen: w.now(), size: info.Size(), modTime: info.ModTime()}
			continue
		}
		if w.now().Sub(st.firstSeen) < w.cfg.SettleTime {
			continue
		}

		delete(w.files, path)
		w.process(ctx, path)
	}

	// Удаляем из карты файлы, которых больше нет в директории
	for path := range w.files {
		if !current[path] {
			delete(w.files, path)
		}
	}
	return nil
}

func (w *Watcher) process(ctx context.Context, path string) {
	name := filepath.Base(path)
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		w.logger.Warn("not a PDF, moving to bad folder", "file", name)
		w.moveTo(path, w.cfg.BadDir)
		return
	}

	archived, err := w.moveTo(path, w.cfg.ArchiveDir)
	if err != nil {
		return
	}
	abs, err := filepath.Abs(archived)
	if err != nil {
		abs = archived
	}

	job, err := w.submit.Submit(ctx, fileURL(abs), types.ContentTypePDF, map[string]any{"original_name": name})
	if err != nil {
		w.logger.Error("failed to submit file", "file", name, "error", err)
		w.moveTo(archived, w.cfg.BadDir)
		return
	}
	w.logger.Info("file submitted", "file", name, "job_id", job.JobID, "path", abs)
}

// fileURL escapes the path so names with '#', '%' or spaces survive parsing.
func fileURL(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

// moveTo moves path into dir/<date>/, adding a counter on name conflicts.
func (w *Watcher) moveTo(path, dir string) (string, error) {
	destDir := filepath.Join(dir, w.now().Format("2006-01-02"))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		w.logger.Error("error creating directory", "dir", destDir, "error", err)
		return "", err
	}

	destPath := filepath.Join(destDir, filepath.Base(path))
	ext := filepath.Ext(destPath)
	base := strings.TrimSuffix(filepath.Base(destPath), ext)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(destPath); os.IsNotExist(err) {
			break
		}
		destPath = filepath.Join(destDir, fmt.Sprintf("%s_%d%s", base, counter, ext))
	}

	if err := move(path, destPath); err != nil {
		w.logger.Error("error moving file", "file", path, "dest", destPath, "error", err)
		return "", err
	}
	return destPath, nil
}

// move renames, falling back to copy and remove across filesystems.
func move(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	in.Close()
	return os.Remove(src)
}

func createDirectories(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
