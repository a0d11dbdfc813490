package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"hybridsearch/engine"
	"hybridsearch/model"
	"hybridsearch/queue"
	"hybridsearch/types"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
)

// IndexWorker chunks and embeds a job's document and writes the chunks
// tagged with the job id. It never writes document records itself; progress
// is reported as status events.
//
// Re-running a job replaces its chunks, so redelivery is safe.
type IndexWorker struct {
	indexer     engine.ChunkIndexer
	embedder    model.Embedder
	chunker     *model.Chunker
	parsers     model.Parsers
	producer    queue.Producer
	statusTopic string
	pool        *ants.Pool
	logger      *slog.Logger
}

func NewIndexWorker(
	indexer engine.ChunkIndexer,
	embedder model.Embedder,
	chunker *model.Chunker,
	parsers model.Parsers,
	producer queue.Producer,
	statusTopic string,
	poolSize int,
	logger *slog.Logger,
) (*IndexWorker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}
	return &IndexWorker{
		indexer:     indexer,
		embedder:    embedder,
		chunker:     chunker,
		parsers:     parsers,
		producer:    producer,
		statusTopic: statusTopic,
		pool:        pool,
		logger:      logger.With("stage", "index"),
	}, nil
}

func (w *IndexWorker) Release() {
	w.pool.Release()
}

func (w *IndexWorker) HandleBatch(ctx context.Context, msgs []queue.Message) error {
	for _, d := range queue.Decode(w.logger, msgs, types.DecodeJob) {
		if err := w.Process(ctx, d.Value); err != nil {
			w.logger.Error("failed to index job, blocking commit", "job_id", d.Value.JobID, "message", d.Message.String(), "error", err)
			return err
		}
	}
	return nil
}

func (w *IndexWorker) Process(ctx context.Context, job *types.Job) error {
	path, err := ValidateLocalSource(job.SourceURL)
	if err != nil {
		w.logger.Error("source is gone or inaccessible, dropping job", "job_id", job.JobID, "error", err)
		return nil
	}

	parser, err := w.parsers.For(job.ContentType)
	if err != nil {
		w.logger.Error("dropping job", "job_id", job.JobID, "error", err)
		return nil
	}

	if err := w.publishStatus(ctx, job.JobID, types.StatusProcessing, ""); err != nil {
		return err
	}

	parsed, err := parser.Parse(ctx, path, job.SourceProperties)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	texts, err := w.chunker.Split(parsed.Text)
	if err != nil {
		return fmt.Errorf("split %s: %w", path, err)
	}

	embeddings, err := w.embedAll(ctx, texts)
	if err != nil {
		return err
	}

	chunks := make([]types.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = types.Chunk{
			ID:            uuid.New(),
			CorrelationID: job.JobID,
			Position:      i,
			Title:         truncate(parsed.Title, 256),
			SourceURI:     job.SourceURL,
			Content:       text,
			Embedding:     embeddings[i],
		}
	}

	if err := w.indexer.IndexChunks(ctx, job.JobID, chunks); err != nil {
		return fmt.Errorf("index chunks: %w", err)
	}
	w.logger.Info("document indexed", "job_id", job.JobID, "chunks", len(chunks))

	return w.publishStatus(ctx, job.JobID, types.StatusCompleted, "")
}

// embedAll embeds texts on the worker pool and returns vectors in input order.
func (w *IndexWorker) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for i, text := range texts {
		wg.Add(1)
		err := w.pool.Submit(func() {
			defer wg.Done()
			vec, err := w.embedder.Embed(ctx, text)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("embed chunk %d: %w", i, err)
				}
				mu.Unlock()
				return
			}
			out[i] = vec
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
		}
	}
	wg.Wait()
	return out, firstErr
}

func (w *IndexWorker) publishStatus(ctx context.Context, correlationID string, status types.IndexStatus, reason string) error {
	value, err := types.EncodeStatusEvent(types.StatusEvent{CorrelationID: correlationID, Status: status, Reason: reason})
	if err != nil {
		return err
	}
	if err := w.producer.Publish(ctx, w.statusTopic, []byte(correlationID), value).Wait(ctx); err != nil {
		return fmt.Errorf("publish %s status: %w", status, err)
	}
	return nil
}

// MarkFailed is the dead-letter hook of the index stage.
func (w *IndexWorker) MarkFailed(ctx context.Context, msg queue.Message, reason error) error {
	job := types.DecodeJob(w.logger, msg.Value)
	if job == nil {
		return nil
	}
	return w.publishStatus(ctx, job.JobID, types.StatusFailed, reason.Error())
}
