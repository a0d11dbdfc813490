package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"hybridsearch/model"
	"hybridsearch/queue"
	"hybridsearch/store"
	"hybridsearch/types"
)

// MetadataWorker fingerprints a job's document, stores it once per content
// hash and forwards the job to the index topic.
//
// Redelivery of the same job is safe: a job whose document already exists
// is only forwarded again while its indexing has not finished, and a
// duplicate job finds its FAILED metadata row already present.
type MetadataWorker struct {
	store      store.DocumentStorer
	producer   queue.Producer
	indexTopic string
	parsers    model.Parsers
	ownerID    int64
	logger     *slog.Logger
}

func NewMetadataWorker(st store.DocumentStorer, producer queue.Producer, indexTopic string, parsers model.Parsers, ownerID int64, logger *slog.Logger) *MetadataWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetadataWorker{
		store:      st,
		producer:   producer,
		indexTopic: indexTopic,
		parsers:    parsers,
		ownerID:    ownerID,
		logger:     logger.With("stage", "metadata"),
	}
}

// HandleBatch processes jobs in order and stops at the first error so the
// whole batch is redelivered.
func (w *MetadataWorker) HandleBatch(ctx context.Context, msgs []queue.Message) error {
	for _, d := range queue.Decode(w.logger, msgs, types.DecodeJob) {
		if err := w.Process(ctx, d.Value); err != nil {
			w.logger.Error("failed to save job, blocking commit", "job_id", d.Value.JobID, "message", d.Message.String(), "error", err)
			return err
		}
	}
	return nil
}

func (w *MetadataWorker) Process(ctx context.Context, job *types.Job) error {
	path, err := ValidateLocalSource(job.SourceURL)
	if err != nil {
		w.logger.Error("source is gone or inaccessible, dropping job", "job_id", job.JobID, "error", err)
		return nil
	}

	existing, err := w.store.GetDocumentByCorrelationID(ctx, job.JobID)
	switch {
	case err == nil:
		return w.redelivered(ctx, job, existing)
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	parser, err := w.parsers.For(job.ContentType)
	if err != nil {
		w.logger.Error("dropping job", "job_id", job.JobID, "error", err)
		return nil
	}
	parsed, err := parser.Parse(ctx, path, job.SourceProperties)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if parsed.Text == "" {
		w.logger.Warn("document has no text layer", "job_id", job.JobID, "path", path)
	}

	contentHash := model.Fingerprint(parsed.Text)
	details := map[string]any{}
	for k, v := range parsed.Details {
		details[k] = v
	}
	if len(job.SourceProperties) > 0 {
		details["source_properties"] = job.SourceProperties
	}

	_, err = w.store.CreateDocument(ctx, types.Document{
		OwnerID:       w.ownerID,
		CorrelationID: job.JobID,
		ContentHash:   contentHash,
		Title:         truncate(parsed.Title, 256),
		SourceURI:     job.SourceURL,
		Details:       details,
	})
	switch {
	case errors.Is(err, store.ErrDuplicateContent):
		w.logger.Info("duplicate content, marking job failed", "job_id", job.JobID, "content_hash", contentHash)
		_, err := w.store.CreateDocumentMetadata(ctx, job.JobID, contentHash, types.StatusFailed)
		return err
	case errors.Is(err, store.ErrDuplicateCorrelation):
		return w.forward(ctx, job)
	case err != nil:
		return err
	}

	w.logger.Info("document saved", "job_id", job.JobID, "content_hash", contentHash)
	return w.forward(ctx, job)
}

func (w *MetadataWorker) redelivered(ctx context.Context, job *types.Job, doc *types.Document) error {
	md, err := w.store.GetMetadata(ctx, job.JobID)
	if err != nil {
		return err
	}
	if md.IndexStatus.Terminal() {
		w.logger.Debug("job already finished", "job_id", job.JobID, "status", md.IndexStatus)
		return nil
	}
	w.logger.Info("job redelivered, forwarding again", "job_id", job.JobID, "content_hash", doc.ContentHash)
	return w.forward(ctx, job)
}

func (w *MetadataWorker) forward(ctx context.Context, job *types.Job) error {
	value, err := types.EncodeJob(job)
	if err != nil {
		return err
	}
	return w.producer.Publish(ctx, w.indexTopic, []byte(job.JobID), value).Wait(ctx)
}

// MarkFailed is the dead-letter hook of the metadata stage.
func (w *MetadataWorker) MarkFailed(ctx context.Context, msg queue.Message, reason error) error {
	job := types.DecodeJob(w.logger, msg.Value)
	if job == nil {
		return nil
	}
	_, err := w.store.UpdateIndexStatus(ctx, job.JobID, types.StatusFailed)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidTransition) {
		return nil
	}
	return err
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
