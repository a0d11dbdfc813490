package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"hybridsearch/queue"
	"hybridsearch/store"
	"hybridsearch/types"
)

// StatusWorker applies status events from the index stage to metadata rows.
// Events that the state machine rejects, or that refer to deleted
// documents, are logged and skipped, so replaying a batch is harmless.
type StatusWorker struct {
	store  store.DocumentStorer
	logger *slog.Logger
}

func NewStatusWorker(st store.DocumentStorer, logger *slog.Logger) *StatusWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusWorker{store: st, logger: logger.With("stage", "status")}
}

func (w *StatusWorker) HandleBatch(ctx context.Context, msgs []queue.Message) error {
	for _, d := range queue.Decode(w.logger, msgs, types.DecodeStatusEvent) {
		ev := d.Value
		_, err := w.store.UpdateIndexStatus(ctx, ev.CorrelationID, ev.Status)
		switch {
		case err == nil:
			w.logger.Debug("status updated", "correlation_id", ev.CorrelationID, "status", ev.Status)
		case errors.Is(err, store.ErrInvalidTransition), errors.Is(err, store.ErrNotFound):
			w.logger.Warn("status event ignored", "correlation_id", ev.CorrelationID, "status", ev.Status, "error", err)
		default:
			return err
		}
	}
	return nil
}
