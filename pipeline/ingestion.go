package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"hybridsearch/queue"
	"hybridsearch/types"

	"github.com/google/uuid"
)

const StatusSubmitted = "submitted"

// IngestionService accepts submissions and hands them to the metadata stage.
type IngestionService struct {
	producer queue.Producer
	topic    string
	newID    func() string
	logger   *slog.Logger
}

func NewIngestionService(producer queue.Producer, topic string, logger *slog.Logger) *IngestionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestionService{
		producer: producer,
		topic:    topic,
		newID:    func() string { return uuid.NewString() },
		logger:   logger.With("stage", "ingestion"),
	}
}

// Submit validates the source, mints a job and waits for the log to accept
// it. It does not wait for any later stage.
func (s *IngestionService) Submit(ctx context.Context, sourceURL, contentType string, props map[string]any) (*types.Job, error) {
	if _, err := ValidateLocalSource(sourceURL); err != nil {
		return nil, err
	}
	if props == nil {
		props = map[string]any{}
	}

	job := &types.Job{
		JobID:            s.newID(),
		SourceURL:        sourceURL,
		ContentType:      contentType,
		SourceProperties: props,
	}
	value, err := types.EncodeJob(job)
	if err != nil {
		return nil, err
	}

	if err := s.producer.Publish(ctx, s.topic, []byte(job.JobID), value).Wait(ctx); err != nil {
		return nil, fmt.Errorf("publish job %s: %w", job.JobID, err)
	}
	s.logger.Info("job submitted", "job_id", job.JobID, "source_url", sourceURL)
	return job, nil
}
