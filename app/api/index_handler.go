package api

import (
	"context"
	"errors"
	"log/slog"

	"hybridsearch/pipeline"
	"hybridsearch/store"
	"hybridsearch/types"

	"github.com/gofiber/fiber/v2"
)

type Submitter interface {
	Submit(ctx context.Context, sourceURL, contentType string, props map[string]any) (*types.Job, error)
}

type MetadataGetter interface {
	GetMetadata(ctx context.Context, correlationID string) (*types.DocumentMetadata, error)
}

// IndexHandler accepts indexing jobs and reports their progress.
type IndexHandler struct {
	ingest Submitter
	store  MetadataGetter
	logger *slog.Logger
}

func NewIndexHandler(ingest Submitter, st MetadataGetter, logger *slog.Logger) *IndexHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexHandler{ingest: ingest, store: st, logger: logger}
}

func (h *IndexHandler) HandleIndexDocument(c *fiber.Ctx) error {
	var params types.IndexDocumentRequest
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}

	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	job, err := h.ingest.Submit(c.UserContext(), params.SourceURL, params.ContentType, params.SourceProperties)
	if err != nil {
		return submitError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(types.IndexDocumentResponse{
		JobID:          job.JobID,
		IndexingStatus: pipeline.StatusSubmitted,
		Metadata:       job.SourceProperties,
	})
}

func submitError(err error) error {
	switch {
	case errors.Is(err, pipeline.ErrSourceNotFound), errors.Is(err, pipeline.ErrSourceIsDirectory):
		return NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, pipeline.ErrRemoteSourceUnsupported):
		return ErrNotImplemented(err.Error())
	case errors.Is(err, pipeline.ErrInvalidSource):
		return NewValidationError(map[string]string{"SourceURL": err.Error()})
	}
	return err
}

func (h *IndexHandler) HandleGetStatus(c *fiber.Ctx) error {
	jobID := c.Params("job_id")
	md, err := h.store.GetMetadata(c.UserContext(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound(jobID, "job")
		}
		return err
	}
	return c.JSON(md)
}
