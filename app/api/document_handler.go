package api

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"hybridsearch/store"
	"hybridsearch/types"

	"github.com/gofiber/fiber/v2"
)

type ChunkDeleter interface {
	DeleteChunks(ctx context.Context, correlationID string) error
}

type DocumentHandler struct {
	store        store.DocumentStorer
	chunks       ChunkDeleter
	defaultOwner int64
	logger       *slog.Logger
}

func NewDocumentHandler(st store.DocumentStorer, chunks ChunkDeleter, defaultOwner int64, logger *slog.Logger) *DocumentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentHandler{
		store:        st,
		chunks:       chunks,
		defaultOwner: defaultOwner,
		logger:       logger,
	}
}

func (h *DocumentHandler) HandleList(c *fiber.Ctx) error {
	owner := h.defaultOwner
	if raw := c.Query("owner_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return ErrInvalidID()
		}
		owner = id
	}

	docs, err := h.store.ListDocumentsByOwner(c.UserContext(), owner)
	if err != nil {
		return err
	}
	if docs == nil {
		docs = []types.Document{}
	}
	return c.JSON(docs)
}

func (h *DocumentHandler) HandleGet(c *fiber.Ctx) error {
	jobID := c.Params("job_id")
	doc, err := h.store.GetDocumentByCorrelationID(c.UserContext(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound(jobID, "document")
		}
		return err
	}
	return c.JSON(doc)
}

func (h *DocumentHandler) HandleUpdateTitle(c *fiber.Ctx) error {
	var params types.UpdateTitleParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}

	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	jobID := c.Params("job_id")
	doc, err := h.store.UpdateDocumentTitle(c.UserContext(), jobID, params.Title)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound(jobID, "document")
		}
		return err
	}
	return c.JSON(doc)
}

// HandleDelete removes the record, its metadata and its chunks.
func (h *DocumentHandler) HandleDelete(c *fiber.Ctx) error {
	jobID := c.Params("job_id")
	deleted, err := h.store.DeleteDocument(c.UserContext(), jobID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound(jobID, "document")
	}
	if err := h.chunks.DeleteChunks(c.UserContext(), jobID); err != nil {
		return err
	}
	h.logger.Info("document deleted", "job_id", jobID)
	return c.JSON(fiber.Map{"deleted": jobID})
}
