package server

import (
	"context"
	"log/slog"

	"hybridsearch/app/api"
	"hybridsearch/app/middleware"
	"hybridsearch/store"

	"github.com/gofiber/fiber/v2"
)

var config = fiber.Config{
	ErrorHandler:          api.ErrorHandler,
	DisableStartupMessage: true,
}

// Handlers groups what the routes need; everything is an interface so the
// server can run on test doubles.
type Handlers struct {
	Ingest       api.Submitter
	Store        store.DocumentStorer
	Chunks       api.ChunkDeleter
	Search       api.Searcher
	DB           api.Pinger
	DefaultOwner int64
}

type Server struct {
	listenAddr string
	app        *fiber.App
	logger     *slog.Logger
}

func NewServer(addr string, h Handlers, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		listenAddr: addr,
		app:        fiber.New(config),
		logger:     logger,
	}
	s.routes(h)
	return s
}

func (s *Server) routes(h Handlers) {
	var (
		app             = s.app
		checkHandler    = api.NewCheckHandler(h.DB)
		indexHandler    = api.NewIndexHandler(h.Ingest, h.Store, s.logger)
		searchHandler   = api.NewSearchHandler(h.Search)
		documentHandler = api.NewDocumentHandler(h.Store, h.Chunks, h.DefaultOwner, s.logger)
	)
	app.Use(middleware.RequestLogger(s.logger))

	check := app.Group("/check")
	check.Get("/healthy", checkHandler.HandleHealthy)
	check.Get("/ready", checkHandler.HandleReady)

	apiv1 := app.Group("/v1")
	apiv1.Post("/index/documents", indexHandler.HandleIndexDocument)
	apiv1.Get("/index/documents/:job_id", indexHandler.HandleGetStatus)
	// ":search" is a literal suffix, not a route parameter.
	apiv1.Get("/query/documents\\:search", searchHandler.HandleSearch)
	apiv1.Get("/documents", documentHandler.HandleList)
	apiv1.Get("/documents/:job_id", documentHandler.HandleGet)
	apiv1.Patch("/documents/:job_id", documentHandler.HandleUpdateTitle)
	apiv1.Delete("/documents/:job_id", documentHandler.HandleDelete)
}

// App exposes the router for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run blocks until ctx is cancelled, then shuts the listener down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server started", "addr", s.listenAddr)
		errCh <- s.app.Listen(s.listenAddr)
	}()

	select {
	case err := <-errCh:
		s.logger.Error("error to start server", "error", err)
		return err
	case <-ctx.Done():
	}
	s.Stop()
	return s.app.Shutdown()
}

func (s *Server) Stop() {
	s.logger.Info("server stopped")
}
