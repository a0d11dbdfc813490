package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"hybridsearch/app/server"
	"hybridsearch/config"
	"hybridsearch/loader/service"
	"hybridsearch/pipeline"
	"hybridsearch/retrieval"
	"hybridsearch/store"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "hybridsearch",
		Short:        "Document indexing and hybrid search service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file")

	root.AddCommand(newServeCmd(&configPath), newMigrateCmd(&configPath))
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	var withWorkers bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger := config.NewLogger(cfg.Log)
			if cfg.Queue.Backend == config.QueueMemory && !withWorkers {
				return errors.New("the memory queue backend requires --with-workers")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps, err := service.Open(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := deps.Close(); err != nil {
					logger.Error("error closing connections", "error", err)
				}
			}()

			searcher := retrieval.NewHybridSearcher(deps.Engine,
				retrieval.WithNumCandidates(cfg.Search.NumCandidates),
				retrieval.WithLogger(logger))
			srv := server.NewServer(cfg.Server.Addr, server.Handlers{
				Ingest:       pipeline.NewIngestionService(deps.Producer, cfg.Queue.Topics.Metadata, logger),
				Store:        deps.Store,
				Chunks:       deps.Engine,
				Search:       retrieval.NewSearchService(deps.Embedder, searcher),
				DB:           deps.DB,
				DefaultOwner: cfg.Documents.OwnerID,
			}, logger)

			var workers *service.Service
			if withWorkers {
				if workers, err = service.New(deps, service.AllStages, logger); err != nil {
					return err
				}
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Run(gctx)
			})
			if workers != nil {
				g.Go(func() error {
					return workers.Run(gctx)
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&withWorkers, "with-workers", false, "run all pipeline stages in this process")
	return cmd
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger := config.NewLogger(cfg.Log)
			if err := cfg.RequireDatabase(); err != nil {
				return err
			}
			return store.Migrate(cfg.Database.URL, logger)
		},
	}
}
