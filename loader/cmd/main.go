package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"hybridsearch/config"
	"hybridsearch/loader/internal"
	"hybridsearch/loader/service"
	"hybridsearch/pipeline"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "loader",
		Short:        "Runs the indexing stages of the document pipeline",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file")

	var stages string
	run := &cobra.Command{
		Use:   "run",
		Short: "Consume the stage topics until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			selected, err := service.ParseStages(stages)
			if err != nil {
				return err
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := requireSharedQueue(cfg); err != nil {
				return err
			}
			logger := config.NewLogger(cfg.Log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps, err := service.Open(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				logger.Info("Closing connections...")
				if err := deps.Close(); err != nil {
					logger.Error("error closing connections", "error", err)
				}
			}()

			svc, err := service.New(deps, selected, logger)
			if err != nil {
				return err
			}
			logger.Info("loader started", "stages", selected, "queue", cfg.Queue.Backend)
			return svc.Run(ctx)
		},
	}
	run.Flags().StringVar(&stages, "stages", strings.Join(service.AllStages, ","), "comma separated stages to run")

	watch := &cobra.Command{
		Use:   "watch",
		Short: "Submit PDFs dropped into the inbox folder",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := requireSharedQueue(cfg); err != nil {
				return err
			}
			logger := config.NewLogger(cfg.Log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps, err := service.Open(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer deps.Close()

			w, err := internal.NewWatcher(cfg.Watch,
				pipeline.NewIngestionService(deps.Producer, cfg.Queue.Topics.Metadata, logger), logger)
			if err != nil {
				return err
			}
			return w.Run(ctx)
		},
	}

	root.AddCommand(run, watch)
	return root
}

// requireSharedQueue rejects the memory backend: the loader never shares a
// process with the API, so nothing would ever reach its in-process log.
func requireSharedQueue(cfg *config.Config) error {
	if cfg.Queue.Backend == config.QueueMemory {
		return errors.New("the memory queue backend is not shared between processes; use postgres or kafka")
	}
	return nil
}
