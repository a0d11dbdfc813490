package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"hybridsearch/pipeline"
	"hybridsearch/queue"
)

const (
	StageMetadata = "metadata"
	StageIndex    = "index"
	StageStatus   = "status"
)

var AllStages = []string{StageMetadata, StageIndex, StageStatus}

// ParseStages splits a comma separated list of stage names.
func ParseStages(s string) ([]string, error) {
	var stages []string
	seen := map[string]bool{}
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		switch name {
		case StageMetadata, StageIndex, StageStatus:
		default:
			return nil, fmt.Errorf("unknown stage %q", name)
		}
		seen[name] = true
		stages = append(stages, name)
	}
	if len(stages) == 0 {
		return nil, errors.New("no stages selected")
	}
	return stages, nil
}

// Service runs the stage agents of one process.
type Service struct {
	logger   *slog.Logger
	agents   []*pipeline.Agent
	release  []func()
	shutdown time.Duration
}

func New(deps *Deps, stages []string, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config
	s := &Service{
		logger:   logger,
		shutdown: cfg.Worker.ShutdownGrace,
	}
	agentCfg := pipeline.AgentConfig{
		BatchSize:    cfg.Worker.BatchSize,
		PollTimeout:  cfg.Worker.PollTimeout,
		IdleInterval: cfg.Worker.IdleInterval,
		ErrorBackoff: cfg.Worker.ErrorBackoff,
	}
	topics, groups := cfg.Queue.Topics, cfg.Queue.Groups

	for _, stage := range stages {
		var (
			topic, group string
			handler      queue.Handler
			onFailed     pipeline.FailedHook
		)
		switch stage {
		case StageMetadata:
			topic, group = topics.Metadata, groups.Metadata
			w := pipeline.NewMetadataWorker(deps.Store, deps.Producer, topics.Index, deps.Parsers, cfg.Documents.OwnerID, logger)
			handler, onFailed = w.HandleBatch, w.MarkFailed
		case StageIndex:
			topic, group = topics.Index, groups.Index
			w, err := pipeline.NewIndexWorker(deps.Engine, deps.Embedder, deps.Chunker, deps.Parsers,
				deps.Producer, topics.Status, cfg.Worker.EmbedPoolSize, logger)
			if err != nil {
				s.Stop()
				return nil, fmt.Errorf("stage %s: %w", stage, err)
			}
			s.release = append(s.release, w.Release)
			handler, onFailed = w.HandleBatch, w.MarkFailed
		case StageStatus:
			topic, group = topics.Status, groups.Status
			handler = pipeline.NewStatusWorker(deps.Store, logger).HandleBatch
		default:
			s.Stop()
			return nil, fmt.Errorf("unknown stage %q", stage)
		}

		consumer, err := deps.Consumer(group, topic)
		if err != nil {
			s.Stop()
			return nil, fmt.Errorf("stage %s consumer: %w", stage, err)
		}

		opts := []pipeline.AgentOption{pipeline.WithAgentLogger(logger)}
		if dlq := pipeline.NewDeadLetterPolicy(cfg.Worker.MaxDeliveries, deps.Producer, deps.Store, onFailed, logger); dlq != nil {
			opts = append(opts, pipeline.WithDeadLetter(dlq))
		}
		s.agents = append(s.agents, pipeline.NewAgent(stage, consumer, handler, agentCfg, opts...))
	}
	return s, nil
}

func (s *Service) Stop() {
	for _, release := range s.release {
		release()
	}
	s.release = nil
	s.logger.Info("Loader Service stopped")
}

// Run starts every agent and blocks until ctx is cancelled or an agent hits
// a fatal channel error. It then waits up to the shutdown grace period for
// in-flight batches.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		fatalErr error
	)
	for _, a := range s.agents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Run(ctx); err != nil {
				mu.Lock()
				fatalErr = errors.Join(fatalErr, fmt.Errorf("agent %s: %w", a.Name(), err))
				mu.Unlock()
				// Один упавший агент останавливает весь процесс
				cancel()
			}
		}()
	}

	<-ctx.Done()
	s.logger.Info("shutting down agents gracefully...")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	// Ждем завершения всех горутин с таймаутом
	timer := time.NewTimer(s.shutdown)
	defer timer.Stop()
	select {
	case <-done:
		s.logger.Info("all agents stopped successfully")
	case <-timer.C:
		s.logger.Warn("timeout waiting for agents to stop, forcing shutdown")
	}

	s.Stop()
	mu.Lock()
	defer mu.Unlock()
	return fatalErr
}
