package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"hybridsearch/queue"
)

type AgentConfig struct {
	BatchSize    int
	PollTimeout  time.Duration
	IdleInterval time.Duration
	ErrorBackoff time.Duration
}

func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		BatchSize:    10,
		PollTimeout:  time.Second,
		IdleInterval: 5 * time.Second,
		ErrorBackoff: 5 * time.Second,
	}
}

// Agent is the consume loop of one stage: poll a batch, run the handler to
// completion, commit or leave uncommitted, repeat.
type Agent struct {
	name       string
	consumer   queue.Consumer
	handler    queue.Handler
	cfg        AgentConfig
	deadLetter *DeadLetterPolicy
	logger     *slog.Logger
}

type AgentOption func(*Agent)

func WithDeadLetter(p *DeadLetterPolicy) AgentOption {
	return func(a *Agent) {
		a.deadLetter = p
	}
}

func WithAgentLogger(logger *slog.Logger) AgentOption {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func NewAgent(name string, consumer queue.Consumer, handler queue.Handler, cfg AgentConfig, opts ...AgentOption) *Agent {
	def := DefaultAgentConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	if cfg.IdleInterval < 0 {
		cfg.IdleInterval = 0
	}
	if cfg.ErrorBackoff < 0 {
		cfg.ErrorBackoff = 0
	}
	a := &Agent{
		name:     name,
		consumer: consumer,
		handler:  handler,
		cfg:      cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("agent", name)
	return a
}

func (a *Agent) Name() string {
	return a.name
}

// Run blocks until ctx is cancelled or the channel reports a fatal error.
// Cancellation is observed between batches; a batch that has started is
// always handled and settled first.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("agent started listening for messages")
	defer a.logger.Info("agent stopped")

	handler := a.handler
	if a.deadLetter != nil {
		handler = a.deadLetter.Wrap(a.handler)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		batch, err := a.consumer.ConsumeBatch(ctx, a.cfg.BatchSize, a.cfg.PollTimeout)
		if err != nil {
			if queue.IsFatal(err) {
				a.logger.Error("fatal channel error, shutting down agent", "error", err)
				return err
			}
			a.logger.Error("unexpected error in run loop", "error", err)
			sleep(ctx, a.cfg.ErrorBackoff)
			continue
		}

		if batch.Len() == 0 {
			sleep(ctx, a.cfg.IdleInterval)
			continue
		}

		// Shutdown must not cut a batch in half.
		hctx := context.WithoutCancel(ctx)
		if err := queue.ProcessAndCommit(hctx, batch, handler); err != nil {
			if queue.IsFatal(err) {
				a.logger.Error("fatal channel error, shutting down agent", "error", err)
				return err
			}
			a.logger.Warn("batch failed, will be redelivered", "size", batch.Len(), "error", err)
			sleep(ctx, a.cfg.ErrorBackoff)
			continue
		}
		if a.deadLetter != nil {
			a.deadLetter.Forget(batch.Messages)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// IsStopped reports whether err from Run means a clean shutdown.
func IsStopped(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}
