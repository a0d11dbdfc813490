package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"hybridsearch/config"
	"hybridsearch/engine"
	"hybridsearch/model"
	"hybridsearch/queue"
	"hybridsearch/queue/kafka"
	"hybridsearch/queue/memory"
	"hybridsearch/queue/pglog"
	"hybridsearch/store"
)

// Deps holds the collaborators built from configuration and shared by the
// API server and the stage agents.
type Deps struct {
	Config   *config.Config
	Store    store.DocumentStorer
	DB       Pinger
	Engine   Engine
	Producer queue.Producer
	Embedder model.Embedder
	Parsers  model.Parsers
	Chunker  *model.Chunker

	newConsumer func(group string, topics []string) (queue.Consumer, error)
	closers     []func() error
	logger      *slog.Logger
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Engine serves both the index stage and the search endpoint.
type Engine interface {
	engine.SearchEngine
	engine.ChunkIndexer
}

func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Deps, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}

	pg, err := store.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("error to connect to Postgres database: %w", err)
	}

	d := &Deps{
		Config:  cfg,
		Store:   pg,
		DB:      pg.Pool(),
		Engine:  engine.NewPostgresEngine(pg.Pool(), logger),
		Parsers: model.DefaultParsers(),
		logger:  logger,
	}
	d.closers = append(d.closers, pg.Close)

	if err := d.openQueue(cfg.Queue, pg); err != nil {
		d.Close()
		return nil, err
	}

	d.Embedder = model.NewDimensionChecker(
		model.NewOllamaEmbedder(cfg.Embedding.URL, cfg.Embedding.Model, cfg.Embedding.Timeout),
		cfg.Embedding.Dimensions, logger)
	logger.Info("uses local Ollama for embeddings", "model", cfg.Embedding.Model)

	d.Chunker = NewChunker(cfg.Chunking)
	return d, nil
}

func NewChunker(cfg config.ChunkingConfig) *model.Chunker {
	opts := []model.ChunkerOption{
		model.WithChunkSize(cfg.Size),
		model.WithChunkOverlap(cfg.Overlap),
	}
	if cfg.Tokenizer != "" {
		opts = append(opts, model.WithTokenCounter(model.NewTokenCounter(cfg.Tokenizer)))
	}
	return model.NewChunker(opts...)
}

func (d *Deps) openQueue(cfg config.QueueConfig, pg *store.PostgresStore) error {
	switch cfg.Backend {
	case config.QueueMemory:
		b := memory.NewBroker(cfg.Partitions)
		d.Producer = b
		d.newConsumer = func(group string, topics []string) (queue.Consumer, error) {
			return b.Consumer(group, topics...), nil
		}
		d.closers = append(d.closers, b.Close)

	case config.QueuePostgres:
		l := pglog.New(pg.Pool(), cfg.Partitions,
			pglog.WithPollInterval(cfg.PollInterval),
			pglog.WithLogger(d.logger))
		d.Producer = l
		d.newConsumer = func(group string, topics []string) (queue.Consumer, error) {
			return l.Consumer(group, topics), nil
		}

	case config.QueueKafka:
		p, err := kafka.NewProducer(cfg.Brokers, d.logger)
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		d.Producer = p
		d.closers = append(d.closers, p.Close)
		d.newConsumer = func(group string, topics []string) (queue.Consumer, error) {
			return kafka.NewConsumer(cfg.Brokers, group, topics, d.logger)
		}

	default:
		return fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
	d.logger.Info("queue backend ready", "backend", cfg.Backend, "partitions", cfg.Partitions)
	return nil
}

// Consumer opens a reader for group; it is closed together with Deps.
func (d *Deps) Consumer(group string, topics ...string) (queue.Consumer, error) {
	c, err := d.newConsumer(group, topics)
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, c.Close)
	return c, nil
}

// Close releases resources in reverse order of creation.
func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
