// Package pglog stores the partitioned log in Postgres. Entries, offset
// counters and committed group offsets live in the queue_* tables created
// by the store migrations.
package pglog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"hybridsearch/queue"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultPollInterval = 200 * time.Millisecond

// DB is the part of *pgxpool.Pool the log needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

var _ DB = (*pgxpool.Pool)(nil)

type Log struct {
	pool         DB
	partitions   int32
	pollInterval time.Duration
	logger       *slog.Logger
}

type Option func(*Log)

func WithPollInterval(d time.Duration) Option {
	return func(l *Log) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func New(pool DB, partitions int, opts ...Option) *Log {
	if partitions < 1 {
		partitions = 1
	}
	l := &Log{
		pool:         pool,
		partitions:   int32(partitions),
		pollInterval: defaultPollInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ queue.Producer = (*Log)(nil)

// Publish appends one entry. The offset counter row is locked for the
// duration of the transaction so offsets within a partition are gapless.
func (l *Log) Publish(ctx context.Context, topic string, key, value []byte) *queue.Delivery {
	partition := queue.PartitionFor(key, l.partitions)
	d := queue.NewDelivery()

	offset, err := l.append(ctx, topic, partition, key, value)
	if err != nil {
		d.Resolve(partition, -1, fmt.Errorf("publish to %s/%d: %w", topic, partition, err))
		return d
	}
	d.Resolve(partition, offset, nil)
	return d
}

func (l *Log) append(ctx context.Context, topic string, partition int32, key, value []byte) (int64, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var offset int64
	err = tx.QueryRow(ctx, `
		INSERT INTO queue_partitions (topic, partition, next_offset)
		VALUES ($1, $2, 1)
		ON CONFLICT (topic, partition) DO UPDATE SET next_offset = queue_partitions.next_offset + 1
		RETURNING next_offset - 1`, topic, partition).Scan(&offset)
	if err != nil {
		return 0, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO queue_entries (topic, partition, "offset", key, value)
		VALUES ($1, $2, $3, $4, $5)`, topic, partition, offset, key, value)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return offset, nil
}

// Close is a no-op; the pool belongs to the caller.
func (l *Log) Close() error {
	return nil
}

// Consumer reads topics for group. With no partitions given, all of them
// are assigned; running several processes of one group requires disjoint
// partition sets.
func (l *Log) Consumer(group string, topics []string, partitions ...int32) *Consumer {
	if len(partitions) == 0 {
		for p := int32(0); p < l.partitions; p++ {
			partitions = append(partitions, p)
		}
	}
	var assigned []queue.TopicPartition
	for _, t := range topics {
		for _, p := range partitions {
			assigned = append(assigned, queue.TopicPartition{Topic: t, Partition: p})
		}
	}
	return &Consumer{
		log:      l,
		group:    group,
		assigned: assigned,
		position: make(map[queue.TopicPartition]int64),
	}
}

type Consumer struct {
	log      *Log
	group    string
	assigned []queue.TopicPartition

	mu       sync.Mutex
	position map[queue.TopicPartition]int64
	closed   bool
}

var _ queue.Consumer = (*Consumer)(nil)

func (c *Consumer) ConsumeBatch(ctx context.Context, max int, timeout time.Duration) (*queue.Batch, error) {
	if max < 1 {
		max = 1
	}
	deadline := time.Now().Add(timeout)

	for {
		msgs, err := c.fetch(ctx, max)
		if err != nil {
			if ctx.Err() != nil {
				return queue.NewBatch(nil, nil), nil
			}
			return nil, err
		}
		if len(msgs) > 0 {
			return queue.NewBatch(msgs, &committer{consumer: c, msgs: msgs}), nil
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return queue.NewBatch(nil, nil), nil
		}
		if wait > c.log.pollInterval {
			wait = c.log.pollInterval
		}
		select {
		case <-ctx.Done():
			return queue.NewBatch(nil, nil), nil
		case <-time.After(wait):
		}
	}
}

// fetch reads up to max entries across the assigned partitions. Read
// positions advance only when every partition was read, so a failed query
// leaves the whole poll to be repeated.
func (c *Consumer) fetch(ctx context.Context, max int) ([]queue.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, queue.Fatal(queue.ErrClosed)
	}

	var out []queue.Message
	next := make(map[queue.TopicPartition]int64, len(c.assigned))
	for _, tp := range c.assigned {
		if len(out) >= max {
			break
		}
		pos, ok := c.position[tp]
		if !ok {
			committed, err := c.committed(ctx, tp)
			if err != nil {
				return nil, err
			}
			pos = committed
		}

		rows, err := c.log.pool.Query(ctx, `
			SELECT "offset", key, value FROM queue_entries
			WHERE topic = $1 AND partition = $2 AND "offset" >= $3
			ORDER BY "offset"
			LIMIT $4`, tp.Topic, tp.Partition, pos, max-len(out))
		if err != nil {
			return nil, err
		}
		msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (queue.Message, error) {
			m := queue.Message{Topic: tp.Topic, Partition: tp.Partition}
			err := row.Scan(&m.Offset, &m.Key, &m.Value)
			return m, err
		})
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			pos = msgs[len(msgs)-1].Offset + 1
		}
		next[tp] = pos
		out = append(out, msgs...)
	}

	for tp, pos := range next {
		c.position[tp] = pos
	}
	return out, nil
}

func (c *Consumer) committed(ctx context.Context, tp queue.TopicPartition) (int64, error) {
	var offset int64
	err := c.log.pool.QueryRow(ctx, `
		SELECT committed FROM queue_group_offsets
		WHERE group_id = $1 AND topic = $2 AND partition = $3`,
		c.group, tp.Topic, tp.Partition).Scan(&offset)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return offset, err
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

type committer struct {
	consumer *Consumer
	msgs     []queue.Message
}

func (cm *committer) Commit(ctx context.Context) error {
	c := cm.consumer
	batch := &pgx.Batch{}
	for tp, next := range queue.NextOffsets(cm.msgs) {
		batch.Queue(`
			INSERT INTO queue_group_offsets (group_id, topic, partition, committed)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (group_id, topic, partition)
			DO UPDATE SET committed = GREATEST(queue_group_offsets.committed, EXCLUDED.committed),
			              updated_at = now()`,
			c.group, tp.Topic, tp.Partition, next)
	}
	return c.log.pool.SendBatch(ctx, batch).Close()
}

func (cm *committer) Rewind() {
	c := cm.consumer
	c.mu.Lock()
	defer c.mu.Unlock()
	for tp, first := range queue.FirstOffsets(cm.msgs) {
		if pos, ok := c.position[tp]; ok && first < pos {
			c.position[tp] = first
		}
	}
}
