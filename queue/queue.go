// Package queue defines the partitioned log used between pipeline stages.
//
// A Consumer hands out batches of messages for the partitions assigned to
// its reader group. Offsets of a batch are committed all at once, and only
// when the handler succeeds; a failed batch is rewound so the next poll
// redelivers every message of it. Backends live in the memory, pglog and
// kafka subpackages.
package queue

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrFatal marks channel failures that a stage loop must not retry.
	ErrFatal  = errors.New("queue: fatal channel error")
	ErrClosed = errors.New("queue: closed")
)

// Fatal wraps err so that errors.Is(err, ErrFatal) holds.
func Fatal(err error) error {
	if err == nil || errors.Is(err, ErrFatal) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrFatal, err)
}

func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Partition int32
	Offset    int64
}

func (m Message) String() string {
	return fmt.Sprintf("%s/%d@%d", m.Topic, m.Partition, m.Offset)
}

type Consumer interface {
	// ConsumeBatch blocks for at most timeout and returns up to max messages.
	// A timeout yields an empty batch, not an error.
	ConsumeBatch(ctx context.Context, max int, timeout time.Duration) (*Batch, error)
	Close() error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) *Delivery
	Close() error
}

// Committer is the backend side of one batch.
type Committer interface {
	Commit(ctx context.Context) error
	// Rewind moves the read position back to the first message of the batch.
	Rewind()
}

type Batch struct {
	Messages  []Message
	committer Committer
	settled   bool
}

func NewBatch(msgs []Message, committer Committer) *Batch {
	return &Batch{Messages: msgs, committer: committer}
}

func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Messages)
}

func (b *Batch) Commit(ctx context.Context) error {
	if b == nil || b.settled || b.committer == nil {
		return nil
	}
	if err := b.committer.Commit(ctx); err != nil {
		return err
	}
	b.settled = true
	return nil
}

// Release gives up the batch without committing it.
func (b *Batch) Release() {
	if b == nil || b.settled || b.committer == nil {
		return
	}
	b.committer.Rewind()
	b.settled = true
}

type Handler func(ctx context.Context, msgs []Message) error

// ProcessAndCommit runs handler once over the whole batch. Offsets are
// committed only when handler returns nil; otherwise the batch is released
// and will be redelivered in full.
func ProcessAndCommit(ctx context.Context, b *Batch, handler Handler) error {
	if b.Len() == 0 {
		return nil
	}
	if err := handler(ctx, b.Messages); err != nil {
		b.Release()
		return err
	}
	if err := b.Commit(ctx); err != nil {
		b.Release()
		return fmt.Errorf("commit %d messages: %w", b.Len(), err)
	}
	return nil
}

// Decoded pairs a message with its deserialized value.
type Decoded[T any] struct {
	Message Message
	Value   *T
}

// Decode deserializes every message of a batch. Entries that fail to decode
// are logged and skipped.
func Decode[T any](logger *slog.Logger, msgs []Message, decode func(*slog.Logger, []byte) *T) []Decoded[T] {
	if logger == nil {
		logger = slog.Default()
	}
	out := make([]Decoded[T], 0, len(msgs))
	for _, m := range msgs {
		v := decode(logger, m.Value)
		if v == nil {
			logger.Error("skipping undecodable message", "message", m.String())
			continue
		}
		out = append(out, Decoded[T]{Message: m, Value: v})
	}
	return out
}

// Delivery is the result of one Publish call.
type Delivery struct {
	once      sync.Once
	done      chan struct{}
	partition int32
	offset    int64
	err       error
}

func NewDelivery() *Delivery {
	return &Delivery{done: make(chan struct{})}
}

// FailedDelivery returns an already resolved delivery carrying err.
func FailedDelivery(err error) *Delivery {
	d := NewDelivery()
	d.Resolve(-1, -1, err)
	return d
}

func (d *Delivery) Resolve(partition int32, offset int64, err error) {
	d.once.Do(func() {
		d.partition = partition
		d.offset = offset
		d.err = err
		close(d.done)
	})
}

func (d *Delivery) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the log confirms or rejects the entry.
func (d *Delivery) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return d.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result is only meaningful after Done is closed.
func (d *Delivery) Result() (partition int32, offset int64, err error) {
	return d.partition, d.offset, d.err
}

// PartitionFor maps a key to a partition. Equal keys always land on the
// same partition, which keeps per-key ordering.
func PartitionFor(key []byte, partitions int32) int32 {
	if partitions <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write(key)
	return int32(h.Sum32() % uint32(partitions))
}

// TopicPartition identifies one partition of a topic.
type TopicPartition struct {
	Topic     string
	Partition int32
}

// FirstOffsets returns the lowest offset per partition in msgs.
func FirstOffsets(msgs []Message) map[TopicPartition]int64 {
	out := make(map[TopicPartition]int64)
	for _, m := range msgs {
		tp := TopicPartition{m.Topic, m.Partition}
		if cur, ok := out[tp]; !ok || m.Offset < cur {
			out[tp] = m.Offset
		}
	}
	return out
}

// NextOffsets returns, per partition, the offset following the highest one in msgs.
func NextOffsets(msgs []Message) map[TopicPartition]int64 {
	out := make(map[TopicPartition]int64)
	for _, m := range msgs {
		tp := TopicPartition{m.Topic, m.Partition}
		if cur, ok := out[tp]; !ok || m.Offset+1 > cur {
			out[tp] = m.Offset + 1
		}
	}
	return out
}
