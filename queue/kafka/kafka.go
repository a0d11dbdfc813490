// Package kafka backs the queue with a Kafka cluster through franz-go.
// Consumers join a consumer group with auto-commit disabled; offsets are
// committed per batch by the stage loop.
package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"hybridsearch/queue"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

type Producer struct {
	cl     *kgo.Client
	logger *slog.Logger
}

// NewProducer builds a producer. Produce failures are handed to the caller
// through the Delivery without internal retries.
func NewProducer(brokers []string, logger *slog.Logger, opts ...kgo.Opt) (*Producer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	base := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
		kgo.RecordRetries(0),
		kgo.RecordPartitioner(kgo.StickyKeyPartitioner(nil)),
	}
	cl, err := kgo.NewClient(append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Producer{cl: cl, logger: logger}, nil
}

var _ queue.Producer = (*Producer)(nil)

func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) *queue.Delivery {
	d := queue.NewDelivery()
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	p.cl.Produce(ctx, rec, func(r *kgo.Record, err error) {
		if err != nil {
			p.logger.Error("kafka produce failed", "topic", topic, "error", err)
			d.Resolve(r.Partition, -1, err)
			return
		}
		d.Resolve(r.Partition, r.Offset, nil)
	})
	return d
}

func (p *Producer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.cl.Flush(ctx); err != nil {
		p.logger.Warn("kafka producer flush", "error", err)
	}
	p.cl.Close()
	return nil
}

type Consumer struct {
	cl     *kgo.Client
	logger *slog.Logger
}

func NewConsumer(brokers []string, group string, topics []string, logger *slog.Logger, opts ...kgo.Opt) (*Consumer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	base := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	}
	cl, err := kgo.NewClient(append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Consumer{cl: cl, logger: logger.With("group", group)}, nil
}

var _ queue.Consumer = (*Consumer)(nil)

func (c *Consumer) ConsumeBatch(ctx context.Context, max int, timeout time.Duration) (*queue.Batch, error) {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fetches := c.cl.PollRecords(pctx, max)
	if fetches.IsClientClosed() {
		return nil, queue.Fatal(queue.ErrClosed)
	}

	var fatal error
	fetches.EachError(func(topic string, partition int32, err error) {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return
		}
		if isFatal(err) {
			fatal = errors.Join(fatal, err)
			return
		}
		c.logger.Warn("kafka fetch error", "topic", topic, "partition", partition, "error", err)
	})
	if fatal != nil {
		c.cl.AllowRebalance()
		return nil, queue.Fatal(fatal)
	}

	records := fetches.Records()
	if len(records) == 0 {
		c.cl.AllowRebalance()
		return queue.NewBatch(nil, nil), nil
	}

	msgs := make([]queue.Message, len(records))
	for i, r := range records {
		msgs[i] = queue.Message{
			Topic:     r.Topic,
			Key:       r.Key,
			Value:     r.Value,
			Partition: r.Partition,
			Offset:    r.Offset,
		}
	}
	return queue.NewBatch(msgs, &committer{consumer: c, records: records, msgs: msgs}), nil
}

func (c *Consumer) Close() error {
	c.cl.Close()
	return nil
}

// isFatal reports broker errors that will not go away by polling again.
func isFatal(err error) bool {
	if errors.Is(err, kgo.ErrClientClosed) {
		return true
	}
	var ke *kerr.Error
	if errors.As(err, &ke) {
		return !ke.Retriable
	}
	return false
}

type committer struct {
	consumer *Consumer
	records  []*kgo.Record
	msgs     []queue.Message
}

func (cm *committer) Commit(ctx context.Context) error {
	defer cm.consumer.cl.AllowRebalance()
	if err := cm.consumer.cl.CommitRecords(ctx, cm.records...); err != nil {
		if isFatal(err) {
			return queue.Fatal(err)
		}
		return err
	}
	return nil
}

// Rewind seeks every partition of the batch back to its first record so the
// next poll returns the same records again.
func (cm *committer) Rewind() {
	defer cm.consumer.cl.AllowRebalance()
	offsets := make(map[string]map[int32]kgo.EpochOffset)
	for tp, first := range queue.FirstOffsets(cm.msgs) {
		if offsets[tp.Topic] == nil {
			offsets[tp.Topic] = make(map[int32]kgo.EpochOffset)
		}
		offsets[tp.Topic][tp.Partition] = kgo.EpochOffset{Epoch: -1, Offset: first}
	}
	cm.consumer.cl.SetOffsets(offsets)
}
