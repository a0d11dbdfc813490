// Package memory is an in-process partitioned log. It keeps the same
// commit and redelivery semantics as the durable backends and is used by
// tests and by single-process development runs.
package memory

import (
	"context"
	"sync"
	"time"

	"hybridsearch/queue"
)

type Broker struct {
	mu         sync.Mutex
	partitions int32
	logs       map[queue.TopicPartition][]queue.Message
	committed  map[string]map[queue.TopicPartition]int64
	wake       chan struct{}
	publishErr error
	closed     bool
}

func NewBroker(partitions int) *Broker {
	if partitions < 1 {
		partitions = 1
	}
	return &Broker{
		partitions: int32(partitions),
		logs:       make(map[queue.TopicPartition][]queue.Message),
		committed:  make(map[string]map[queue.TopicPartition]int64),
		wake:       make(chan struct{}),
	}
}

// FailPublishes makes every following Publish fail with err until it is
// called again with nil.
func (b *Broker) FailPublishes(err error) {
	b.mu.Lock()
	b.publishErr = err
	b.mu.Unlock()
}

func (b *Broker) Publish(ctx context.Context, topic string, key, value []byte) *queue.Delivery {
	if err := ctx.Err(); err != nil {
		return queue.FailedDelivery(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return queue.FailedDelivery(queue.ErrClosed)
	}
	if b.publishErr != nil {
		return queue.FailedDelivery(b.publishErr)
	}

	tp := queue.TopicPartition{Topic: topic, Partition: queue.PartitionFor(key, b.partitions)}
	msg := queue.Message{
		Topic:     topic,
		Key:       append([]byte(nil), key...),
		Value:     append([]byte(nil), value...),
		Partition: tp.Partition,
		Offset:    int64(len(b.logs[tp])),
	}
	b.logs[tp] = append(b.logs[tp], msg)

	close(b.wake)
	b.wake = make(chan struct{})

	d := queue.NewDelivery()
	d.Resolve(msg.Partition, msg.Offset, nil)
	return d
}

// Messages returns every entry of topic across partitions, ordered by
// partition then offset.
func (b *Broker) Messages(topic string) []queue.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []queue.Message
	for p := int32(0); p < b.partitions; p++ {
		out = append(out, b.logs[queue.TopicPartition{Topic: topic, Partition: p}]...)
	}
	return out
}

// Committed returns the next offset the group will read on the partition.
func (b *Broker) Committed(group, topic string, partition int32) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committed[group][queue.TopicPartition{Topic: topic, Partition: partition}]
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.wake)
	}
	return nil
}

// Consumer returns a reader for group over topics. All partitions are
// assigned to it.
func (b *Broker) Consumer(group string, topics ...string) *Consumer {
	return &Consumer{
		broker:   b,
		group:    group,
		topics:   topics,
		position: make(map[queue.TopicPartition]int64),
	}
}

type Consumer struct {
	broker   *Broker
	group    string
	topics   []string
	mu       sync.Mutex
	position map[queue.TopicPartition]int64
	closed   bool
}

var _ queue.Consumer = (*Consumer)(nil)

func (c *Consumer) ConsumeBatch(ctx context.Context, max int, timeout time.Duration) (*queue.Batch, error) {
	if max < 1 {
		max = 1
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		msgs, wake, err := c.fetch(max)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return queue.NewBatch(msgs, &committer{consumer: c, msgs: msgs}), nil
		}

		select {
		case <-ctx.Done():
			return queue.NewBatch(nil, nil), nil
		case <-timer.C:
			return queue.NewBatch(nil, nil), nil
		case <-wake:
		}
	}
}

func (c *Consumer) fetch(max int) ([]queue.Message, <-chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.closed || b.closed {
		return nil, nil, queue.Fatal(queue.ErrClosed)
	}

	var out []queue.Message
	for _, topic := range c.topics {
		for p := int32(0); p < b.partitions && len(out) < max; p++ {
			tp := queue.TopicPartition{Topic: topic, Partition: p}
			pos, ok := c.position[tp]
			if !ok {
				pos = b.committed[c.group][tp]
			}
			log := b.logs[tp]
			for pos < int64(len(log)) && len(out) < max {
				out = append(out, log[pos])
				pos++
			}
			c.position[tp] = pos
		}
	}
	return out, b.wake, nil
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
	if err := ctx.Err(); err != nil {
		return err
	}
	b := cm.consumer.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return queue.ErrClosed
	}
	offsets := b.committed[cm.consumer.group]
	if offsets == nil {
		offsets = make(map[queue.TopicPartition]int64)
		b.committed[cm.consumer.group] = offsets
	}
	for tp, next := range queue.NextOffsets(cm.msgs) {
		if next > offsets[tp] {
			offsets[tp] = next
		}
	}
	return nil
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
