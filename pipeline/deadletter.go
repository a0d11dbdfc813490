package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"hybridsearch/queue"
	"hybridsearch/types"
)

const DeadLetterSuffix = ".dlq"

func DeadLetterTopic(topic string) string {
	return topic + DeadLetterSuffix
}

type DeadLetterRecorder interface {
	SaveDeadLetter(context.Context, types.DeadLetter) error
}

// FailedHook lets a stage record the terminal failure of one message.
type FailedHook func(ctx context.Context, msg queue.Message, reason error) error

// DeadLetterPolicy bounds redelivery. Once a message has been part of
// maxDeliveries failed batches, the batch is replayed one message at a
// time; messages that still fail are copied to the dead-letter topic and
// table, and the batch is committed.
//
// Delivery counts are kept in memory and start over when the process
// restarts.
type DeadLetterPolicy struct {
	maxDeliveries int
	producer      queue.Producer
	recorder      DeadLetterRecorder
	onFailed      FailedHook
	logger        *slog.Logger

	mu         sync.Mutex
	deliveries map[string]int
}

// NewDeadLetterPolicy returns nil when maxDeliveries is 0, which disables
// dead-lettering.
func NewDeadLetterPolicy(maxDeliveries int, producer queue.Producer, recorder DeadLetterRecorder, onFailed FailedHook, logger *slog.Logger) *DeadLetterPolicy {
	if maxDeliveries <= 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DeadLetterPolicy{
		maxDeliveries: maxDeliveries,
		producer:      producer,
		recorder:      recorder,
		onFailed:      onFailed,
		logger:        logger,
		deliveries:    make(map[string]int),
	}
}

func deliveryKey(m queue.Message) string {
	return m.String()
}

// failed counts one more failed delivery for every message and reports
// whether any of them reached the ceiling.
func (p *DeadLetterPolicy) failed(msgs []queue.Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	exhausted := false
	for _, m := range msgs {
		k := deliveryKey(m)
		p.deliveries[k]++
		if p.deliveries[k] >= p.maxDeliveries {
			exhausted = true
		}
	}
	return exhausted
}

func (p *DeadLetterPolicy) Forget(msgs []queue.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		delete(p.deliveries, deliveryKey(m))
	}
}

func (p *DeadLetterPolicy) Deliveries(m queue.Message) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deliveries[deliveryKey(m)]
}

// Wrap returns a handler that falls back to per-message processing when a
// batch has failed too often.
func (p *DeadLetterPolicy) Wrap(handler queue.Handler) queue.Handler {
	return func(ctx context.Context, msgs []queue.Message) error {
		err := handler(ctx, msgs)
		if err == nil || queue.IsFatal(err) {
			return err
		}
		if !p.failed(msgs) {
			return err
		}

		p.logger.Warn("delivery limit reached, isolating failing messages", "size", len(msgs), "error", err)
		for _, m := range msgs {
			merr := handler(ctx, []queue.Message{m})
			if merr == nil {
				continue
			}
			if queue.IsFatal(merr) {
				return merr
			}
			if derr := p.divert(ctx, m, merr); derr != nil {
				return errors.Join(err, derr)
			}
		}
		p.Forget(msgs)
		return nil
	}
}

func (p *DeadLetterPolicy) divert(ctx context.Context, m queue.Message, reason error) error {
	topic := DeadLetterTopic(m.Topic)
	if err := p.producer.Publish(ctx, topic, m.Key, m.Value).Wait(ctx); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	if p.recorder != nil {
		err := p.recorder.SaveDeadLetter(ctx, types.DeadLetter{
			Topic:     m.Topic,
			Partition: m.Partition,
			Offset:    m.Offset,
			Key:       string(m.Key),
			Payload:   m.Value,
			Reason:    reason.Error(),
		})
		if err != nil {
			return fmt.Errorf("record dead letter: %w", err)
		}
	}
	if p.onFailed != nil {
		if err := p.onFailed(ctx, m, reason); err != nil {
			return err
		}
	}
	p.logger.Error("message dead-lettered", "message", m.String(), "dead_letter_topic", topic, "reason", reason)
	return nil
}
