package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/sasha-s/go-deadlock"

	"github.com/sketchtocad/sagaflow/events"
	"github.com/sketchtocad/sagaflow/logs"
)

// MemoryBus is an in-process Bus with the same delivery contract as the Kafka
// transport: per-topic publication order (and therefore per-saga order),
// at-least-once delivery with manual offset advancement, bounded retries and
// dead-letter routing. It backs the test suites and the local demo.
type MemoryBus struct {
	mu          deadlock.Mutex
	topics      map[string][]*events.Event
	offsets     map[string]int // group + topic -> next offset
	maxAttempts int
	pollEvery   time.Duration
	closed      bool
	logger      logs.Logger
}

type MemoryOption func(*MemoryBus)

func WithMemoryMaxDeliveryAttempts(n int) MemoryOption {
	return func(b *MemoryBus) {
		if n > 0 {
			b.maxAttempts = n
		}
	}
}

func NewMemoryBus(logger logs.Logger, opts ...MemoryOption) *MemoryBus {
	b := &MemoryBus{
		topics:      make(map[string][]*events.Event),
		offsets:     make(map[string]int),
		maxAttempts: MaxDeliveryAttempts,
		pollEvery:   2 * time.Millisecond,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, event *events.Event) error {
	// Round-trip through the codec so the memory transport exercises the
	// same wire contract as Kafka.
	data, err := events.Marshal(event)
	if err != nil {
		return err
	}
	decoded, err := events.Unmarshal(data)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	b.topics[topic] = append(b.topics[topic], decoded)
	b.logger.Debug(ctx, "event_published",
		"topic", topic,
		"event_type", event.EventType,
		"saga_id", event.SagaID,
		"correlation_id", event.CorrelationID,
	)
	return nil
}

// Subscribe delivers events in publication order, one at a time, advancing
// the group offset only after successful handling or dead-lettering. It
// returns nil when the context is cancelled.
func (b *MemoryBus) Subscribe(ctx context.Context, cfg SubscribeConfig) error {
	if cfg.GroupID == "" {
		return fmt.Errorf("subscribe: group id is required")
	}
	tracker := newRetryTracker()
	for {
		topic, ev, offset, ok := b.next(cfg)
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(b.pollEvery):
				continue
			}
		}

		key := deliveryKey{topic: topic, offset: int64(offset)}
		var handlerErr error
		if cfg.Handler != nil {
			handlerErr = cfg.Handler(ctx, ev)
		}
		if handlerErr == nil {
			tracker.clear(key)
			b.advance(cfg.GroupID, topic)
			continue
		}

		attempts := tracker.fail(key)
		b.logger.Warn(ctx, "event_handling_failed",
			"topic", topic,
			"event_type", ev.EventType,
			"saga_id", ev.SagaID,
			"attempt", attempts,
			"error", handlerErr,
		)
		if attempts < b.maxAttempts {
			// Offset stays put: the same message is delivered again.
			continue
		}
		if err := b.Publish(ctx, DeadLetterTopic(topic), deadLetterEvent(ev, topic, attempts, handlerErr)); err != nil {
			return fmt.Errorf("dead-letter %s: %w", topic, err)
		}
		tracker.clear(key)
		b.advance(cfg.GroupID, topic)
		b.logger.Error(ctx, "event_dead_lettered",
			"topic", topic,
			"event_type", ev.EventType,
			"saga_id", ev.SagaID,
			"attempts", attempts,
		)
	}
}

func (b *MemoryBus) next(cfg SubscribeConfig) (string, *events.Event, int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range cfg.Topics {
		offset := b.offsets[cfg.GroupID+"/"+topic]
		log := b.topics[topic]
		if offset < len(log) {
			return topic, log[offset], offset, true
		}
	}
	return "", nil, 0, false
}

func (b *MemoryBus) advance(groupID, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offsets[groupID+"/"+topic]++
}

// Events returns a snapshot of everything published to a topic, in order.
func (b *MemoryBus) Events(topic string) []*events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*events.Event, len(b.topics[topic]))
	copy(out, b.topics[topic])
	return out
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
