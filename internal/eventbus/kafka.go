package eventbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"

	"github.com/sketchtocad/sagaflow/events"
	"github.com/sketchtocad/sagaflow/logs"
)

// KafkaBus is the production Bus implementation on segmentio/kafka-go.
//
// Publishing hashes the saga identifier onto a partition and waits for acks
// from all in-sync replicas. Consuming uses a consumer-group reader with
// manual offset commits; the bounded-retry/dead-letter policy sits between
// fetch and commit.
type KafkaBus struct {
	brokers     []string
	writer      *kafka.Writer
	maxAttempts int
	redeliverIn time.Duration
	logger      logs.Logger
}

type KafkaOption func(*KafkaBus)

func WithKafkaMaxDeliveryAttempts(n int) KafkaOption {
	return func(b *KafkaBus) {
		if n > 0 {
			b.maxAttempts = n
		}
	}
}

// WithRedeliveryDelay sets the pause before re-handling a failed message.
func WithRedeliveryDelay(d time.Duration) KafkaOption {
	return func(b *KafkaBus) {
		b.redeliverIn = d
	}
}

func NewKafkaBus(brokers []string, logger logs.Logger, opts ...KafkaOption) (*KafkaBus, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka bus: at least one broker is required")
	}
	b := &KafkaBus{
		brokers:     brokers,
		maxAttempts: MaxDeliveryAttempts,
		redeliverIn: time.Second,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return b, nil
}

// EnsureTopics provisions the given topics, waiting for the broker to become
// reachable. This is the only retried path in the bus; publish failures
// propagate to the caller untouched.
func (b *KafkaBus) EnsureTopics(ctx context.Context, topics ...string) error {
	backoff := retry.WithMaxRetries(15, retry.NewConstant(2*time.Second))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		conn, err := kafka.DialContext(ctx, "tcp", b.brokers[0])
		if err != nil {
			return retry.RetryableError(fmt.Errorf("dial broker: %w", err))
		}
		defer conn.Close()

		controller, err := conn.Controller()
		if err != nil {
			return retry.RetryableError(fmt.Errorf("resolve controller: %w", err))
		}
		ctrl, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
		if err != nil {
			return retry.RetryableError(fmt.Errorf("dial controller: %w", err))
		}
		defer ctrl.Close()

		configs := make([]kafka.TopicConfig, 0, len(topics))
		for _, topic := range topics {
			configs = append(configs, kafka.TopicConfig{
				Topic:             topic,
				NumPartitions:     6,
				ReplicationFactor: 1,
			})
		}
		if err := ctrl.CreateTopics(configs...); err != nil {
			return retry.RetryableError(fmt.Errorf("create topics: %w", err))
		}
		return nil
	})
}

func (b *KafkaBus) Publish(ctx context.Context, topic string, event *events.Event) error {
	data, err := events.Marshal(event)
	if err != nil {
		return err
	}
	err = b.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(event.SagaID),
		Value: data,
		Time:  event.Timestamp.Time,
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", event.EventType, topic, err)
	}
	b.logger.Info(ctx, "event_published",
		"topic", topic,
		"event_type", event.EventType,
		"saga_id", event.SagaID,
		"correlation_id", event.CorrelationID,
	)
	return nil
}

func (b *KafkaBus) Subscribe(ctx context.Context, cfg SubscribeConfig) error {
	if cfg.GroupID == "" {
		return fmt.Errorf("subscribe: group id is required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	defer reader.Close()

	b.logger.Info(ctx, "consumer_started", "group_id", cfg.GroupID, "topics", cfg.Topics)
	tracker := newRetryTracker()
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}
		if err := b.handleFetched(ctx, reader, tracker, msg, cfg.Handler); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

// handleFetched applies the delivery policy to one fetched message. It
// returns only once the message's offset has been committed (handled or
// dead-lettered) or the context is cancelled; the tracker also counts
// redeliveries arriving after a rebalance, since its key is the durable
// (topic, partition, offset) identity.
func (b *KafkaBus) handleFetched(ctx context.Context, reader *kafka.Reader, tracker *retryTracker, msg kafka.Message, handler Handler) error {
	key := deliveryKey{topic: msg.Topic, partition: msg.Partition, offset: msg.Offset}
	for {
		ev, handlerErr := events.Unmarshal(msg.Value)
		if handlerErr == nil && handler != nil {
			b.logger.Debug(ctx, "event_consumed",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"event_type", ev.EventType,
				"saga_id", ev.SagaID,
			)
			handlerErr = handler(ctx, ev)
		}
		if handlerErr == nil {
			tracker.clear(key)
			return b.commit(ctx, reader, msg)
		}

		attempts := tracker.fail(key)
		b.logger.Warn(ctx, "event_handling_failed",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"attempt", attempts,
			"error", handlerErr,
		)
		if attempts < b.maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.redeliverIn):
			}
			continue
		}

		if err := b.deadLetter(ctx, msg, ev, attempts, handlerErr); err != nil {
			return err
		}
		tracker.clear(key)
		b.logger.Error(ctx, "event_dead_lettered",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"attempts", attempts,
		)
		// Committing here trades bounded duplication for liveness: the
		// poison message stops blocking its partition.
		return b.commit(ctx, reader, msg)
	}
}

func (b *KafkaBus) deadLetter(ctx context.Context, msg kafka.Message, ev *events.Event, attempts int, handlerErr error) error {
	dlqTopic := DeadLetterTopic(msg.Topic)
	if ev != nil {
		if err := b.Publish(ctx, dlqTopic, deadLetterEvent(ev, msg.Topic, attempts, handlerErr)); err != nil {
			return fmt.Errorf("dead-letter %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
		}
		return nil
	}
	// Undecodable message: forward the raw bytes with the error in headers.
	err := b.writer.WriteMessages(ctx, kafka.Message{
		Topic: dlqTopic,
		Key:   msg.Key,
		Value: msg.Value,
		Headers: []kafka.Header{
			{Key: "source_topic", Value: []byte(msg.Topic)},
			{Key: "error", Value: []byte(handlerErr.Error())},
		},
	})
	if err != nil {
		return fmt.Errorf("dead-letter raw %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
	}
	return nil
}

func (b *KafkaBus) commit(ctx context.Context, reader *kafka.Reader, msg kafka.Message) error {
	if err := reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("commit %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
	}
	return nil
}

func (b *KafkaBus) Close() error {
	return b.writer.Close()
}
