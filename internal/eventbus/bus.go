package eventbus

import (
	"context"
	"errors"

	"github.com/sketchtocad/sagaflow/events"
)

// Topic names shared with the worker services.
const (
	TopicCommands = "saga-commands"
	TopicEvents   = "saga-events"
)

// MaxDeliveryAttempts is the number of times a message is handed to a handler
// before it is dead-lettered and its offset committed.
const MaxDeliveryAttempts = 3

var ErrBusClosed = errors.New("event bus is closed")

// Handler processes one delivered event. A non-nil error leaves the offset
// uncommitted, so the same message is delivered again until the bounded-retry
// policy forwards it to the dead-letter topic. Handlers must tolerate
// duplicate delivery.
type Handler func(ctx context.Context, event *events.Event) error

// SubscribeConfig describes one durable consumer.
type SubscribeConfig struct {
	Topics  []string
	GroupID string
	Handler Handler
}

// Bus is the reliable transport contract.
//
// Publish serializes the event and submits it keyed by saga identifier, so
// all messages of one saga land in the same ordered partition. It returns
// only after the broker acknowledges durable receipt from all replicas; a
// slow broker therefore stalls the caller rather than dropping data.
//
// Subscribe opens an at-least-once, offset-tracked consumer and blocks until
// the context is cancelled. Offsets are committed only after successful
// handling or dead-lettering.
type Bus interface {
	Publish(ctx context.Context, topic string, event *events.Event) error
	Subscribe(ctx context.Context, cfg SubscribeConfig) error
	Close() error
}

// DeadLetterTopic returns the dead-letter topic paired with a source topic.
func DeadLetterTopic(topic string) string {
	return topic + "-dlq"
}
