package eventbus

import (
	"time"

	"github.com/sasha-s/go-deadlock"

	"github.com/sketchtocad/sagaflow/events"
	"github.com/sketchtocad/sagaflow/types"
)

// deliveryKey identifies one message for retry accounting.
type deliveryKey struct {
	topic     string
	partition int
	offset    int64
}

// retryTracker counts failed handling attempts per message. It is scoped to
// one subscription and lives in process memory only: a restart resets the
// counters, which is acceptable because the broker redelivers uncommitted
// messages anyway and the threshold merely bounds duplication.
type retryTracker struct {
	mu       deadlock.Mutex
	attempts map[deliveryKey]int
}

func newRetryTracker() *retryTracker {
	return &retryTracker{attempts: make(map[deliveryKey]int)}
}

// fail records one failed attempt and returns the total so far.
func (t *retryTracker) fail(key deliveryKey) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts[key]++
	return t.attempts[key]
}

func (t *retryTracker) clear(key deliveryKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.attempts, key)
}

// deadLetterEvent copies the poison message, stamping the handling error, the
// source topic and the final attempt count so the DLQ is inspectable on its
// own.
func deadLetterEvent(ev *events.Event, sourceTopic string, attempts int, handlerErr error) *events.Event {
	dlq := *ev
	dlq.RetryCount = attempts
	dlq.ErrorMessage = handlerErr.Error()
	dlq.Metadata = ev.Metadata.Merge(types.Document{
		"source_topic":     sourceTopic,
		"dead_lettered_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	return &dlq
}
