package eventbus

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sketchtocad/sagaflow/events"
	"github.com/sketchtocad/sagaflow/logs"
	"github.com/sketchtocad/sagaflow/types"
)

func publishN(t *testing.T, bus *MemoryBus, topic string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		ev := events.New("saga_1", events.ImageProcessed, types.Document{"seq": i})
		require.NoError(t, bus.Publish(ctx, topic, ev))
	}
}

func TestMemoryBusDeliversInOrder(t *testing.T) {
	bus := NewMemoryBus(logs.NewNopLogger())
	publishN(t, bus, TopicEvents, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []int
	done := make(chan error, 1)
	go func() {
		done <- bus.Subscribe(ctx, SubscribeConfig{
			Topics:  []string{TopicEvents},
			GroupID: "g1",
			Handler: func(ctx context.Context, ev *events.Event) error {
				got = append(got, int(ev.Payload["seq"].(float64)))
				if len(got) == 5 {
					cancel()
				}
				return nil
			},
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not finish")
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestMemoryBusRequiresGroupID(t *testing.T) {
	bus := NewMemoryBus(logs.NewNopLogger())
	err := bus.Subscribe(context.Background(), SubscribeConfig{Topics: []string{TopicEvents}})
	require.Error(t, err)
}

func TestMemoryBusRedeliversUntilSuccess(t *testing.T) {
	bus := NewMemoryBus(logs.NewNopLogger())
	publishN(t, bus, TopicEvents, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- bus.Subscribe(ctx, SubscribeConfig{
			Topics:  []string{TopicEvents},
			GroupID: "g1",
			Handler: func(ctx context.Context, ev *events.Event) error {
				attempts++
				if attempts < MaxDeliveryAttempts {
					return errors.New("transient")
				}
				cancel()
				return nil
			},
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not finish")
	}
	assert.Equal(t, MaxDeliveryAttempts, attempts)
	// Recovered before the threshold: nothing dead-lettered.
	assert.Empty(t, bus.Events(DeadLetterTopic(TopicEvents)))
}

func TestMemoryBusDeadLettersAfterMaxAttempts(t *testing.T) {
	bus := NewMemoryBus(logs.NewNopLogger())

	ctx := context.Background()
	poison := events.New("saga_1", events.ImageProcessed, types.Document{"poison": true})
	require.NoError(t, bus.Publish(ctx, TopicEvents, poison))
	healthy := events.New("saga_1", events.ClusteringCompleted, nil)
	require.NoError(t, bus.Publish(ctx, TopicEvents, healthy))

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	attempts := 0
	var delivered []events.EventType
	done := make(chan error, 1)
	go func() {
		done <- bus.Subscribe(subCtx, SubscribeConfig{
			Topics:  []string{TopicEvents},
			GroupID: "g1",
			Handler: func(ctx context.Context, ev *events.Event) error {
				delivered = append(delivered, ev.EventType)
				if ev.Payload["poison"] == true {
					attempts++
					return fmt.Errorf("handler rejects poison")
				}
				cancel()
				return nil
			},
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not finish")
	}

	// Exactly MaxDeliveryAttempts deliveries of the poison message, then the
	// healthy one behind it.
	assert.Equal(t, MaxDeliveryAttempts, attempts)
	assert.Equal(t, events.ClusteringCompleted, delivered[len(delivered)-1])

	dlq := bus.Events(DeadLetterTopic(TopicEvents))
	require.Len(t, dlq, 1)
	assert.Equal(t, events.ImageProcessed, dlq[0].EventType)
	assert.Equal(t, MaxDeliveryAttempts, dlq[0].RetryCount)
	assert.Contains(t, dlq[0].ErrorMessage, "poison")
	assert.Equal(t, TopicEvents, dlq[0].Metadata["source_topic"])
	assert.NotEmpty(t, dlq[0].Metadata["dead_lettered_at"])
}

func TestMemoryBusIndependentGroups(t *testing.T) {
	bus := NewMemoryBus(logs.NewNopLogger())
	publishN(t, bus, TopicEvents, 3)

	for _, group := range []string{"g1", "g2"} {
		ctx, cancel := context.WithCancel(context.Background())
		count := 0
		done := make(chan error, 1)
		go func() {
			done <- bus.Subscribe(ctx, SubscribeConfig{
				Topics:  []string{TopicEvents},
				GroupID: group,
				Handler: func(ctx context.Context, ev *events.Event) error {
					count++
					if count == 3 {
						cancel()
					}
					return nil
				},
			})
		}()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatalf("group %s did not drain", group)
		}
		cancel()
		assert.Equal(t, 3, count, "group %s", group)
	}
}

func TestMemoryBusPublishAfterClose(t *testing.T) {
	bus := NewMemoryBus(logs.NewNopLogger())
	require.NoError(t, bus.Close())
	err := bus.Publish(context.Background(), TopicEvents, events.New("saga_1", events.WorkflowStarted, nil))
	require.ErrorIs(t, err, ErrBusClosed)
}

func TestDeadLetterTopicNaming(t *testing.T) {
	assert.Equal(t, "saga-events-dlq", DeadLetterTopic(TopicEvents))
	assert.Equal(t, "saga-commands-dlq", DeadLetterTopic(TopicCommands))
}
