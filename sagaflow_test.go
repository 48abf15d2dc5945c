package sagaflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sketchtocad/sagaflow/logs"
	"github.com/sketchtocad/sagaflow/types"
)

// The engine is exercised end to end against the in-process bus and an
// in-memory database, the same wiring the local demo uses.
func TestEngineStartAndPoll(t *testing.T) {
	engine, err := New(context.Background(),
		WithMemory(),
		WithLogger(logs.NewNopLogger()),
	)
	require.NoError(t, err)
	defer engine.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	sagaID, err := engine.StartWorkflow(ctx, "sess-1", "plan.jpg")
	require.NoError(t, err)
	require.NotEmpty(t, sagaID)

	require.Eventually(t, func() bool {
		saga, err := engine.SagaStatus(context.Background(), sagaID)
		return err == nil && saga.Status == types.SagaStatusImageProcessing
	}, 5*time.Second, 10*time.Millisecond)

	steps, err := engine.SagaSteps(ctx, sagaID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "image_processing", steps[0].StepName)

	sagas, err := engine.SagasBySession(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, sagas, 1)

	// Not parked yet: resumes are rejected without side effects.
	ok, err := engine.ResumeWithEnhancement(ctx, sagaID, "vibrant")
	require.NoError(t, err)
	assert.False(t, ok)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestEngineUnknownSaga(t *testing.T) {
	engine, err := New(context.Background(),
		WithMemory(),
		WithLogger(logs.NewNopLogger()),
	)
	require.NoError(t, err)
	defer engine.Close()

	_, err = engine.SagaStatus(context.Background(), "saga_missing")
	require.Error(t, err)
	assert.True(t, IsSagaNotFound(err))
}

func TestEngineBedDetectionOption(t *testing.T) {
	engine, err := New(context.Background(),
		WithMemory(),
		WithLogger(logs.NewNopLogger()),
	)
	require.NoError(t, err)
	defer engine.Close()

	ctx := context.Background()
	sagaID, err := engine.StartWorkflow(ctx, "sess-2", "beds.jpg",
		WithWorkflowType(types.WorkflowTypeBedDetection),
		WithStartMetadata(types.Document{"requested_by": "gardener"}),
	)
	require.NoError(t, err)

	saga, err := engine.SagaStatus(ctx, sagaID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowTypeBedDetection, saga.WorkflowType)
	assert.Equal(t, types.SagaStatusStarted, saga.Status)
}
