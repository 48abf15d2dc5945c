package statuscache

import (
	"context"
	"testing"

	"github.com/davidroman0O/comfylite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sketchtocad/sagaflow/internal/store"
	"github.com/sketchtocad/sagaflow/logs"
	"github.com/sketchtocad/sagaflow/types"
)

// Tests run without a Redis server: a nil client exercises the degraded path,
// where every call falls through to the store.

func setupTestStore(t *testing.T) *store.Store {
	comfy, err := comfylite3.New(comfylite3.WithMemory())
	require.NoError(t, err)

	db := comfylite3.OpenDB(
		comfy,
		comfylite3.WithOption("_fk=1"),
		comfylite3.WithOption("cache=shared"),
		comfylite3.WithForeignKeys(),
	)

	st := store.New(db, logs.NewNopLogger())
	require.NoError(t, st.Migrate(context.Background()))

	t.Cleanup(func() {
		db.Close()
		comfy.Close()
	})
	return st
}

func TestGetFallsBackToStore(t *testing.T) {
	st := setupTestStore(t)
	cache := New(nil, st, 0, logs.NewNopLogger())
	ctx := context.Background()

	_, err := st.CreateSaga(ctx, "saga_1", types.WorkflowTypeImageToCAD, "sess-1")
	require.NoError(t, err)
	_, err = st.UpdateSagaStatus(ctx, "saga_1", types.SagaStatusImageProcessing, "image_processing", "")
	require.NoError(t, err)

	saga, err := cache.Get(ctx, "saga_1")
	require.NoError(t, err)
	assert.Equal(t, types.SagaStatusImageProcessing, saga.Status)
	assert.Equal(t, "image_processing", saga.CurrentStep)
}

func TestGetUnknownSaga(t *testing.T) {
	st := setupTestStore(t)
	cache := New(nil, st, 0, logs.NewNopLogger())

	_, err := cache.Get(context.Background(), "saga_missing")
	require.ErrorIs(t, err, store.ErrSagaNotFound)
}

func TestWritesAreNoOpsWithoutRedis(t *testing.T) {
	st := setupTestStore(t)
	cache := New(nil, st, 0, logs.NewNopLogger())
	ctx := context.Background()

	// Must not panic or error against unknown ids.
	cache.Refresh(ctx, "saga_missing")
	cache.Invalidate(ctx, "saga_missing")
}
