package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sketchtocad/sagaflow/events"
	"github.com/sketchtocad/sagaflow/types"
)

func sagaIn(status types.SagaStatus, workflowType types.WorkflowType) *types.Saga {
	return &types.Saga{ID: "saga_x", WorkflowType: workflowType, Status: status}
}

func TestNextStatusHappyPath(t *testing.T) {
	transitions := []struct {
		from  types.SagaStatus
		event events.EventType
		to    types.SagaStatus
	}{
		{types.SagaStatusStarted, events.WorkflowStarted, types.SagaStatusImageProcessing},
		{types.SagaStatusImageProcessing, events.ImageProcessed, types.SagaStatusGeneratingEnhancedColors},
		{types.SagaStatusGeneratingEnhancedColors, events.EnhancedColorsGenerated, types.SagaStatusAwaitingEnhancementSelection},
		{types.SagaStatusAwaitingEnhancementSelection, events.EnhancementSelected, types.SagaStatusAwaitingClustering},
		{types.SagaStatusAwaitingClustering, events.ClusteringSubmitted, types.SagaStatusProcessingClustering},
		{types.SagaStatusProcessingClustering, events.ClusteringCompleted, types.SagaStatusAwaitingExport},
		{types.SagaStatusAwaitingExport, events.ExportRequested, types.SagaStatusDXFExport},
		{types.SagaStatusDXFExport, events.DXFExported, types.SagaStatusCompleted},
	}
	for _, tr := range transitions {
		got, err := nextStatus(sagaIn(tr.from, types.WorkflowTypeImageToCAD), tr.event)
		require.NoError(t, err, "%s + %s", tr.from, tr.event)
		assert.Equal(t, tr.to, got)
	}
}

func TestNextStatusBedDetectionShortCircuit(t *testing.T) {
	got, err := nextStatus(sagaIn(types.SagaStatusImageProcessing, types.WorkflowTypeBedDetection), events.ImageProcessed)
	require.NoError(t, err)
	assert.Equal(t, types.SagaStatusCompleted, got)
}

func TestNextStatusFailureReachableEverywhere(t *testing.T) {
	nonTerminal := []types.SagaStatus{
		types.SagaStatusStarted,
		types.SagaStatusImageProcessing,
		types.SagaStatusGeneratingEnhancedColors,
		types.SagaStatusAwaitingEnhancementSelection,
		types.SagaStatusAwaitingClustering,
		types.SagaStatusProcessingClustering,
		types.SagaStatusAwaitingExport,
		types.SagaStatusDXFExport,
	}
	for _, status := range nonTerminal {
		got, err := nextStatus(sagaIn(status, types.WorkflowTypeImageToCAD), events.WorkflowFailed)
		require.NoError(t, err, "from %s", status)
		assert.Equal(t, types.SagaStatusFailed, got)
	}
}

func TestNextStatusCompensationPath(t *testing.T) {
	got, err := nextStatus(sagaIn(types.SagaStatusFailed, types.WorkflowTypeImageToCAD), events.CompensationRequested)
	require.NoError(t, err)
	assert.Equal(t, types.SagaStatusCompensating, got)

	got, err = nextStatus(sagaIn(types.SagaStatusCompensating, types.WorkflowTypeImageToCAD), events.CompensationCompleted)
	require.NoError(t, err)
	assert.Equal(t, types.SagaStatusCompensated, got)
}

func TestNextStatusRejectsOutOfOrderEvents(t *testing.T) {
	// Duplicate success event after the transition already happened.
	_, err := nextStatus(sagaIn(types.SagaStatusGeneratingEnhancedColors, types.WorkflowTypeImageToCAD), events.ImageProcessed)
	require.Error(t, err)

	// Skipping ahead.
	_, err = nextStatus(sagaIn(types.SagaStatusImageProcessing, types.WorkflowTypeImageToCAD), events.DXFExported)
	require.Error(t, err)

	// Terminal statuses accept nothing.
	_, err = nextStatus(sagaIn(types.SagaStatusCompleted, types.WorkflowTypeImageToCAD), events.WorkflowFailed)
	require.Error(t, err)
	_, err = nextStatus(sagaIn(types.SagaStatusCompensated, types.WorkflowTypeImageToCAD), events.WorkflowFailed)
	require.Error(t, err)
}
