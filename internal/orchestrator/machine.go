package orchestrator

import (
	"fmt"

	"github.com/qmuntal/stateless"

	"github.com/sketchtocad/sagaflow/events"
	"github.com/sketchtocad/sagaflow/types"
)

// newStatusMachine builds the status transition graph for one workflow type,
// seeded with the saga's persisted status. Triggers are event types, so the
// machine doubles as the handler precondition check: an event whose trigger
// cannot fire from the current status is a duplicate delivery or an ordering
// anomaly.
func newStatusMachine(workflowType types.WorkflowType, current types.SagaStatus) *stateless.StateMachine {
	m := stateless.NewStateMachine(current)

	m.Configure(types.SagaStatusStarted).
		Permit(events.WorkflowStarted, types.SagaStatusImageProcessing)

	if workflowType == types.WorkflowTypeBedDetection {
		// Short pipeline: bed detection results are reviewed by a human
		// outside the workflow.
		m.Configure(types.SagaStatusImageProcessing).
			Permit(events.ImageProcessed, types.SagaStatusCompleted)
	} else {
		m.Configure(types.SagaStatusImageProcessing).
			Permit(events.ImageProcessed, types.SagaStatusGeneratingEnhancedColors)
	}

	m.Configure(types.SagaStatusGeneratingEnhancedColors).
		Permit(events.EnhancedColorsGenerated, types.SagaStatusAwaitingEnhancementSelection)
	m.Configure(types.SagaStatusAwaitingEnhancementSelection).
		Permit(events.EnhancementSelected, types.SagaStatusAwaitingClustering)
	m.Configure(types.SagaStatusAwaitingClustering).
		Permit(events.ClusteringSubmitted, types.SagaStatusProcessingClustering)
	m.Configure(types.SagaStatusProcessingClustering).
		Permit(events.ClusteringCompleted, types.SagaStatusAwaitingExport)
	m.Configure(types.SagaStatusAwaitingExport).
		Permit(events.ExportRequested, types.SagaStatusDXFExport)
	m.Configure(types.SagaStatusDXFExport).
		Permit(events.DXFExported, types.SagaStatusCompleted)

	// Failure is reachable from every non-terminal state; compensation only
	// out of FAILED.
	for _, status := range []types.SagaStatus{
		types.SagaStatusStarted,
		types.SagaStatusImageProcessing,
		types.SagaStatusGeneratingEnhancedColors,
		types.SagaStatusAwaitingEnhancementSelection,
		types.SagaStatusAwaitingClustering,
		types.SagaStatusProcessingClustering,
		types.SagaStatusAwaitingExport,
		types.SagaStatusDXFExport,
	} {
		m.Configure(status).Permit(events.WorkflowFailed, types.SagaStatusFailed)
	}
	m.Configure(types.SagaStatusFailed).
		Permit(events.CompensationRequested, types.SagaStatusCompensating)
	m.Configure(types.SagaStatusCompensating).
		Permit(events.CompensationCompleted, types.SagaStatusCompensated)

	return m
}

// nextStatus fires the event's trigger against the saga's current status and
// returns the destination. The error marks a precondition violation, not a
// fault: callers log it and no-op instead of corrupting state.
func nextStatus(saga *types.Saga, eventType events.EventType) (types.SagaStatus, error) {
	m := newStatusMachine(saga.WorkflowType, saga.Status)
	if err := m.Fire(eventType); err != nil {
		return "", fmt.Errorf("saga %s in status %s cannot apply %s: %w", saga.ID, saga.Status, eventType, err)
	}
	status, ok := m.MustState().(types.SagaStatus)
	if !ok {
		return "", fmt.Errorf("saga %s: unexpected machine state %v", saga.ID, m.MustState())
	}
	return status, nil
}
