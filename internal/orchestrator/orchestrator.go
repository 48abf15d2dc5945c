package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/sketchtocad/sagaflow/events"
	"github.com/sketchtocad/sagaflow/internal/eventbus"
	"github.com/sketchtocad/sagaflow/internal/store"
	"github.com/sketchtocad/sagaflow/logs"
	"github.com/sketchtocad/sagaflow/types"
)

const DefaultGroupID = "orchestrator-group"

// Orchestrator is the saga state machine: it consumes domain events from the
// events topic, mutates saga state through the store, and emits the next
// command, parks the saga awaiting human input, or finalizes it. It is the
// only writer to the store. Multiple instances may run behind one consumer
// group; the saga-id partition key guarantees that one saga's events are
// processed by a single instance in publication order, so no locking wraps
// saga mutation.
type Orchestrator struct {
	store   *store.Store
	bus     eventbus.Bus
	groupID string
	logger  logs.Logger
}

func New(st *store.Store, bus eventbus.Bus, groupID string, logger logs.Logger) *Orchestrator {
	if groupID == "" {
		groupID = DefaultGroupID
	}
	return &Orchestrator{store: st, bus: bus, groupID: groupID, logger: logger}
}

// StartOptions customizes a new workflow.
type StartOptions struct {
	// WorkflowType defaults to the full image-to-CAD pipeline.
	WorkflowType types.WorkflowType
	// Metadata is attached to the initiating event.
	Metadata types.Document
}

// StartWorkflow creates the saga record and publishes the initiating event.
// All subsequent transitions happen in the event loop.
func (o *Orchestrator) StartWorkflow(ctx context.Context, sessionID, imageFilename string, opts StartOptions) (string, error) {
	workflowType := opts.WorkflowType
	if workflowType == "" {
		workflowType = types.WorkflowTypeImageToCAD
	}
	sagaID := "saga_" + uuid.New().String()

	if _, err := o.store.CreateSaga(ctx, sagaID, workflowType, sessionID); err != nil {
		return "", err
	}

	eventOpts := []events.Option{}
	if opts.Metadata != nil {
		eventOpts = append(eventOpts, events.WithMetadata(opts.Metadata))
	}
	ev := events.NewWorkflowStarted(sagaID, sessionID, imageFilename, workflowType, eventOpts...)
	if err := o.bus.Publish(ctx, eventbus.TopicEvents, ev); err != nil {
		return "", fmt.Errorf("start workflow %s: %w", sagaID, err)
	}
	o.logger.Info(ctx, "workflow_started", "saga_id", sagaID, "session_id", sessionID, "workflow_type", workflowType)
	return sagaID, nil
}

// ResumeWithEnhancement injects the operator's enhancement choice. It returns
// false, without mutating anything, when the saga is missing or not parked in
// AWAITING_ENHANCEMENT_SELECTION; duplicate or stale submissions are rejected
// client-side rather than treated as server faults.
func (o *Orchestrator) ResumeWithEnhancement(ctx context.Context, sagaID, enhancementMethod string) (bool, error) {
	saga, ok, err := o.resumable(ctx, sagaID, types.SagaStatusAwaitingEnhancementSelection)
	if !ok || err != nil {
		return false, err
	}
	ev := events.NewEnhancementSelected(sagaID, saga.SessionID, enhancementMethod, docField(saga.ResultData, "enhanced_colors"))
	if err := o.bus.Publish(ctx, eventbus.TopicEvents, ev); err != nil {
		return false, err
	}
	return true, nil
}

// ResumeWithClustering injects the operator's cluster assignment.
func (o *Orchestrator) ResumeWithClustering(ctx context.Context, sagaID string, clustersData types.Document) (bool, error) {
	saga, ok, err := o.resumable(ctx, sagaID, types.SagaStatusAwaitingClustering)
	if !ok || err != nil {
		return false, err
	}
	ev := events.NewClusteringSubmitted(sagaID, saga.SessionID, clustersData)
	if err := o.bus.Publish(ctx, eventbus.TopicEvents, ev); err != nil {
		return false, err
	}
	return true, nil
}

// ResumeWithExport triggers the final export. exportType defaults to
// "detailed".
func (o *Orchestrator) ResumeWithExport(ctx context.Context, sagaID, exportType string) (bool, error) {
	if exportType == "" {
		exportType = "detailed"
	}
	saga, ok, err := o.resumable(ctx, sagaID, types.SagaStatusAwaitingExport)
	if !ok || err != nil {
		return false, err
	}
	ev := events.NewExportRequested(sagaID, saga.SessionID, exportType)
	if err := o.bus.Publish(ctx, eventbus.TopicEvents, ev); err != nil {
		return false, err
	}
	return true, nil
}

// resumable loads the saga and checks the exact awaited status. The resulting
// human-input event goes through the events topic and the regular dispatch
// loop (self-dispatch), keeping every state transition on one code path.
func (o *Orchestrator) resumable(ctx context.Context, sagaID string, expected types.SagaStatus) (*types.Saga, bool, error) {
	saga, err := o.store.GetSaga(ctx, sagaID)
	if errors.Is(err, store.ErrSagaNotFound) {
		o.logger.Warn(ctx, "resume_rejected", "saga_id", sagaID, "reason", "not_found")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if saga.Status != expected {
		o.logger.Warn(ctx, "resume_rejected",
			"saga_id", sagaID,
			"status", saga.Status,
			"expected", expected,
		)
		return nil, false, nil
	}
	return saga, true, nil
}

// Run is the orchestrator's event loop: one long-lived subscription to the
// events topic. Handler errors propagate to the bus, which leaves the offset
// uncommitted and applies its bounded-retry/dead-letter policy; the
// orchestrator performs no retrying of its own.
func (o *Orchestrator) Run(ctx context.Context) error {
	return o.bus.Subscribe(ctx, eventbus.SubscribeConfig{
		Topics:  []string{eventbus.TopicEvents},
		GroupID: o.groupID,
		Handler: o.HandleEvent,
	})
}

// HandleEvent dispatches one event to its handler. The mapping is a closed
// switch over the catalog; event types without orchestration semantics (the
// commands themselves, workflow_completed fan-out) are logged no-ops.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev *events.Event) error {
	o.logger.Info(ctx, "handling_event",
		"event_type", ev.EventType,
		"saga_id", ev.SagaID,
		"correlation_id", ev.CorrelationID,
	)
	switch ev.EventType {
	case events.WorkflowStarted:
		return o.handleWorkflowStarted(ctx, ev)
	case events.ImageProcessed:
		return o.handleImageProcessed(ctx, ev)
	case events.EnhancedColorsGenerated:
		return o.handleEnhancedColorsGenerated(ctx, ev)
	case events.EnhancementSelected:
		return o.handleEnhancementSelected(ctx, ev)
	case events.ClusteringSubmitted:
		return o.handleClusteringSubmitted(ctx, ev)
	case events.ClusteringCompleted:
		return o.handleClusteringCompleted(ctx, ev)
	case events.ExportRequested:
		return o.handleExportRequested(ctx, ev)
	case events.DXFExported:
		return o.handleDXFExported(ctx, ev)
	case events.WorkflowFailed:
		return o.handleWorkflowFailed(ctx, ev)
	case events.CompensationCompleted:
		return o.handleCompensationCompleted(ctx, ev)
	case events.WorkflowCompleted, events.CompensationRequested,
		events.ImageProcessingRequested, events.EnhancedColorsRequested,
		events.ClusteringRequested, events.DXFExportRequested:
		o.logger.Debug(ctx, "event_ignored", "event_type", ev.EventType, "saga_id", ev.SagaID)
		return nil
	default:
		o.logger.Debug(ctx, "no_handler_for_event", "event_type", ev.EventType, "saga_id", ev.SagaID)
		return nil
	}
}

// precondition validates the event against the saga's persisted status and
// returns the destination status. A nil saga with nil error means the event
// is a duplicate or out-of-order delivery: the handler must no-op.
func (o *Orchestrator) precondition(ctx context.Context, ev *events.Event) (*types.Saga, types.SagaStatus, error) {
	saga, err := o.store.GetSaga(ctx, ev.SagaID)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", ev.EventType, err)
	}
	next, err := nextStatus(saga, ev.EventType)
	if err != nil {
		o.logger.Warn(ctx, "event_precondition_failed",
			"event_type", ev.EventType,
			"saga_id", ev.SagaID,
			"status", saga.Status,
			"error", err,
		)
		return nil, "", nil
	}
	return saga, next, nil
}
