package orchestrator

import (
	"context"

	"github.com/sketchtocad/sagaflow/events"
	"github.com/sketchtocad/sagaflow/internal/eventbus"
	"github.com/sketchtocad/sagaflow/types"
)

// Each handler runs the same sequence: validate the transition against the
// persisted status, write the step log for the step that just finished,
// advance the saga, merge new data into the result document, then either emit
// exactly one command, park the saga awaiting human input, or finalize it.
//
// The status write and the command publish are not one transaction: a crash
// between them strands the saga in its new status with no command sent. The
// store stays authoritative and an operator can re-trigger, but closing the
// window would need an outbox.

func (o *Orchestrator) handleWorkflowStarted(ctx context.Context, ev *events.Event) error {
	saga, next, err := o.precondition(ctx, ev)
	if err != nil || saga == nil {
		return err
	}
	sessionID := stringField(ev.Payload, "session_id")
	imageFilename := stringField(ev.Payload, "image_filename")
	if imageFilename == "" {
		imageFilename = "unknown.jpg"
	}

	if _, err := o.store.UpdateSagaStatus(ctx, ev.SagaID, next, StepImageProcessing, ""); err != nil {
		return err
	}
	_, err = o.store.LogStepStarted(ctx, ev.SagaID, stepNumbers[StepImageProcessing], StepImageProcessing,
		string(events.ImageProcessingRequested), ev.CorrelationID, types.Document{"session_id": sessionID})
	if err != nil {
		return err
	}

	cmd := events.NewImageProcessingRequested(ev.SagaID, sessionID, imageFilename,
		events.WithCorrelationID(ev.CorrelationID))
	return o.bus.Publish(ctx, eventbus.TopicCommands, cmd)
}

func (o *Orchestrator) handleImageProcessed(ctx context.Context, ev *events.Event) error {
	saga, next, err := o.precondition(ctx, ev)
	if err != nil || saga == nil {
		return err
	}
	sessionID := stringField(ev.Payload, "session_id")
	bedCount := intField(ev.Payload, "bed_count")
	processingTimeMs := floatField(ev.Payload, "processing_time_ms")

	output := types.Document{
		"bed_count":          bedCount,
		"processing_time_ms": processingTimeMs,
	}
	if _, err := o.store.LogStepCompleted(ctx, ev.SagaID, StepImageProcessing, output); err != nil {
		return err
	}
	if err := o.mergeResult(ctx, ev.SagaID, types.Document{
		"session_id":         sessionID,
		"bed_count":          bedCount,
		"bed_data":           ev.Payload["bed_data"],
		"statistics":         ev.Payload["statistics"],
		"image_shape":        ev.Payload["image_shape"],
		"processing_time_ms": processingTimeMs,
	}); err != nil {
		return err
	}

	if saga.WorkflowType == types.WorkflowTypeBedDetection {
		// Short pipeline: done after detection, no further commands.
		updated, err := o.store.UpdateSagaStatus(ctx, ev.SagaID, next, "", "")
		if err != nil {
			return err
		}
		var totalMs float64
		if updated.TotalDurationMs != nil {
			totalMs = float64(*updated.TotalDurationMs)
		}
		done := events.NewWorkflowCompleted(ev.SagaID, sessionID, totalMs, "",
			events.WithCorrelationID(ev.CorrelationID))
		return o.bus.Publish(ctx, eventbus.TopicEvents, done)
	}

	if _, err := o.store.UpdateSagaStatus(ctx, ev.SagaID, next, StepEnhancedColors, ""); err != nil {
		return err
	}
	_, err = o.store.LogStepStarted(ctx, ev.SagaID, stepNumbers[StepEnhancedColors], StepEnhancedColors,
		string(events.EnhancedColorsRequested), ev.CorrelationID, types.Document{"bed_count": bedCount})
	if err != nil {
		return err
	}

	cmd := events.NewEnhancedColorsRequested(ev.SagaID, sessionID, docSliceField(ev.Payload, "bed_data"),
		events.WithCorrelationID(ev.CorrelationID))
	return o.bus.Publish(ctx, eventbus.TopicCommands, cmd)
}

func (o *Orchestrator) handleEnhancedColorsGenerated(ctx context.Context, ev *events.Event) error {
	saga, next, err := o.precondition(ctx, ev)
	if err != nil || saga == nil {
		return err
	}
	if _, err := o.store.LogStepCompleted(ctx, ev.SagaID, StepEnhancedColors, types.Document{
		"enhancement_methods": ev.Payload["enhancement_methods"],
	}); err != nil {
		return err
	}
	if _, err := o.store.UpdateSagaStatus(ctx, ev.SagaID, next, StepEnhancementSelection, ""); err != nil {
		return err
	}
	// Parked: the operator picks an enhancement via ResumeWithEnhancement.
	return o.mergeResult(ctx, ev.SagaID, types.Document{
		"enhanced_colors":     ev.Payload["enhanced_colors"],
		"enhancement_methods": ev.Payload["enhancement_methods"],
		"awaiting":            "enhancement_selection",
	})
}

func (o *Orchestrator) handleEnhancementSelected(ctx context.Context, ev *events.Event) error {
	saga, next, err := o.precondition(ctx, ev)
	if err != nil || saga == nil {
		return err
	}
	enhancementMethod := stringField(ev.Payload, "enhancement_method")

	// The selection is a human decision, not a worker invocation: the step
	// starts and completes in one transition.
	_, err = o.store.LogStepStarted(ctx, ev.SagaID, stepNumbers[StepEnhancementSelection], StepEnhancementSelection,
		string(events.EnhancementSelected), ev.CorrelationID, types.Document{"enhancement_method": enhancementMethod})
	if err != nil {
		return err
	}
	if _, err := o.store.LogStepCompleted(ctx, ev.SagaID, StepEnhancementSelection, types.Document{
		"enhancement_method": enhancementMethod,
	}); err != nil {
		return err
	}
	if _, err := o.store.UpdateSagaStatus(ctx, ev.SagaID, next, StepClustering, ""); err != nil {
		return err
	}
	return o.mergeResult(ctx, ev.SagaID, types.Document{
		"enhancement_method": enhancementMethod,
		"awaiting":           "clustering",
	})
}

func (o *Orchestrator) handleClusteringSubmitted(ctx context.Context, ev *events.Event) error {
	saga, next, err := o.precondition(ctx, ev)
	if err != nil || saga == nil {
		return err
	}
	sessionID := stringField(ev.Payload, "session_id")
	clustersData := docField(ev.Payload, "clusters_data")

	if _, err := o.store.UpdateSagaStatus(ctx, ev.SagaID, next, StepClustering, ""); err != nil {
		return err
	}
	_, err = o.store.LogStepStarted(ctx, ev.SagaID, stepNumbers[StepClustering], StepClustering,
		string(events.ClusteringRequested), ev.CorrelationID, types.Document{"cluster_count": len(clustersData)})
	if err != nil {
		return err
	}

	// The clustering worker needs the accumulated context: detected beds and
	// the generated palette from earlier steps.
	cmd := events.NewClusteringRequested(ev.SagaID, sessionID,
		docSliceField(saga.ResultData, "bed_data"),
		docField(saga.ResultData, "enhanced_colors"),
		clustersData,
		events.WithCorrelationID(ev.CorrelationID))
	return o.bus.Publish(ctx, eventbus.TopicCommands, cmd)
}

func (o *Orchestrator) handleClusteringCompleted(ctx context.Context, ev *events.Event) error {
	saga, next, err := o.precondition(ctx, ev)
	if err != nil || saga == nil {
		return err
	}
	clusterCount := intField(ev.Payload, "cluster_count")

	if _, err := o.store.LogStepCompleted(ctx, ev.SagaID, StepClustering, types.Document{
		"cluster_count":      clusterCount,
		"processed_clusters": ev.Payload["processed_clusters"],
	}); err != nil {
		return err
	}
	if _, err := o.store.UpdateSagaStatus(ctx, ev.SagaID, next, StepDXFExport, ""); err != nil {
		return err
	}
	// Parked: the operator confirms the export via ResumeWithExport.
	return o.mergeResult(ctx, ev.SagaID, types.Document{
		"processed_clusters":    ev.Payload["processed_clusters"],
		"clustering_statistics": ev.Payload["statistics"],
		"awaiting":              "export",
	})
}

func (o *Orchestrator) handleExportRequested(ctx context.Context, ev *events.Event) error {
	saga, next, err := o.precondition(ctx, ev)
	if err != nil || saga == nil {
		return err
	}
	sessionID := stringField(ev.Payload, "session_id")
	exportType := stringField(ev.Payload, "export_type")
	if exportType == "" {
		exportType = "detailed"
	}

	if _, err := o.store.UpdateSagaStatus(ctx, ev.SagaID, next, StepDXFExport, ""); err != nil {
		return err
	}
	_, err = o.store.LogStepStarted(ctx, ev.SagaID, stepNumbers[StepDXFExport], StepDXFExport,
		string(events.DXFExportRequested), ev.CorrelationID, types.Document{"export_type": exportType})
	if err != nil {
		return err
	}

	cmd := events.NewDXFExportRequested(ev.SagaID, sessionID,
		docField(saga.ResultData, "processed_clusters"), exportType,
		events.WithCorrelationID(ev.CorrelationID))
	return o.bus.Publish(ctx, eventbus.TopicCommands, cmd)
}

func (o *Orchestrator) handleDXFExported(ctx context.Context, ev *events.Event) error {
	saga, next, err := o.precondition(ctx, ev)
	if err != nil || saga == nil {
		return err
	}
	sessionID := stringField(ev.Payload, "session_id")
	downloadURL := stringField(ev.Payload, "download_url")
	fileSizeBytes := intField(ev.Payload, "file_size_bytes")
	exportTimeMs := floatField(ev.Payload, "export_time_ms")

	if _, err := o.store.LogStepCompleted(ctx, ev.SagaID, StepDXFExport, types.Document{
		"download_url":    downloadURL,
		"file_size_bytes": fileSizeBytes,
		"export_time_ms":  exportTimeMs,
	}); err != nil {
		return err
	}
	updated, err := o.store.UpdateSagaStatus(ctx, ev.SagaID, next, "", "")
	if err != nil {
		return err
	}
	if err := o.mergeResult(ctx, ev.SagaID, types.Document{
		"download_url":    downloadURL,
		"file_size_bytes": fileSizeBytes,
		"export_time_ms":  exportTimeMs,
		"awaiting":        nil,
	}); err != nil {
		return err
	}

	var totalMs float64
	if updated.TotalDurationMs != nil {
		totalMs = float64(*updated.TotalDurationMs)
	}
	done := events.NewWorkflowCompleted(ev.SagaID, sessionID, totalMs, downloadURL,
		events.WithCorrelationID(ev.CorrelationID))
	if err := o.bus.Publish(ctx, eventbus.TopicEvents, done); err != nil {
		return err
	}
	o.logger.Info(ctx, "workflow_completed", "saga_id", ev.SagaID, "total_time_ms", totalMs)
	return nil
}

// handleWorkflowFailed is terminal for progression. When earlier steps had
// completed it moves the saga into the compensation path and emits a single
// compensation request enumerating exactly those steps, so the compensation
// worker undoes only real side effects.
func (o *Orchestrator) handleWorkflowFailed(ctx context.Context, ev *events.Event) error {
	saga, next, err := o.precondition(ctx, ev)
	if err != nil || saga == nil {
		return err
	}
	failedStep := stringField(ev.Payload, "failed_step")
	errorMessage := ev.ErrorMessage
	if errorMessage == "" {
		errorMessage = "unknown error"
	}

	if _, err := o.store.LogStepFailed(ctx, ev.SagaID, failedStep, errorMessage); err != nil {
		return err
	}
	if _, err := o.store.UpdateSagaStatus(ctx, ev.SagaID, next, failedStep, errorMessage); err != nil {
		return err
	}
	o.logger.Error(ctx, "workflow_failed", "saga_id", ev.SagaID, "failed_step", failedStep, "error", errorMessage)

	completedSteps, err := o.store.CompletedStepNames(ctx, ev.SagaID)
	if err != nil {
		return err
	}
	if len(completedSteps) == 0 {
		// Nothing to unwind, the saga stays FAILED.
		return nil
	}

	if _, err := o.store.UpdateSagaStatus(ctx, ev.SagaID, types.SagaStatusCompensating, "", ""); err != nil {
		return err
	}
	sessionID := stringField(ev.Payload, "session_id")
	if sessionID == "" {
		sessionID = saga.SessionID
	}
	cmd := events.NewCompensationRequested(ev.SagaID, sessionID, completedSteps,
		events.WithCorrelationID(ev.CorrelationID))
	return o.bus.Publish(ctx, eventbus.TopicCommands, cmd)
}

func (o *Orchestrator) handleCompensationCompleted(ctx context.Context, ev *events.Event) error {
	saga, next, err := o.precondition(ctx, ev)
	if err != nil || saga == nil {
		return err
	}
	for _, stepName := range stringSliceField(ev.Payload, "compensated_steps") {
		_, err := o.store.LogCompensation(ctx, ev.SagaID, stepName,
			"rollback confirmed by compensation worker", types.CompensationStatusCompleted, "")
		if err != nil {
			return err
		}
	}
	_, err = o.store.UpdateSagaStatus(ctx, ev.SagaID, next, "", "")
	return err
}

// mergeResult read-merge-writes the accumulated result document. Safe without
// a lock token: one saga's events are handled by a single consumer in order.
func (o *Orchestrator) mergeResult(ctx context.Context, sagaID string, update types.Document) error {
	saga, err := o.store.GetSaga(ctx, sagaID)
	if err != nil {
		return err
	}
	result := saga.ResultData
	if result == nil {
		result = types.Document{}
	}
	_, err = o.store.SetSagaResult(ctx, sagaID, result.Merge(update))
	return err
}
