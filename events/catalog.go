package events

import "github.com/sketchtocad/sagaflow/types"

// Thin constructors over the envelope, one per catalog entry. Each fixes the
// event type and assembles the payload document from typed arguments.

func NewImageProcessingRequested(sagaID, sessionID, imageFilename string, opts ...Option) *Event {
	return New(sagaID, ImageProcessingRequested, types.Document{
		"session_id":     sessionID,
		"image_filename": imageFilename,
	}, opts...)
}

func NewEnhancedColorsRequested(sagaID, sessionID string, bedData []types.Document, opts ...Option) *Event {
	return New(sagaID, EnhancedColorsRequested, types.Document{
		"session_id": sessionID,
		"bed_data":   bedData,
	}, opts...)
}

func NewClusteringRequested(sagaID, sessionID string, bedData []types.Document, enhancedColors, clustersData types.Document, opts ...Option) *Event {
	return New(sagaID, ClusteringRequested, types.Document{
		"session_id":      sessionID,
		"bed_data":        bedData,
		"enhanced_colors": enhancedColors,
		"clusters_data":   clustersData,
	}, opts...)
}

func NewDXFExportRequested(sagaID, sessionID string, clusterDict types.Document, exportType string, opts ...Option) *Event {
	return New(sagaID, DXFExportRequested, types.Document{
		"session_id":   sessionID,
		"cluster_dict": clusterDict,
		"export_type":  exportType,
	}, opts...)
}

func NewImageProcessed(sagaID, sessionID string, bedCount int, bedData []types.Document, processingTimeMs float64, statistics types.Document, imageShape []int, opts ...Option) *Event {
	return New(sagaID, ImageProcessed, types.Document{
		"session_id":         sessionID,
		"bed_count":          bedCount,
		"bed_data":           bedData,
		"processing_time_ms": processingTimeMs,
		"statistics":         statistics,
		"image_shape":        imageShape,
	}, opts...)
}

func NewEnhancedColorsGenerated(sagaID, sessionID string, enhancedColors types.Document, enhancementMethods []string, opts ...Option) *Event {
	return New(sagaID, EnhancedColorsGenerated, types.Document{
		"session_id":          sessionID,
		"enhanced_colors":     enhancedColors,
		"enhancement_methods": enhancementMethods,
	}, opts...)
}

func NewClusteringCompleted(sagaID, sessionID string, processedClusters types.Document, clusterCount int, statistics types.Document, opts ...Option) *Event {
	return New(sagaID, ClusteringCompleted, types.Document{
		"session_id":         sessionID,
		"processed_clusters": processedClusters,
		"cluster_count":      clusterCount,
		"statistics":         statistics,
	}, opts...)
}

func NewDXFExported(sagaID, sessionID, downloadURL string, fileSizeBytes int64, exportTimeMs float64, opts ...Option) *Event {
	return New(sagaID, DXFExported, types.Document{
		"session_id":      sessionID,
		"download_url":    downloadURL,
		"file_size_bytes": fileSizeBytes,
		"export_time_ms":  exportTimeMs,
	}, opts...)
}

func NewEnhancementSelected(sagaID, sessionID, enhancementMethod string, enhancedColors types.Document, opts ...Option) *Event {
	return New(sagaID, EnhancementSelected, types.Document{
		"session_id":         sessionID,
		"enhancement_method": enhancementMethod,
		"enhanced_colors":    enhancedColors,
	}, opts...)
}

func NewClusteringSubmitted(sagaID, sessionID string, clustersData types.Document, opts ...Option) *Event {
	return New(sagaID, ClusteringSubmitted, types.Document{
		"session_id":    sessionID,
		"clusters_data": clustersData,
	}, opts...)
}

func NewExportRequested(sagaID, sessionID, exportType string, opts ...Option) *Event {
	return New(sagaID, ExportRequested, types.Document{
		"session_id":  sessionID,
		"export_type": exportType,
	}, opts...)
}

func NewWorkflowStarted(sagaID, sessionID, imageFilename string, workflowType types.WorkflowType, opts ...Option) *Event {
	return New(sagaID, WorkflowStarted, types.Document{
		"session_id":     sessionID,
		"workflow_type":  string(workflowType),
		"image_filename": imageFilename,
	}, opts...)
}

func NewWorkflowCompleted(sagaID, sessionID string, totalTimeMs float64, downloadURL string, opts ...Option) *Event {
	return New(sagaID, WorkflowCompleted, types.Document{
		"session_id":    sessionID,
		"total_time_ms": totalTimeMs,
		"download_url":  downloadURL,
	}, opts...)
}

func NewWorkflowFailed(sagaID, sessionID, failedStep, errorMessage string, opts ...Option) *Event {
	opts = append(opts, WithErrorMessage(errorMessage))
	return New(sagaID, WorkflowFailed, types.Document{
		"session_id":  sessionID,
		"failed_step": failedStep,
	}, opts...)
}

func NewCompensationRequested(sagaID, sessionID string, completedSteps []string, opts ...Option) *Event {
	return New(sagaID, CompensationRequested, types.Document{
		"session_id":      sessionID,
		"completed_steps": completedSteps,
	}, opts...)
}

func NewCompensationCompleted(sagaID, sessionID string, compensatedSteps []string, opts ...Option) *Event {
	return New(sagaID, CompensationCompleted, types.Document{
		"session_id":        sessionID,
		"compensated_steps": compensatedSteps,
	}, opts...)
}
