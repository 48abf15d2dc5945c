package types

// SagaStatus is the lifecycle state of a saga. Transitions follow the fixed
// workflow graph enforced by the orchestrator; once a saga reaches a terminal
// status it never moves again.
type SagaStatus string

const (
	SagaStatusStarted                      SagaStatus = "started"
	SagaStatusImageProcessing              SagaStatus = "image_processing"
	SagaStatusGeneratingEnhancedColors     SagaStatus = "generating_enhanced_colors"
	SagaStatusAwaitingEnhancementSelection SagaStatus = "awaiting_enhancement_selection"
	SagaStatusAwaitingClustering           SagaStatus = "awaiting_clustering"
	SagaStatusProcessingClustering         SagaStatus = "processing_clustering"
	SagaStatusAwaitingExport               SagaStatus = "awaiting_export"
	SagaStatusDXFExport                    SagaStatus = "dxf_export"
	SagaStatusCompleted                    SagaStatus = "completed"
	SagaStatusFailed                       SagaStatus = "failed"
	SagaStatusCompensating                 SagaStatus = "compensating"
	SagaStatusCompensated                  SagaStatus = "compensated"
)

// IsTerminal reports whether no further status transition may be applied.
// FAILED is terminal for forward progression but may still move to
// COMPENSATING, which the orchestrator's transition graph allows explicitly.
func (s SagaStatus) IsTerminal() bool {
	switch s {
	case SagaStatusCompleted, SagaStatusCompensated:
		return true
	default:
		return false
	}
}

// StampsCompletion reports whether reaching this status stamps completed_at
// and total_duration_ms on the saga record.
func (s SagaStatus) StampsCompletion() bool {
	switch s {
	case SagaStatusCompleted, SagaStatusFailed, SagaStatusCompensated:
		return true
	default:
		return false
	}
}

func SagaStatusValues() []SagaStatus {
	return []SagaStatus{
		SagaStatusStarted,
		SagaStatusImageProcessing,
		SagaStatusGeneratingEnhancedColors,
		SagaStatusAwaitingEnhancementSelection,
		SagaStatusAwaitingClustering,
		SagaStatusProcessingClustering,
		SagaStatusAwaitingExport,
		SagaStatusDXFExport,
		SagaStatusCompleted,
		SagaStatusFailed,
		SagaStatusCompensating,
		SagaStatusCompensated,
	}
}

// StepStatus is the state of one step attempt in the step log.
type StepStatus string

const (
	StepStatusStarted   StepStatus = "started"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// CompensationStatus is the outcome of one recorded rollback action.
type CompensationStatus string

const (
	CompensationStatusCompleted CompensationStatus = "completed"
	CompensationStatusFailed    CompensationStatus = "failed"
)

// WorkflowType selects the transition graph a saga follows.
type WorkflowType string

const (
	// WorkflowTypeImageToCAD is the full pipeline: image analysis, enhanced
	// colors, human enhancement selection, clustering, DXF export.
	WorkflowTypeImageToCAD WorkflowType = "image_to_cad"

	// WorkflowTypeBedDetection stops after image processing; the detected
	// beds are reviewed by a human outside the pipeline.
	WorkflowTypeBedDetection WorkflowType = "bed_detection"
)
