package events

// EventType identifies one member of the closed event catalog. Wire names are
// frozen: adding a message type appends a new entry, existing names are never
// reused or renamed.
type EventType string

const (
	// Commands: requests for work, consumed by the worker services.
	ImageProcessingRequested EventType = "image_processing_requested"
	EnhancedColorsRequested  EventType = "enhanced_colors_requested"
	ClusteringRequested      EventType = "clustering_requested"
	DXFExportRequested       EventType = "dxf_export_requested"

	// Success events, emitted by the worker services.
	ImageProcessed          EventType = "image_processed"
	EnhancedColorsGenerated EventType = "enhanced_colors_generated"
	ClusteringCompleted     EventType = "clustering_completed"
	DXFExported             EventType = "dxf_exported"

	// Human-input events, published on behalf of an operator by the
	// resume operations.
	EnhancementSelected EventType = "enhancement_selected"
	ClusteringSubmitted EventType = "clustering_submitted"
	ExportRequested     EventType = "export_requested"

	// Workflow control.
	WorkflowStarted   EventType = "workflow_started"
	WorkflowCompleted EventType = "workflow_completed"
	WorkflowFailed    EventType = "workflow_failed"

	// Compensation.
	CompensationRequested EventType = "compensation_requested"
	CompensationCompleted EventType = "compensation_completed"
)

// EventFamily partitions the catalog.
type EventFamily string

const (
	FamilyCommand      EventFamily = "command"
	FamilySuccess      EventFamily = "success"
	FamilyHumanInput   EventFamily = "human_input"
	FamilyControl      EventFamily = "control"
	FamilyCompensation EventFamily = "compensation"
	FamilyUnknown      EventFamily = "unknown"
)

// Family returns the catalog family of the event type.
func (t EventType) Family() EventFamily {
	switch t {
	case ImageProcessingRequested, EnhancedColorsRequested, ClusteringRequested, DXFExportRequested:
		return FamilyCommand
	case ImageProcessed, EnhancedColorsGenerated, ClusteringCompleted, DXFExported:
		return FamilySuccess
	case EnhancementSelected, ClusteringSubmitted, ExportRequested:
		return FamilyHumanInput
	case WorkflowStarted, WorkflowCompleted, WorkflowFailed:
		return FamilyControl
	case CompensationRequested, CompensationCompleted:
		return FamilyCompensation
	default:
		return FamilyUnknown
	}
}

// Known reports whether t is a member of the catalog. Unknown types still
// decode, so that newer producers do not poison a consumer, but they dispatch
// to a logged no-op.
func (t EventType) Known() bool {
	return t.Family() != FamilyUnknown
}

func (t EventType) String() string { return string(t) }
