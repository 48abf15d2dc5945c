package orchestrator

// Pipeline step names as recorded in the step log and referenced by
// compensation requests.
const (
	StepImageProcessing      = "image_processing"
	StepEnhancedColors       = "enhanced_colors"
	StepEnhancementSelection = "enhancement_selection"
	StepClustering           = "clustering"
	StepDXFExport            = "dxf_export"
)

// stepNumbers fixes the sequence position of each step.
var stepNumbers = map[string]int{
	StepImageProcessing:      1,
	StepEnhancedColors:       2,
	StepEnhancementSelection: 3,
	StepClustering:           4,
	StepDXFExport:            5,
}
