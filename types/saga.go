package types

import "time"

// Document is a schemaless JSON object, used for event payloads and the
// accumulated saga result.
type Document map[string]any

// Merge returns a copy of d with the entries of other layered on top.
// Neither input is mutated.
func (d Document) Merge(other Document) Document {
	out := make(Document, len(d)+len(other))
	for k, v := range d {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Saga is one workflow execution record, the row behind the sagas table.
type Saga struct {
	ID              string       `json:"id"`
	WorkflowType    WorkflowType `json:"workflow_type"`
	Status          SagaStatus   `json:"status"`
	CurrentStep     string       `json:"current_step,omitempty"`
	SessionID       string       `json:"session_id"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
	ResultData      Document     `json:"result_data,omitempty"`
	ErrorMessage    string       `json:"error_message,omitempty"`
	TotalDurationMs *int64       `json:"total_duration_ms,omitempty"`
}

// SagaStepLog is one step attempt, append-only.
type SagaStepLog struct {
	ID            int64      `json:"id"`
	SagaID        string     `json:"saga_id"`
	StepNumber    int        `json:"step_number"`
	StepName      string     `json:"step_name"`
	Status        StepStatus `json:"status"`
	EventType     string     `json:"event_type,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	InputData     Document   `json:"input_data,omitempty"`
	OutputData    Document   `json:"output_data,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DurationMs    *int64     `json:"duration_ms,omitempty"`
}

// SagaCompensation is one recorded rollback action, append-only.
type SagaCompensation struct {
	ID                 int64              `json:"id"`
	SagaID             string             `json:"saga_id"`
	StepName           string             `json:"step_name"`
	CompensationAction string             `json:"compensation_action"`
	Status             CompensationStatus `json:"status"`
	ErrorMessage       string             `json:"error_message,omitempty"`
	ExecutedAt         time.Time          `json:"executed_at"`
}
