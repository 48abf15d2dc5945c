package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/sketchtocad/sagaflow/logs"
	"github.com/sketchtocad/sagaflow/types"
)

var (
	ErrSagaNotFound  = errors.New("saga not found")
	ErrSagaExists    = errors.New("saga already exists")
	ErrNoStartedStep = errors.New("no started step found")
	ErrSagaFinalized = errors.New("saga is in a terminal status")
)

// Store is the durable persistence surface for sagas, step logs and
// compensation audit rows. It is the single source of truth for what
// happened; every operation is a short, independent transaction against
// SQLite, whose writes the comfylite3 substrate serializes, so the store is
// safe for concurrent callers.
type Store struct {
	db     *sql.DB
	logger logs.Logger
}

func New(db *sql.DB, logger logs.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// CreateSaga inserts a new saga with status STARTED. Fails with ErrSagaExists
// when the identifier is already taken.
func (s *Store) CreateSaga(ctx context.Context, id string, workflowType types.WorkflowType, sessionID string) (*types.Saga, error) {
	now := time.Now().UTC()
	saga := &types.Saga{
		ID:           id,
		WorkflowType: workflowType,
		Status:       types.SagaStatusStarted,
		SessionID:    sessionID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sagas (id, workflow_type, status, session_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(workflowType), string(saga.Status), sessionID, now, now,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return nil, fmt.Errorf("create saga %s: %w", id, ErrSagaExists)
		}
		return nil, fmt.Errorf("create saga %s: %w", id, err)
	}
	s.logger.Info(ctx, "saga_created", "saga_id", id, "workflow_type", workflowType, "session_id", sessionID)
	return saga, nil
}

func (s *Store) GetSaga(ctx context.Context, id string) (*types.Saga, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_type, status, current_step, session_id, created_at, updated_at,
		        completed_at, result_data, error_message, total_duration_ms
		 FROM sagas WHERE id = ?`, id)
	return scanSaga(row)
}

// UpdateSagaStatus moves the saga to a new status, optionally updating the
// current step and error message (empty strings leave them unchanged), and
// touches updated_at. Terminal statuses stamp completed_at and the total
// duration. Transitions out of a terminal status are rejected with
// ErrSagaFinalized; FAILED may still move into the compensation path.
func (s *Store) UpdateSagaStatus(ctx context.Context, id string, status types.SagaStatus, currentStep, errorMessage string) (*types.Saga, error) {
	saga, err := s.GetSaga(ctx, id)
	if err != nil {
		return nil, err
	}
	if !allowedFrom(saga.Status, status) {
		return nil, fmt.Errorf("saga %s: %s -> %s: %w", id, saga.Status, status, ErrSagaFinalized)
	}

	now := time.Now().UTC()
	saga.Status = status
	saga.UpdatedAt = now
	if currentStep != "" {
		saga.CurrentStep = currentStep
	}
	if errorMessage != "" {
		saga.ErrorMessage = errorMessage
	}
	if status.StampsCompletion() {
		saga.CompletedAt = &now
		duration := now.Sub(saga.CreatedAt).Milliseconds()
		saga.TotalDurationMs = &duration
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE sagas
		 SET status = ?, current_step = ?, error_message = ?, updated_at = ?, completed_at = ?, total_duration_ms = ?
		 WHERE id = ?`,
		string(saga.Status), nullString(saga.CurrentStep), nullString(saga.ErrorMessage),
		saga.UpdatedAt, nullTime(saga.CompletedAt), nullInt(saga.TotalDurationMs), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update saga %s status: %w", id, err)
	}
	s.logger.Info(ctx, "saga_status_updated", "saga_id", id, "status", status, "current_step", saga.CurrentStep)
	return saga, nil
}

// allowedFrom encodes the store-side terminal guard. The full transition
// graph belongs to the orchestrator; the store only refuses to resurrect a
// finalized saga.
func allowedFrom(from, to types.SagaStatus) bool {
	switch from {
	case types.SagaStatusCompleted, types.SagaStatusCompensated:
		return false
	case types.SagaStatusFailed:
		return to == types.SagaStatusCompensating
	default:
		return true
	}
}

// SetSagaResult replaces the accumulated result document wholesale. Callers
// own read-merge-write; under the per-saga ordering guarantee a saga's
// handlers never run concurrently, so no lock token is kept.
func (s *Store) SetSagaResult(ctx context.Context, id string, result types.Document) (*types.Saga, error) {
	saga, err := s.GetSaga(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := marshalDocument(result)
	if err != nil {
		return nil, fmt.Errorf("set saga %s result: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE sagas SET result_data = ? WHERE id = ?`, data, id); err != nil {
		return nil, fmt.Errorf("set saga %s result: %w", id, err)
	}
	saga.ResultData = result
	return saga, nil
}

func (s *Store) SagasByStatus(ctx context.Context, status types.SagaStatus, limit int) ([]*types.Saga, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_type, status, current_step, session_id, created_at, updated_at,
		        completed_at, result_data, error_message, total_duration_ms
		 FROM sagas WHERE status = ? ORDER BY created_at LIMIT ?`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("sagas by status %s: %w", status, err)
	}
	return collectSagas(rows)
}

func (s *Store) SagasBySession(ctx context.Context, sessionID string) ([]*types.Saga, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_type, status, current_step, session_id, created_at, updated_at,
		        completed_at, result_data, error_message, total_duration_ms
		 FROM sagas WHERE session_id = ? ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sagas by session %s: %w", sessionID, err)
	}
	return collectSagas(rows)
}

// LogStepStarted appends a started row for a step attempt.
func (s *Store) LogStepStarted(ctx context.Context, sagaID string, stepNumber int, stepName, eventType, correlationID string, input types.Document) (*types.SagaStepLog, error) {
	inputData, err := marshalDocument(input)
	if err != nil {
		return nil, fmt.Errorf("log step %s/%s started: %w", sagaID, stepName, err)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO saga_step_logs (saga_id, step_number, step_name, status, event_type, correlation_id, input_data, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sagaID, stepNumber, stepName, string(types.StepStatusStarted), nullString(eventType), nullString(correlationID), inputData, now,
	)
	if err != nil {
		return nil, fmt.Errorf("log step %s/%s started: %w", sagaID, stepName, err)
	}
	id, _ := res.LastInsertId()
	s.logger.Info(ctx, "step_started", "saga_id", sagaID, "step_number", stepNumber, "step_name", stepName)
	return &types.SagaStepLog{
		ID:            id,
		SagaID:        sagaID,
		StepNumber:    stepNumber,
		StepName:      stepName,
		Status:        types.StepStatusStarted,
		EventType:     eventType,
		CorrelationID: correlationID,
		InputData:     input,
		StartedAt:     now,
	}, nil
}

// LogStepCompleted resolves the most recently started row for the step name
// and transitions it to completed, recording output and duration. Fails with
// ErrNoStartedStep when no started row exists.
func (s *Store) LogStepCompleted(ctx context.Context, sagaID, stepName string, output types.Document) (*types.SagaStepLog, error) {
	step, err := s.latestStartedStep(ctx, sagaID, stepName)
	if err != nil {
		return nil, err
	}
	outputData, err := marshalDocument(output)
	if err != nil {
		return nil, fmt.Errorf("log step %s/%s completed: %w", sagaID, stepName, err)
	}
	now := time.Now().UTC()
	duration := now.Sub(step.StartedAt).Milliseconds()
	_, err = s.db.ExecContext(ctx,
		`UPDATE saga_step_logs SET status = ?, output_data = ?, completed_at = ?, duration_ms = ? WHERE id = ?`,
		string(types.StepStatusCompleted), outputData, now, duration, step.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("log step %s/%s completed: %w", sagaID, stepName, err)
	}
	step.Status = types.StepStatusCompleted
	step.OutputData = output
	step.CompletedAt = &now
	step.DurationMs = &duration
	s.logger.Info(ctx, "step_completed", "saga_id", sagaID, "step_name", stepName, "duration_ms", duration)
	return step, nil
}

// LogStepFailed resolves like LogStepCompleted but, when no started row
// exists, synthesizes a failed row directly so out-of-band failures are still
// recorded.
func (s *Store) LogStepFailed(ctx context.Context, sagaID, stepName, errorMessage string) (*types.SagaStepLog, error) {
	now := time.Now().UTC()
	step, err := s.latestStartedStep(ctx, sagaID, stepName)
	if errors.Is(err, ErrNoStartedStep) {
		res, insertErr := s.db.ExecContext(ctx,
			`INSERT INTO saga_step_logs (saga_id, step_number, step_name, status, error_message, started_at, completed_at)
			 VALUES (?, 0, ?, ?, ?, ?, ?)`,
			sagaID, stepName, string(types.StepStatusFailed), errorMessage, now, now,
		)
		if insertErr != nil {
			return nil, fmt.Errorf("log step %s/%s failed: %w", sagaID, stepName, insertErr)
		}
		id, _ := res.LastInsertId()
		s.logger.Error(ctx, "step_failed", "saga_id", sagaID, "step_name", stepName, "error", errorMessage)
		return &types.SagaStepLog{
			ID:           id,
			SagaID:       sagaID,
			StepName:     stepName,
			Status:       types.StepStatusFailed,
			ErrorMessage: errorMessage,
			StartedAt:    now,
			CompletedAt:  &now,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	duration := now.Sub(step.StartedAt).Milliseconds()
	_, err = s.db.ExecContext(ctx,
		`UPDATE saga_step_logs SET status = ?, error_message = ?, completed_at = ?, duration_ms = ? WHERE id = ?`,
		string(types.StepStatusFailed), errorMessage, now, duration, step.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("log step %s/%s failed: %w", sagaID, stepName, err)
	}
	step.Status = types.StepStatusFailed
	step.ErrorMessage = errorMessage
	step.CompletedAt = &now
	step.DurationMs = &duration
	s.logger.Error(ctx, "step_failed", "saga_id", sagaID, "step_name", stepName, "error", errorMessage)
	return step, nil
}

func (s *Store) latestStartedStep(ctx context.Context, sagaID, stepName string) (*types.SagaStepLog, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, saga_id, step_number, step_name, status, event_type, correlation_id,
		        input_data, output_data, error_message, started_at, completed_at, duration_ms
		 FROM saga_step_logs
		 WHERE saga_id = ? AND step_name = ? AND status = ?
		 ORDER BY id DESC LIMIT 1`,
		sagaID, stepName, string(types.StepStatusStarted))
	step, err := scanStep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", sagaID, stepName, ErrNoStartedStep)
	}
	return step, err
}

// SagaSteps returns every step attempt ordered by step number.
func (s *Store) SagaSteps(ctx context.Context, sagaID string) ([]*types.SagaStepLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, saga_id, step_number, step_name, status, event_type, correlation_id,
		        input_data, output_data, error_message, started_at, completed_at, duration_ms
		 FROM saga_step_logs WHERE saga_id = ? ORDER BY step_number, id`, sagaID)
	if err != nil {
		return nil, fmt.Errorf("saga %s steps: %w", sagaID, err)
	}
	defer rows.Close()
	var steps []*types.SagaStepLog
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// CompletedStepNames returns the names of completed steps, in completion
// order. It scopes compensation: only real side effects are ever undone.
func (s *Store) CompletedStepNames(ctx context.Context, sagaID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step_name FROM saga_step_logs WHERE saga_id = ? AND status = ? ORDER BY id`,
		sagaID, string(types.StepStatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("saga %s completed steps: %w", sagaID, err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// LogCompensation appends one rollback audit row.
func (s *Store) LogCompensation(ctx context.Context, sagaID, stepName, action string, status types.CompensationStatus, errorMessage string) (*types.SagaCompensation, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO saga_compensations (saga_id, step_name, compensation_action, status, error_message, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sagaID, stepName, action, string(status), nullString(errorMessage), now,
	)
	if err != nil {
		return nil, fmt.Errorf("log compensation %s/%s: %w", sagaID, stepName, err)
	}
	id, _ := res.LastInsertId()
	s.logger.Info(ctx, "compensation_logged", "saga_id", sagaID, "step_name", stepName, "action", action, "status", status)
	return &types.SagaCompensation{
		ID:                 id,
		SagaID:             sagaID,
		StepName:           stepName,
		CompensationAction: action,
		Status:             status,
		ErrorMessage:       errorMessage,
		ExecutedAt:         now,
	}, nil
}

func (s *Store) Compensations(ctx context.Context, sagaID string) ([]*types.SagaCompensation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, saga_id, step_name, compensation_action, status, error_message, executed_at
		 FROM saga_compensations WHERE saga_id = ? ORDER BY id`, sagaID)
	if err != nil {
		return nil, fmt.Errorf("saga %s compensations: %w", sagaID, err)
	}
	defer rows.Close()
	var comps []*types.SagaCompensation
	for rows.Next() {
		var (
			comp     types.SagaCompensation
			status   string
			errMsg   sql.NullString
			executed time.Time
		)
		if err := rows.Scan(&comp.ID, &comp.SagaID, &comp.StepName, &comp.CompensationAction, &status, &errMsg, &executed); err != nil {
			return nil, err
		}
		comp.Status = types.CompensationStatus(status)
		comp.ErrorMessage = errMsg.String
		comp.ExecutedAt = executed.UTC()
		comps = append(comps, &comp)
	}
	return comps, rows.Err()
}

// scanning helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSaga(row rowScanner) (*types.Saga, error) {
	var (
		saga         types.Saga
		workflowType string
		status       string
		currentStep  sql.NullString
		completedAt  sql.NullTime
		resultData   sql.NullString
		errMsg       sql.NullString
		durationMs   sql.NullInt64
	)
	err := row.Scan(&saga.ID, &workflowType, &status, &currentStep, &saga.SessionID,
		&saga.CreatedAt, &saga.UpdatedAt, &completedAt, &resultData, &errMsg, &durationMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSagaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan saga: %w", err)
	}
	saga.WorkflowType = types.WorkflowType(workflowType)
	saga.Status = types.SagaStatus(status)
	saga.CurrentStep = currentStep.String
	saga.CreatedAt = saga.CreatedAt.UTC()
	saga.UpdatedAt = saga.UpdatedAt.UTC()
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		saga.CompletedAt = &t
	}
	if resultData.Valid {
		if err := json.Unmarshal([]byte(resultData.String), &saga.ResultData); err != nil {
			return nil, fmt.Errorf("scan saga %s result: %w", saga.ID, err)
		}
	}
	saga.ErrorMessage = errMsg.String
	if durationMs.Valid {
		saga.TotalDurationMs = &durationMs.Int64
	}
	return &saga, nil
}

func collectSagas(rows *sql.Rows) ([]*types.Saga, error) {
	defer rows.Close()
	var sagas []*types.Saga
	for rows.Next() {
		saga, err := scanSaga(rows)
		if err != nil {
			return nil, err
		}
		sagas = append(sagas, saga)
	}
	return sagas, rows.Err()
}

func scanStep(row rowScanner) (*types.SagaStepLog, error) {
	var (
		step          types.SagaStepLog
		status        string
		eventType     sql.NullString
		correlationID sql.NullString
		inputData     sql.NullString
		outputData    sql.NullString
		errMsg        sql.NullString
		completedAt   sql.NullTime
		durationMs    sql.NullInt64
	)
	err := row.Scan(&step.ID, &step.SagaID, &step.StepNumber, &step.StepName, &status,
		&eventType, &correlationID, &inputData, &outputData, &errMsg,
		&step.StartedAt, &completedAt, &durationMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan step log: %w", err)
	}
	step.Status = types.StepStatus(status)
	step.EventType = eventType.String
	step.CorrelationID = correlationID.String
	step.ErrorMessage = errMsg.String
	step.StartedAt = step.StartedAt.UTC()
	if inputData.Valid {
		if err := json.Unmarshal([]byte(inputData.String), &step.InputData); err != nil {
			return nil, fmt.Errorf("scan step %d input: %w", step.ID, err)
		}
	}
	if outputData.Valid {
		if err := json.Unmarshal([]byte(outputData.String), &step.OutputData); err != nil {
			return nil, fmt.Errorf("scan step %d output: %w", step.ID, err)
		}
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		step.CompletedAt = &t
	}
	if durationMs.Valid {
		step.DurationMs = &durationMs.Int64
	}
	return &step, nil
}

func marshalDocument(doc types.Document) (any, error) {
	if doc == nil {
		return nil, nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullInt(i *int64) any {
	if i == nil {
		return nil
	}
	return *i
}
