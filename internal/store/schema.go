package store

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sagas (
		id                TEXT PRIMARY KEY,
		workflow_type     TEXT NOT NULL,
		status            TEXT NOT NULL,
		current_step      TEXT,
		session_id        TEXT NOT NULL,
		created_at        DATETIME NOT NULL,
		updated_at        DATETIME NOT NULL,
		completed_at      DATETIME,
		result_data       TEXT,
		error_message     TEXT,
		total_duration_ms INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sagas_session_id ON sagas (session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sagas_status ON sagas (status)`,

	`CREATE TABLE IF NOT EXISTS saga_step_logs (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		saga_id        TEXT NOT NULL,
		step_number    INTEGER NOT NULL,
		step_name      TEXT NOT NULL,
		status         TEXT NOT NULL,
		event_type     TEXT,
		correlation_id TEXT,
		input_data     TEXT,
		output_data    TEXT,
		error_message  TEXT,
		started_at     DATETIME NOT NULL,
		completed_at   DATETIME,
		duration_ms    INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_step_logs_saga_id ON saga_step_logs (saga_id)`,
	`CREATE INDEX IF NOT EXISTS idx_step_logs_resolution ON saga_step_logs (saga_id, step_name, status)`,

	`CREATE TABLE IF NOT EXISTS saga_compensations (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		saga_id             TEXT NOT NULL,
		step_name           TEXT NOT NULL,
		compensation_action TEXT NOT NULL,
		status              TEXT NOT NULL,
		error_message       TEXT,
		executed_at         DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_compensations_saga_id ON saga_compensations (saga_id)`,
}

// Migrate creates the three tables and their indexes. Statements are
// idempotent, so running it on every boot is safe.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate saga schema: %w", err)
		}
	}
	return nil
}
