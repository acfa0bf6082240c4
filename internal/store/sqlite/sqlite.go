// Copyright 2025 Storeflow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlite provides a SQLite execution store for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Krosebrook/storeflow/internal/store"
	pkgerrors "github.com/Krosebrook/storeflow/pkg/errors"
	_ "modernc.org/sqlite"
)

// Compile-time interface assertion.
var _ store.Store = (*Store)(nil)

// timeLayout pads fractional seconds to nine digits so the stored TEXT
// values sort lexicographically. RFC3339Nano trims trailing zeros and
// breaks ORDER BY and cutoff comparisons on sub-second timestamps.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime renders a timestamp in the store's sortable layout.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// Store is a SQLite execution store.
type Store struct {
	db *sql.DB
}

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// New creates a new SQLite execution store.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes, so only 1 connection for writes
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db}

	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// configurePragmas sets SQLite configuration options.
func (s *Store) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}

	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

// migrate runs database migrations.
func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			workflow_name TEXT NOT NULL,
			trigger_type TEXT NOT NULL,
			status TEXT NOT NULL,
			input_data TEXT,
			output_data TEXT,
			error_message TEXT,
			retry_count INTEGER DEFAULT 0,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			duration_ms INTEGER DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_started_at ON executions(started_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Create inserts a new execution record.
func (s *Store) Create(ctx context.Context, exec *store.Execution) error {
	inputJSON, err := json.Marshal(exec.InputData)
	if err != nil {
		return &pkgerrors.StoreError{Operation: "create", Cause: err}
	}

	query := `
		INSERT INTO executions (id, workflow_id, workflow_name, trigger_type, status,
			input_data, output_data, error_message, retry_count,
			started_at, ended_at, duration_ms, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL, NULL, ?, ?, NULL, 0, ?, ?)
	`

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, query,
		exec.ID, exec.WorkflowID, exec.WorkflowName, exec.TriggerType, string(exec.Status),
		string(inputJSON), exec.RetryCount,
		formatTime(exec.StartedAt),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return &pkgerrors.StoreError{Operation: "create", Cause: err}
	}

	exec.CreatedAt = now
	exec.UpdatedAt = now
	return nil
}

// Get retrieves an execution by ID.
func (s *Store) Get(ctx context.Context, id string) (*store.Execution, error) {
	query := `
		SELECT id, workflow_id, workflow_name, trigger_type, status,
			input_data, output_data, error_message, retry_count,
			started_at, ended_at, duration_ms, created_at, updated_at
		FROM executions WHERE id = ?
	`
	exec, err := scanExecution(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, &pkgerrors.NotFoundError{Resource: "execution", ID: id}
	}
	if err != nil {
		return nil, &pkgerrors.StoreError{Operation: "get", Cause: err}
	}
	return exec, nil
}

// List returns executions matching the filter, most recent first.
func (s *Store) List(ctx context.Context, f store.Filter) ([]*store.Execution, error) {
	query := `
		SELECT id, workflow_id, workflow_name, trigger_type, status,
			input_data, output_data, error_message, retry_count,
			started_at, ended_at, duration_ms, created_at, updated_at
		FROM executions WHERE 1=1
	`
	args := []any{}
	if f.WorkflowID != "" {
		query += " AND workflow_id = ?"
		args = append(args, f.WorkflowID)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	query += " ORDER BY started_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &pkgerrors.StoreError{Operation: "list", Cause: err}
	}
	defer rows.Close()

	var executions []*store.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, &pkgerrors.StoreError{Operation: "list", Cause: err}
		}
		executions = append(executions, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, &pkgerrors.StoreError{Operation: "list", Cause: err}
	}
	return executions, nil
}

// UpdateRetryCount persists retry progress on a running execution.
func (s *Store) UpdateRetryCount(ctx context.Context, id string, count int) error {
	query := `UPDATE executions SET retry_count = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query, count, formatTime(time.Now()), id)
	if err != nil {
		return &pkgerrors.StoreError{Operation: "update_retry_count", Cause: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &pkgerrors.StoreError{Operation: "update_retry_count", Cause: err}
	}
	if affected == 0 {
		return &pkgerrors.NotFoundError{Resource: "execution", ID: id}
	}
	return nil
}

// Complete transitions a running execution to a terminal status. The WHERE
// clause on the stored status enforces the terminal-once invariant.
func (s *Store) Complete(ctx context.Context, id string, upd store.TerminalUpdate) error {
	if !upd.Status.Terminal() {
		return &pkgerrors.StoreError{
			Operation: "complete",
			Cause:     fmt.Errorf("status %q is not terminal", upd.Status),
		}
	}

	var outputJSON any
	if upd.OutputData != nil {
		data, err := json.Marshal(upd.OutputData)
		if err != nil {
			return &pkgerrors.StoreError{Operation: "complete", Cause: err}
		}
		outputJSON = string(data)
	}

	query := `
		UPDATE executions
		SET status = ?, output_data = ?, error_message = ?, ended_at = ?, duration_ms = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		string(upd.Status), outputJSON, nullString(upd.ErrorMessage),
		formatTime(upd.EndedAt), upd.DurationMs,
		formatTime(time.Now()),
		id, string(store.StatusRunning),
	)
	if err != nil {
		return &pkgerrors.StoreError{Operation: "complete", Cause: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &pkgerrors.StoreError{Operation: "complete", Cause: err}
	}
	if affected == 0 {
		// Either the record is missing or it is already terminal.
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return store.ErrNotRunning
	}
	return nil
}

// Stats aggregates execution counts, optionally scoped to one workflow.
func (s *Store) Stats(ctx context.Context, workflowID string) (*store.Stats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'running' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(CASE WHEN status != 'running' THEN duration_ms END), 0),
			COALESCE(SUM(retry_count), 0)
		FROM executions
	`
	args := []any{}
	if workflowID != "" {
		query += " WHERE workflow_id = ?"
		args = append(args, workflowID)
	}

	var stats store.Stats
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total, &stats.Completed, &stats.Failed,
		&stats.Running, &stats.Cancelled,
		&stats.AvgDurationMs, &stats.TotalRetries,
	)
	if err != nil {
		return nil, &pkgerrors.StoreError{Operation: "stats", Cause: err}
	}
	return &stats, nil
}

// DeleteTerminalBefore removes terminal executions that ended before cutoff.
func (s *Store) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM executions
		WHERE status IN ('completed', 'failed', 'cancelled')
		AND ended_at IS NOT NULL AND ended_at < ?
	`
	res, err := s.db.ExecContext(ctx, query, formatTime(cutoff))
	if err != nil {
		return 0, &pkgerrors.StoreError{Operation: "delete_terminal", Cause: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, &pkgerrors.StoreError{Operation: "delete_terminal", Cause: err}
	}
	return affected, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// scanner abstracts *sql.Row and *sql.Rows for scanExecution.
type scanner interface {
	Scan(dest ...any) error
}

// scanExecution reads one execution row.
func scanExecution(row scanner) (*store.Execution, error) {
	var exec store.Execution
	var status string
	var inputJSON, outputJSON, errorMsg, endedAt sql.NullString
	var startedAt, createdAt, updatedAt string

	err := row.Scan(
		&exec.ID, &exec.WorkflowID, &exec.WorkflowName, &exec.TriggerType, &status,
		&inputJSON, &outputJSON, &errorMsg, &exec.RetryCount,
		&startedAt, &endedAt, &exec.DurationMs, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	exec.Status = store.Status(status)
	if errorMsg.Valid {
		exec.ErrorMessage = errorMsg.String
	}
	if inputJSON.Valid && inputJSON.String != "" {
		if err := json.Unmarshal([]byte(inputJSON.String), &exec.InputData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal input_data: %w", err)
		}
	}
	if outputJSON.Valid && outputJSON.String != "" {
		if err := json.Unmarshal([]byte(outputJSON.String), &exec.OutputData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal output_data: %w", err)
		}
	}

	if exec.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}
	if endedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ended_at: %w", err)
		}
		exec.EndedAt = &t
	}
	if exec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if exec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return &exec, nil
}

// nullString converts an empty string to NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
