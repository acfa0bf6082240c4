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

// Package store defines the durable execution record model and the storage
// interface the engine persists through.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotRunning indicates a terminal write was attempted on an execution
// that is no longer running. Once terminal, a record is never reopened.
var ErrNotRunning = errors.New("execution is not running")

// Status is the lifecycle state of an execution.
type Status string

const (
	// StatusRunning is the initial state of every execution.
	StatusRunning Status = "running"
	// StatusCompleted marks a successful terminal state.
	StatusCompleted Status = "completed"
	// StatusFailed marks a failed terminal state.
	StatusFailed Status = "failed"
	// StatusCancelled marks a locally cancelled terminal state.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether the status is a known value.
func (s Status) Valid() bool {
	return s == StatusRunning || s.Terminal()
}

// Execution is one durable workflow run. Status transitions only
// running → {completed, failed, cancelled}; the terminal update happens
// exactly once.
type Execution struct {
	ID           string         `json:"id"`
	WorkflowID   string         `json:"workflow_id"`
	WorkflowName string         `json:"workflow_name"`
	TriggerType  string         `json:"trigger_type"`
	Status       Status         `json:"status"`
	InputData    map[string]any `json:"input_data,omitempty"`
	OutputData   map[string]any `json:"output_data,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	RetryCount   int            `json:"retry_count"`
	StartedAt    time.Time      `json:"started_at"`
	EndedAt      *time.Time     `json:"ended_at,omitempty"`
	DurationMs   int64          `json:"duration_ms"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Filter narrows List results.
type Filter struct {
	WorkflowID string
	Status     Status
	Limit      int
}

// TerminalUpdate carries the single terminal write for an execution.
type TerminalUpdate struct {
	Status       Status
	OutputData   map[string]any
	ErrorMessage string
	EndedAt      time.Time
	DurationMs   int64
}

// Stats aggregates execution counts for status endpoints.
type Stats struct {
	Total         int64   `json:"total"`
	Completed     int64   `json:"completed"`
	Failed        int64   `json:"failed"`
	Running       int64   `json:"running"`
	Cancelled     int64   `json:"cancelled"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	TotalRetries  int64   `json:"total_retries"`
}

// Store persists execution records. Implementations must enforce the
// running → terminal transition in Complete: a write against a record that
// is already terminal returns ErrNotRunning.
type Store interface {
	// Create inserts a new execution record.
	Create(ctx context.Context, exec *Execution) error

	// Get retrieves an execution by ID.
	Get(ctx context.Context, id string) (*Execution, error)

	// List returns executions matching the filter, most recent first.
	List(ctx context.Context, f Filter) ([]*Execution, error)

	// UpdateRetryCount persists retry progress on a running execution.
	UpdateRetryCount(ctx context.Context, id string, count int) error

	// Complete transitions a running execution to a terminal status.
	Complete(ctx context.Context, id string, upd TerminalUpdate) error

	// Stats aggregates counts, optionally scoped to one workflow.
	Stats(ctx context.Context, workflowID string) (*Stats, error)

	// DeleteTerminalBefore removes terminal executions that ended before
	// the cutoff, returning the number of rows removed. Running records
	// are never deleted.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases the underlying resources.
	Close() error
}
