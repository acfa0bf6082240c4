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

// Package memory provides an in-memory execution store for tests and
// development mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Krosebrook/storeflow/internal/store"
	pkgerrors "github.com/Krosebrook/storeflow/pkg/errors"
)

// Compile-time interface assertion.
var _ store.Store = (*Store)(nil)

// Store is an in-memory execution store.
type Store struct {
	mu         sync.RWMutex
	executions map[string]*store.Execution
}

// New creates a new in-memory execution store.
func New() *Store {
	return &Store{
		executions: make(map[string]*store.Execution),
	}
}

// Create inserts a new execution record.
func (s *Store) Create(ctx context.Context, exec *store.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	cp := *exec
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.executions[exec.ID] = &cp

	exec.CreatedAt = now
	exec.UpdatedAt = now
	return nil
}

// Get retrieves an execution by ID.
func (s *Store) Get(ctx context.Context, id string) (*store.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, ok := s.executions[id]
	if !ok {
		return nil, &pkgerrors.NotFoundError{Resource: "execution", ID: id}
	}
	cp := *exec
	return &cp, nil
}

// List returns executions matching the filter, most recent first.
func (s *Store) List(ctx context.Context, f store.Filter) ([]*store.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var executions []*store.Execution
	for _, exec := range s.executions {
		if f.WorkflowID != "" && exec.WorkflowID != f.WorkflowID {
			continue
		}
		if f.Status != "" && exec.Status != f.Status {
			continue
		}
		cp := *exec
		executions = append(executions, &cp)
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.After(executions[j].StartedAt)
	})

	if f.Limit > 0 && len(executions) > f.Limit {
		executions = executions[:f.Limit]
	}
	return executions, nil
}

// UpdateRetryCount persists retry progress on a running execution.
func (s *Store) UpdateRetryCount(ctx context.Context, id string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.executions[id]
	if !ok {
		return &pkgerrors.NotFoundError{Resource: "execution", ID: id}
	}
	exec.RetryCount = count
	exec.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete transitions a running execution to a terminal status.
func (s *Store) Complete(ctx context.Context, id string, upd store.TerminalUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.executions[id]
	if !ok {
		return &pkgerrors.NotFoundError{Resource: "execution", ID: id}
	}
	if exec.Status != store.StatusRunning {
		return store.ErrNotRunning
	}

	exec.Status = upd.Status
	exec.OutputData = upd.OutputData
	exec.ErrorMessage = upd.ErrorMessage
	endedAt := upd.EndedAt
	exec.EndedAt = &endedAt
	exec.DurationMs = upd.DurationMs
	exec.UpdatedAt = time.Now().UTC()
	return nil
}

// Stats aggregates execution counts, optionally scoped to one workflow.
func (s *Store) Stats(ctx context.Context, workflowID string) (*store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats store.Stats
	var durationSum int64
	var durationCount int64

	for _, exec := range s.executions {
		if workflowID != "" && exec.WorkflowID != workflowID {
			continue
		}
		stats.Total++
		stats.TotalRetries += int64(exec.RetryCount)
		switch exec.Status {
		case store.StatusCompleted:
			stats.Completed++
		case store.StatusFailed:
			stats.Failed++
		case store.StatusRunning:
			stats.Running++
		case store.StatusCancelled:
			stats.Cancelled++
		}
		if exec.Status.Terminal() {
			durationSum += exec.DurationMs
			durationCount++
		}
	}

	if durationCount > 0 {
		stats.AvgDurationMs = float64(durationSum) / float64(durationCount)
	}
	return &stats, nil
}

// DeleteTerminalBefore removes terminal executions that ended before cutoff.
func (s *Store) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, exec := range s.executions {
		if !exec.Status.Terminal() || exec.EndedAt == nil {
			continue
		}
		if exec.EndedAt.Before(cutoff) {
			delete(s.executions, id)
			removed++
		}
	}
	return removed, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
