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

package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Krosebrook/storeflow/internal/store"
	pkgerrors "github.com/Krosebrook/storeflow/pkg/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Path: filepath.Join(t.TempDir(), "executions.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newExecution(workflowID string, startedAt time.Time) *store.Execution {
	return &store.Execution{
		ID:           uuid.NewString(),
		WorkflowID:   workflowID,
		WorkflowName: "Product Publish",
		TriggerType:  "manual",
		Status:       store.StatusRunning,
		InputData:    map[string]any{"title": "Mug"},
		StartedAt:    startedAt,
	}
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exec := newExecution("product-publish", time.Now())
	require.NoError(t, s.Create(ctx, exec))

	got, err := s.Get(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, exec.ID, got.ID)
	assert.Equal(t, "product-publish", got.WorkflowID)
	assert.Equal(t, store.StatusRunning, got.Status)
	assert.Equal(t, map[string]any{"title": "Mug"}, got.InputData)
	assert.Nil(t, got.EndedAt)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "nope")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestCompleteIsTerminalOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exec := newExecution("order-sync", time.Now())
	require.NoError(t, s.Create(ctx, exec))

	ended := time.Now()
	upd := store.TerminalUpdate{
		Status:     store.StatusCompleted,
		OutputData: map[string]any{"synced": float64(3)},
		EndedAt:    ended,
		DurationMs: 125,
	}
	require.NoError(t, s.Complete(ctx, exec.ID, upd))

	got, err := s.Get(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, got.Status)
	assert.Equal(t, int64(125), got.DurationMs)
	require.NotNil(t, got.EndedAt)

	// A second terminal write is rejected: once terminal, never reopened.
	err = s.Complete(ctx, exec.ID, store.TerminalUpdate{
		Status:  store.StatusFailed,
		EndedAt: time.Now(),
	})
	require.ErrorIs(t, err, store.ErrNotRunning)

	got, err = s.Get(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, got.Status)
}

func TestCompleteRejectsNonTerminalStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exec := newExecution("order-sync", time.Now())
	require.NoError(t, s.Create(ctx, exec))

	err := s.Complete(ctx, exec.ID, store.TerminalUpdate{Status: store.StatusRunning})
	require.Error(t, err)
}

func TestUpdateRetryCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exec := newExecution("price-sync", time.Now())
	require.NoError(t, s.Create(ctx, exec))

	require.NoError(t, s.UpdateRetryCount(ctx, exec.ID, 2))

	got, err := s.Get(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RetryCount)
}

func TestListFiltersAndOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	older := newExecution("order-sync", base)
	newer := newExecution("order-sync", base.Add(10*time.Second))
	other := newExecution("price-sync", base.Add(20*time.Second))
	for _, e := range []*store.Execution{older, newer, other} {
		require.NoError(t, s.Create(ctx, e))
	}
	require.NoError(t, s.Complete(ctx, newer.ID, store.TerminalUpdate{
		Status:  store.StatusFailed,
		EndedAt: time.Now(),
	}))

	byWorkflow, err := s.List(ctx, store.Filter{WorkflowID: "order-sync"})
	require.NoError(t, err)
	require.Len(t, byWorkflow, 2)
	assert.Equal(t, newer.ID, byWorkflow[0].ID)
	assert.Equal(t, older.ID, byWorkflow[1].ID)

	failed, err := s.List(ctx, store.Filter{Status: store.StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, newer.ID, failed[0].ID)

	limited, err := s.List(ctx, store.Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestListOrdersSubSecondStarts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Half-second boundary: a trimmed fractional format would sort
	// "…00.5Z" after "…00.51Z" and flip the order.
	base := time.Date(2026, 8, 28, 10, 0, 0, 500_000_000, time.UTC)
	older := newExecution("order-sync", base)
	newer := newExecution("order-sync", base.Add(10*time.Millisecond))
	require.NoError(t, s.Create(ctx, older))
	require.NoError(t, s.Create(ctx, newer))

	got, err := s.List(ctx, store.Filter{WorkflowID: "order-sync"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, newer.ID, got[0].ID)
	assert.Equal(t, older.ID, got[1].ID)
}

func TestDeleteTerminalBeforeSubSecondCutoff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ended := time.Date(2026, 8, 28, 10, 0, 0, 500_000_000, time.UTC)
	exec := newExecution("order-sync", ended.Add(-time.Second))
	require.NoError(t, s.Create(ctx, exec))
	require.NoError(t, s.Complete(ctx, exec.ID, store.TerminalUpdate{
		Status: store.StatusCompleted, EndedAt: ended,
	}))

	removed, err := s.DeleteTerminalBefore(ctx, ended.Add(10*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	done := newExecution("order-sync", time.Now())
	failed := newExecution("order-sync", time.Now())
	running := newExecution("price-sync", time.Now())
	for _, e := range []*store.Execution{done, failed, running} {
		require.NoError(t, s.Create(ctx, e))
	}
	require.NoError(t, s.UpdateRetryCount(ctx, failed.ID, 2))
	require.NoError(t, s.Complete(ctx, done.ID, store.TerminalUpdate{
		Status: store.StatusCompleted, EndedAt: time.Now(), DurationMs: 100,
	}))
	require.NoError(t, s.Complete(ctx, failed.ID, store.TerminalUpdate{
		Status: store.StatusFailed, ErrorMessage: "boom", EndedAt: time.Now(), DurationMs: 300,
	}))

	stats, err := s.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Running)
	assert.Equal(t, int64(2), stats.TotalRetries)
	assert.InDelta(t, 200.0, stats.AvgDurationMs, 0.1)

	scoped, err := s.Stats(ctx, "price-sync")
	require.NoError(t, err)
	assert.Equal(t, int64(1), scoped.Total)
	assert.Equal(t, int64(1), scoped.Running)
}

func TestDeleteTerminalBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := newExecution("order-sync", time.Now().Add(-48*time.Hour))
	recent := newExecution("order-sync", time.Now())
	running := newExecution("order-sync", time.Now().Add(-48*time.Hour))
	for _, e := range []*store.Execution{old, recent, running} {
		require.NoError(t, s.Create(ctx, e))
	}
	require.NoError(t, s.Complete(ctx, old.ID, store.TerminalUpdate{
		Status: store.StatusCompleted, EndedAt: time.Now().Add(-47 * time.Hour),
	}))
	require.NoError(t, s.Complete(ctx, recent.ID, store.TerminalUpdate{
		Status: store.StatusCompleted, EndedAt: time.Now(),
	}))

	removed, err := s.DeleteTerminalBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	// The recent terminal record and the old running record both survive.
	_, err = s.Get(ctx, recent.ID)
	require.NoError(t, err)
	_, err = s.Get(ctx, running.ID)
	require.NoError(t, err)
	_, err = s.Get(ctx, old.ID)
	assert.True(t, pkgerrors.IsNotFound(err))
}
