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

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Krosebrook/storeflow/internal/store"
	pkgerrors "github.com/Krosebrook/storeflow/pkg/errors"
)

func newExecution(workflowID string, startedAt time.Time) *store.Execution {
	return &store.Execution{
		ID:          uuid.NewString(),
		WorkflowID:  workflowID,
		TriggerType: "manual",
		Status:      store.StatusRunning,
		StartedAt:   startedAt,
	}
}

func TestCreateGetAndIsolation(t *testing.T) {
	s := New()
	ctx := context.Background()

	exec := newExecution("order-sync", time.Now())
	exec.InputData = map[string]any{"orderId": "o-1"}
	require.NoError(t, s.Create(ctx, exec))

	got, err := s.Get(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, "o-1", got.InputData["orderId"])

	// Mutating the returned copy must not leak into the store.
	got.Status = store.StatusFailed
	again, err := s.Get(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusRunning, again.Status)
}

func TestCompleteEnforcesRunningTransition(t *testing.T) {
	s := New()
	ctx := context.Background()

	exec := newExecution("order-sync", time.Now())
	require.NoError(t, s.Create(ctx, exec))

	require.NoError(t, s.Complete(ctx, exec.ID, store.TerminalUpdate{
		Status: store.StatusCancelled, EndedAt: time.Now(), DurationMs: 10,
	}))

	err := s.Complete(ctx, exec.ID, store.TerminalUpdate{
		Status: store.StatusCompleted, EndedAt: time.Now(),
	})
	require.ErrorIs(t, err, store.ErrNotRunning)

	err = s.Complete(ctx, "missing", store.TerminalUpdate{
		Status: store.StatusFailed, EndedAt: time.Now(),
	})
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestListOrderingAndLimit(t *testing.T) {
	s := New()
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	first := newExecution("order-sync", base)
	second := newExecution("order-sync", base.Add(time.Second))
	third := newExecution("price-sync", base.Add(2*time.Second))
	for _, e := range []*store.Execution{first, second, third} {
		require.NoError(t, s.Create(ctx, e))
	}

	all, err := s.List(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, third.ID, all[0].ID)
	assert.Equal(t, first.ID, all[2].ID)

	limited, err := s.List(ctx, store.Filter{WorkflowID: "order-sync", Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, second.ID, limited[0].ID)
}

func TestStatsAndRetention(t *testing.T) {
	s := New()
	ctx := context.Background()

	done := newExecution("order-sync", time.Now().Add(-2*time.Hour))
	running := newExecution("order-sync", time.Now())
	require.NoError(t, s.Create(ctx, done))
	require.NoError(t, s.Create(ctx, running))
	require.NoError(t, s.UpdateRetryCount(ctx, done.ID, 1))
	require.NoError(t, s.Complete(ctx, done.ID, store.TerminalUpdate{
		Status: store.StatusCompleted, EndedAt: time.Now().Add(-time.Hour), DurationMs: 50,
	}))

	stats, err := s.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Running)
	assert.Equal(t, int64(1), stats.TotalRetries)
	assert.InDelta(t, 50.0, stats.AvgDurationMs, 0.1)

	removed, err := s.DeleteTerminalBefore(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	// Running records survive retention sweeps.
	_, err = s.Get(ctx, running.ID)
	require.NoError(t, err)
}
