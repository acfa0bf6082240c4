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

package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Krosebrook/storeflow/internal/engine"
	"github.com/Krosebrook/storeflow/internal/registry"
	"github.com/Krosebrook/storeflow/internal/store"
	"github.com/Krosebrook/storeflow/internal/store/memory"
	"github.com/Krosebrook/storeflow/pkg/automation"
	pkgerrors "github.com/Krosebrook/storeflow/pkg/errors"
	"github.com/Krosebrook/storeflow/pkg/resilience"
)

type okBackend struct{}

func (okBackend) Execute(ctx context.Context, req automation.ExecuteRequest) (map[string]any, error) {
	return map[string]any{"done": true}, nil
}

func (okBackend) Stop(ctx context.Context, reference string) error { return nil }

func newService(t *testing.T, st store.Store) *Service {
	t.Helper()
	cfg := engine.Config{
		Retry: resilience.RetryPolicy{
			MaxAttempts: 2,
			BaseDelay:   time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
		},
		Breaker: resilience.DefaultBreakerConfig(),
	}
	eng := engine.New(st, okBackend{}, cfg, nil)

	reg := registry.New()
	reg.Register(&registry.Template{
		ID:             "product-publish",
		Name:           "Product Publisher",
		Category:       "catalog",
		RequiredInputs: []string{"title", "price"},
		TriggerType:    registry.TriggerManual,
	})
	return New(reg, eng, nil)
}

func TestExecuteFromTemplateSuccess(t *testing.T) {
	st := memory.New()
	svc := newService(t, st)

	exec, err := svc.ExecuteFromTemplate(context.Background(), "product-publish", map[string]any{
		"title": "Widget",
		"price": 19.99,
	}, "")
	require.NoError(t, err)

	assert.Equal(t, store.StatusCompleted, exec.Status)
	assert.Equal(t, "manual", exec.TriggerType)
	assert.Equal(t, "Product Publisher", exec.WorkflowName)

	tpl, err := svc.Registry().Get("product-publish")
	require.NoError(t, err)
	assert.Equal(t, int64(1), tpl.Popularity)
}

func TestExecuteFromTemplateMissingInputsFailsFast(t *testing.T) {
	st := memory.New()
	svc := newService(t, st)

	_, err := svc.ExecuteFromTemplate(context.Background(), "product-publish", map[string]any{
		"title": "Widget",
	}, "")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
	assert.Contains(t, err.Error(), "price")

	// Rejected before submission: no record and no popularity bump.
	list, lerr := st.List(context.Background(), store.Filter{})
	require.NoError(t, lerr)
	assert.Empty(t, list)

	tpl, terr := svc.Registry().Get("product-publish")
	require.NoError(t, terr)
	assert.Equal(t, int64(0), tpl.Popularity)
}

func TestExecuteFromTemplateUnknownTemplate(t *testing.T) {
	svc := newService(t, memory.New())

	_, err := svc.ExecuteFromTemplate(context.Background(), "ghost", nil, "")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestExecuteFromTemplateRejectsBadTriggerType(t *testing.T) {
	svc := newService(t, memory.New())

	_, err := svc.ExecuteFromTemplate(context.Background(), "product-publish", map[string]any{
		"title": "Widget", "price": 1,
	}, "carrier-pigeon")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestExecuteTriggeredSkipsInputValidation(t *testing.T) {
	st := memory.New()
	svc := newService(t, st)

	// No input at all, despite the template's required keys: trigger
	// firings are not held to manual-call validation.
	execID, err := svc.ExecuteTriggered(context.Background(), "product-publish", registry.TriggerScheduled, nil, 0)
	require.NoError(t, err)
	require.NotEmpty(t, execID)

	got, err := st.Get(context.Background(), execID)
	require.NoError(t, err)
	assert.Equal(t, "scheduled", got.TriggerType)
	assert.Equal(t, "Product Publisher", got.WorkflowName)
}

func TestExecuteTriggeredUnknownWorkflowUsesIDAsName(t *testing.T) {
	st := memory.New()
	svc := newService(t, st)

	execID, err := svc.ExecuteTriggered(context.Background(), "wf-external", registry.TriggerWebhook, map[string]any{"k": "v"}, 0)
	require.NoError(t, err)

	got, err := st.Get(context.Background(), execID)
	require.NoError(t, err)
	assert.Equal(t, "wf-external", got.WorkflowName)
}

type fixedCounter int

func (c fixedCounter) ScheduleCount() int { return int(c) }

func TestHealthSnapshot(t *testing.T) {
	svc := newService(t, memory.New())
	svc.SetScheduleCounter(fixedCounter(3))

	h := svc.Health()
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 1, h.TemplateCount)
	assert.Equal(t, 3, h.ScheduleCount)
	assert.Equal(t, resilience.StateClosed, h.Breaker.State)
}
