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

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Krosebrook/storeflow/internal/engine"
	"github.com/Krosebrook/storeflow/internal/registry"
	"github.com/Krosebrook/storeflow/internal/service"
	"github.com/Krosebrook/storeflow/internal/store/memory"
	"github.com/Krosebrook/storeflow/internal/trigger"
	"github.com/Krosebrook/storeflow/pkg/automation"
	"github.com/Krosebrook/storeflow/pkg/resilience"
)

type scriptedBackend struct {
	err error
}

func (b *scriptedBackend) Execute(ctx context.Context, req automation.ExecuteRequest) (map[string]any, error) {
	if b.err != nil {
		return nil, b.err
	}
	return map[string]any{"handled": req.WorkflowID}, nil
}

func (b *scriptedBackend) Stop(ctx context.Context, reference string) error { return nil }

func newTestServer(t *testing.T, backend engine.Backend) (*httptest.Server, *trigger.Manager) {
	t.Helper()

	st := memory.New()
	cfg := engine.Config{
		Retry: resilience.RetryPolicy{
			MaxAttempts: 2,
			BaseDelay:   time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
		},
		Breaker: resilience.DefaultBreakerConfig(),
	}
	eng := engine.New(st, backend, cfg, nil)
	svc := service.New(registry.NewWithBuiltins(), eng, nil)

	mgr := trigger.NewManager(svc, trigger.NewCronScheduler(), nil)
	svc.SetScheduleCounter(mgr)

	srv := httptest.NewServer(NewRouter(svc, mgr, nil))
	t.Cleanup(srv.Close)
	t.Cleanup(mgr.Shutdown)
	return srv, mgr
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestListTemplates(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedBackend{})

	resp, err := http.Get(srv.URL + "/templates")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Greater(t, body["count"].(float64), float64(0))
}

func TestGetTemplateNotFound(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedBackend{})

	resp, err := http.Get(srv.URL + "/templates/ghost")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRegisterTemplate(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedBackend{})

	resp := postJSON(t, srv.URL+"/templates", map[string]any{
		"id":   "flash-sale",
		"name": "Flash Sale Kickoff",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	got, err := http.Get(srv.URL + "/templates/flash-sale")
	require.NoError(t, err)
	got.Body.Close()
	assert.Equal(t, http.StatusOK, got.StatusCode)
}

func TestExecuteTemplate(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedBackend{})

	resp := postJSON(t, srv.URL+"/execute", map[string]any{
		"template_id": "product-publish",
		"input_data": map[string]any{
			"title":       "Widget",
			"description": "A fine widget",
			"price":       9.99,
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.NotEmpty(t, body["execution_id"])
	exec := body["execution"].(map[string]any)
	assert.Equal(t, "completed", exec["status"])
}

func TestExecuteTemplateMissingInput(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedBackend{})

	resp := postJSON(t, srv.URL+"/execute", map[string]any{
		"template_id": "product-publish",
		"input_data":  map[string]any{"title": "Widget"},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExecuteUnknownTemplate(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedBackend{})

	resp := postJSON(t, srv.URL+"/execute", map[string]any{"template_id": "ghost"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExecutionLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedBackend{})

	resp := postJSON(t, srv.URL+"/execute", map[string]any{
		"template_id": "order-sync",
		"input_data":  map[string]any{},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	execID := decodeBody(t, resp)["execution_id"].(string)

	got, err := http.Get(srv.URL + "/executions/" + execID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, got.StatusCode)
	record := decodeBody(t, got)
	assert.Equal(t, "completed", record["status"])

	// Cancelling a completed execution is rejected.
	cancel := postJSON(t, srv.URL+"/executions/"+execID+"/cancel", map[string]any{})
	cancel.Body.Close()
	assert.Equal(t, http.StatusBadRequest, cancel.StatusCode)

	list, err := http.Get(srv.URL + "/executions?status=completed")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, list.StatusCode)
	assert.Equal(t, float64(1), decodeBody(t, list)["count"])

	stats, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	statsBody := decodeBody(t, stats)
	assert.Equal(t, float64(1), statsBody["total"])
	assert.Equal(t, float64(1), statsBody["completed"])
}

func TestListExecutionsRejectsBadStatus(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedBackend{})

	resp, err := http.Get(srv.URL + "/executions?status=exploded")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookTriggerOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedBackend{})

	resp := postJSON(t, srv.URL+"/triggers", map[string]any{
		"workflow_id": "review-request",
		"type":        "webhook",
		"enabled":     true,
		"webhook": map[string]any{
			"path": "/hooks/orders",
			"input_mapping": map[string]any{
				"orderId": ".order.id",
			},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	delivery := postJSON(t, srv.URL+"/hooks/orders", map[string]any{
		"order": map[string]any{"id": "ord-99"},
	})
	require.Equal(t, http.StatusOK, delivery.StatusCode)
	assert.NotEmpty(t, decodeBody(t, delivery)["execution_id"])
}

func TestWebhookUnknownPath(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedBackend{})

	resp := postJSON(t, srv.URL+"/hooks/nothing", map[string]any{})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventEmissionOverHTTP(t *testing.T) {
	srv, mgr := newTestServer(t, &scriptedBackend{})

	_, err := mgr.Register(&trigger.Trigger{
		WorkflowID: "inventory-alert",
		Type:       registry.TriggerEvent,
		Enabled:    true,
		Event: &trigger.EventConfig{
			EventType: "inventory.low",
			Filters:   map[string]any{"critical": true},
		},
	})
	require.NoError(t, err)

	resp := postJSON(t, srv.URL+"/events", map[string]any{
		"event_type": "inventory.low",
		"data":       map[string]any{"critical": true, "sku": "sku-1"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, float64(1), decodeBody(t, resp)["matched"])
}

func TestTriggerManagementOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedBackend{})

	resp := postJSON(t, srv.URL+"/triggers", map[string]any{
		"workflow_id": "order-sync",
		"type":        "scheduled",
		"enabled":     true,
		"schedule":    map[string]any{"cron": "@hourly"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decodeBody(t, resp)["id"].(string)

	disable := postJSON(t, srv.URL+"/triggers/"+id+"/disable", nil)
	disable.Body.Close()
	assert.Equal(t, http.StatusOK, disable.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/triggers/"+id, nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, http.StatusOK, del.StatusCode)

	missing, err := http.Get(srv.URL + "/triggers/" + id)
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestTriggerRegistrationRejectsBadCron(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedBackend{})

	resp := postJSON(t, srv.URL+"/triggers", map[string]any{
		"workflow_id": "order-sync",
		"type":        "scheduled",
		"enabled":     true,
		"schedule":    map[string]any{"cron": "whenever"},
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedBackend{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Greater(t, body["template_count"].(float64), float64(0))
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedBackend{})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
