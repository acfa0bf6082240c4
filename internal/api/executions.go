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
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Krosebrook/storeflow/internal/httputil"
	"github.com/Krosebrook/storeflow/internal/log"
	"github.com/Krosebrook/storeflow/internal/registry"
	"github.com/Krosebrook/storeflow/internal/service"
	"github.com/Krosebrook/storeflow/internal/store"
)

// ExecutionsHandler serves execution submission and history.
type ExecutionsHandler struct {
	svc    *service.Service
	logger *slog.Logger
}

// NewExecutionsHandler creates an executions handler.
func NewExecutionsHandler(svc *service.Service, logger *slog.Logger) *ExecutionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecutionsHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers execution routes on the router.
func (h *ExecutionsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /execute", h.handleExecute)
	mux.HandleFunc("GET /executions", h.handleList)
	mux.HandleFunc("GET /executions/{id}", h.handleGet)
	mux.HandleFunc("POST /executions/{id}/cancel", h.handleCancel)
	mux.HandleFunc("GET /stats", h.handleStats)
}

type executeRequest struct {
	TemplateID  string         `json:"template_id"`
	InputData   map[string]any `json:"input_data"`
	TriggerType string         `json:"trigger_type,omitempty"`
}

// handleExecute runs a template synchronously. The response carries the
// full terminal record; a failed run is a 502 with the execution attached
// so callers can read the error message and retry count.
func (h *ExecutionsHandler) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.TemplateID == "" {
		httputil.WriteError(w, http.StatusBadRequest, "template_id is required")
		return
	}

	exec, err := h.svc.ExecuteFromTemplate(r.Context(), req.TemplateID, req.InputData, registry.TriggerType(req.TriggerType))
	if err != nil {
		if exec == nil {
			httputil.WriteError(w, statusFor(err), err.Error())
			return
		}
		// The run happened and failed; the record tells the story.
		h.logger.Warn("execution failed", log.ExecutionIDKey, exec.ID, "error", err)
		httputil.WriteJSON(w, http.StatusBadGateway, map[string]any{
			"execution_id": exec.ID,
			"execution":    exec,
			"error":        err.Error(),
		})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"execution_id": exec.ID,
		"execution":    exec,
	})
}

// handleList returns execution history filtered by workflow_id, status,
// and limit.
func (h *ExecutionsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filter{
		WorkflowID: q.Get("workflow_id"),
		Status:     store.Status(q.Get("status")),
	}
	if f.Status != "" && !f.Status.Valid() {
		httputil.WriteError(w, http.StatusBadRequest, "unknown status: "+string(f.Status))
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			httputil.WriteError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = limit
	}

	executions, err := h.svc.ListExecutions(r.Context(), f)
	if err != nil {
		httputil.WriteError(w, statusFor(err), err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"executions": executions,
		"count":      len(executions),
	})
}

// handleGet returns one execution record.
func (h *ExecutionsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	exec, err := h.svc.GetExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, statusFor(err), err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, exec)
}

// handleCancel cancels a running execution.
func (h *ExecutionsHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	exec, err := h.svc.CancelExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, statusFor(err), err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, exec)
}

// handleStats returns aggregate execution counts, optionally scoped to one
// workflow via ?workflow_id=.
func (h *ExecutionsHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context(), r.URL.Query().Get("workflow_id"))
	if err != nil {
		httputil.WriteError(w, statusFor(err), err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}
