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
	"io"
	"log/slog"
	"net/http"

	"github.com/Krosebrook/storeflow/internal/httputil"
	"github.com/Krosebrook/storeflow/internal/log"
	"github.com/Krosebrook/storeflow/internal/trigger"
)

// maxWebhookBody caps inbound webhook payloads at 1MB.
const maxWebhookBody = 1 << 20

// TriggersHandler serves trigger management, event emission, and inbound
// webhook deliveries.
type TriggersHandler struct {
	triggers *trigger.Manager
	logger   *slog.Logger
}

// NewTriggersHandler creates a triggers handler.
func NewTriggersHandler(m *trigger.Manager, logger *slog.Logger) *TriggersHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TriggersHandler{triggers: m, logger: logger}
}

// RegisterRoutes registers trigger routes on the router. Webhook
// deliveries land under /hooks/ so trigger paths never collide with the
// management API.
func (h *TriggersHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /triggers", h.handleRegister)
	mux.HandleFunc("GET /triggers", h.handleList)
	mux.HandleFunc("GET /triggers/{id}", h.handleGet)
	mux.HandleFunc("DELETE /triggers/{id}", h.handleRemove)
	mux.HandleFunc("POST /triggers/{id}/enable", h.handleEnable)
	mux.HandleFunc("POST /triggers/{id}/disable", h.handleDisable)
	mux.HandleFunc("POST /events", h.handleEmitEvent)
	mux.HandleFunc("/hooks/", h.handleWebhook)
}

// handleRegister creates a trigger binding.
func (h *TriggersHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var t trigger.Trigger
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	registered, err := h.triggers.Register(&t)
	if err != nil {
		httputil.WriteError(w, statusFor(err), err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, registered)
}

// handleList returns all trigger registrations.
func (h *TriggersHandler) handleList(w http.ResponseWriter, r *http.Request) {
	triggers := h.triggers.List()
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"triggers": triggers,
		"count":    len(triggers),
	})
}

// handleGet returns one trigger registration.
func (h *TriggersHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	t, err := h.triggers.Get(r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, statusFor(err), err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

// handleRemove unregisters a trigger.
func (h *TriggersHandler) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := h.triggers.Remove(r.PathValue("id")); err != nil {
		httputil.WriteError(w, statusFor(err), err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// handleEnable wires a disabled trigger.
func (h *TriggersHandler) handleEnable(w http.ResponseWriter, r *http.Request) {
	if err := h.triggers.Enable(r.PathValue("id")); err != nil {
		httputil.WriteError(w, statusFor(err), err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}

// handleDisable detaches a trigger's firing mechanism.
func (h *TriggersHandler) handleDisable(w http.ResponseWriter, r *http.Request) {
	if err := h.triggers.Disable(r.PathValue("id")); err != nil {
		httputil.WriteError(w, statusFor(err), err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}

type emitEventRequest struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
}

// handleEmitEvent fans an application event out to matching triggers.
// Fire-and-forget: the response acknowledges dispatch, not completion.
func (h *TriggersHandler) handleEmitEvent(w http.ResponseWriter, r *http.Request) {
	var req emitEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.EventType == "" {
		httputil.WriteError(w, http.StatusBadRequest, "event_type is required")
		return
	}

	matched := h.triggers.DispatchEvent(req.EventType, req.Data)
	h.logger.Info("event dispatched", log.EventKey, req.EventType, "matched", matched)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]any{
		"event_type": req.EventType,
		"matched":    matched,
	})
}

// handleWebhook feeds an inbound delivery to its bound trigger. The
// signature comes from X-Webhook-Signature (sha256=<hex>) or X-Signature.
func (h *TriggersHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")
	if signature == "" {
		signature = r.Header.Get("X-Signature")
	}

	executionID, err := h.triggers.HandleWebhook(r.Context(), r.URL.Path, r.Method, body, signature)
	if err != nil {
		if executionID != "" {
			// The delivery was accepted and the run failed downstream.
			httputil.WriteJSON(w, http.StatusBadGateway, map[string]string{
				"execution_id": executionID,
				"error":        err.Error(),
			})
			return
		}
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			// Signature mismatches surface as plain errors.
			status = http.StatusUnauthorized
		}
		httputil.WriteError(w, status, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"execution_id": executionID})
}
