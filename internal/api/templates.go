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
	"net/http"

	"github.com/Krosebrook/storeflow/internal/httputil"
	"github.com/Krosebrook/storeflow/internal/registry"
	"github.com/Krosebrook/storeflow/internal/service"
)

// TemplatesHandler serves the workflow template catalog.
type TemplatesHandler struct {
	svc *service.Service
}

// NewTemplatesHandler creates a templates handler.
func NewTemplatesHandler(svc *service.Service) *TemplatesHandler {
	return &TemplatesHandler{svc: svc}
}

// RegisterRoutes registers template routes on the router.
func (h *TemplatesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /templates", h.handleList)
	mux.HandleFunc("GET /templates/{id}", h.handleGet)
	mux.HandleFunc("POST /templates", h.handleRegister)
}

// handleList returns templates, optionally filtered by category and
// trigger type, most popular first.
func (h *TemplatesHandler) handleList(w http.ResponseWriter, r *http.Request) {
	f := registry.Filter{
		Category:    r.URL.Query().Get("category"),
		TriggerType: registry.TriggerType(r.URL.Query().Get("trigger_type")),
	}
	templates := h.svc.Registry().List(f)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"templates": templates,
		"count":     len(templates),
	})
}

// handleGet returns one template.
func (h *TemplatesHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.svc.Registry().Get(r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, statusFor(err), err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tpl)
}

// handleRegister adds or overwrites a template. Last write wins on
// identical ids.
func (h *TemplatesHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var tpl registry.Template
	if err := json.NewDecoder(r.Body).Decode(&tpl); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if tpl.ID == "" || tpl.Name == "" {
		httputil.WriteError(w, http.StatusBadRequest, "template id and name are required")
		return
	}
	if tpl.TriggerType != "" && !tpl.TriggerType.Valid() {
		httputil.WriteError(w, http.StatusBadRequest, "unknown trigger type: "+string(tpl.TriggerType))
		return
	}

	h.svc.Registry().Register(&tpl)
	httputil.WriteJSON(w, http.StatusCreated, tpl)
}
