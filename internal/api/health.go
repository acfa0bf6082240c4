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
	"net/http"

	"github.com/Krosebrook/storeflow/internal/httputil"
	"github.com/Krosebrook/storeflow/internal/service"
)

// HealthHandler reports daemon health.
type HealthHandler struct {
	svc *service.Service
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(svc *service.Service) *HealthHandler {
	return &HealthHandler{svc: svc}
}

// RegisterRoutes registers the health route on the router.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
}

// handleHealth returns the health snapshot. A degraded engine still
// answers 200 so load balancers keep the process reachable; the body
// carries the detail.
func (h *HealthHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.svc.Health())
}
