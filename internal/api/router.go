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

// Package api is the daemon's HTTP surface: template catalog, execution
// lifecycle, trigger management, event emission, webhooks, health, and
// metrics.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Krosebrook/storeflow/internal/service"
	"github.com/Krosebrook/storeflow/internal/store"
	"github.com/Krosebrook/storeflow/internal/trigger"
	pkgerrors "github.com/Krosebrook/storeflow/pkg/errors"
	"github.com/Krosebrook/storeflow/pkg/resilience"
)

// NewRouter builds the daemon's HTTP mux.
func NewRouter(svc *service.Service, triggers *trigger.Manager, logger *slog.Logger) *http.ServeMux {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "api")

	mux := http.NewServeMux()
	NewTemplatesHandler(svc).RegisterRoutes(mux)
	NewExecutionsHandler(svc, logger).RegisterRoutes(mux)
	NewTriggersHandler(triggers, logger).RegisterRoutes(mux)
	NewHealthHandler(svc).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case pkgerrors.IsValidation(err):
		return http.StatusBadRequest
	case pkgerrors.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, store.ErrNotRunning):
		return http.StatusConflict
	case pkgerrors.IsRateLimited(err):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
