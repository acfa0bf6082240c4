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

// Package service is the workflow façade combining the template registry,
// the trigger manager, and the execution engine. It is the only entry
// point the API layer talks to.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Krosebrook/storeflow/internal/engine"
	"github.com/Krosebrook/storeflow/internal/log"
	"github.com/Krosebrook/storeflow/internal/registry"
	"github.com/Krosebrook/storeflow/internal/store"
	"github.com/Krosebrook/storeflow/pkg/errors"
	"github.com/Krosebrook/storeflow/pkg/resilience"
)

// ScheduleCounter reports how many scheduled triggers are live. Implemented
// by the trigger manager; kept as an interface so the service has no
// structural dependency on trigger wiring.
type ScheduleCounter interface {
	ScheduleCount() int
}

// Service fronts template lookup, input validation, and execution.
type Service struct {
	registry  *registry.Registry
	engine    *engine.Engine
	schedules ScheduleCounter
	logger    *slog.Logger
}

// New creates the workflow service.
func New(reg *registry.Registry, eng *engine.Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry: reg,
		engine:   eng,
		logger:   logger.With("component", "service"),
	}
}

// SetScheduleCounter attaches the trigger manager for health reporting.
// Called once during daemon wiring, after the manager exists.
func (s *Service) SetScheduleCounter(c ScheduleCounter) {
	s.schedules = c
}

// Registry exposes the template catalog.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// ExecuteFromTemplate validates input against the template and runs it.
// Validation failures are rejected before any execution record exists.
// The template's popularity counter moves once the engine call has been
// issued, whether or not the run ultimately succeeds.
func (s *Service) ExecuteFromTemplate(ctx context.Context, templateID string, input map[string]any, triggerType registry.TriggerType) (*store.Execution, error) {
	tpl, err := s.registry.Get(templateID)
	if err != nil {
		return nil, err
	}

	if triggerType == "" {
		triggerType = registry.TriggerManual
	}
	if !triggerType.Valid() {
		return nil, &errors.ValidationError{
			Field:      "trigger_type",
			Message:    fmt.Sprintf("unknown trigger type %q", triggerType),
			Suggestion: "use manual, scheduled, webhook, or event",
		}
	}

	if missing := missingInputs(tpl.RequiredInputs, input); len(missing) > 0 {
		return nil, &errors.ValidationError{
			Field:      "input_data",
			Message:    fmt.Sprintf("missing required inputs: %s", strings.Join(missing, ", ")),
			Suggestion: fmt.Sprintf("template %s requires: %s", tpl.ID, strings.Join(tpl.RequiredInputs, ", ")),
		}
	}

	exec, execErr := s.engine.Execute(ctx, engine.Request{
		WorkflowID:   tpl.ID,
		WorkflowName: tpl.Name,
		TriggerType:  string(triggerType),
		Input:        input,
	})
	s.registry.IncrementPopularity(tpl.ID)
	return exec, execErr
}

// ExecuteTriggered runs a workflow on behalf of a fired trigger. Trigger
// firings carry whatever input their mechanism produced, so required-input
// validation does not apply here; the remote workflow is the arbiter.
func (s *Service) ExecuteTriggered(ctx context.Context, workflowID string, triggerType registry.TriggerType, input map[string]any, maxRetries int) (string, error) {
	name := workflowID
	if tpl, err := s.registry.Get(workflowID); err == nil {
		name = tpl.Name
	}

	exec, err := s.engine.Execute(ctx, engine.Request{
		WorkflowID:   workflowID,
		WorkflowName: name,
		TriggerType:  string(triggerType),
		Input:        input,
		MaxRetries:   maxRetries,
	})
	if exec == nil {
		return "", err
	}
	if err != nil {
		s.logger.Warn("triggered execution failed",
			log.ExecutionIDKey, exec.ID,
			log.WorkflowKey, workflowID,
			log.TriggerTypeKey, string(triggerType),
			"error", err,
		)
	}
	return exec.ID, err
}

// GetExecution returns one execution record.
func (s *Service) GetExecution(ctx context.Context, id string) (*store.Execution, error) {
	return s.engine.Get(ctx, id)
}

// ListExecutions returns execution history, most recent first.
func (s *Service) ListExecutions(ctx context.Context, f store.Filter) ([]*store.Execution, error) {
	return s.engine.List(ctx, f)
}

// CancelExecution cancels a running execution.
func (s *Service) CancelExecution(ctx context.Context, id string) (*store.Execution, error) {
	return s.engine.Cancel(ctx, id)
}

// Stats aggregates execution counts, optionally scoped to one workflow.
func (s *Service) Stats(ctx context.Context, workflowID string) (*store.Stats, error) {
	return s.engine.Stats(ctx, workflowID)
}

// Health is the daemon health snapshot.
type Health struct {
	Status        string                  `json:"status"`
	TemplateCount int                     `json:"template_count"`
	ScheduleCount int                     `json:"schedule_count"`
	Breaker       resilience.BreakerStats `json:"circuit_breaker"`
}

// Health reports engine availability. Status is degraded while the
// automation breaker is open.
func (s *Service) Health() Health {
	breaker := s.engine.BreakerStats()

	status := "ok"
	if breaker.State == resilience.StateOpen {
		status = "degraded"
	}

	scheduleCount := 0
	if s.schedules != nil {
		scheduleCount = s.schedules.ScheduleCount()
	}

	return Health{
		Status:        status,
		TemplateCount: s.registry.Count(),
		ScheduleCount: scheduleCount,
		Breaker:       breaker,
	}
}

func missingInputs(required []string, input map[string]any) []string {
	var missing []string
	for _, key := range required {
		if _, ok := input[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}
