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

package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Krosebrook/storeflow/internal/jqmap"
	"github.com/Krosebrook/storeflow/internal/log"
	"github.com/Krosebrook/storeflow/internal/registry"
	"github.com/Krosebrook/storeflow/pkg/automation"
	pkgerrors "github.com/Krosebrook/storeflow/pkg/errors"
)

// Executor runs workflows on behalf of fired triggers.
type Executor interface {
	// ExecuteTriggered runs the workflow identified by workflowID with
	// the given input. MaxRetries of zero uses the engine default.
	ExecuteTriggered(ctx context.Context, workflowID string, triggerType registry.TriggerType, input map[string]any, maxRetries int) (string, error)
}

// Manager owns trigger registrations and their firing mechanisms. An
// enabled trigger is actively wired: scheduled triggers hold a live cron
// job, webhook and event triggers sit in lookup indexes. A disabled
// trigger is inert.
type Manager struct {
	mu       sync.RWMutex
	triggers map[string]*Trigger
	byEvent  map[string]map[string]struct{} // event type -> enabled trigger ids
	byPath   map[string]string              // webhook path -> enabled trigger id

	executor  Executor
	scheduler Scheduler
	mapper    *jqmap.Mapper
	eval      *evaluator
	logger    *slog.Logger

	// firings tracks in-flight event fan-outs for graceful shutdown.
	firings sync.WaitGroup
	closed  bool
}

// NewManager creates a trigger manager firing executions through the
// executor via the given scheduler.
func NewManager(executor Executor, scheduler Scheduler, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		triggers:  make(map[string]*Trigger),
		byEvent:   make(map[string]map[string]struct{}),
		byPath:    make(map[string]string),
		executor:  executor,
		scheduler: scheduler,
		mapper:    jqmap.New(0, 0),
		eval:      newEvaluator(),
		logger:    logger.With("component", "trigger"),
	}
}

// Register validates and stores a trigger. When t.Enabled, the firing
// mechanism is wired immediately. A missing ID is assigned.
func (m *Manager) Register(t *Trigger) (*Trigger, error) {
	if t == nil {
		return nil, &pkgerrors.ValidationError{Field: "trigger", Message: "trigger is required"}
	}
	if err := m.validate(t); err != nil {
		return nil, err
	}

	stored := t.clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	stored.CreatedAt = time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("trigger manager is shut down")
	}
	if stored.Type == registry.TriggerWebhook && stored.Enabled {
		if other, taken := m.byPath[stored.Webhook.Path]; taken && other != stored.ID {
			return nil, &pkgerrors.ValidationError{
				Field:      "path",
				Message:    fmt.Sprintf("webhook path %q is already bound to trigger %s", stored.Webhook.Path, other),
				Suggestion: "choose a distinct path per webhook trigger",
			}
		}
	}

	if stored.Enabled {
		if err := m.wire(stored); err != nil {
			return nil, err
		}
	}
	m.triggers[stored.ID] = stored

	m.logger.Info("trigger registered",
		log.TriggerKey, stored.ID,
		log.TriggerTypeKey, string(stored.Type),
		log.WorkflowKey, stored.WorkflowID,
		"enabled", stored.Enabled,
	)
	return stored.clone(), nil
}

// validate checks the type-specific config without touching manager state.
func (m *Manager) validate(t *Trigger) error {
	if t.WorkflowID == "" {
		return &pkgerrors.ValidationError{Field: "workflow_id", Message: "workflow_id is required"}
	}

	switch t.Type {
	case registry.TriggerScheduled:
		if t.Schedule == nil || t.Schedule.Cron == "" {
			return &pkgerrors.ValidationError{Field: "schedule.cron", Message: "scheduled triggers require a cron expression"}
		}
		if err := ValidateCron(t.Schedule.Cron); err != nil {
			return err
		}
		if err := ValidateTimezone(t.Schedule.Timezone); err != nil {
			return err
		}
	case registry.TriggerWebhook:
		if t.Webhook == nil || t.Webhook.Path == "" {
			return &pkgerrors.ValidationError{Field: "webhook.path", Message: "webhook triggers require a path"}
		}
		// Deliveries are only routed under /hooks/, so any other path
		// would register a webhook that can never fire.
		if !strings.HasPrefix(t.Webhook.Path, "/hooks/") || t.Webhook.Path == "/hooks/" {
			return &pkgerrors.ValidationError{
				Field:      "webhook.path",
				Message:    fmt.Sprintf("path %q must be under /hooks/", t.Webhook.Path),
				Suggestion: "use a path such as /hooks/orders",
			}
		}
		if err := m.mapper.Validate(t.Webhook.InputMapping); err != nil {
			return &pkgerrors.ValidationError{Field: "webhook.input_mapping", Message: err.Error()}
		}
	case registry.TriggerEvent:
		if t.Event == nil || t.Event.EventType == "" {
			return &pkgerrors.ValidationError{Field: "event.event_type", Message: "event triggers require an event type"}
		}
		if err := m.eval.Validate(t.Event.Expression); err != nil {
			return err
		}
	default:
		return &pkgerrors.ValidationError{
			Field:      "type",
			Message:    fmt.Sprintf("unknown trigger type %q", t.Type),
			Suggestion: "use scheduled, webhook, or event",
		}
	}
	return nil
}

// wire attaches the firing mechanism. Caller holds m.mu.
func (m *Manager) wire(t *Trigger) error {
	switch t.Type {
	case registry.TriggerScheduled:
		handle, err := m.scheduler.Schedule(t.Schedule.Cron, t.Schedule.Timezone, m.tickFunc(t.ID))
		if err != nil {
			return err
		}
		t.handle = handle
	case registry.TriggerWebhook:
		m.byPath[t.Webhook.Path] = t.ID
	case registry.TriggerEvent:
		ids, ok := m.byEvent[t.Event.EventType]
		if !ok {
			ids = make(map[string]struct{})
			m.byEvent[t.Event.EventType] = ids
		}
		ids[t.ID] = struct{}{}
	}
	return nil
}

// unwire detaches the firing mechanism. Caller holds m.mu.
func (m *Manager) unwire(t *Trigger) {
	switch t.Type {
	case registry.TriggerScheduled:
		if t.handle != nil {
			t.handle.Stop()
			t.handle = nil
		}
	case registry.TriggerWebhook:
		if m.byPath[t.Webhook.Path] == t.ID {
			delete(m.byPath, t.Webhook.Path)
		}
	case registry.TriggerEvent:
		if ids, ok := m.byEvent[t.Event.EventType]; ok {
			delete(ids, t.ID)
			if len(ids) == 0 {
				delete(m.byEvent, t.Event.EventType)
			}
		}
	}
}

// tickFunc builds the cron callback for a scheduled trigger. The trigger
// is re-read on every tick so enable state and retry budget stay current.
func (m *Manager) tickFunc(id string) func() {
	return func() {
		m.mu.RLock()
		t, ok := m.triggers[id]
		var workflowID string
		var maxRetries int
		enabled := ok && t.Enabled
		if enabled {
			workflowID = t.WorkflowID
			maxRetries = t.Schedule.MaxRetries
		}
		m.mu.RUnlock()
		if !enabled {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		_, err := m.executor.ExecuteTriggered(ctx, workflowID, registry.TriggerScheduled, nil, maxRetries)
		recordFiring(string(registry.TriggerScheduled), err)
		if err != nil {
			m.logger.Error("scheduled trigger execution failed",
				log.TriggerKey, id,
				log.WorkflowKey, workflowID,
				"error", err,
			)
		}
	}
}

// Enable wires a disabled trigger.
func (m *Manager) Enable(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.triggers[id]
	if !ok {
		return &pkgerrors.NotFoundError{Resource: "trigger", ID: id}
	}
	if t.Enabled {
		return nil
	}
	if t.Type == registry.TriggerWebhook {
		if other, taken := m.byPath[t.Webhook.Path]; taken && other != t.ID {
			return &pkgerrors.ValidationError{
				Field:   "path",
				Message: fmt.Sprintf("webhook path %q is already bound to trigger %s", t.Webhook.Path, other),
			}
		}
	}
	if err := m.wire(t); err != nil {
		return err
	}
	t.Enabled = true
	m.logger.Info("trigger enabled", log.TriggerKey, id)
	return nil
}

// Disable detaches a trigger's firing mechanism. The registration stays.
func (m *Manager) Disable(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.triggers[id]
	if !ok {
		return &pkgerrors.NotFoundError{Resource: "trigger", ID: id}
	}
	if !t.Enabled {
		return nil
	}
	m.unwire(t)
	t.Enabled = false
	m.logger.Info("trigger disabled", log.TriggerKey, id)
	return nil
}

// Remove unregisters a trigger, stopping its firing mechanism.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.triggers[id]
	if !ok {
		return &pkgerrors.NotFoundError{Resource: "trigger", ID: id}
	}
	if t.Enabled {
		m.unwire(t)
	}
	delete(m.triggers, id)
	m.logger.Info("trigger removed", log.TriggerKey, id)
	return nil
}

// Get returns one trigger registration.
func (m *Manager) Get(id string) (*Trigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.triggers[id]
	if !ok {
		return nil, &pkgerrors.NotFoundError{Resource: "trigger", ID: id}
	}
	return t.clone(), nil
}

// List returns all registered triggers ordered by ID.
func (m *Manager) List() []*Trigger {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Trigger, 0, len(m.triggers))
	for _, t := range m.triggers {
		out = append(out, t.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HandleWebhook resolves an inbound delivery to its trigger and fires the
// execution. The signature is verified before the payload is parsed.
func (m *Manager) HandleWebhook(ctx context.Context, path, method string, body []byte, signature string) (string, error) {
	m.mu.RLock()
	id, ok := m.byPath[path]
	var t *Trigger
	if ok {
		t = m.triggers[id].clone()
	}
	m.mu.RUnlock()

	if t == nil || !t.Enabled {
		return "", &pkgerrors.NotFoundError{Resource: "webhook", ID: path}
	}
	if t.Webhook.Method != "" && !strings.EqualFold(t.Webhook.Method, method) {
		return "", &pkgerrors.ValidationError{
			Field:   "method",
			Message: fmt.Sprintf("webhook %s accepts %s, got %s", path, t.Webhook.Method, method),
		}
	}
	if err := automation.VerifySignature(body, signature, t.Webhook.Secret); err != nil {
		return "", err
	}

	payload := map[string]any{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			return "", &pkgerrors.ValidationError{
				Field:      "body",
				Message:    fmt.Sprintf("invalid JSON payload: %s", err),
				Suggestion: "send a JSON object body with Content-Type: application/json",
			}
		}
	}

	input, err := m.mapper.Apply(ctx, t.Webhook.InputMapping, payload)
	if err != nil {
		return "", err
	}

	m.logger.Info("webhook delivery accepted",
		log.TriggerKey, t.ID,
		log.WorkflowKey, t.WorkflowID,
		"path", path,
	)
	execID, err := m.executor.ExecuteTriggered(ctx, t.WorkflowID, registry.TriggerWebhook, input, 0)
	recordFiring(string(registry.TriggerWebhook), err)
	return execID, err
}

// FiredResult is the outcome of one trigger firing during an event fan-out.
type FiredResult struct {
	TriggerID   string `json:"trigger_id"`
	WorkflowID  string `json:"workflow_id"`
	ExecutionID string `json:"execution_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

// EmitEvent fans the event out to every matching enabled trigger. Firings
// run concurrently and are isolated: one failure never stops the others.
// The call returns once all firings have settled.
func (m *Manager) EmitEvent(ctx context.Context, eventType string, data map[string]any) []FiredResult {
	m.mu.RLock()
	var matched []*Trigger
	for id := range m.byEvent[eventType] {
		t := m.triggers[id]
		if t == nil || !t.Enabled {
			continue
		}
		matched = append(matched, t.clone())
	}
	m.mu.RUnlock()

	var candidates []*Trigger
	for _, t := range matched {
		if !matchFilters(t.Event.Filters, data) {
			continue
		}
		ok, err := m.eval.Evaluate(t.Event.Expression, data)
		if err != nil {
			m.logger.Warn("event expression failed, skipping trigger",
				log.TriggerKey, t.ID,
				log.EventKey, eventType,
				"error", err,
			)
			continue
		}
		if !ok {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return nil
	}

	results := make([]FiredResult, len(candidates))
	var wg sync.WaitGroup
	for i, t := range candidates {
		wg.Add(1)
		m.firings.Add(1)
		go func(i int, t *Trigger) {
			defer wg.Done()
			defer m.firings.Done()

			res := FiredResult{TriggerID: t.ID, WorkflowID: t.WorkflowID}
			execID, err := m.executor.ExecuteTriggered(ctx, t.WorkflowID, registry.TriggerEvent, data, 0)
			recordFiring(string(registry.TriggerEvent), err)
			res.ExecutionID = execID
			if err != nil {
				res.Error = err.Error()
				m.logger.Error("event trigger execution failed",
					log.TriggerKey, t.ID,
					log.EventKey, eventType,
					log.WorkflowKey, t.WorkflowID,
					"error", err,
				)
			}
			results[i] = res
		}(i, t)
	}
	wg.Wait()

	m.logger.Info("event fan-out settled", log.EventKey, eventType, "fired", len(results))
	return results
}

// DispatchEvent fires EmitEvent in the background, detached from the
// caller's request context. Shutdown waits for dispatched fan-outs.
func (m *Manager) DispatchEvent(eventType string, data map[string]any) int {
	m.mu.RLock()
	matching := 0
	for id := range m.byEvent[eventType] {
		if t := m.triggers[id]; t != nil && t.Enabled {
			matching++
		}
	}
	closed := m.closed
	m.mu.RUnlock()

	if closed || matching == 0 {
		return matching
	}

	m.firings.Add(1)
	go func() {
		defer m.firings.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		m.EmitEvent(ctx, eventType, data)
	}()
	return matching
}

// ScheduleCount returns the number of enabled scheduled triggers, for
// health reporting.
func (m *Manager) ScheduleCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, t := range m.triggers {
		if t.Type == registry.TriggerScheduled && t.Enabled {
			n++
		}
	}
	return n
}

// Shutdown stops every cron job and waits for in-flight event fan-outs.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	for _, t := range m.triggers {
		if t.Enabled {
			m.unwire(t)
			t.Enabled = false
		}
	}
	m.mu.Unlock()

	m.firings.Wait()
	m.logger.Info("trigger manager stopped")
}
