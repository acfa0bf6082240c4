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

// Package trigger wires workflow templates to their firing mechanisms:
// cron schedules, inbound webhooks, and application events.
package trigger

import (
	"time"

	"github.com/Krosebrook/storeflow/internal/registry"
)

// ScheduleConfig configures a scheduled trigger.
type ScheduleConfig struct {
	// Cron is a standard five-field cron expression. @hourly style
	// descriptors are accepted too.
	Cron string `json:"cron" yaml:"cron"`

	// Timezone is an IANA timezone name. Default: UTC.
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`

	// MaxRetries bounds the engine's retry budget for executions fired by
	// this trigger. Zero uses the engine default.
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
}

// WebhookConfig configures a webhook trigger.
type WebhookConfig struct {
	// Path is the delivery path the trigger binds to, e.g.
	// "/hooks/orders". Matched exactly.
	Path string `json:"path" yaml:"path"`

	// Method restricts deliveries to one HTTP method. Empty accepts any.
	Method string `json:"method,omitempty" yaml:"method,omitempty"`

	// Secret enables HMAC-SHA256 signature verification of delivery
	// payloads. Empty disables verification.
	Secret string `json:"secret,omitempty" yaml:"secret,omitempty"`

	// InputMapping optionally maps payload fields into workflow input
	// keys with jq expressions. Nil passes the payload through.
	InputMapping map[string]string `json:"input_mapping,omitempty" yaml:"input_mapping,omitempty"`
}

// EventConfig configures an event trigger.
type EventConfig struct {
	// EventType is the application event the trigger listens for.
	EventType string `json:"event_type" yaml:"event_type"`

	// Filters are field-equality conditions against the event payload.
	// All keys must match exactly for the trigger to fire.
	Filters map[string]any `json:"filters,omitempty" yaml:"filters,omitempty"`

	// Expression is an optional boolean predicate evaluated against the
	// event payload, applied after Filters.
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// Trigger binds a workflow template to a firing mechanism. Exactly one of
// Schedule, Webhook, Event is set, matching Type.
type Trigger struct {
	ID         string               `json:"id"`
	WorkflowID string               `json:"workflow_id"`
	Type       registry.TriggerType `json:"type"`
	Enabled    bool                 `json:"enabled"`

	Schedule *ScheduleConfig `json:"schedule,omitempty"`
	Webhook  *WebhookConfig  `json:"webhook,omitempty"`
	Event    *EventConfig    `json:"event,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// handle is the live cron job while a scheduled trigger is enabled.
	handle Handle
}

// clone returns a copy safe to hand to callers. The live handle stays with
// the manager.
func (t *Trigger) clone() *Trigger {
	cp := *t
	cp.handle = nil
	if t.Schedule != nil {
		sc := *t.Schedule
		cp.Schedule = &sc
	}
	if t.Webhook != nil {
		wc := *t.Webhook
		cp.Webhook = &wc
	}
	if t.Event != nil {
		ec := *t.Event
		cp.Event = &ec
	}
	return &cp
}
