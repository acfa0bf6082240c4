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

// Package registry holds the in-memory workflow template catalog.
package registry

import (
	"sort"
	"sync"

	pkgerrors "github.com/Krosebrook/storeflow/pkg/errors"
)

// TriggerType is how a template expects to be fired.
type TriggerType string

const (
	// TriggerManual templates are fired by direct API calls.
	TriggerManual TriggerType = "manual"
	// TriggerScheduled templates are fired by cron schedules.
	TriggerScheduled TriggerType = "scheduled"
	// TriggerWebhook templates are fired by inbound webhook deliveries.
	TriggerWebhook TriggerType = "webhook"
	// TriggerEvent templates are fired by application events.
	TriggerEvent TriggerType = "event"
)

// Valid reports whether the trigger type is a known value.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerManual, TriggerScheduled, TriggerWebhook, TriggerEvent:
		return true
	}
	return false
}

// Template is a reusable workflow definition with declared input contracts.
// Templates are immutable once registered except for the popularity counter.
type Template struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Description    string      `json:"description,omitempty"`
	Category       string      `json:"category"`
	RequiredInputs []string    `json:"required_inputs,omitempty"`
	OptionalInputs []string    `json:"optional_inputs,omitempty"`
	TriggerType    TriggerType `json:"trigger_type"`
	Schedule       string      `json:"schedule,omitempty"`
	Version        string      `json:"version"`
	Popularity     int64       `json:"popularity"`
}

// Filter narrows List results.
type Filter struct {
	Category    string
	TriggerType TriggerType
}

// Registry is the in-memory template catalog. Registration is
// last-write-wins by id.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		templates: make(map[string]*Template),
	}
}

// NewWithBuiltins creates a registry pre-loaded with the built-in catalog.
func NewWithBuiltins() *Registry {
	r := New()
	for _, tpl := range builtinTemplates() {
		r.Register(tpl)
	}
	return r
}

// Register adds or replaces a template by id.
func (r *Registry) Register(tpl *Template) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *tpl
	if cp.Version == "" {
		cp.Version = "1.0.0"
	}
	r.templates[cp.ID] = &cp
}

// Get returns a template by id.
func (r *Registry) Get(id string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tpl, ok := r.templates[id]
	if !ok {
		return nil, &pkgerrors.NotFoundError{Resource: "template", ID: id}
	}
	cp := *tpl
	return &cp, nil
}

// List returns templates matching the filter, most popular first.
func (r *Registry) List(f Filter) []*Template {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Template, 0, len(r.templates))
	for _, tpl := range r.templates {
		if f.Category != "" && tpl.Category != f.Category {
			continue
		}
		if f.TriggerType != "" && tpl.TriggerType != f.TriggerType {
			continue
		}
		cp := *tpl
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Popularity != result[j].Popularity {
			return result[i].Popularity > result[j].Popularity
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// IncrementPopularity bumps the popularity counter for a template.
// Unknown ids are ignored: popularity is advisory bookkeeping.
func (r *Registry) IncrementPopularity(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tpl, ok := r.templates[id]; ok {
		tpl.Popularity++
	}
}

// Count returns the number of registered templates.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.templates)
}
