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

// Package jqmap maps webhook delivery payloads into workflow input with jq
// expressions.
package jqmap

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"
)

const (
	// DefaultTimeout bounds evaluation of a single expression.
	DefaultTimeout = 1 * time.Second

	// DefaultMaxInputSize caps the payload a mapping will process (10MB).
	DefaultMaxInputSize = 10 * 1024 * 1024
)

// Mapper evaluates jq expressions against delivery payloads with timeout and
// size limits.
type Mapper struct {
	timeout      time.Duration
	maxInputSize int64
}

// New creates a mapper. Zero values fall back to the defaults.
func New(timeout time.Duration, maxInputSize int64) *Mapper {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if maxInputSize == 0 {
		maxInputSize = DefaultMaxInputSize
	}
	return &Mapper{
		timeout:      timeout,
		maxInputSize: maxInputSize,
	}
}

// Apply builds workflow input from a payload. Each mapping entry is an input
// key paired with a jq expression evaluated against the payload. A nil or
// empty mapping passes the payload through unchanged.
func (m *Mapper) Apply(ctx context.Context, mapping map[string]string, payload map[string]any) (map[string]any, error) {
	if len(mapping) == 0 {
		return payload, nil
	}

	if err := m.validateInputSize(payload); err != nil {
		return nil, err
	}

	input := make(map[string]any, len(mapping))
	for key, expression := range mapping {
		value, err := m.eval(ctx, expression, payload)
		if err != nil {
			return nil, fmt.Errorf("mapping %q: %w", key, err)
		}
		input[key] = value
	}
	return input, nil
}

// Validate compiles every expression in the mapping, catching syntax errors
// at trigger registration time instead of delivery time.
func (m *Mapper) Validate(mapping map[string]string) error {
	for key, expression := range mapping {
		if expression == "" {
			return fmt.Errorf("mapping %q: empty jq expression", key)
		}
		query, err := gojq.Parse(expression)
		if err != nil {
			return fmt.Errorf("mapping %q: invalid jq expression: %w", key, err)
		}
		if _, err := gojq.Compile(query); err != nil {
			return fmt.Errorf("mapping %q: jq compilation failed: %w", key, err)
		}
	}
	return nil
}

// eval runs one jq expression against the payload. Multiple results come
// back as an array; zero results as nil.
func (m *Mapper) eval(ctx context.Context, expression string, payload map[string]any) (any, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("compile error: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	resultCh := make(chan any, 1)
	errCh := make(chan error, 1)

	go func() {
		iter := code.RunWithContext(execCtx, payload)

		var results []any
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, isErr := v.(error); isErr {
				errCh <- err
				return
			}
			results = append(results, v)
		}

		switch len(results) {
		case 0:
			resultCh <- nil
		case 1:
			resultCh <- results[0]
		default:
			resultCh <- results
		}
	}()

	select {
	case result := <-resultCh:
		return result, nil
	case err := <-errCh:
		return nil, err
	case <-execCtx.Done():
		return nil, fmt.Errorf("evaluation timeout after %v", m.timeout)
	}
}

func (m *Mapper) validateInputSize(payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if int64(len(data)) > m.maxInputSize {
		return fmt.Errorf("payload size (%d bytes) exceeds maximum (%d bytes)", len(data), m.maxInputSize)
	}
	return nil
}
