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
	"fmt"
	"reflect"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	pkgerrors "github.com/Krosebrook/storeflow/pkg/errors"
)

// matchFilters reports whether every filter key is present in the event
// payload with an exactly equal value.
func matchFilters(filters map[string]any, data map[string]any) bool {
	for key, want := range filters {
		got, ok := data[key]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// evaluator compiles and caches event filter expressions. The payload is
// the expression environment, so `status == "paid" && total > 100` reads
// directly off event fields.
type evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func newEvaluator() *evaluator {
	return &evaluator{cache: make(map[string]*vm.Program)}
}

// Evaluate runs the predicate against the event payload. An empty
// expression is true.
func (e *evaluator) Evaluate(expression string, data map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}

	program, err := e.compile(expression)
	if err != nil {
		return false, err
	}

	result, err := expr.Run(program, data)
	if err != nil {
		return false, &pkgerrors.ValidationError{
			Field:      "expression",
			Message:    fmt.Sprintf("expression evaluation failed: %s", err),
			Suggestion: "verify that all referenced fields exist in the event payload",
		}
	}

	ok, isBool := result.(bool)
	if !isBool {
		return false, &pkgerrors.ValidationError{
			Field:      "expression",
			Message:    fmt.Sprintf("expression must return boolean, got %T", result),
			Suggestion: "use comparison operators (==, !=, <, >) or boolean functions",
		}
	}
	return ok, nil
}

// Validate compiles the expression without running it.
func (e *evaluator) Validate(expression string) error {
	if expression == "" {
		return nil
	}
	_, err := e.compile(expression)
	return err
}

func (e *evaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	prog, err := expr.Compile(expression,
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, &pkgerrors.ValidationError{
			Field:      "expression",
			Message:    fmt.Sprintf("failed to compile expression: %s", err),
			Suggestion: "check expression syntax",
		}
	}

	e.mu.Lock()
	e.cache[expression] = prog
	e.mu.Unlock()
	return prog, nil
}
