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

package jqmap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyMapsPayloadFields(t *testing.T) {
	m := New(0, 0)
	payload := map[string]any{
		"order": map[string]any{
			"id":    "ord-42",
			"total": 99.5,
			"items": []any{"sku-1", "sku-2"},
		},
		"customer": map[string]any{"email": "shopper@example.com"},
	}

	input, err := m.Apply(context.Background(), map[string]string{
		"orderId": ".order.id",
		"email":   ".customer.email",
		"skus":    ".order.items[]",
	}, payload)
	require.NoError(t, err)

	assert.Equal(t, "ord-42", input["orderId"])
	assert.Equal(t, "shopper@example.com", input["email"])
	assert.Equal(t, []any{"sku-1", "sku-2"}, input["skus"])
}

func TestApplyWithoutMappingPassesThrough(t *testing.T) {
	m := New(0, 0)
	payload := map[string]any{"raw": true}

	input, err := m.Apply(context.Background(), nil, payload)
	require.NoError(t, err)
	assert.Equal(t, payload, input)
}

func TestApplyMissingFieldYieldsNil(t *testing.T) {
	m := New(0, 0)

	input, err := m.Apply(context.Background(), map[string]string{
		"missing": ".does.not.exist",
	}, map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Nil(t, input["missing"])
}

func TestApplyRejectsOversizedPayload(t *testing.T) {
	m := New(0, 16)

	_, err := m.Apply(context.Background(), map[string]string{"x": ".a"}, map[string]any{
		"a": "a value much longer than sixteen bytes",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
}

func TestValidateCatchesBadExpressions(t *testing.T) {
	m := New(0, 0)

	assert.NoError(t, m.Validate(map[string]string{"ok": ".order.id"}))
	assert.Error(t, m.Validate(map[string]string{"bad": ".order["}))
	assert.Error(t, m.Validate(map[string]string{"empty": ""}))
}
