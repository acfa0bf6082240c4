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

package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"orderId":"o-1","status":"paid"}`)
	secret := "whsec_test"

	sig := SignPayload(payload, secret)
	require.NoError(t, VerifySignature(payload, sig, secret))

	// The sha256= prefix is accepted.
	require.NoError(t, VerifySignature(payload, "sha256="+sig, secret))
}

func TestVerifySignatureMismatch(t *testing.T) {
	payload := []byte(`{"orderId":"o-1"}`)
	secret := "whsec_test"

	err := VerifySignature(payload, SignPayload([]byte("tampered"), secret), secret)
	assert.Error(t, err)

	err = VerifySignature(payload, "", secret)
	assert.Error(t, err)
}

func TestVerifySignatureSkippedWithoutSecret(t *testing.T) {
	// No configured secret means verification is skipped, not failed.
	assert.NoError(t, VerifySignature([]byte("anything"), "whatever", ""))
	assert.NoError(t, VerifySignature([]byte("anything"), "", ""))
}
