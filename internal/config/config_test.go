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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "storeflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMinimalConfig(t *testing.T) {
	path := writeConfig(t, `
automation:
  base_url: https://automation.example.com
  api_key: key-123
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8466", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 3, cfg.Engine.Retry.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Engine.Retry.RateLimitDelay)
	assert.Equal(t, 5, cfg.Engine.Breaker.FailureThreshold)
	assert.Equal(t, int64(100), cfg.Automation.RateLimit.MaxPerWindow)
	assert.Equal(t, 720*time.Hour, cfg.Engine.Retention.MaxAge)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
  shutdown_timeout: 5s
store:
  driver: memory
automation:
  base_url: https://automation.example.com
  api_key: key-123
  timeout: 10s
  rate_limit:
    max_per_window: 50
    window: 30s
engine:
  retry:
    max_attempts: 5
    base_delay: 500ms
    max_delay: 4s
  breaker:
    failure_threshold: 3
    open_timeout: 10s
  retention:
    max_age: 48h
log:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 5, cfg.Engine.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.Retry.BaseDelay)
	assert.Equal(t, 3, cfg.Engine.Breaker.FailureThreshold)
	assert.Equal(t, int64(50), cfg.Automation.RateLimit.MaxPerWindow)
	assert.Equal(t, 48*time.Hour, cfg.Engine.Retention.MaxAge)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Unset fields still get defaults.
	assert.Equal(t, 2, cfg.Engine.Breaker.SuccessThreshold)
}

func TestLoadRequiresAutomationBackend(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: memory
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "automation.base_url")
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: cassandra
automation:
  base_url: https://automation.example.com
  api_key: key-123
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
automation:
  base_url: https://automation.example.com
  api_key: key-123
`)

	t.Setenv("STOREFLOW_ADDR", ":7777")
	t.Setenv("STOREFLOW_STORE_DRIVER", "memory")
	t.Setenv("STOREFLOW_RATE_LIMIT", "25")
	t.Setenv("STOREFLOW_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, int64(25), cfg.Automation.RateLimit.MaxPerWindow)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestAutomationClientConfigTranslation(t *testing.T) {
	path := writeConfig(t, `
automation:
  base_url: https://automation.example.com
  api_key: key-123
  timeout: 12s
  rate_limit:
    max_per_window: 10
    window: 10s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	ac := cfg.AutomationClientConfig()
	assert.Equal(t, "https://automation.example.com", ac.BaseURL)
	assert.Equal(t, 12*time.Second, ac.Timeout)
	assert.Equal(t, int64(10), ac.RateLimit.MaxPerWindow)
	require.NoError(t, ac.Validate())
}

func TestMissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/storeflow.yaml")
	require.Error(t, err)
}
