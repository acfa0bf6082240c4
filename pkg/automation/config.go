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
	"fmt"
	"time"

	"github.com/Krosebrook/storeflow/pkg/resilience"
)

// Config configures the automation backend client.
type Config struct {
	// BaseURL is the automation backend base URL. Required.
	BaseURL string

	// APIKey is the bearer-style API key sent on every request. Required.
	APIKey string

	// Timeout is the per-request timeout. Each retry attempt gets its own
	// timeout budget. Default: 30s.
	Timeout time.Duration

	// DependencyKey identifies this backend in breaker stats and rate
	// limit windows. Default: "automation".
	DependencyKey string

	// Breaker configures the client-side circuit breaker.
	Breaker resilience.BreakerConfig

	// Retry configures retries for the client's read and stop calls.
	Retry resilience.RetryPolicy

	// RateLimit bounds outbound calls per window to respect backend quotas.
	RateLimit resilience.RateLimiterConfig
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:       30 * time.Second,
		DependencyKey: "automation",
		Breaker:       resilience.DefaultBreakerConfig(),
		Retry:         resilience.DefaultRetryPolicy(),
		RateLimit:     resilience.DefaultRateLimiterConfig(),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required and must be non-empty")
	}
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required and must be non-empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0, got %v", c.Timeout)
	}
	return nil
}
