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

package resilience

import (
	"context"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// RateLimiterConfig configures a RateLimiter.
type RateLimiterConfig struct {
	// MaxPerWindow is the per-key request ceiling within one window.
	MaxPerWindow int64

	// Window is the fixed window length.
	Window time.Duration
}

// DefaultRateLimiterConfig returns the default per-dependency quota.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		MaxPerWindow: 100,
		Window:       time.Minute,
	}
}

// RateLimiter is a blocking fixed-window request counter keyed by remote
// dependency. When a key reaches its ceiling, Wait blocks the caller until
// the window resets instead of rejecting the call: sustained load at the
// ceiling shows up as latency, not errors.
type RateLimiter struct {
	instance *limiter.Limiter
}

// NewRateLimiter creates a rate limiter with in-memory window counters.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.MaxPerWindow <= 0 {
		cfg.MaxPerWindow = DefaultRateLimiterConfig().MaxPerWindow
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultRateLimiterConfig().Window
	}

	rate := limiter.Rate{
		Period: cfg.Window,
		Limit:  cfg.MaxPerWindow,
	}
	return &RateLimiter{
		instance: limiter.New(memory.NewStore(), rate),
	}
}

// Wait consumes one request slot for key, blocking until one is available
// or ctx is done. The first call of a fresh window is never blocked.
func (l *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		lctx, err := l.instance.Get(ctx, key)
		if err != nil {
			return err
		}
		if !lctx.Reached {
			return nil
		}

		delay := time.Until(time.Unix(lctx.Reset, 0))
		if delay <= 0 {
			// Reset timestamps have second granularity; poll briefly
			// rather than spinning when the boundary is imminent.
			delay = 50 * time.Millisecond
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Peek reports the remaining quota for key without consuming a slot.
func (l *RateLimiter) Peek(ctx context.Context, key string) (remaining int64, reset time.Time, err error) {
	lctx, err := l.instance.Peek(ctx, key)
	if err != nil {
		return 0, time.Time{}, err
	}
	return lctx.Remaining, time.Unix(lctx.Reset, 0), nil
}
