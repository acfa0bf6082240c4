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
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy executes an operation up to MaxAttempts times, waiting between
// attempts with capped exponential backoff plus jitter. The delay before
// retry n is min(BaseDelay * 2^(n-1), MaxDelay), randomized by JitterPercent.
//
// The policy is deliberately decoupled from the circuit breaker: a remote
// call is typically wrapped breaker-outermost and retry-innermost, so the
// breaker counts one failure only when all attempts are exhausted.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration

	// JitterPercent randomizes each delay by up to the given percentage.
	JitterPercent uint64

	// ShouldRetry decides whether a given failure is retryable. A nil
	// predicate retries every failure.
	ShouldRetry func(err error, attempt int) bool

	// OnRetry is invoked before each backoff wait, for logging and for
	// persisting retry progress. Attempt is the attempt that just failed,
	// starting at 1.
	OnRetry func(attempt int, delay time.Duration, err error)

	// IsRateLimit classifies a failure as remote rate limiting. Matching
	// failures wait RateLimitDelay instead of the backoff delay, or the
	// server-provided wait when the error carries one.
	IsRateLimit func(err error) bool

	// RateLimitDelay is the dedicated wait before retrying a rate-limited
	// call. Zero falls back to the backoff delay.
	RateLimitDelay time.Duration
}

// retryAfterCarrier is implemented by errors that carry a server-provided
// wait, such as a 429 response with a Retry-After header.
type retryAfterCarrier interface {
	RetryAfterHint() time.Duration
}

// retryAfterHint extracts the server-provided wait from err, if any.
func retryAfterHint(err error) time.Duration {
	var c retryAfterCarrier
	if errors.As(err, &c) {
		return c.RetryAfterHint()
	}
	return 0
}

// DefaultRetryPolicy returns the retry settings used for automation calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		MaxDelay:       10 * time.Second,
		JitterPercent:  20,
		RateLimitDelay: 5 * time.Second,
	}
}

// Do runs op until it succeeds, attempts are exhausted, the predicate stops
// the retries, or ctx is cancelled. The last error is returned on failure.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	backoff := p.backoff()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == maxAttempts {
			break
		}
		if p.ShouldRetry != nil && !p.ShouldRetry(lastErr, attempt) {
			break
		}

		delay, stop := backoff.Next()
		if stop {
			break
		}
		if p.IsRateLimit != nil && p.IsRateLimit(lastErr) {
			if hint := retryAfterHint(lastErr); hint > 0 {
				delay = hint
			} else if p.RateLimitDelay > 0 {
				delay = p.RateLimitDelay
			}
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, lastErr)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}

// backoff builds the delay stream: exponential from BaseDelay, capped at
// MaxDelay, with percentage jitter.
func (p RetryPolicy) backoff() retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}

	b := retry.NewExponential(base)
	if p.JitterPercent > 0 {
		b = retry.WithJitterPercent(p.JitterPercent, b)
	}
	if p.MaxDelay > 0 {
		// Cap applied after jitter so no delay ever exceeds MaxDelay.
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	return b
}
