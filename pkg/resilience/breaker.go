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

// Package resilience provides the fault-tolerance primitives used around
// remote automation calls: a circuit breaker, a bounded retry policy, and
// a blocking fixed-window rate limiter.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen indicates the circuit breaker rejected a call without
// attempting it. Callers can distinguish "dependency is down" from "this
// specific call failed" with errors.Is.
var ErrCircuitOpen = errors.New("circuit breaker open")

// State represents the circuit breaker state.
type State string

const (
	// StateClosed allows calls through and counts failures.
	StateClosed State = "closed"
	// StateOpen rejects calls until the open timeout elapses.
	StateOpen State = "open"
	// StateHalfOpen lets a single trial call through at a time.
	StateHalfOpen State = "half-open"
)

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the circuit again.
	SuccessThreshold int

	// OpenTimeout is how long the circuit stays open before allowing a
	// half-open trial call. This is a cooldown, not a call timeout.
	OpenTimeout time.Duration
}

// DefaultBreakerConfig returns sensible default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	}
}

// BreakerStats is a snapshot of circuit breaker state for status endpoints.
type BreakerStats struct {
	Name           string    `json:"name"`
	State          State     `json:"state"`
	Failures       int       `json:"failures"`
	Successes      int       `json:"successes"`
	LastTransition time.Time `json:"last_transition"`
}

// CircuitBreaker is a per-dependency failure tripwire. It does not
// distinguish error types: any rejection from the wrapped operation counts
// as a failure. State is guarded by a mutex so concurrent callers are safe.
type CircuitBreaker struct {
	mu   sync.Mutex
	name string
	cfg  BreakerConfig

	state          State
	failures       int
	successes      int
	lastTransition time.Time
	openedAt       time.Time
	trialInFlight  bool
}

// NewCircuitBreaker creates a circuit breaker for the named dependency.
func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultBreakerConfig().SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultBreakerConfig().OpenTimeout
	}
	return &CircuitBreaker{
		name:           name,
		cfg:            cfg,
		state:          StateClosed,
		lastTransition: time.Now(),
	}
}

// Execute runs op through the breaker. When the circuit is open the call is
// rejected immediately with ErrCircuitOpen. In half-open state exactly one
// trial call is allowed through at a time.
func (b *CircuitBreaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := op(ctx)
	b.record(err)
	return err
}

// allow decides whether a call may proceed, transitioning open → half-open
// once the cooldown has elapsed.
func (b *CircuitBreaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(b.openedAt) < b.cfg.OpenTimeout {
			return fmt.Errorf("%w for %s", ErrCircuitOpen, b.name)
		}
		b.transition(StateHalfOpen)
		b.trialInFlight = true
		return nil
	case StateHalfOpen:
		if b.trialInFlight {
			return fmt.Errorf("%w for %s", ErrCircuitOpen, b.name)
		}
		b.trialInFlight = true
		return nil
	}
	return nil
}

// record applies the call outcome to the breaker state.
func (b *CircuitBreaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if err != nil {
			b.failures++
			if b.failures >= b.cfg.FailureThreshold {
				b.transition(StateOpen)
				b.openedAt = time.Now()
			}
			return
		}
		b.failures = 0

	case StateHalfOpen:
		b.trialInFlight = false
		if err != nil {
			// Any half-open failure reopens the circuit and restarts the timer.
			b.transition(StateOpen)
			b.openedAt = time.Now()
			return
		}
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}

	case StateOpen:
		// A call that started before the circuit opened resolved late.
		// Its outcome does not move the state machine.
	}
}

// transition moves to the given state and resets counters.
func (b *CircuitBreaker) transition(state State) {
	b.state = state
	b.failures = 0
	b.successes = 0
	b.lastTransition = time.Now()
}

// Stats returns a snapshot of the breaker state.
func (b *CircuitBreaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		Name:           b.name,
		State:          b.state,
		Failures:       b.failures,
		Successes:      b.successes,
		LastTransition: b.lastTransition,
	}
}

// Reset forces the breaker back to closed. This is an explicit operator
// action, not part of the normal state machine.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
	b.trialInFlight = false
}
