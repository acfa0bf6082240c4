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

// Package engine runs workflows against the remote automation backend and
// owns the execution lifecycle: record creation, retries, the circuit
// breaker, and the single terminal write.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Krosebrook/storeflow/internal/log"
	"github.com/Krosebrook/storeflow/internal/store"
	"github.com/Krosebrook/storeflow/pkg/automation"
	pkgerrors "github.com/Krosebrook/storeflow/pkg/errors"
	"github.com/Krosebrook/storeflow/pkg/resilience"
)

// Backend is the remote side of an execution. The engine drives retries and
// breaker state itself, so Execute must be a single attempt.
type Backend interface {
	// Execute triggers the workflow and waits for its completion payload.
	Execute(ctx context.Context, req automation.ExecuteRequest) (map[string]any, error)

	// Stop requests a best-effort stop of the remote run addressed by the
	// execution reference.
	Stop(ctx context.Context, reference string) error
}

// Config holds the engine's resilience settings.
type Config struct {
	// Retry is applied around the breaker-guarded backend call.
	Retry resilience.RetryPolicy

	// Breaker guards the backend across executions.
	Breaker resilience.BreakerConfig
}

// DefaultConfig returns engine settings suitable for production.
func DefaultConfig() Config {
	return Config{
		Retry:   resilience.DefaultRetryPolicy(),
		Breaker: resilience.DefaultBreakerConfig(),
	}
}

// Request describes one execution to run.
type Request struct {
	// WorkflowID is the backend workflow to trigger.
	WorkflowID string

	// WorkflowName is the human-readable name recorded with the execution.
	WorkflowName string

	// TriggerType records what initiated the run (manual, scheduled,
	// webhook, event).
	TriggerType string

	// Input is the workflow input payload.
	Input map[string]any

	// MaxRetries overrides the engine's retry budget for this run when
	// positive. It counts retries after the first attempt.
	MaxRetries int
}

// Engine executes workflows and persists their lifecycle. All executions
// share one circuit breaker, so a dead backend trips fast for everyone.
type Engine struct {
	store   store.Store
	backend Backend
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryPolicy
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New creates an engine backed by the given store and automation backend.
func New(st store.Store, backend Backend, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   st,
		backend: backend,
		breaker: resilience.NewCircuitBreaker("automation", cfg.Breaker),
		retry:   cfg.Retry,
		logger:  logger.With("component", "engine"),
		tracer:  otel.Tracer("storeflow/engine"),
	}
}

// Execute runs the workflow synchronously and returns the execution ID.
// The record is created before the first attempt, so a failed run is still
// visible in history. Exactly one terminal write follows, unless a
// concurrent Cancel got there first.
func (e *Engine) Execute(ctx context.Context, req Request) (*store.Execution, error) {
	now := time.Now().UTC()
	exec := &store.Execution{
		ID:           uuid.NewString(),
		WorkflowID:   req.WorkflowID,
		WorkflowName: req.WorkflowName,
		TriggerType:  req.TriggerType,
		Status:       store.StatusRunning,
		InputData:    req.Input,
		StartedAt:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.Create(ctx, exec); err != nil {
		return nil, &pkgerrors.StoreError{Operation: "create execution", Cause: err}
	}

	ctx, span := e.tracer.Start(ctx, fmt.Sprintf("workflow.execute: %s", req.WorkflowName),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("workflow.id", req.WorkflowID),
			attribute.String("execution.id", exec.ID),
			attribute.String("trigger.type", req.TriggerType),
		),
	)
	defer span.End()

	logger := e.logger.With(
		log.ExecutionIDKey, exec.ID,
		log.WorkflowKey, req.WorkflowID,
		log.TriggerTypeKey, req.TriggerType,
	)
	logger.Info("execution started")

	output, retries, runErr := e.run(ctx, exec.ID, req, logger)
	ended := time.Now().UTC()
	duration := ended.Sub(now)

	exec.RetryCount = retries
	exec.EndedAt = &ended
	exec.DurationMs = duration.Milliseconds()
	exec.UpdatedAt = ended

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())

		exec.Status = store.StatusFailed
		exec.ErrorMessage = runErr.Error()
		e.finalize(ctx, exec.ID, store.TerminalUpdate{
			Status:       store.StatusFailed,
			ErrorMessage: runErr.Error(),
			EndedAt:      ended,
			DurationMs:   exec.DurationMs,
		}, logger)

		recordExecution(req.WorkflowID, req.TriggerType, string(store.StatusFailed), duration)
		logger.Error("execution failed",
			"error", runErr,
			log.AttemptKey, retries+1,
			log.DurationKey, exec.DurationMs,
		)
		return exec, runErr
	}

	span.SetStatus(codes.Ok, "")

	exec.Status = store.StatusCompleted
	exec.OutputData = output
	e.finalize(ctx, exec.ID, store.TerminalUpdate{
		Status:     store.StatusCompleted,
		OutputData: output,
		EndedAt:    ended,
		DurationMs: exec.DurationMs,
	}, logger)

	recordExecution(req.WorkflowID, req.TriggerType, string(store.StatusCompleted), duration)
	logger.Info("execution completed", log.DurationKey, exec.DurationMs)
	return exec, nil
}

// run drives the backend call through the retry policy and the shared
// breaker, persisting retry progress as it goes. It returns the output
// payload, the number of retries performed, and the final error.
func (e *Engine) run(ctx context.Context, executionID string, req Request, logger *slog.Logger) (map[string]any, int, error) {
	policy := e.retry
	if req.MaxRetries > 0 {
		policy.MaxAttempts = req.MaxRetries + 1
	}

	var retries int
	policy.ShouldRetry = func(err error, attempt int) bool {
		return automation.IsRetryable(err)
	}
	policy.IsRateLimit = pkgerrors.IsRateLimited
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		retries = attempt
		recordRetry(req.WorkflowID)
		logger.Warn("retrying execution",
			log.AttemptKey, attempt,
			"delay", delay.String(),
			"error", err,
		)
		// Persist progress so history shows retries even if the process
		// dies mid-run. A write failure is not worth aborting the run.
		if uerr := e.store.UpdateRetryCount(ctx, executionID, attempt); uerr != nil {
			logger.Warn("failed to persist retry count", "error", uerr)
		}
	}

	var output map[string]any
	err := policy.Do(ctx, func(ctx context.Context) error {
		return e.breaker.Execute(ctx, func(ctx context.Context) error {
			out, berr := e.backend.Execute(ctx, automation.ExecuteRequest{
				WorkflowID: req.WorkflowID,
				Reference:  executionID,
				Input:      req.Input,
			})
			if berr != nil {
				return berr
			}
			output = out
			return nil
		})
	})
	return output, retries, err
}

// finalize writes the terminal record. ErrNotRunning means a concurrent
// Cancel already closed the record; the cancelled state wins and the late
// result is dropped.
func (e *Engine) finalize(ctx context.Context, id string, upd store.TerminalUpdate, logger *slog.Logger) {
	err := e.store.Complete(ctx, id, upd)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotRunning):
		logger.Info("terminal write skipped, execution already closed", "status", upd.Status)
	default:
		logger.Error("failed to persist terminal state", "status", upd.Status, "error", err)
	}
}

// Cancel marks a running execution cancelled and asks the backend to stop
// the remote run. The remote stop is advisory: its failure does not undo
// the local cancellation.
func (e *Engine) Cancel(ctx context.Context, id string) (*store.Execution, error) {
	exec, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if exec.Status != store.StatusRunning {
		return nil, &pkgerrors.ValidationError{
			Field:      "status",
			Message:    fmt.Sprintf("execution is %s, only running executions can be cancelled", exec.Status),
			Suggestion: "list executions with status=running to find cancellable runs",
		}
	}

	logger := e.logger.With(log.ExecutionIDKey, id, log.WorkflowKey, exec.WorkflowID)

	if serr := e.backend.Stop(ctx, id); serr != nil {
		logger.Warn("remote stop failed, cancelling locally anyway", "error", serr)
	}

	ended := time.Now().UTC()
	upd := store.TerminalUpdate{
		Status:     store.StatusCancelled,
		EndedAt:    ended,
		DurationMs: ended.Sub(exec.StartedAt).Milliseconds(),
	}
	if cerr := e.store.Complete(ctx, id, upd); cerr != nil {
		// Lost the race with the execution's own terminal write.
		return nil, cerr
	}

	exec.Status = store.StatusCancelled
	exec.EndedAt = &ended
	exec.DurationMs = upd.DurationMs
	exec.UpdatedAt = ended

	recordExecution(exec.WorkflowID, exec.TriggerType, string(store.StatusCancelled), time.Duration(upd.DurationMs)*time.Millisecond)
	logger.Info("execution cancelled", log.DurationKey, upd.DurationMs)
	return exec, nil
}

// Get returns one execution record.
func (e *Engine) Get(ctx context.Context, id string) (*store.Execution, error) {
	return e.store.Get(ctx, id)
}

// List returns execution history, most recent first.
func (e *Engine) List(ctx context.Context, f store.Filter) ([]*store.Execution, error) {
	return e.store.List(ctx, f)
}

// Stats aggregates execution counts, optionally scoped to one workflow.
func (e *Engine) Stats(ctx context.Context, workflowID string) (*store.Stats, error) {
	return e.store.Stats(ctx, workflowID)
}

// BreakerStats exposes the shared breaker state for health reporting.
func (e *Engine) BreakerStats() resilience.BreakerStats {
	return e.breaker.Stats()
}

// ResetBreaker forces the shared breaker closed.
func (e *Engine) ResetBreaker() {
	e.breaker.Reset()
}
