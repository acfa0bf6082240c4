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

// Package automation is a thin client over the external workflow-automation
// backend's HTTP interface. Read and stop calls are wrapped circuit-breaker
// outermost and retry-policy innermost; Execute is a single rate-limited
// attempt so the execution engine can drive its own breaker and retry policy
// with persisted retry progress.
package automation

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/Krosebrook/storeflow/pkg/errors"
	"github.com/Krosebrook/storeflow/pkg/resilience"
)

// RemoteWorkflow is a workflow definition as reported by the backend.
type RemoteWorkflow struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
}

// RemoteExecution is an execution as reported by the backend.
type RemoteExecution struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Status     string         `json:"status"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// ExecuteRequest describes one trigger-and-wait invocation.
type ExecuteRequest struct {
	// WorkflowID is the backend workflow to run.
	WorkflowID string

	// Reference is the caller's execution id, passed so a later Stop can
	// address the remote run without waiting for its completion payload.
	Reference string

	// Input is the workflow input payload.
	Input map[string]any
}

// Client talks to the automation backend.
type Client struct {
	baseURL    string
	apiKey     string
	depKey     string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	retry      resilience.RetryPolicy
	limiter    *resilience.RateLimiter
}

// New creates a new automation backend client.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	depKey := cfg.DependencyKey
	if depKey == "" {
		depKey = "automation"
	}

	retry := cfg.Retry
	if retry.ShouldRetry == nil {
		retry.ShouldRetry = func(err error, attempt int) bool {
			return IsRetryable(err)
		}
	}
	if retry.IsRateLimit == nil {
		retry.IsRateLimit = pkgerrors.IsRateLimited
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		depKey:  depKey,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		breaker: resilience.NewCircuitBreaker(depKey, cfg.Breaker),
		retry:   retry,
		limiter: resilience.NewRateLimiter(cfg.RateLimit),
	}, nil
}

// ListWorkflows returns the backend's workflow catalog.
func (c *Client) ListWorkflows(ctx context.Context) ([]RemoteWorkflow, error) {
	var out struct {
		Workflows []RemoteWorkflow `json:"workflows"`
	}
	err := c.guarded(ctx, "list", func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, "/v1/workflows", nil, &out)
	})
	if err != nil {
		return nil, err
	}
	return out.Workflows, nil
}

// GetWorkflow returns one workflow definition.
func (c *Client) GetWorkflow(ctx context.Context, id string) (*RemoteWorkflow, error) {
	var out RemoteWorkflow
	err := c.guarded(ctx, "get", func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, "/v1/workflows/"+url.PathEscape(id), nil, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetExecution returns the backend's view of one execution.
func (c *Client) GetExecution(ctx context.Context, reference string) (*RemoteExecution, error) {
	var out RemoteExecution
	err := c.guarded(ctx, "get_execution", func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, "/v1/executions/"+url.PathEscape(reference), nil, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Stop asks the backend to stop an execution. Best effort: the backend may
// have already finished the work.
func (c *Client) Stop(ctx context.Context, reference string) error {
	return c.guarded(ctx, "stop", func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, "/v1/executions/"+url.PathEscape(reference)+"/stop", nil, nil)
	})
}

// Execute triggers a workflow run and waits for its result. This is a
// single rate-limited attempt with no client-side breaker or retry: the
// execution engine layers its own policy on top so retry progress can be
// persisted per execution.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) (map[string]any, error) {
	if err := c.limiter.Wait(ctx, c.depKey); err != nil {
		return nil, err
	}

	body := map[string]any{
		"reference": req.Reference,
		"input":     req.Input,
		"wait":      true,
	}
	var out RemoteExecution
	err := c.do(ctx, http.MethodPost, "/v1/workflows/"+url.PathEscape(req.WorkflowID)+"/execute", body, &out)
	if err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, &pkgerrors.BackendError{
			Operation: "execute",
			Message:   out.Error,
		}
	}
	return out.Output, nil
}

// BreakerStats returns the client-side breaker snapshot.
func (c *Client) BreakerStats() resilience.BreakerStats {
	return c.breaker.Stats()
}

// ResetBreaker forces the client-side breaker closed.
func (c *Client) ResetBreaker() {
	c.breaker.Reset()
}

// guarded runs op breaker-outermost with retries innermost, so repeated
// failures inside one guarded call count as a single breaker failure only
// when the retries are exhausted.
func (c *Client) guarded(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retry.Do(ctx, func(ctx context.Context) error {
			if err := c.limiter.Wait(ctx, c.depKey); err != nil {
				return err
			}
			return fn(ctx)
		})
	})
}

// do performs one HTTP round trip and maps non-2xx responses to
// BackendError values classified by status code.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &pkgerrors.BackendError{
			Operation: method + " " + path,
			Message:   "request failed",
			Cause:     err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		be := &pkgerrors.BackendError{
			Operation:  method + " " + path,
			StatusCode: resp.StatusCode,
			Message:    readErrorMessage(resp.Body),
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			be.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		return be
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &pkgerrors.BackendError{
			Operation: method + " " + path,
			Message:   "failed to decode response",
			Cause:     err,
		}
	}
	return nil
}

// parseRetryAfter reads a Retry-After value, either delay seconds or an
// HTTP date. Unparseable or past values yield zero.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// readErrorMessage extracts an error message from a failed response body.
func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(data))
}

// IsRetryable reports whether an automation call failure is transient:
// timeouts, connection errors, rate-limit signals, and 5xx responses are
// retryable; auth failures and missing resources are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var be *pkgerrors.BackendError
	if errors.As(err, &be) {
		switch {
		case be.StatusCode == http.StatusTooManyRequests:
			return true
		case be.StatusCode == http.StatusRequestTimeout:
			return true
		case be.StatusCode >= 500 && be.StatusCode < 600:
			return true
		case be.StatusCode > 0:
			return false
		}
		// No status: transport-level failure, fall through to net checks.
		err = be.Cause
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return IsRetryable(urlErr.Err)
	}

	if err == nil {
		return false
	}
	errMsg := strings.ToLower(err.Error())
	transientKeywords := []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network unreachable",
		"eof",
	}
	for _, keyword := range transientKeywords {
		if strings.Contains(errMsg, keyword) {
			return true
		}
	}
	return false
}
