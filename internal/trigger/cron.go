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
	"time"

	"github.com/robfig/cron/v3"

	pkgerrors "github.com/Krosebrook/storeflow/pkg/errors"
)

// Handle is a live scheduled job that can be stopped.
type Handle interface {
	Stop()
}

// Scheduler is the cron capability injected into the Manager, kept as an
// interface so trigger behavior is testable without waiting for real ticks.
type Scheduler interface {
	// Schedule starts a job firing fn per the cron expression in the
	// given timezone.
	Schedule(expr, timezone string, fn func()) (Handle, error)
}

// ValidateCron checks a five-field cron expression or @descriptor.
func ValidateCron(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return &pkgerrors.ValidationError{
			Field:      "cron",
			Message:    fmt.Sprintf("invalid cron expression %q: %s", expr, err),
			Suggestion: "use five fields (minute hour day month weekday) or a descriptor like @hourly",
		}
	}
	return nil
}

// ValidateTimezone checks an IANA timezone name.
func ValidateTimezone(name string) error {
	if name == "" {
		return nil
	}
	if _, err := time.LoadLocation(name); err != nil {
		return &pkgerrors.ValidationError{
			Field:      "timezone",
			Message:    fmt.Sprintf("unknown timezone %q", name),
			Suggestion: "use an IANA name such as UTC or America/New_York",
		}
	}
	return nil
}

// CronScheduler runs scheduled triggers on real cron jobs. Each trigger
// gets its own runner so stopping one never disturbs the others.
type CronScheduler struct{}

// NewCronScheduler creates the production scheduler.
func NewCronScheduler() *CronScheduler {
	return &CronScheduler{}
}

// Schedule starts a cron job in the trigger's timezone.
func (s *CronScheduler) Schedule(expr, timezone string, fn func()) (Handle, error) {
	loc := time.UTC
	if timezone != "" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
		}
	}

	runner := cron.New(cron.WithLocation(loc))
	if _, err := runner.AddFunc(expr, fn); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", expr, err)
	}
	runner.Start()
	return &cronHandle{runner: runner}, nil
}

type cronHandle struct {
	runner *cron.Cron
}

// Stop halts the job and waits for an in-flight tick to finish.
func (h *cronHandle) Stop() {
	ctx := h.runner.Stop()
	<-ctx.Done()
}
