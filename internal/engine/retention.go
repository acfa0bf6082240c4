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

package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/Krosebrook/storeflow/internal/store"
)

// RetentionConfig controls the background cleanup of terminal executions.
type RetentionConfig struct {
	// MaxAge is how long terminal records are kept. Zero disables the
	// sweeper.
	MaxAge time.Duration

	// Interval is how often the sweep runs. Default: 1h.
	Interval time.Duration
}

// Sweeper periodically removes terminal executions older than the retention
// window. Running executions are never touched.
type Sweeper struct {
	store    store.Store
	maxAge   time.Duration
	interval time.Duration
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSweeper creates a retention sweeper. Returns nil when retention is
// disabled.
func NewSweeper(st store.Store, cfg RetentionConfig, logger *slog.Logger) *Sweeper {
	if cfg.MaxAge <= 0 {
		return nil
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    st,
		maxAge:   cfg.MaxAge,
		interval: cfg.Interval,
		logger:   logger.With("component", "retention"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop. An initial sweep runs immediately so a
// restarted daemon does not wait a full interval to reclaim space.
func (s *Sweeper) Start() {
	go func() {
		defer close(s.doneCh)

		s.sweep()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the sweep loop and waits for it to finish.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().UTC().Add(-s.maxAge)
	deleted, err := s.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("retention sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		recordRetentionDeleted(deleted)
		s.logger.Info("retention sweep removed executions", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}
}
