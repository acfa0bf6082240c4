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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// executionsTotal tracks finished executions by workflow, trigger type and status
	executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeflow_executions_total",
			Help: "Total workflow executions by workflow, trigger type and terminal status",
		},
		[]string{"workflow", "trigger_type", "status"},
	)

	// executionDuration tracks execution wall time
	executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storeflow_execution_duration_seconds",
			Help:    "Workflow execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"workflow"},
	)

	// executionRetries tracks retry attempts per workflow
	executionRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeflow_execution_retries_total",
			Help: "Total execution retry attempts by workflow",
		},
		[]string{"workflow"},
	)

	// retentionDeleted tracks records removed by the retention sweeper
	retentionDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storeflow_retention_deleted_total",
			Help: "Total terminal execution records removed by retention cleanup",
		},
	)
)

// recordExecution increments the terminal execution counter and duration histogram
func recordExecution(workflow, triggerType, status string, duration time.Duration) {
	executionsTotal.WithLabelValues(workflow, triggerType, status).Inc()
	executionDuration.WithLabelValues(workflow).Observe(duration.Seconds())
}

// recordRetry increments the retry counter
func recordRetry(workflow string) {
	executionRetries.WithLabelValues(workflow).Inc()
}

// recordRetentionDeleted adds removed record counts
func recordRetentionDeleted(n int64) {
	retentionDeleted.Add(float64(n))
}
