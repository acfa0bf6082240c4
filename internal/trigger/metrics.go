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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// firingsTotal tracks trigger firings by trigger type and outcome
	firingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeflow_trigger_firings_total",
			Help: "Total trigger firings by trigger type and result",
		},
		[]string{"trigger_type", "result"},
	)
)

// recordFiring increments the firing counter
func recordFiring(triggerType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	firingsTotal.WithLabelValues(triggerType, result).Inc()
}
