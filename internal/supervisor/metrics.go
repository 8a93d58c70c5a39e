// Copyright 2025 Tom Barlow
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

package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sidecarSpawns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dcshell_sidecar_spawns_total",
			Help: "Total sidecar spawn attempts that reached the OS",
		},
	)

	// sidecarExits counts handle teardowns by reason: exited (observed
	// process exit), stopped (terminated by the shell), spawn_error.
	sidecarExits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcshell_sidecar_exits_total",
			Help: "Total sidecar exits by reason",
		},
		[]string{"reason"},
	)

	sidecarState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dcshell_sidecar_state",
			Help: "Current sidecar state (0=stopped 1=starting 2=running 3=error)",
		},
	)
)

func (s *Supervisor) setStateGauge(st Status) {
	sidecarState.Set(float64(st))
}
