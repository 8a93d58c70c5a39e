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

// Status is the sidecar lifecycle state.
type Status int

const (
	// StatusStopped means no sidecar process exists.
	StatusStopped Status = iota

	// StatusStarting means a spawn is in flight.
	StatusStarting

	// StatusRunning means the sidecar process is alive.
	StatusRunning

	// StatusError means the last spawn attempt failed.
	StatusError
)

// String returns the lowercase state name.
func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// eventKind is a lifecycle event delivered to the state transition function.
type eventKind int

const (
	// eventSpawned: the OS accepted the spawn.
	eventSpawned eventKind = iota

	// eventSpawnFailed: the entry script was missing or the OS refused
	// to spawn.
	eventSpawnFailed

	// eventExited: the OS reported process exit, any code or signal.
	eventExited

	// eventKillIssued: a termination attempt (graceful or escalated) was
	// issued. The OS guarantees eventual reaping from here.
	eventKillIssued
)

// nextStatus is the pure state transition function:
// Stopped → Starting → Running → Stopped on clean exit,
// Starting → Error on spawn failure, Running → Stopped on observed exit,
// any state → Stopped once a kill has been issued.
func nextStatus(cur Status, ev eventKind) Status {
	switch ev {
	case eventSpawned:
		return StatusRunning
	case eventSpawnFailed:
		return StatusError
	case eventExited, eventKillIssued:
		return StatusStopped
	default:
		return cur
	}
}
