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

//go:build !windows

package supervisor

import (
	"log/slog"
	"syscall"
)

// groupKiller terminates POSIX process trees by signaling the negative
// process-group id, which delivers the signal to every member of the group.
// The syscalls are fields so tests can exercise the fallback paths.
type groupKiller struct {
	logger  *slog.Logger
	getpgid func(pid int) (int, error)
	kill    func(pid int, sig syscall.Signal) error
}

// NewKiller returns the platform termination strategy.
func NewKiller(logger *slog.Logger) Killer {
	return &groupKiller{
		logger:  logger,
		getpgid: syscall.Getpgid,
		kill:    syscall.Kill,
	}
}

// Terminate sends SIGTERM to the child's process group. When the group
// signal fails (the child never became a group leader), it falls back to
// signaling the single pid.
func (k *groupKiller) Terminate(pid int) error {
	pgid, err := k.getpgid(pid)
	if err == nil {
		if err := k.kill(-pgid, syscall.SIGTERM); err == nil {
			return nil
		}
		k.logger.Warn("group signal failed, signaling single process",
			slog.Int("pid", pid), slog.Int("pgid", pgid))
	}
	return k.kill(pid, syscall.SIGTERM)
}

// Kill sends an unconditional SIGKILL to the single process.
func (k *groupKiller) Kill(pid int) error {
	return k.kill(pid, syscall.SIGKILL)
}
