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

//go:build windows

package supervisor

import (
	"log/slog"
	"os"
	"os/exec"
	"strconv"
)

// treeKiller terminates Windows process trees with taskkill, which walks
// the task tree recursively. There is no process-group signal equivalent.
type treeKiller struct {
	logger *slog.Logger
}

// NewKiller returns the platform termination strategy.
func NewKiller(logger *slog.Logger) Killer {
	return &treeKiller{logger: logger}
}

// Terminate forcibly ends the process and every descendant.
func (k *treeKiller) Terminate(pid int) error {
	return exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid)).Run()
}

// Kill destroys the single process without touching descendants.
func (k *treeKiller) Kill(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
