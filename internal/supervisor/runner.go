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
	"bufio"
	"errors"
	"io"
	"log/slog"
	"os/exec"
)

// LaunchSpec describes the sidecar process to spawn.
type LaunchSpec struct {
	Interpreter string
	Entry       string
	WorkDir     string
	Env         []string
}

// Handle is a live sidecar process.
type Handle interface {
	// PID returns the OS process identifier.
	PID() int

	// Wait blocks until the process exits and returns its exit code.
	// A non-nil error means the exit status could not be determined.
	Wait() (int, error)
}

// Runner spawns sidecar processes. Swapped for a test double in tests so
// the supervisor state machine is exercised without real processes.
type Runner interface {
	Start(spec LaunchSpec) (Handle, error)
}

// execRunner spawns real OS processes via os/exec. The child runs in its own
// process group so termination can take the whole tree (the engine spawns
// model-loading workers of its own).
type execRunner struct {
	logger *slog.Logger
}

// NewExecRunner returns the production Runner. Captured stdout/stderr lines
// are re-logged through logger; the pipes are never the host's own streams.
func NewExecRunner(logger *slog.Logger) Runner {
	return &execRunner{logger: logger}
}

func (r *execRunner) Start(spec LaunchSpec) (Handle, error) {
	cmd := exec.Command(spec.Interpreter, spec.Entry)
	cmd.Dir = spec.WorkDir
	cmd.Env = spec.Env
	cmd.Stdin = nil
	cmd.SysProcAttr = procAttr()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	go r.logLines(stdout, "stdout")
	go r.logLines(stderr, "stderr")

	return &execHandle{cmd: cmd}, nil
}

// logLines re-logs captured engine output line by line. Read errors are
// swallowed: the engine's own I/O must never crash the supervisor.
func (r *execRunner) logLines(pipe io.Reader, stream string) {
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		r.logger.Info(scanner.Text(), slog.String("stream", stream))
	}
}

type execHandle struct {
	cmd *exec.Cmd
}

func (h *execHandle) PID() int {
	return h.cmd.Process.Pid
}

func (h *execHandle) Wait() (int, error) {
	err := h.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
