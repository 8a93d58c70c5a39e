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

/*
Package supervisor owns the engine sidecar process.

The supervisor spawns the sidecar with the resolved interpreter and entry
script, tracks its lifecycle state, and guarantees whole-tree termination on
stop. At most one process handle is live at any time; a start while the
sidecar is Starting or Running is refused.

The state machine is:

	Stopped → Starting → Running → Stopped   (clean exit)
	Starting → Error                          (spawn failure)
	Running → Stopped                         (observed exit, any reason)
	* → Stopped                               (after a kill was issued)

Process spawn and termination are injected capabilities (Runner, Killer) so
the state machine is testable without OS processes. A crashed sidecar stays
Stopped until the next explicit Start; there is no automatic restart. Close
is terminal: once the shutdown path closes the supervisor, Start refuses to
spawn, so a Restart racing shutdown cannot leave an engine behind.
*/
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/deepcontext/shell/internal/locator"
	"github.com/deepcontext/shell/internal/log"
)

// Environment variables overlaid on the inherited environment at spawn.
const (
	envUnbuffered = "PYTHONUNBUFFERED"
	envMode       = "DEEPCONTEXT_MODE"
	envModel      = "LLM_MODEL"
)

// defaultGraceDelay is the pause between Stop and Start in Restart, letting
// the OS release the engine's listen socket.
const defaultGraceDelay = time.Second

// Event is a journaled lifecycle event.
type Event struct {
	At       time.Time
	Kind     string
	PID      int
	ExitCode int
	Detail   string
}

// Journal event kinds.
const (
	EventSpawned    = "spawned"
	EventSpawnError = "spawn_error"
	EventExited     = "exited"
	EventStopped    = "stopped"
)

// Sink receives journaled lifecycle events. Append must be cheap; errors
// are logged by the supervisor and never propagate.
type Sink interface {
	Append(ctx context.Context, ev Event) error
}

// Config carries the supervisor's launch parameters.
type Config struct {
	// Locate resolves the interpreter and entry script. Usually a closure
	// over locator.Resolve with the configured layout options.
	Locate func() (locator.Location, bool)

	// Mode is the DEEPCONTEXT_MODE value for the engine.
	Mode string

	// Model is the LLM_MODEL default, applied only when the inherited
	// environment does not set one.
	Model string

	// GraceDelay overrides the restart grace period. Zero means 1s.
	GraceDelay time.Duration

	// Journal receives lifecycle events. Nil disables journaling.
	Journal Sink
}

// Supervisor owns the single sidecar process handle.
//
// The handle is mutated only by Start, Stop, and the exit watcher; other
// components read it through Status. Constructed explicitly and passed to
// the lifecycle controller, never a package singleton.
type Supervisor struct {
	cfg    Config
	runner Runner
	killer Killer
	logger *slog.Logger

	mu     sync.Mutex
	status Status
	handle Handle
	closed bool
}

// Killer is the platform termination strategy: process-group signaling on
// POSIX, recursive task termination on Windows. Selected once at startup by
// NewKiller.
type Killer interface {
	// Terminate requests graceful shutdown of the whole tree rooted at pid.
	Terminate(pid int) error

	// Kill forcibly destroys the single process. Used as escalation when
	// Terminate fails.
	Kill(pid int) error
}

// New constructs a supervisor with injected process capabilities.
func New(cfg Config, runner Runner, killer Killer, logger *slog.Logger) *Supervisor {
	if cfg.GraceDelay == 0 {
		cfg.GraceDelay = defaultGraceDelay
	}
	return &Supervisor{
		cfg:    cfg,
		runner: runner,
		killer: killer,
		logger: log.WithComponent(logger, "supervisor"),
		status: StatusStopped,
	}
}

// Start spawns the sidecar. It is a warning no-op while a spawn is in
// flight, the sidecar is running, or the supervisor has been closed. A
// missing entry script transitions to Error without spawning; so does an OS
// spawn refusal. Neither is fatal to the host.
func (s *Supervisor) Start() {
	s.mu.Lock()
	if s.closed {
		s.logger.Warn("supervisor closed, ignoring start")
		s.mu.Unlock()
		return
	}
	if s.status == StatusStarting || s.status == StatusRunning {
		s.logger.Warn("sidecar already active, ignoring start",
			slog.String("status", s.status.String()))
		s.mu.Unlock()
		return
	}
	s.status = StatusStarting
	s.mu.Unlock()

	loc, ok := s.cfg.Locate()
	if !ok {
		s.logger.Error("engine entry script not found")
		s.fail("entry script missing")
		return
	}

	spec := LaunchSpec{
		Interpreter: loc.Interpreter,
		Entry:       loc.Entry,
		WorkDir:     loc.WorkDir,
		Env:         overlayEnv(os.Environ(), s.cfg.Mode, s.cfg.Model),
	}

	handle, err := s.runner.Start(spec)
	if err != nil {
		s.logger.Error("sidecar spawn failed", log.Error(err),
			slog.String("interpreter", loc.Interpreter))
		s.fail(err.Error())
		return
	}

	s.mu.Lock()
	s.handle = handle
	s.status = nextStatus(s.status, eventSpawned)
	s.mu.Unlock()

	pid := handle.PID()
	s.logger.Info("sidecar started",
		slog.Int(log.PIDKey, pid),
		slog.String("interpreter", loc.Interpreter),
		slog.String("entry", loc.Entry))
	sidecarSpawns.Inc()
	s.setStateGauge(StatusRunning)
	s.record(Event{Kind: EventSpawned, PID: pid})

	go s.watch(handle)
}

// fail records a spawn failure.
func (s *Supervisor) fail(detail string) {
	s.mu.Lock()
	s.handle = nil
	s.status = nextStatus(s.status, eventSpawnFailed)
	s.mu.Unlock()

	sidecarExits.WithLabelValues("spawn_error").Inc()
	s.setStateGauge(StatusError)
	s.record(Event{Kind: EventSpawnError, Detail: detail})
}

// watch reaps the process and records the exit. When Stop already detached
// the handle the exit was expected and has been accounted for.
func (s *Supervisor) watch(handle Handle) {
	code, err := handle.Wait()

	s.mu.Lock()
	if s.handle != handle {
		s.mu.Unlock()
		return
	}
	s.handle = nil
	s.status = nextStatus(s.status, eventExited)
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("sidecar exit status unknown", log.Error(err))
	}
	s.logger.Info("sidecar exited", slog.Int("exit_code", code))
	sidecarExits.WithLabelValues("exited").Inc()
	s.setStateGauge(StatusStopped)
	s.record(Event{Kind: EventExited, PID: handle.PID(), ExitCode: code})
}

// Stop terminates the sidecar process tree. It is a warning no-op when no
// handle exists. Graceful termination goes through the platform Killer; on
// failure it escalates once to a forced kill of the single pid, and if that
// fails too the process is logged as leaked rather than retried; stopping
// must never block shutdown forever. The handle is cleared and status set
// to Stopped unconditionally once termination was issued: the OS, not the
// supervisor, guarantees eventual reaping.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	handle := s.handle
	if handle == nil {
		s.logger.Warn("stop requested but no sidecar process exists")
		s.mu.Unlock()
		return
	}
	// Detach before signaling so the exit watcher treats the exit as
	// already accounted for.
	s.handle = nil
	s.mu.Unlock()

	pid := handle.PID()
	s.logger.Info("terminating sidecar", slog.Int(log.PIDKey, pid))

	if err := s.killer.Terminate(pid); err != nil {
		s.logger.Warn("graceful termination failed, escalating",
			slog.Int(log.PIDKey, pid), log.Error(err))
		if err := s.killer.Kill(pid); err != nil {
			s.logger.Error("forced kill failed, abandoning process",
				slog.Int(log.PIDKey, pid), log.Error(err))
		}
	}

	s.mu.Lock()
	s.status = nextStatus(s.status, eventKillIssued)
	s.mu.Unlock()

	sidecarExits.WithLabelValues("stopped").Inc()
	s.setStateGauge(StatusStopped)
	s.record(Event{Kind: EventStopped, PID: pid})
}

// Restart stops the sidecar, waits out the grace delay so the OS can
// release the engine's port, and starts it again. Operator-triggered only.
// Start re-checks the closed flag, so a Close arriving during the grace
// delay wins and no process outlives the shell.
func (s *Supervisor) Restart() {
	s.Stop()
	time.Sleep(s.cfg.GraceDelay)
	s.Start()
}

// Close terminates any live sidecar and puts the supervisor in a terminal
// state where Start is refused. Called from the shutdown path; this is what
// keeps a restart in flight across the grace delay from respawning an
// engine that would outlive the shell.
func (s *Supervisor) Close() {
	s.mu.Lock()
	s.closed = true
	hasHandle := s.handle != nil
	s.mu.Unlock()

	if hasHandle {
		s.Stop()
	}
}

// Status returns the current state and, when running, the pid. Pure read.
func (s *Supervisor) Status() (Status, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil {
		return s.status, s.handle.PID()
	}
	return s.status, 0
}

// record appends to the journal. Journal failures are logged and dropped;
// they must never reach the caller.
func (s *Supervisor) record(ev Event) {
	if s.cfg.Journal == nil {
		return
	}
	ev.At = time.Now().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cfg.Journal.Append(ctx, ev); err != nil {
		s.logger.Warn("journal append failed", log.Error(err))
	}
}

// overlayEnv merges the sidecar's environment overlay onto the inherited
// environment: unbuffered output, the run mode, and a model default applied
// only when the variable is not already set.
func overlayEnv(base []string, mode, model string) []string {
	env := setEnv(base, envUnbuffered, "1")
	env = setEnv(env, envMode, mode)
	if lookupEnv(env, envModel) == "" && model != "" {
		env = setEnv(env, envModel, model)
	}
	return env
}

func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			out := append([]string(nil), env...)
			out[i] = fmt.Sprintf("%s=%s", key, value)
			return out
		}
	}
	return append(append([]string(nil), env...), fmt.Sprintf("%s=%s", key, value))
}

func lookupEnv(env []string, key string) string {
	prefix := key + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			return strings.TrimPrefix(kv, prefix)
		}
	}
	return ""
}
