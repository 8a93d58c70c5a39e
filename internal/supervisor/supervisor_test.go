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
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/deepcontext/shell/internal/locator"
)

type fakeHandle struct {
	pid    int
	exitCh chan int
}

func newFakeHandle(pid int) *fakeHandle {
	return &fakeHandle{pid: pid, exitCh: make(chan int, 1)}
}

func (h *fakeHandle) PID() int { return h.pid }

func (h *fakeHandle) Wait() (int, error) {
	return <-h.exitCh, nil
}

func (h *fakeHandle) exit(code int) { h.exitCh <- code }

type fakeRunner struct {
	mu      sync.Mutex
	err     error
	handles []*fakeHandle
}

func (r *fakeRunner) Start(spec LaunchSpec) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	h := newFakeHandle(100 + len(r.handles))
	r.handles = append(r.handles, h)
	return h, nil
}

func (r *fakeRunner) starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

func (r *fakeRunner) last() *fakeHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[len(r.handles)-1]
}

type fakeKiller struct {
	mu           sync.Mutex
	terminated   []int
	killed       []int
	terminateErr error
	killErr      error
}

func (k *fakeKiller) Terminate(pid int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.terminated = append(k.terminated, pid)
	return k.terminateErr
}

func (k *fakeKiller) Kill(pid int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.killed = append(k.killed, pid)
	return k.killErr
}

type fakeSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *fakeSink) Append(ctx context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *fakeSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind
	}
	return out
}

func located() (locator.Location, bool) {
	return locator.Location{
		Interpreter: "python3",
		Entry:       "/opt/deepcontext/engine/main.py",
		WorkDir:     "/opt/deepcontext/engine",
	}, true
}

func notLocated() (locator.Location, bool) {
	return locator.Location{}, false
}

func newTestSupervisor(t *testing.T, cfg Config, runner Runner, killer Killer) *Supervisor {
	t.Helper()
	if cfg.Locate == nil {
		cfg.Locate = located
	}
	if cfg.Mode == "" {
		cfg.Mode = "development"
	}
	if cfg.GraceDelay == 0 {
		cfg.GraceDelay = time.Millisecond
	}
	return New(cfg, runner, killer, slog.Default())
}

func waitForStatus(t *testing.T, s *Supervisor, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := s.Status(); got == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	got, _ := s.Status()
	t.Fatalf("status = %v, want %v", got, want)
}

func TestStart_NoDoubleSpawn(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestSupervisor(t, Config{}, runner, &fakeKiller{})

	s.Start()
	s.Start()
	s.Start()

	if runner.starts() != 1 {
		t.Fatalf("spawned %d processes, want 1", runner.starts())
	}
	status, pid := s.Status()
	if status != StatusRunning {
		t.Errorf("status = %v, want running", status)
	}
	if pid == 0 {
		t.Errorf("pid = 0, want live pid")
	}
}

func TestStart_MissingEntryScript(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestSupervisor(t, Config{Locate: notLocated}, runner, &fakeKiller{})

	s.Start()

	if runner.starts() != 0 {
		t.Fatalf("spawned %d processes, want 0", runner.starts())
	}
	status, _ := s.Status()
	if status != StatusError {
		t.Errorf("status = %v, want error", status)
	}
}

func TestStart_SpawnFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("fork: resource unavailable")}
	s := newTestSupervisor(t, Config{}, runner, &fakeKiller{})

	s.Start()

	status, _ := s.Status()
	if status != StatusError {
		t.Errorf("status = %v, want error", status)
	}

	// A later start may succeed once the condition clears.
	runner.mu.Lock()
	runner.err = nil
	runner.mu.Unlock()
	s.Start()
	waitForStatus(t, s, StatusRunning)
}

func TestExit_TransitionsToStoppedAndAllowsRestart(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestSupervisor(t, Config{}, runner, &fakeKiller{})

	s.Start()
	runner.last().exit(1)
	waitForStatus(t, s, StatusStopped)

	s.Start()
	waitForStatus(t, s, StatusRunning)
	if runner.starts() != 2 {
		t.Fatalf("spawned %d processes, want 2", runner.starts())
	}
}

func TestStop_NoProcessIsNoOp(t *testing.T) {
	s := newTestSupervisor(t, Config{}, &fakeRunner{}, &fakeKiller{})

	s.Stop() // must not panic

	status, _ := s.Status()
	if status != StatusStopped {
		t.Errorf("status = %v, want stopped", status)
	}
}

func TestStop_GracefulTermination(t *testing.T) {
	runner := &fakeRunner{}
	killer := &fakeKiller{}
	s := newTestSupervisor(t, Config{}, runner, killer)

	s.Start()
	_, pid := s.Status()
	s.Stop()

	killer.mu.Lock()
	defer killer.mu.Unlock()
	if len(killer.terminated) != 1 || killer.terminated[0] != pid {
		t.Errorf("terminated = %v, want [%d]", killer.terminated, pid)
	}
	if len(killer.killed) != 0 {
		t.Errorf("killed = %v, want no escalation", killer.killed)
	}

	status, _ := s.Status()
	if status != StatusStopped {
		t.Errorf("status = %v, want stopped", status)
	}
}

func TestStop_EscalatesOnceAndNeverThrows(t *testing.T) {
	runner := &fakeRunner{}
	killer := &fakeKiller{
		terminateErr: errors.New("operation not permitted"),
		killErr:      errors.New("no such process"),
	}
	s := newTestSupervisor(t, Config{}, runner, killer)

	s.Start()
	s.Stop() // both attempts fail; must not panic

	killer.mu.Lock()
	if len(killer.terminated) != 1 {
		t.Errorf("terminate attempts = %d, want 1", len(killer.terminated))
	}
	if len(killer.killed) != 1 {
		t.Errorf("kill attempts = %d, want 1 (single escalation)", len(killer.killed))
	}
	killer.mu.Unlock()

	// Idempotent cleanup: handle cleared and Stopped even though the OS
	// kill failed.
	status, pid := s.Status()
	if status != StatusStopped || pid != 0 {
		t.Errorf("status = %v pid = %d, want stopped with cleared handle", status, pid)
	}

	s.Stop() // second stop is a no-op
}

func TestStop_DetachesExitWatcher(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestSupervisor(t, Config{}, runner, &fakeKiller{})

	s.Start()
	h := runner.last()
	s.Stop()
	h.exit(143) // the killed process eventually exits

	// The watcher must not clobber state owned by a later start.
	s.Start()
	waitForStatus(t, s, StatusRunning)
	time.Sleep(10 * time.Millisecond)
	status, _ := s.Status()
	if status != StatusRunning {
		t.Errorf("status = %v, want running after stale exit", status)
	}
}

func TestRestart_SpawnsFreshHandle(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestSupervisor(t, Config{}, runner, &fakeKiller{})

	s.Start()
	first := runner.last()
	s.Restart()
	first.exit(143)

	waitForStatus(t, s, StatusRunning)
	if runner.starts() != 2 {
		t.Fatalf("spawned %d processes, want 2", runner.starts())
	}
}

func TestClose_RefusesStart(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestSupervisor(t, Config{}, runner, &fakeKiller{})

	s.Close()
	s.Start()

	if runner.starts() != 0 {
		t.Fatalf("spawned %d processes after close, want 0", runner.starts())
	}
	if status, _ := s.Status(); status != StatusStopped {
		t.Errorf("status = %v, want stopped", status)
	}
}

func TestClose_AbortsRestartInGraceWindow(t *testing.T) {
	runner := &fakeRunner{}
	killer := &fakeKiller{}
	s := newTestSupervisor(t, Config{GraceDelay: 100 * time.Millisecond}, runner, killer)

	s.Start()
	waitForStatus(t, s, StatusRunning)

	done := make(chan struct{})
	go func() {
		s.Restart()
		close(done)
	}()

	// Wait until Restart has stopped the old process, then close while it
	// sleeps out the grace delay. The pending Start must not respawn.
	deadline := time.After(2 * time.Second)
	for {
		if status, _ := s.Status(); status == StatusStopped {
			break
		}
		select {
		case <-deadline:
			t.Fatal("restart never reached the stopped state")
		case <-time.After(time.Millisecond):
		}
	}
	s.Close()
	<-done

	if runner.starts() != 1 {
		t.Fatalf("spawned %d processes, want 1; a restart racing close must not leak an engine", runner.starts())
	}
	if status, _ := s.Status(); status != StatusStopped {
		t.Errorf("status = %v, want stopped", status)
	}
}

func TestJournal_RecordsLifecycleAndSwallowsErrors(t *testing.T) {
	runner := &fakeRunner{}
	sink := &fakeSink{err: errors.New("database is locked")}
	s := newTestSupervisor(t, Config{Journal: sink}, runner, &fakeKiller{})

	s.Start() // journal errors must not surface
	s.Stop()

	kinds := sink.kinds()
	if len(kinds) != 2 || kinds[0] != EventSpawned || kinds[1] != EventStopped {
		t.Errorf("journaled kinds = %v, want [spawned stopped]", kinds)
	}
}

func TestOverlayEnv(t *testing.T) {
	base := []string{"PATH=/usr/bin", "LLM_MODEL=qwen2"}

	env := overlayEnv(base, "production", "llama3")

	if got := lookupEnv(env, "PYTHONUNBUFFERED"); got != "1" {
		t.Errorf("PYTHONUNBUFFERED = %q, want 1", got)
	}
	if got := lookupEnv(env, "DEEPCONTEXT_MODE"); got != "production" {
		t.Errorf("DEEPCONTEXT_MODE = %q, want production", got)
	}
	// Inherited model wins over the configured default.
	if got := lookupEnv(env, "LLM_MODEL"); got != "qwen2" {
		t.Errorf("LLM_MODEL = %q, want qwen2", got)
	}

	env = overlayEnv([]string{"PATH=/usr/bin"}, "development", "llama3")
	if got := lookupEnv(env, "LLM_MODEL"); got != "llama3" {
		t.Errorf("LLM_MODEL default = %q, want llama3", got)
	}
}

func TestNextStatus(t *testing.T) {
	tests := []struct {
		cur  Status
		ev   eventKind
		want Status
	}{
		{StatusStarting, eventSpawned, StatusRunning},
		{StatusStarting, eventSpawnFailed, StatusError},
		{StatusRunning, eventExited, StatusStopped},
		{StatusRunning, eventKillIssued, StatusStopped},
		{StatusStarting, eventKillIssued, StatusStopped},
		{StatusError, eventKillIssued, StatusStopped},
	}

	for _, tt := range tests {
		if got := nextStatus(tt.cur, tt.ev); got != tt.want {
			t.Errorf("nextStatus(%v, %d) = %v, want %v", tt.cur, tt.ev, got, tt.want)
		}
	}
}
