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

// Package lifecycle ties the daemon together: it owns the shutdown state and
// funnels every trigger (OS signal, gateway quit request, fatal health
// failure) through a single idempotent Shutdown.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/deepcontext/shell/internal/log"
)

// Hook is a teardown step run exactly once during shutdown, in registration
// order. Hooks must not block indefinitely.
type Hook struct {
	Name string
	Run  func(ctx context.Context)
}

// Controller serializes shutdown. Any number of goroutines may call
// Shutdown concurrently; the hooks run once, on the first caller.
type Controller struct {
	logger *slog.Logger

	mu    sync.Mutex
	hooks []Hook

	once     sync.Once
	stopping atomic.Bool
	done     chan struct{}
}

func New(logger *slog.Logger) *Controller {
	return &Controller{
		logger: log.WithComponent(logger, "lifecycle"),
		done:   make(chan struct{}),
	}
}

// OnShutdown registers a teardown hook. Registration after shutdown has
// begun is ignored.
func (c *Controller) OnShutdown(name string, fn func(ctx context.Context)) {
	if c.stopping.Load() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, Hook{Name: name, Run: fn})
}

// ShuttingDown reports whether shutdown has started. Components use this to
// suppress errors that are expected noise during teardown.
func (c *Controller) ShuttingDown() bool {
	return c.stopping.Load()
}

// Shutdown runs the registered hooks exactly once and unblocks Run. Extra
// calls are no-ops.
func (c *Controller) Shutdown(reason string) {
	c.stopping.Store(true)
	c.once.Do(func() {
		c.logger.Info("shutting down", log.ReasonKey, reason)

		c.mu.Lock()
		hooks := c.hooks
		c.mu.Unlock()

		ctx := context.Background()
		for _, h := range hooks {
			c.runHook(ctx, h)
		}
		close(c.done)
	})
}

// runHook isolates hook panics so one broken teardown step cannot abort the
// rest of shutdown.
func (c *Controller) runHook(ctx context.Context, h Hook) {
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok && teardownNoise(err) {
				c.logger.Debug("ignoring teardown noise", "hook", h.Name, log.Error(err))
				return
			}
			c.logger.Warn("shutdown hook panicked", "hook", h.Name, "panic", r)
		}
	}()
	h.Run(ctx)
}

// teardownNoise reports whether err is a benign symptom of the other end of
// a pipe or socket disappearing first during shutdown.
func teardownNoise(err error) bool {
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "write after end")
}

// Run blocks until SIGINT, SIGTERM, context cancellation, or a Shutdown
// call, then waits for the hooks to finish.
func (c *Controller) Run(ctx context.Context) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case sig := <-sigs:
		c.Shutdown("signal " + sig.String())
	case <-ctx.Done():
		c.Shutdown("context canceled")
	case <-c.done:
	}

	<-c.done
}
