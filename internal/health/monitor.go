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
Package health polls an HTTP endpoint to detect a hung or crashed target.

The monitor's defining correctness property is body draining: every
response, success or failure, is read to completion before the request is
considered done. A half-read body leaves the underlying socket lingering in
a half-closed state, and at a 5-second poll interval that leaks roughly one
stuck socket per cycle until the OS socket limit starves the very server
being monitored.
*/
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/deepcontext/shell/internal/log"
)

// ErrUnhealthy is returned when the target answers with a failure status.
var ErrUnhealthy = errors.New("health: target unhealthy")

// Config is the immutable monitor configuration, set once at startup.
type Config struct {
	// URL is the polled endpoint.
	URL string

	// Interval between polls. Default 5s.
	Interval time.Duration

	// Timeout bounds each probe; a slow response is forcibly aborted.
	// Default 3s.
	Timeout time.Duration

	// FailureThreshold is the number of consecutive failures before the
	// unhealthy callback fires. Default 1 (first bad response).
	FailureThreshold int
}

// Monitor polls Config.URL and reports sustained failure exactly once per
// unhealthy episode.
type Monitor struct {
	cfg          Config
	client       *http.Client
	logger       *slog.Logger
	onUnhealthy  func()
	shuttingDown func() bool

	mu          sync.Mutex
	consecutive int
	fired       bool
}

// New constructs a monitor. onUnhealthy runs when FailureThreshold
// consecutive probes fail; it fires once per episode and re-arms after a
// success. shuttingDown gates the teardown-noise filter; nil means never.
func New(cfg Config, onUnhealthy func(), shuttingDown func() bool, logger *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if shuttingDown == nil {
		shuttingDown = func() bool { return false }
	}
	return &Monitor{
		cfg:          cfg,
		client:       &http.Client{},
		logger:       log.WithComponent(logger, "health"),
		onUnhealthy:  onUnhealthy,
		shuttingDown: shuttingDown,
	}
}

// Run polls until ctx is cancelled. Each tick issues a fresh probe even if
// an earlier one is still in flight; probes are individually bounded by the
// per-request timeout. No poll outlives cancellation observably: a pending
// request at shutdown fails silently through the teardown-noise filter.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info("health monitor started",
		slog.String(log.URLKey, m.cfg.URL),
		slog.Duration("interval", m.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopped")
			return
		case <-ticker.C:
			go m.poll(ctx)
		}
	}
}

// poll runs one probe and updates the failure streak.
func (m *Monitor) poll(ctx context.Context) {
	err := m.CheckOnce(ctx, m.cfg.URL)
	if err == nil {
		m.mu.Lock()
		recovered := m.fired
		m.consecutive = 0
		m.fired = false
		m.mu.Unlock()

		healthProbes.WithLabelValues("ok").Inc()
		consecutiveFailures.Set(0)
		if recovered {
			m.logger.Info("target recovered", slog.String(log.URLKey, m.cfg.URL))
		}
		return
	}

	if m.teardownNoise(ctx, err) {
		m.logger.Debug("probe error during shutdown ignored", log.Error(err))
		return
	}

	m.mu.Lock()
	m.consecutive++
	streak := m.consecutive
	fire := streak >= m.cfg.FailureThreshold && !m.fired
	if fire {
		m.fired = true
	}
	m.mu.Unlock()

	healthProbes.WithLabelValues("fail").Inc()
	consecutiveFailures.Set(float64(streak))
	m.logger.Warn("health probe failed",
		slog.String(log.URLKey, m.cfg.URL),
		slog.Int("consecutive", streak),
		log.Error(err))

	if fire {
		m.logger.Error("target unhealthy", slog.String(log.URLKey, m.cfg.URL))
		if m.onUnhealthy != nil {
			m.onUnhealthy()
		}
	}
}

// CheckOnce issues a single GET against url with the per-request timeout.
// The response body is always fully drained before the connection is
// considered free, whatever the status code.
func (m *Monitor) CheckOnce(ctx context.Context, url string) error {
	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}

	// Drain before close so the transport can reuse the connection
	// instead of abandoning a half-closed socket.
	_, drainErr := io.Copy(io.Discard, resp.Body)
	closeErr := resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: status %d", ErrUnhealthy, resp.StatusCode)
	}
	if drainErr != nil {
		return drainErr
	}
	return closeErr
}

// teardownNoise reports whether err is an expected artifact of the shutdown
// race: the target closing its listener (connection refused) or closing a
// half-written connection (broken pipe) while the shell tears down.
func (m *Monitor) teardownNoise(ctx context.Context, err error) bool {
	if ctx.Err() == nil && !m.shuttingDown() {
		return false
	}
	return ctx.Err() != nil ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}
