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

package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/deepcontext/shell/internal/dialog"
	"github.com/deepcontext/shell/internal/log"
	"github.com/deepcontext/shell/internal/supervisor"
)

// SidecarController is the slice of the supervisor the gateway drives.
type SidecarController interface {
	Status() (supervisor.Status, int)
	Restart()
}

// EngineProber reports whether the engine API answers right now.
type EngineProber func(ctx context.Context) error

// Deps collects everything the built-in handlers need.
type Deps struct {
	Sidecar SidecarController
	Probe   EngineProber

	// Quit asks the lifecycle controller to shut the host down.
	Quit func(reason string)

	Logger *slog.Logger
}

// StatusResult is the payload of sidecar.status.
type StatusResult struct {
	Running         bool   `json:"running"`
	Status          string `json:"status"`
	PID             int    `json:"pid,omitempty"`
	EngineReachable bool   `json:"engineReachable"`
}

// RestartResult is the payload of sidecar.restart.
type RestartResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// OpenFileParams carries the path for file.open.
type OpenFileParams struct {
	Path string `json:"path"`
}

// OpenFileAtLineParams carries the path and line for file.openAtLine.
type OpenFileAtLineParams struct {
	Path string `json:"path"`
	Line int    `json:"line"`
}

const probeTimeout = 2 * time.Second

// RegisterHandlers wires the built-in operations into the server.
func RegisterHandlers(s *Server, deps Deps) {
	logger := log.WithComponent(deps.Logger, "gateway.handlers")

	s.Register(MethodSidecarStatus, func(ctx context.Context, req *Message) (*Message, error) {
		status, pid := deps.Sidecar.Status()

		result := StatusResult{
			Running: status == supervisor.StatusRunning,
			Status:  status.String(),
			PID:     pid,
		}
		if status == supervisor.StatusRunning && deps.Probe != nil {
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			result.EngineReachable = deps.Probe(probeCtx) == nil
			cancel()
		}

		return NewResponse(req.CorrelationID, result)
	})

	s.Register(MethodSidecarRestart, func(ctx context.Context, req *Message) (*Message, error) {
		deps.Sidecar.Restart()

		// Restart is synchronous through the spawn attempt, so the status
		// already reflects the outcome.
		result := RestartResult{Success: true}
		if status, _ := deps.Sidecar.Status(); status == supervisor.StatusError {
			logger.Warn("restart left sidecar in error state")
			result = RestartResult{Error: "sidecar failed to start"}
		}
		return NewResponse(req.CorrelationID, result)
	})

	s.Register(MethodSelectFolder, func(ctx context.Context, req *Message) (*Message, error) {
		return NewResponse(req.CorrelationID, dialog.SelectFolder(ctx))
	})

	s.Register(MethodOpenFile, func(ctx context.Context, req *Message) (*Message, error) {
		var params OpenFileParams
		if err := req.UnmarshalParams(&params); err != nil || params.Path == "" {
			return NewResponse(req.CorrelationID, dialog.OpenResult{Error: "missing path"})
		}
		return NewResponse(req.CorrelationID, dialog.Open(ctx, params.Path))
	})

	s.Register(MethodOpenFileAtLine, func(ctx context.Context, req *Message) (*Message, error) {
		var params OpenFileAtLineParams
		if err := req.UnmarshalParams(&params); err != nil || params.Path == "" {
			return NewResponse(req.CorrelationID, dialog.OpenAtLineResult{Error: "missing path"})
		}
		return NewResponse(req.CorrelationID, dialog.OpenAtLine(ctx, params.Path, params.Line))
	})

	s.Register(MethodQuit, func(ctx context.Context, req *Message) (*Message, error) {
		resp, err := NewResponse(req.CorrelationID, map[string]bool{"ok": true})
		if err != nil {
			return nil, err
		}
		// Acknowledge before tearing the connection down under the caller.
		go deps.Quit("ui requested quit")
		return resp, nil
	})
}
