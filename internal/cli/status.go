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

package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/deepcontext/shell/internal/gateway"
)

var (
	styleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	styleStopped = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	styleLabel   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Width(10)
)

func statusStyle(status string) lipgloss.Style {
	switch status {
	case "running", "starting":
		return styleRunning
	case "error":
		return styleError
	default:
		return styleStopped
	}
}

// NewStatusCommand reports the sidecar state and engine reachability.
func NewStatusCommand() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sidecar status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
			defer cancel()

			client, err := dial(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			var result gateway.StatusResult
			if err := client.Call(ctx, gateway.MethodSidecarStatus, nil, &result); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(result)
			}

			fmt.Fprintf(out, "%s %s\n", styleLabel.Render("sidecar"), statusStyle(result.Status).Render(result.Status))
			if result.PID != 0 {
				fmt.Fprintf(out, "%s %d\n", styleLabel.Render("pid"), result.PID)
			}
			engine := "unreachable"
			style := styleError
			if result.EngineReachable {
				engine = "reachable"
				style = styleRunning
			}
			fmt.Fprintf(out, "%s %s\n", styleLabel.Render("engine"), style.Render(engine))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	return cmd
}

// NewRestartCommand restarts the sidecar.
func NewRestartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the engine sidecar",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
			defer cancel()

			client, err := dial(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			var result gateway.RestartResult
			if err := client.Call(ctx, gateway.MethodSidecarRestart, nil, &result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("restart failed: %s", result.Error)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sidecar restarted")
			return nil
		},
	}
}

// NewStopCommand asks the daemon to shut down.
func NewStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "stop",
		Aliases: []string{"quit"},
		Short:   "Shut down the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
			defer cancel()

			client, err := dial(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Call(ctx, gateway.MethodQuit, nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "shutdown requested")
			return nil
		},
	}
}
