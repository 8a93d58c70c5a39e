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
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/deepcontext/shell/internal/config"
	"github.com/deepcontext/shell/internal/journal"
	"github.com/deepcontext/shell/internal/supervisor"
)

var styleDim = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

// NewHistoryCommand lists recent sidecar lifecycle events from the journal.
// It reads the database directly, so it works while the daemon is down.
func NewHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sidecar lifecycle events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			path := cfg.Journal.Path
			if path == "" || path == "off" {
				dataDir, err := config.DataDir()
				if err != nil {
					return err
				}
				path = filepath.Join(dataDir, "journal.db")
			}

			store, err := journal.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open journal at %s: %w", path, err)
			}
			defer store.Close()

			events, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no events recorded")
				return nil
			}

			out := cmd.OutOrStdout()
			for _, ev := range events {
				when := styleDim.Render(ev.At.Format("2006-01-02 15:04:05"))
				switch ev.Kind {
				case supervisor.EventExited:
					fmt.Fprintf(out, "%s  %-12s pid=%d exit=%d\n", when, ev.Kind, ev.PID, ev.ExitCode)
				case supervisor.EventSpawnError:
					fmt.Fprintf(out, "%s  %-12s %s\n", when, ev.Kind, ev.Detail)
				default:
					fmt.Fprintf(out, "%s  %-12s pid=%d\n", when, ev.Kind, ev.PID)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of events to show")
	return cmd
}
