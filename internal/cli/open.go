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
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/deepcontext/shell/internal/dialog"
	"github.com/deepcontext/shell/internal/gateway"
)

// NewOpenCommand opens a file through the daemon, optionally at a line.
func NewOpenCommand() *cobra.Command {
	var line int

	cmd := &cobra.Command{
		Use:   "open <path>",
		Short: "Open a file with the default handler or editor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
			defer cancel()

			client, err := dial(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			if line > 0 {
				var result dialog.OpenAtLineResult
				params := gateway.OpenFileAtLineParams{Path: path, Line: line}
				if err := client.Call(ctx, gateway.MethodOpenFileAtLine, params, &result); err != nil {
					return err
				}
				if !result.Success {
					return fmt.Errorf("open failed: %s", result.Error)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "opened %s:%d (%s editor)\n", path, line, result.Editor)
				return nil
			}

			var result dialog.OpenResult
			params := gateway.OpenFileParams{Path: path}
			if err := client.Call(ctx, gateway.MethodOpenFile, params, &result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("open failed: %s", result.Error)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "opened %s\n", path)
			return nil
		},
	}

	cmd.Flags().IntVarP(&line, "line", "l", 0, "Open at this line in an external editor")
	return cmd
}
