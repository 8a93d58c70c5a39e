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
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/deepcontext/shell/internal/config"
)

// NewInitCommand writes a starter configuration interactively.
func NewInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a starter configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := flagConfig
			if path == "" {
				var err error
				path, err = config.Path()
				if err != nil {
					return err
				}
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.Default()
			useWatcher := cfg.DevWatch.Enabled

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewSelect[string]().
						Title("Engine mode").
						Description("Development runs from source; production uses the packaged layout.").
						Options(
							huh.NewOption("development", config.ModeDevelopment),
							huh.NewOption("production", config.ModeProduction),
						).
						Value(&cfg.Sidecar.Mode),
					huh.NewInput().
						Title("LLM model").
						Description("Passed to the engine as LLM_MODEL.").
						Value(&cfg.Sidecar.Model),
					huh.NewInput().
						Title("UI dev server URL").
						Description("Health-checked in development mode.").
						Value(&cfg.Health.URL),
					huh.NewConfirm().
						Title("Watch engine source for changes?").
						Value(&useWatcher),
				),
			)

			if err := form.Run(); err != nil {
				return err
			}
			cfg.DevWatch.Enabled = useWatcher

			if cfg.Sidecar.Mode == config.ModeProduction {
				cfg.Sidecar.Packaged = true
			}

			if err := cfg.Write(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")
	return cmd
}
