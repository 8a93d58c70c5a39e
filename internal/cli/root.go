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

// Package cli implements the dcshell control commands. Each command talks
// to a running dcshelld over its gateway, except history and init which work
// directly against the local files.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/deepcontext/shell/internal/config"
	"github.com/deepcontext/shell/internal/gateway"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Flag values shared across subcommands.
var (
	flagGateway string
	flagConfig  string
)

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// NewRootCommand creates the root Cobra command for dcshell.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dcshell",
		Short: "dcshell - DeepContext shell control",
		Long: `dcshell controls a running DeepContext shell daemon (dcshelld).
It can inspect and restart the engine sidecar, open files from search
results, and browse the sidecar's exit history.

Run 'dcshell init' to create a starter configuration.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	cmd.PersistentFlags().StringVar(&flagGateway, "gateway", "", "Gateway address (default from config)")
	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config file (default: ~/.config/dcshell/config.yaml)")

	return cmd
}

// loadConfig loads the effective configuration for CLI commands.
func loadConfig() (*config.Config, error) {
	return config.Load(flagConfig)
}

// dial connects to the daemon's gateway using the shared on-disk token.
func dial(ctx context.Context) (*gateway.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	addr := flagGateway
	if addr == "" {
		addr = cfg.Gateway.Addr
	}

	configDir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	token, err := gateway.LoadOrCreateToken(configDir)
	if err != nil {
		return nil, err
	}

	client, err := gateway.Dial(ctx, addr, token)
	if err != nil {
		return nil, fmt.Errorf("is dcshelld running? %w", err)
	}
	return client, nil
}

// callTimeout bounds a single CLI round trip.
const callTimeout = 10 * time.Second

// NewVersionCommand reports build information.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "dcshell %s (commit: %s, built: %s)\n", version, commit, buildDate)
			return nil
		},
	}
}
