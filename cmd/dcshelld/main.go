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

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/deepcontext/shell/internal/config"
	"github.com/deepcontext/shell/internal/devwatch"
	"github.com/deepcontext/shell/internal/gateway"
	"github.com/deepcontext/shell/internal/health"
	"github.com/deepcontext/shell/internal/journal"
	"github.com/deepcontext/shell/internal/lifecycle"
	"github.com/deepcontext/shell/internal/locator"
	"github.com/deepcontext/shell/internal/log"
	"github.com/deepcontext/shell/internal/supervisor"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to config file")
		baseDir     = flag.String("base-dir", "", "Development base directory for the engine")
		packaged    = flag.Bool("packaged", false, "Use the packaged resource layout")
		mode        = flag.String("mode", "", "Engine mode (development, production)")
		gatewayAddr = flag.String("gateway", "", "Gateway listen address")
		noWatch     = flag.Bool("no-watch", false, "Disable the engine source watcher")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("dcshelld %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load config", log.Error(err))
		os.Exit(1)
	}

	// Apply CLI flag overrides
	if *baseDir != "" {
		cfg.Sidecar.BaseDir = *baseDir
	}
	if *packaged {
		cfg.Sidecar.Packaged = true
	}
	if *mode != "" {
		cfg.Sidecar.Mode = *mode
	}
	if *gatewayAddr != "" {
		cfg.Gateway.Addr = *gatewayAddr
	}
	if *noWatch {
		cfg.DevWatch.Enabled = false
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("dcshelld failed", log.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	controller := lifecycle.New(logger)

	// Exit-event journal. "off" disables it; a broken journal must never
	// keep the shell from starting.
	var store *journal.Store
	var sink supervisor.Sink
	if cfg.Journal.Path != "off" {
		path := cfg.Journal.Path
		if path == "" {
			dataDir, err := config.DataDir()
			if err != nil {
				return fmt.Errorf("failed to resolve data directory: %w", err)
			}
			path = filepath.Join(dataDir, "journal.db")
		}
		st, err := journal.Open(path)
		if err != nil {
			logger.Warn("journal unavailable, continuing without it", log.Error(err))
		} else {
			store = st
			sink = st
		}
	}

	sup := supervisor.New(supervisor.Config{
		Locate: func() (locator.Location, bool) {
			return locator.Resolve(locator.Options{
				Packaged:     cfg.Sidecar.Packaged,
				BaseDir:      cfg.Sidecar.BaseDir,
				ResourcesDir: cfg.Sidecar.ResourcesDir,
			})
		},
		Mode:    cfg.Sidecar.Mode,
		Model:   cfg.Sidecar.Model,
		Journal: sink,
	}, supervisor.NewExecRunner(logger), supervisor.NewKiller(logger), logger)

	monitor := health.New(health.Config{
		URL:              cfg.Health.URL,
		Interval:         cfg.Health.Interval,
		Timeout:          cfg.Health.Timeout,
		FailureThreshold: cfg.Health.FailureThreshold,
	}, func() {
		controller.Shutdown("ui dev server unreachable")
	}, controller.ShuttingDown, logger)

	configDir, err := config.Dir()
	if err != nil {
		return fmt.Errorf("failed to resolve config directory: %w", err)
	}
	token, err := gateway.LoadOrCreateToken(configDir)
	if err != nil {
		return err
	}

	gw := gateway.NewServer(gateway.Config{
		Addr:  cfg.Gateway.Addr,
		Token: token,
	}, logger)
	gateway.RegisterHandlers(gw, gateway.Deps{
		Sidecar: sup,
		Probe: func(ctx context.Context) error {
			return monitor.CheckOnce(ctx, cfg.Health.EngineURL)
		},
		Quit:   controller.Shutdown,
		Logger: logger,
	})

	if err := gw.Start(); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	// Teardown order: stop probing first, then the UI surface, then the
	// sidecar, and the journal last so it records the final stop event.
	controller.OnShutdown("monitor", func(context.Context) {
		cancel()
	})
	controller.OnShutdown("gateway", func(shutdownCtx context.Context) {
		gw.Shutdown(shutdownCtx)
	})
	controller.OnShutdown("supervisor", func(context.Context) {
		sup.Close()
	})
	if store != nil {
		controller.OnShutdown("journal", func(context.Context) {
			store.Close()
		})
	}

	sup.Start()

	// The UI dev server only exists in development; in production the UI is
	// served from packaged files and there is nothing to poll.
	if cfg.Development() {
		go monitor.Run(ctx)
	}

	if cfg.DevWatch.Enabled && cfg.Development() {
		root := cfg.Sidecar.BaseDir
		if root == "" {
			root, _ = os.Getwd()
		}
		watcher, err := devwatch.New(devwatch.Config{
			Root:   root,
			Ignore: cfg.DevWatch.Ignore,
			OnChange: func(paths []string) {
				gw.Publish("engine.sourceChanged", map[string]interface{}{
					"paths": paths,
				})
			},
		}, logger)
		if err != nil {
			logger.Warn("source watcher unavailable", log.Error(err))
		} else {
			go watcher.Run(ctx)
		}
	}

	logger.Info("dcshelld started",
		"gateway", gw.Addr(),
		"mode", cfg.Sidecar.Mode)

	controller.Run(ctx)
	return nil
}
