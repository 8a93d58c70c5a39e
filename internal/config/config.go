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

// Package config loads and validates the DeepContext shell configuration.
//
// Configuration is layered: built-in defaults, then the YAML config file at
// the XDG config directory, then environment variables, then CLI flags
// applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Environment variable names recognized by Load.
const (
	EnvMode        = "DEEPCONTEXT_MODE"
	EnvModel       = "LLM_MODEL"
	EnvGatewayAddr = "DCSHELL_GATEWAY_ADDR"
	EnvHealthURL   = "DCSHELL_HEALTH_URL"
)

// Modes the sidecar can run in.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// Config represents the complete shell configuration.
type Config struct {
	Sidecar  SidecarConfig  `yaml:"sidecar"`
	Health   HealthConfig   `yaml:"health"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	DevWatch DevWatchConfig `yaml:"devwatch"`
	Journal  JournalConfig  `yaml:"journal"`
	Log      LogConfig      `yaml:"log"`
}

// SidecarConfig configures how the engine sidecar is located and launched.
type SidecarConfig struct {
	// Packaged selects the packaged layout (entry script under ResourcesDir)
	// over the development layout (entry script under BaseDir).
	Packaged bool `yaml:"packaged"`

	// BaseDir is the development base path. Empty means the current
	// working directory.
	BaseDir string `yaml:"base_dir,omitempty"`

	// ResourcesDir is the packaged resources path.
	ResourcesDir string `yaml:"resources_dir,omitempty"`

	// Mode is passed to the engine via DEEPCONTEXT_MODE.
	// One of "development" or "production".
	Mode string `yaml:"mode"`

	// Model is the LLM_MODEL value for the engine. Defaults to "llama3"
	// when neither this key nor the environment sets one.
	Model string `yaml:"model,omitempty"`
}

// HealthConfig configures the UI dev-server health monitor.
type HealthConfig struct {
	// URL is the polled endpoint. The UI dev server in development mode.
	URL string `yaml:"url"`

	// Interval between polls.
	Interval time.Duration `yaml:"interval"`

	// Timeout bounds each probe request.
	Timeout time.Duration `yaml:"timeout"`

	// FailureThreshold is the number of consecutive failures before the
	// target is declared unhealthy. 1 fires on the first bad response.
	FailureThreshold int `yaml:"failure_threshold"`

	// EngineURL is the engine liveness endpoint, probed on demand only.
	EngineURL string `yaml:"engine_url"`
}

// rawHealth mirrors HealthConfig with string durations, since yaml.v3 has no
// native duration support.
type rawHealth struct {
	URL              string `yaml:"url,omitempty"`
	Interval         string `yaml:"interval,omitempty"`
	Timeout          string `yaml:"timeout,omitempty"`
	FailureThreshold *int   `yaml:"failure_threshold,omitempty"`
	EngineURL        string `yaml:"engine_url,omitempty"`
}

// UnmarshalYAML decodes duration strings ("10s") and leaves fields absent
// from the document at their current (default) values.
func (h *HealthConfig) UnmarshalYAML(value *yaml.Node) error {
	var r rawHealth
	if err := value.Decode(&r); err != nil {
		return err
	}
	if r.URL != "" {
		h.URL = r.URL
	}
	if r.EngineURL != "" {
		h.EngineURL = r.EngineURL
	}
	if r.Interval != "" {
		d, err := time.ParseDuration(r.Interval)
		if err != nil {
			return fmt.Errorf("health.interval: %w", err)
		}
		h.Interval = d
	}
	if r.Timeout != "" {
		d, err := time.ParseDuration(r.Timeout)
		if err != nil {
			return fmt.Errorf("health.timeout: %w", err)
		}
		h.Timeout = d
	}
	if r.FailureThreshold != nil {
		h.FailureThreshold = *r.FailureThreshold
	}
	return nil
}

// MarshalYAML emits duration strings so written configs stay human-editable.
func (h HealthConfig) MarshalYAML() (interface{}, error) {
	threshold := h.FailureThreshold
	return rawHealth{
		URL:              h.URL,
		Interval:         h.Interval.String(),
		Timeout:          h.Timeout.String(),
		FailureThreshold: &threshold,
		EngineURL:        h.EngineURL,
	}, nil
}

// GatewayConfig configures the IPC gateway listener.
type GatewayConfig struct {
	// Addr is the listen address. Must stay on localhost.
	Addr string `yaml:"addr"`
}

// DevWatchConfig configures the development source watcher.
type DevWatchConfig struct {
	// Enabled turns the watcher on. Only honored in development mode.
	Enabled bool `yaml:"enabled"`

	// Ignore holds doublestar glob patterns excluded from change events.
	Ignore []string `yaml:"ignore,omitempty"`
}

// JournalConfig configures the sidecar exit-event journal.
type JournalConfig struct {
	// Path to the sqlite database. Empty means the default under the XDG
	// data directory; "off" disables the journal.
	Path string `yaml:"path,omitempty"`
}

// LogConfig configures shell logging.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Sidecar: SidecarConfig{
			Mode:  ModeDevelopment,
			Model: "llama3",
		},
		Health: HealthConfig{
			URL:              "http://localhost:3000",
			Interval:         5 * time.Second,
			Timeout:          3 * time.Second,
			FailureThreshold: 1,
			EngineURL:        "http://127.0.0.1:8000/health",
		},
		Gateway: GatewayConfig{
			Addr: "127.0.0.1:9600",
		},
		DevWatch: DevWatchConfig{
			Enabled: true,
			Ignore: []string{
				"engine/venv/**",
				"**/__pycache__/**",
				"**/*.pyc",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the configuration from the given path, falling back to the
// default XDG location when path is empty. A missing file is not an error;
// defaults plus environment overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		p, err := Path()
		if err != nil {
			return nil, err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults apply.
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the configuration.
func applyEnv(cfg *Config) {
	if mode := os.Getenv(EnvMode); mode != "" {
		cfg.Sidecar.Mode = mode
	}
	if model := os.Getenv(EnvModel); model != "" {
		cfg.Sidecar.Model = model
	}
	if addr := os.Getenv(EnvGatewayAddr); addr != "" {
		cfg.Gateway.Addr = addr
	}
	if url := os.Getenv(EnvHealthURL); url != "" {
		cfg.Health.URL = url
	}
}

// Validate checks invariants that later components rely on.
func (c *Config) Validate() error {
	if c.Sidecar.Mode != ModeDevelopment && c.Sidecar.Mode != ModeProduction {
		return fmt.Errorf("%w: sidecar.mode must be %q or %q, got %q",
			ErrInvalidConfig, ModeDevelopment, ModeProduction, c.Sidecar.Mode)
	}
	if c.Health.Interval <= 0 {
		return fmt.Errorf("%w: health.interval must be positive", ErrInvalidConfig)
	}
	if c.Health.Timeout <= 0 {
		return fmt.Errorf("%w: health.timeout must be positive", ErrInvalidConfig)
	}
	if c.Health.FailureThreshold < 1 {
		return fmt.Errorf("%w: health.failure_threshold must be at least 1", ErrInvalidConfig)
	}
	if c.Gateway.Addr == "" {
		return fmt.Errorf("%w: gateway.addr must not be empty", ErrInvalidConfig)
	}
	return nil
}

// Development reports whether the shell runs against a self-hosted UI.
func (c *Config) Development() bool {
	return c.Sidecar.Mode == ModeDevelopment
}

// Write serializes the configuration to the given path, creating parent
// directories with restrictive permissions. Used by `dcshell init`.
func (c *Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
