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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ModeDevelopment, cfg.Sidecar.Mode)
	assert.Equal(t, "llama3", cfg.Sidecar.Model)
	assert.Equal(t, "http://localhost:3000", cfg.Health.URL)
	assert.Equal(t, 5*time.Second, cfg.Health.Interval)
	assert.Equal(t, 3*time.Second, cfg.Health.Timeout)
	assert.Equal(t, 1, cfg.Health.FailureThreshold)
	assert.True(t, cfg.Development())
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Health.URL, cfg.Health.URL)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
sidecar:
  mode: production
  packaged: true
  resources_dir: /opt/deepcontext/resources
health:
  interval: 10s
  failure_threshold: 3
gateway:
  addr: 127.0.0.1:9700
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ModeProduction, cfg.Sidecar.Mode)
	assert.True(t, cfg.Sidecar.Packaged)
	assert.Equal(t, "/opt/deepcontext/resources", cfg.Sidecar.ResourcesDir)
	assert.Equal(t, 10*time.Second, cfg.Health.Interval)
	assert.Equal(t, 3, cfg.Health.FailureThreshold)
	assert.Equal(t, "127.0.0.1:9700", cfg.Gateway.Addr)
	// Keys absent from the file keep their defaults.
	assert.Equal(t, 3*time.Second, cfg.Health.Timeout)
	assert.False(t, cfg.Development())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvMode, ModeProduction)
	t.Setenv(EnvModel, "qwen2")
	t.Setenv(EnvGatewayAddr, "127.0.0.1:9999")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ModeProduction, cfg.Sidecar.Mode)
	assert.Equal(t, "qwen2", cfg.Sidecar.Model)
	assert.Equal(t, "127.0.0.1:9999", cfg.Gateway.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Sidecar.Mode = "staging" }},
		{"zero interval", func(c *Config) { c.Health.Interval = 0 }},
		{"zero timeout", func(c *Config) { c.Health.Timeout = 0 }},
		{"zero threshold", func(c *Config) { c.Health.FailureThreshold = 0 }},
		{"empty gateway addr", func(c *Config) { c.Gateway.Addr = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.Sidecar.Model = "qwen2"
	cfg.Health.FailureThreshold = 2
	require.NoError(t, cfg.Write(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "qwen2", loaded.Sidecar.Model)
	assert.Equal(t, 2, loaded.Health.FailureThreshold)
}
