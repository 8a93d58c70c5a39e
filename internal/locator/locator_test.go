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

//go:build !windows

package locator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeEngine lays out an engine tree under dir. withVenv adds a virtualenv
// interpreter.
func writeEngine(t *testing.T, dir string, withVenv bool) string {
	t.Helper()

	root := filepath.Join(dir, "engine")
	require.NoError(t, os.MkdirAll(root, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.py"), []byte("print('engine')\n"), 0644))

	if withVenv {
		bin := filepath.Join(root, "venv", "bin")
		require.NoError(t, os.MkdirAll(bin, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(bin, "python3"), []byte("#!/bin/sh\n"), 0755))
	}
	return root
}

func TestResolve_MissingEntryIsSentinel(t *testing.T) {
	loc, ok := Resolve(Options{BaseDir: t.TempDir()})
	assert.False(t, ok)
	assert.Zero(t, loc)
}

func TestResolve_DevelopmentLayout(t *testing.T) {
	base := t.TempDir()
	root := writeEngine(t, base, false)

	loc, ok := Resolve(Options{BaseDir: base})
	require.True(t, ok)

	assert.Equal(t, filepath.Join(root, "main.py"), loc.Entry)
	assert.Equal(t, root, loc.WorkDir)
	// No venv on disk: falls back to a PATH interpreter name.
	assert.Contains(t, []string{"python3", "python"}, loc.Interpreter)
}

func TestResolve_PrefersVenvInterpreter(t *testing.T) {
	base := t.TempDir()
	root := writeEngine(t, base, true)

	loc, ok := Resolve(Options{BaseDir: base})
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "venv", "bin", "python3"), loc.Interpreter)
}

func TestResolve_PackagedLayout(t *testing.T) {
	resources := t.TempDir()
	writeEngine(t, resources, false)

	// Packaged resolution ignores BaseDir entirely.
	loc, ok := Resolve(Options{Packaged: true, ResourcesDir: resources, BaseDir: t.TempDir()})
	require.True(t, ok)
	assert.Equal(t, filepath.Join(resources, "engine", "main.py"), loc.Entry)
}
