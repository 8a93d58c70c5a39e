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

// Package locator resolves the interpreter and entry script used to launch
// the engine sidecar.
//
// Resolution is pure path logic: it never spawns anything and never returns
// an error. A missing entry script yields a not-found sentinel; the caller
// decides whether that is fatal.
package locator

import (
	"os"
	"os/exec"
	"path/filepath"
)

// entryScript is the engine entry point, relative to the base path.
const entryScript = "main.py"

// engineDir is the engine source directory, relative to the base path.
const engineDir = "engine"

// Location describes how to launch the sidecar.
type Location struct {
	// Interpreter is the resolved python executable. A venv python when one
	// exists on disk, otherwise a bare interpreter name resolved on PATH.
	Interpreter string

	// Entry is the absolute path to the engine entry script.
	Entry string

	// WorkDir is the entry script's directory, used as the child's cwd.
	WorkDir string
}

// Options selects the layout to resolve against.
type Options struct {
	// Packaged selects the packaged layout rooted at ResourcesDir.
	// Development builds root at BaseDir instead.
	Packaged bool

	// BaseDir is the development base path. Empty means the current
	// working directory.
	BaseDir string

	// ResourcesDir is the packaged resources path.
	ResourcesDir string
}

// Resolve locates the interpreter and entry script for the engine sidecar.
// The second return value is false when the entry script does not exist;
// the returned Location is zero in that case.
func Resolve(opts Options) (Location, bool) {
	base := opts.BaseDir
	if opts.Packaged {
		base = opts.ResourcesDir
	}
	if base == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return Location{}, false
		}
		base = cwd
	}

	root := filepath.Join(base, engineDir)
	entry := filepath.Join(root, entryScript)
	if info, err := os.Stat(entry); err != nil || info.IsDir() {
		return Location{}, false
	}

	return Location{
		Interpreter: resolveInterpreter(root),
		Entry:       entry,
		WorkDir:     root,
	}, true
}

// resolveInterpreter prefers the engine's virtualenv python when present and
// falls back to a system-wide interpreter name.
func resolveInterpreter(engineRoot string) string {
	venv := venvPython(engineRoot)
	if info, err := os.Stat(venv); err == nil && !info.IsDir() {
		return venv
	}

	if _, err := exec.LookPath("python3"); err == nil {
		return "python3"
	}
	return "python"
}
