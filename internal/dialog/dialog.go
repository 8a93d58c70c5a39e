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

// Package dialog implements the host-side folder-picker and file-open
// capabilities exposed to the UI.
//
// Every operation fails soft: the result object carries the failure and no
// error ever crosses the IPC boundary. The implementations shell out to the
// platform's own tools (zenity, osascript, xdg-open, PowerShell) so the
// host stays free of GUI toolkit dependencies.
package dialog

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// FolderResult is the outcome of a folder selection.
type FolderResult struct {
	Canceled bool    `json:"canceled"`
	Path     *string `json:"path"`
}

// OpenResult is the outcome of opening a file with the default handler.
type OpenResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// OpenAtLineResult is the outcome of opening a file at a specific line.
type OpenAtLineResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Editor  string `json:"editor,omitempty"` // "external" or "default"
}

// Editor values reported by OpenAtLine.
const (
	EditorExternal = "external"
	EditorDefault  = "default"
)

// SelectFolder shows the platform folder picker. A missing picker tool or a
// dismissed dialog both report canceled.
func SelectFolder(ctx context.Context) FolderResult {
	var out []byte
	var err error

	switch runtime.GOOS {
	case "darwin":
		out, err = exec.CommandContext(ctx, "osascript", "-e",
			`POSIX path of (choose folder with prompt "Select a folder to index")`).Output()
	case "windows":
		script := `Add-Type -AssemblyName System.Windows.Forms; ` +
			`$d = New-Object System.Windows.Forms.FolderBrowserDialog; ` +
			`if ($d.ShowDialog() -eq 'OK') { Write-Output $d.SelectedPath }`
		out, err = exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command", script).Output()
	default:
		out, err = exec.CommandContext(ctx, "zenity", "--file-selection", "--directory").Output()
	}

	if err != nil {
		// Dismissal and a missing tool are both a cancel, not a failure.
		return FolderResult{Canceled: true}
	}
	path := strings.TrimSpace(string(out))
	if path == "" {
		return FolderResult{Canceled: true}
	}
	return FolderResult{Path: &path}
}

// Open opens path with the platform's default handler.
func Open(ctx context.Context, path string) OpenResult {
	if _, err := os.Stat(path); err != nil {
		return OpenResult{Error: fmt.Sprintf("no such file: %s", path)}
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", path)
	case "windows":
		cmd = exec.CommandContext(ctx, "cmd", "/c", "start", "", path)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", path)
	}

	if err := cmd.Run(); err != nil {
		return OpenResult{Error: err.Error()}
	}
	return OpenResult{Success: true}
}

// OpenAtLine opens path at the given line in an external editor when one is
// available, falling back to the default handler (which loses the line).
func OpenAtLine(ctx context.Context, path string, line int) OpenAtLineResult {
	if _, err := os.Stat(path); err != nil {
		return OpenAtLineResult{Error: fmt.Sprintf("no such file: %s", path)}
	}
	if line < 1 {
		line = 1
	}

	if code, err := exec.LookPath("code"); err == nil {
		err := exec.CommandContext(ctx, code, "-g", fmt.Sprintf("%s:%d", path, line)).Run()
		if err == nil {
			return OpenAtLineResult{Success: true, Editor: EditorExternal}
		}
	}

	res := Open(ctx, path)
	if !res.Success {
		return OpenAtLineResult{Error: res.Error}
	}
	return OpenAtLineResult{Success: true, Editor: EditorDefault}
}
