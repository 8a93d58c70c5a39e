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

package devwatch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func TestIgnorePatterns(t *testing.T) {
	dir := t.TempDir()
	for _, sub := range []string{"engine", "engine/venv/lib", "engine/__pycache__"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	w, err := New(Config{
		Root:   dir,
		Ignore: []string{"engine/venv/**", "**/__pycache__/**", "**/*.pyc"},
	}, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.fsw.Close()

	cases := []struct {
		path string
		want bool
	}{
		{filepath.Join(dir, "engine", "main.py"), false},
		{filepath.Join(dir, "engine", "venv", "lib", "x.py"), true},
		{filepath.Join(dir, "engine", "__pycache__", "main.cpython-312.pyc"), true},
		{filepath.Join(dir, "engine", "util.pyc"), true},
		{dir, false},
	}
	for _, tc := range cases {
		if got := w.ignored(tc.path); got != tc.want {
			t.Errorf("ignored(%s) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestDebouncedBatch(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "engine"), 0o755); err != nil {
		t.Fatal(err)
	}

	batches := make(chan []string, 4)
	w, err := New(Config{
		Root:     dir,
		Debounce: 100 * time.Millisecond,
		OnChange: func(paths []string) { batches <- paths },
	}, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Two writes inside one debounce window must produce one batch.
	for _, name := range []string{"main.py", "routes.py"} {
		if err := os.WriteFile(filepath.Join(dir, "engine", name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case paths := <-batches:
		if len(paths) < 1 {
			t.Fatalf("empty batch")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("batch never arrived")
	}

	select {
	case paths := <-batches:
		t.Fatalf("unexpected second batch: %v", paths)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestIgnoredFilesProduceNoBatch(t *testing.T) {
	dir := t.TempDir()

	batches := make(chan []string, 1)
	w, err := New(Config{
		Root:     dir,
		Ignore:   []string{"**/*.pyc"},
		Debounce: 100 * time.Millisecond,
		OnChange: func(paths []string) { batches <- paths },
	}, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := os.WriteFile(filepath.Join(dir, "mod.pyc"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case paths := <-batches:
		t.Fatalf("ignored file produced batch: %v", paths)
	case <-time.After(500 * time.Millisecond):
	}
}
