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

// Package devwatch watches the engine source tree in development mode and
// reports change batches. It only notifies; restarting the sidecar stays a
// deliberate user action.
package devwatch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/deepcontext/shell/internal/log"
)

const defaultDebounce = 500 * time.Millisecond

// Config configures the watcher.
type Config struct {
	// Root is the directory tree to watch.
	Root string

	// Ignore holds doublestar patterns, relative to Root, for paths that
	// never count as source changes.
	Ignore []string

	// Debounce is the quiet window before a change batch is reported.
	Debounce time.Duration

	// OnChange receives the deduplicated relative paths of a batch.
	OnChange func(paths []string)
}

// Watcher debounces filesystem events into change batches.
type Watcher struct {
	cfg    Config
	logger *slog.Logger
	fsw    *fsnotify.Watcher
}

// New creates a watcher over cfg.Root, registering every non-ignored
// subdirectory. fsnotify is not recursive on its own.
func New(cfg Config, logger *slog.Logger) (*Watcher, error) {
	if cfg.Debounce == 0 {
		cfg.Debounce = defaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		cfg:    cfg,
		logger: log.WithComponent(logger, "devwatch"),
		fsw:    fsw,
	}

	if err := w.addTree(cfg.Root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(path) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// ignored matches path (made relative to the root) against the ignore
// patterns.
func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.cfg.Root, path)
	if err != nil || rel == "." {
		return false
	}
	rel = filepath.ToSlash(rel)

	for _, pattern := range w.cfg.Ignore {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// Run processes events until ctx is canceled. New directories are added to
// the watch set as they appear.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()

	w.logger.Info("watching engine source", "root", w.cfg.Root)

	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.ignored(ev.Name) {
				continue
			}

			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(ev.Name); err != nil {
						w.logger.Debug("failed to watch new directory", "path", ev.Name, log.Error(err))
					}
					continue
				}
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}

			if rel, err := filepath.Rel(w.cfg.Root, ev.Name); err == nil {
				pending[filepath.ToSlash(rel)] = struct{}{}
			}

			if timer == nil {
				timer = time.NewTimer(w.cfg.Debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.cfg.Debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", log.Error(err))

		case <-timerC:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			pending = make(map[string]struct{})
			timer = nil
			timerC = nil

			w.logger.Info("engine source changed; restart the sidecar to pick it up",
				"files", len(paths))
			if w.cfg.OnChange != nil {
				w.cfg.OnChange(paths)
			}
		}
	}
}
