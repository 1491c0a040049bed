// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces editor write bursts (truncate + write + chmod)
// into a single reload.
const watchDebounce = 500 * time.Millisecond

// Watcher reloads a config file when it changes on disk.
//
// Description:
//
//	Watches the parent directory of the config file (editors often replace
//	the file via rename, which drops a watch on the file itself) and calls
//	the onReload callback with each successfully loaded new config. A file
//	change that fails to parse or validate is logged and skipped; the
//	previous config stays in effect.
//
// Thread Safety: Start may be called once. The callback runs on the
// watcher goroutine; it must synchronize its own state.
type Watcher struct {
	path     string
	onReload func(*Config)
	logger   *slog.Logger
	fsw      *fsnotify.Watcher
}

// NewWatcher creates a config file watcher.
//
// Inputs:
//   - path: The config file to watch.
//   - onReload: Called with each successfully reloaded config. Must not be nil.
//   - logger: Logger for reload diagnostics. May be nil.
//
// Outputs:
//   - *Watcher: Configured watcher. Call Start to begin watching.
//   - error: Non-nil if the underlying fsnotify watcher cannot be created.
func NewWatcher(path string, onReload func(*Config), logger *slog.Logger) (*Watcher, error) {
	if onReload == nil {
		return nil, fmt.Errorf("config watcher: onReload must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: creating fsnotify watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config watcher: resolving %s: %w", path, err)
	}

	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config watcher: watching %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		path:     abs,
		onReload: onReload,
		logger:   logger,
		fsw:      fsw,
	}, nil
}

// Start runs the watch loop until the context is cancelled.
//
// Description:
//
//	Blocks. Run it in its own goroutine. The fsnotify watcher is closed
//	when the loop exits.
func (w *Watcher) Start(ctx context.Context) {
	defer w.fsw.Close()

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(watchDebounce)
			} else {
				debounce.Reset(watchDebounce)
			}
			debounceC = debounce.C

		case <-debounceC:
			debounceC = nil
			w.reload(ctx)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}

// reload loads the file and delivers it; parse failures keep the old config.
func (w *Watcher) reload(ctx context.Context) {
	cfg, err := LoadConfigFile(ctx, w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous config",
			slog.String("path", w.path),
			slog.String("error", err.Error()),
		)
		return
	}

	w.logger.Info("config reloaded", slog.String("path", w.path))
	w.onReload(cfg)
}
