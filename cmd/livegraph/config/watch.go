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
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/livegraph/pkg/logging"
)

// DefaultDebounce is how long Watch waits for a burst of writes to settle.
const DefaultDebounce = 200 * time.Millisecond

// Watch reloads the file at path whenever it changes and calls onChange
// with the result. It blocks until ctx is done.
//
// # Description
//
// The parent directory is watched rather than the file, so editors that
// save by renaming a temporary file are seen too. Events are debounced. A
// file that fails to parse or validate is logged and skipped; onChange only
// ever sees valid configs.
//
// # Inputs
//
//   - ctx: Stops the watcher.
//   - path: Config file. Must exist.
//   - debounce: Quiet period before reloading. Zero uses DefaultDebounce.
//   - onChange: Called from the watcher goroutine.
//   - logger: May be nil.
func Watch(ctx context.Context, path string, debounce time.Duration, onChange func(LivegraphConfig), logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Nop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	logger.Debug("watching config", "path", path)

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			timerC = timer.C

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)

		case <-timerC:
			timerC = nil
			cfg, err := read(path)
			if err != nil {
				logger.Warn("ignoring config change", "path", path, "error", err)
				continue
			}
			logger.Info("config reloaded", "path", path)
			onChange(cfg)
		}
	}
}
