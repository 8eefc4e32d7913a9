// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugHub Contributors

package hostproc

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/plughub/plughub/internal/plugin"
)

// settleDelay gives a freshly written module binary time to finish
// before we try to execute it.
const settleDelay = 250 * time.Millisecond

// LoadFromDirectory discovers module binaries under dir recursively and
// loads each. Directory absence is a warning, not an error; discovery
// troubles never abort the other modules.
func (h *Host) LoadFromDirectory(ctx context.Context, dir string) []plugin.Descriptor {
	if _, err := os.Stat(dir); err != nil {
		slog.Warn("plugins directory not accessible", "dir", dir, "error", err)
		return nil
	}

	var loaded []plugin.Descriptor
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if d.IsDir() || !h.pattern.Match(d.Name()) {
			return nil
		}
		loaded = append(loaded, h.LoadFromModule(ctx, path)...)
		return nil
	})
	if err != nil {
		slog.Warn("directory walk failed", "dir", dir, "error", err)
	}
	return loaded
}

// Watch auto-loads module binaries dropped into dir. It blocks until ctx
// is done. Subdirectories created while watching are picked up too.
func (h *Host) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close() //nolint:errcheck // best-effort close on shutdown

	if err := addWatchTree(watcher, dir); err != nil {
		return err
	}
	slog.Info("watching plugins directory", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			info, err := os.Stat(event.Name)
			if err != nil {
				continue
			}
			if info.IsDir() {
				if err := addWatchTree(watcher, event.Name); err != nil {
					slog.Warn("failed to watch new directory",
						"dir", event.Name, "error", err)
				}
				continue
			}
			if !h.pattern.Match(filepath.Base(event.Name)) {
				continue
			}
			time.Sleep(settleDelay)
			h.LoadFromModule(ctx, event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("plugins directory watcher error", "error", err)
		}
	}
}

// addWatchTree watches dir and all nested directories.
func addWatchTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil //nolint:nilerr // unreadable entries are skipped, not fatal
		}
		return watcher.Add(path)
	})
}
