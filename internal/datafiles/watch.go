package datafiles

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch calls onChange every time path is written or replaced, until ctx
// is done. The parent directory is watched so atomic renames are seen.
func Watch(ctx context.Context, path string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				slog.Debug("Ignoring event", "event", event.Op.String(), "file", event.Name)
				continue
			}
			onChange()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("File watcher error", "error", err, "path", path)
		}
	}
}
