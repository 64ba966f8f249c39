package dotdir

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchWarmSet calls fn with the current warm set whenever warm.json in the
// target directory is written or created, until ctx is done. A warm set
// that fails to parse is logged and skipped. It returns nil immediately
// when there is no target directory.
func (m *Manager) WatchWarmSet(ctx context.Context, overrideDir string, logger *slog.Logger, fn func([]WarmEntry)) error {
	dir, err := m.Target(overrideDir)
	if err != nil || dir == "" {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating warm set watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	path := filepath.Join(dir, warmFile)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			entries, err := m.LoadWarmSet(dir)
			if err != nil {
				logger.Warn("ignoring unreadable warm set", "path", path, "error", err)
				continue
			}
			fn(entries)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("warm set watcher error: %w", err)
		}
	}
}
