package cookies

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchFile reloads the store whenever the cookie file is rewritten with a
// complete, fresh set. It blocks until ctx is done. The parent directory is
// watched so atomic rename-into-place writes are observed.
func WatchFile(ctx context.Context, m *Manager, files *FileStore) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create cookie watcher: %w", err)
	}
	defer watcher.Close()

	target, err := filepath.Abs(files.Path())
	if err != nil {
		return fmt.Errorf("resolve cookie path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %q: %w", filepath.Dir(target), err)
	}

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
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			snap, ok := files.Load()
			if !ok {
				continue
			}
			current := m.Store().Get()
			if equalSets(current, snap.Cookies) {
				continue
			}
			m.Adopt(snap.Cookies, snap.UpdatedAt)
			slog.Info("cookie file changed; store reloaded", "path", target)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("cookie watcher error", "err", err)
		}
	}
}

func equalSets(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
