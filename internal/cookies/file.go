package cookies

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"akash-router/internal/models"
)

// FileStore persists the cookie set as a JSON object. The file modification
// time is the freshness signal.
type FileStore struct {
	path   string
	maxAge time.Duration
	now    func() time.Time
}

// NewFileStore returns a store for path whose contents expire after maxAge.
func NewFileStore(path string, maxAge time.Duration) *FileStore {
	return &FileStore{
		path:   path,
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Path returns the backing file path.
func (f *FileStore) Path() string {
	return f.path
}

// Save writes set atomically with owner-only permissions.
func (f *FileStore) Save(set models.CookieSet) error {
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cookies: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create cookie dir %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".cookies-*.json")
	if err != nil {
		return fmt.Errorf("create temp cookie file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write cookie file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod cookie file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cookie file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace cookie file %q: %w", f.path, err)
	}

	slog.Info("cookies saved", "path", f.path, "names", set.Names())
	return nil
}

// Read returns whatever the file holds, without completeness or freshness checks.
func (f *FileStore) Read() (models.Snapshot, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return models.Snapshot{}, err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("read cookie file %q: %w", f.path, err)
	}

	var set models.CookieSet
	if err := json.Unmarshal(data, &set); err != nil {
		return models.Snapshot{}, fmt.Errorf("parse cookie file %q: %w", f.path, err)
	}
	if set == nil {
		set = models.CookieSet{}
	}

	return models.Snapshot{Cookies: set, UpdatedAt: info.ModTime()}, nil
}

// Load returns the persisted set when it is complete and fresh. Anything
// else, including a missing or corrupt file, is reported as not usable.
func (f *FileStore) Load() (models.Snapshot, bool) {
	snap, err := f.Read()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Info("cookie file not found", "path", f.path)
		} else {
			slog.Warn("cookie file unreadable", "path", f.path, "err", err)
		}
		return models.Snapshot{}, false
	}

	if !snap.Cookies.Complete() {
		slog.Warn("cookie file lacks required cookies", "path", f.path)
		return models.Snapshot{}, false
	}
	if !snap.Fresh(f.maxAge, f.now()) {
		slog.Info("cookie file expired", "path", f.path, "age", f.now().Sub(snap.UpdatedAt).Round(time.Second))
		return models.Snapshot{}, false
	}

	return snap, true
}
