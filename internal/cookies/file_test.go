package cookies

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"akash-router/internal/models"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cookies.json")
	files := NewFileStore(path, time.Hour)

	want := completeSet("abc")
	want[models.CookieAnalytics] = "GA1.1"
	if err := files.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("permissions = %v, want 0600", perm)
	}

	snap, ok := files.Load()
	if !ok {
		t.Fatal("fresh complete file should load")
	}
	for k, v := range want {
		if snap.Cookies[k] != v {
			t.Errorf("cookie %s = %q, want %q", k, snap.Cookies[k], v)
		}
	}
}

func TestFileStoreLoadRejects(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, path string)
	}{
		{
			name:  "missing",
			setup: func(t *testing.T, path string) {},
		},
		{
			name: "corrupt",
			setup: func(t *testing.T, path string) {
				if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "incomplete",
			setup: func(t *testing.T, path string) {
				if err := os.WriteFile(path, []byte(`{"cf_clearance":"x"}`), 0o600); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "stale",
			setup: func(t *testing.T, path string) {
				if err := os.WriteFile(path, []byte(`{"cf_clearance":"x","session_token":"y"}`), 0o600); err != nil {
					t.Fatal(err)
				}
				old := time.Now().Add(-2 * time.Hour)
				if err := os.Chtimes(path, old, old); err != nil {
					t.Fatal(err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cookies.json")
			tt.setup(t, path)

			if _, ok := NewFileStore(path, time.Hour).Load(); ok {
				t.Fatal("expected Load to report no usable cookies")
			}
		})
	}
}

func TestFileStoreReadIgnoresFreshness(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	if err := os.WriteFile(path, []byte(`{"cf_clearance":"x"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	snap, err := NewFileStore(path, time.Hour).Read()
	if err != nil {
		t.Fatal(err)
	}
	if snap.Cookies[models.CookieClearance] != "x" {
		t.Fatalf("clearance = %q", snap.Cookies[models.CookieClearance])
	}
}
