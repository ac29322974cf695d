package auth

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTokenStoreRoundTrip(t *testing.T) {
	store := NewTokenStore(t.TempDir())

	if got := store.Load(); got != "" {
		t.Fatalf("Load before save = %q, want empty", got)
	}

	if err := store.Save("abc.def.ghi"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := store.Load(); got != "abc.def.ghi" {
		t.Errorf("Load = %q, want abc.def.ghi", got)
	}
}

func TestTokenStoreTrimsWhitespace(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "token"), []byte("  abc.def.ghi\n"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	store := NewTokenStore(dir)
	if got := store.Load(); got != "abc.def.ghi" {
		t.Errorf("Load = %q, want trimmed token", got)
	}
}

func TestTokenStorePermissions(t *testing.T) {
	store := NewTokenStore(t.TempDir())
	if err := store.Save("abc.def.ghi"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(store.path())
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("token file mode = %o, want 0600", perm)
	}
}

func TestTokenStoreClear(t *testing.T) {
	store := NewTokenStore(t.TempDir())
	if err := store.Save("abc.def.ghi"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got := store.Load(); got != "" {
		t.Errorf("Load after clear = %q, want empty", got)
	}

	// Clearing again is not an error.
	if err := store.Clear(); err != nil {
		t.Errorf("second Clear: %v", err)
	}
}
