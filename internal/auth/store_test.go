package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	store := NewFileStore(path)

	want := &Token{
		AccessToken:  "access-abc",
		RefreshToken: "refresh-xyz",
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(30 * time.Minute).Truncate(time.Second),
	}
	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got == nil {
		t.Fatal("Load() = nil, want token")
	}
	if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
	if got.TokenType != want.TokenType {
		t.Errorf("TokenType = %q, want %q", got.TokenType, want.TokenType)
	}
	if !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, want.ExpiresAt)
	}

	// The persisted layout is a JSON object with all four token fields.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"access_token", "refresh_token", "token_type", "expires_at"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("persisted token lacks %q", key)
		}
	}
}

func TestFileStorePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}
	path := filepath.Join(t.TempDir(), "tokens.json")
	store := NewFileStore(path)

	if err := store.Save(&Token{AccessToken: "a"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("token file mode = %o, want 600", perm)
	}
}

func TestFileStoreMissingIsNil(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))

	tok, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if tok != nil {
		t.Errorf("Load() = %+v, want nil", tok)
	}
}

func TestFileStoreClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	store := NewFileStore(path)

	if err := store.Save(&Token{AccessToken: "a"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if tok, err := store.Load(); err != nil || tok != nil {
		t.Errorf("Load() after Clear = (%+v, %v), want (nil, nil)", tok, err)
	}
	// Clearing an already-empty store is not an error.
	if err := store.Clear(); err != nil {
		t.Errorf("second Clear() error = %v", err)
	}
}

func TestOpenStoreFileMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")

	store, err := OpenStore("file", path)
	if err != nil {
		t.Fatalf("OpenStore(file) error = %v", err)
	}
	if _, ok := store.(*FileStore); !ok {
		t.Fatalf("OpenStore(file) = %T, want *FileStore", store)
	}
}

func TestOpenStoreUnknownMode(t *testing.T) {
	if _, err := OpenStore("vault", "tokens.json"); err == nil {
		t.Fatal("OpenStore(vault) expected an error")
	}
}

func TestTokenExpiresWithin(t *testing.T) {
	tok := &Token{ExpiresAt: time.Now().Add(2 * time.Minute)}

	if tok.ExpiresWithin(time.Minute) {
		t.Error("token with 2m left reported expiring inside 1m margin")
	}
	if !tok.ExpiresWithin(5 * time.Minute) {
		t.Error("token with 2m left not reported expiring inside 5m margin")
	}

	stale := &Token{ExpiresAt: time.Now().Add(-time.Minute)}
	if !stale.ExpiresWithin(0) {
		t.Error("expired token not reported as expiring")
	}
}
