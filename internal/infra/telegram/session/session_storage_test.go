package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	tdsession "github.com/gotd/td/session"
)

func TestFileStorageRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "session.bin")
	fs := &FileStorage{Path: path}

	if _, err := fs.LoadSession(context.Background()); !errors.Is(err, tdsession.ErrNotFound) {
		t.Fatalf("LoadSession on missing file = %v, want ErrNotFound", err)
	}

	if err := fs.StoreSession(context.Background(), []byte(`{"Version":1}`)); err != nil {
		t.Fatalf("StoreSession: %v", err)
	}
	got, err := fs.LoadSession(context.Background())
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if string(got) != `{"Version":1}` {
		t.Fatalf("LoadSession = %q", got)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("session perm = %o, want 600", perm)
	}
}

func TestFileStorageNil(t *testing.T) {
	t.Parallel()

	var fs *FileStorage
	if _, err := fs.LoadSession(context.Background()); err == nil {
		t.Fatal("nil storage must fail")
	}
	if err := fs.StoreSession(context.Background(), nil); err == nil {
		t.Fatal("nil storage must fail")
	}
}

func TestFileStorageEmptyFileIsMissing(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	fs := &FileStorage{Path: path}
	if _, err := fs.LoadSession(context.Background()); !errors.Is(err, tdsession.ErrNotFound) {
		t.Fatalf("LoadSession on empty file = %v, want ErrNotFound", err)
	}
}

func TestFileStorageNotifiesOnStore(t *testing.T) {
	t.Parallel()

	stored := 0
	fs := &FileStorage{
		Path:     filepath.Join(t.TempDir(), "session.json"),
		OnStored: func() { stored++ },
	}
	if err := fs.StoreSession(context.Background(), []byte(`{}`)); err != nil {
		t.Fatalf("StoreSession: %v", err)
	}
	if stored != 1 {
		t.Fatalf("OnStored called %d times, want 1", stored)
	}

	// каталог на месте файла — запись падает, хук не зовётся
	broken := &FileStorage{Path: t.TempDir(), OnStored: func() { stored++ }}
	if err := broken.StoreSession(context.Background(), []byte(`{}`)); err == nil {
		t.Fatal("StoreSession into a directory must fail")
	}
	if stored != 1 {
		t.Fatalf("OnStored called after a failed write")
	}
}
