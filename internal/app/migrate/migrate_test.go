package migrate

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestMigrationSourceEmbedded(t *testing.T) {
	source, origin, err := migrationSource("")
	if err != nil {
		t.Fatalf("expected embedded source, got %v", err)
	}
	if origin != "embedded" {
		t.Fatalf("expected embedded origin, got %q", origin)
	}
	matches, err := fs.Glob(source, "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("expected embedded migrations")
	}
}

func TestMigrationSourceDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "00001_init.sql"), []byte("-- +goose Up\n"), 0o600); err != nil {
		t.Fatalf("write migration: %v", err)
	}
	source, origin, err := migrationSource(dir)
	if err != nil {
		t.Fatalf("expected dir source, got %v", err)
	}
	if origin != dir {
		t.Fatalf("expected origin %q, got %q", dir, origin)
	}
	if _, err := fs.Stat(source, "00001_init.sql"); err != nil {
		t.Fatalf("expected migration in source: %v", err)
	}

	file := filepath.Join(dir, "00001_init.sql")
	if _, _, err := migrationSource(file); err == nil {
		t.Fatal("expected error for file path")
	}
	if _, _, err := migrationSource(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("expected error for missing dir")
	}
}

func TestNewRejectsNilPool(t *testing.T) {
	if _, err := New(nil, "", nil); err == nil {
		t.Fatal("expected error for nil pool")
	}
}
