// Package testutil provides shared test helpers for setting up data
// directories, database registries and stores.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/starford/entbrowser/internal/dbregistry"
	"github.com/starford/entbrowser/internal/models"
	"github.com/starford/entbrowser/internal/storage"
)

// TestDataDir creates a temporary data directory with a storage.Provider.
func TestDataDir(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	fs, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = fs.Close() })
	return dir, fs
}

// TestRegistry opens an empty database registry inside a temporary data
// directory.
func TestRegistry(t *testing.T) (*dbregistry.Registry, *storage.FS) {
	t.Helper()
	_, fs := TestDataDir(t)
	reg, err := dbregistry.Open(fs, "databases.json")
	if err != nil {
		t.Fatal(err)
	}
	return reg, fs
}

// StoreDir returns a path for a not yet existing store directory.
func StoreDir(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "store")
}

// RegisterStore registers a fresh store location in reg and returns it.
func RegisterStore(t *testing.T, reg *dbregistry.Registry, d models.DatabaseSummary) models.DatabaseSummary {
	t.Helper()
	if d.Location == "" {
		d.Location = StoreDir(t)
	}
	out, err := reg.Add(d)
	if err != nil {
		t.Fatal(err)
	}
	return out
}
