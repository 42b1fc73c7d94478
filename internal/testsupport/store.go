package testsupport

import (
	"path/filepath"
	"testing"

	"redub/internal/artifact"
	"redub/internal/manifest"
)

// MustOpenManifest opens a manifest store on a temp database and registers
// cleanup.
func MustOpenManifest(t testing.TB) *manifest.Store {
	t.Helper()

	store, err := manifest.Open(filepath.Join(t.TempDir(), "manifest.db"))
	if err != nil {
		t.Fatalf("manifest.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// MustOpenStore creates a filesystem artifact store under a temp directory.
func MustOpenStore(t testing.TB) *artifact.FSStore {
	t.Helper()

	store, err := artifact.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("artifact.NewFSStore: %v", err)
	}
	return store
}
