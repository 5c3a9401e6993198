package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteArtifacts creates the named files under dir, with parent directories,
// and returns their absolute paths in order.
//
// Each file holds distinct content so digests differ.
func WriteArtifacts(t *testing.T, dir string, names ...string) []string {
	t.Helper()

	paths := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("Failed to create directory for %s: %v", name, err)
		}
		if err := os.WriteFile(path, []byte("MZ artifact "+name), 0644); err != nil {
			t.Fatalf("Failed to write artifact %s: %v", name, err)
		}
		paths = append(paths, path)
	}

	return paths
}

// NewArtifactTree creates a temporary directory holding the named files.
//
// Example usage:
//
//	dir := NewArtifactTree(t, "app.exe", "lib/core.dll")
func NewArtifactTree(t *testing.T, names ...string) string {
	t.Helper()

	dir := t.TempDir()
	WriteArtifacts(t, dir, names...)
	return dir
}
