package testutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// FileState is a snapshot of one file's content and modification time.
type FileState struct {
	Data    []byte
	ModTime time.Time
}

// Snapshot records every regular file under dir, keyed by slash-separated
// relative path. Lock files are skipped.
func Snapshot(t *testing.T, dir string) map[string]FileState {
	t.Helper()

	files := make(map[string]FileState)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) == ".lock" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path) // #nosec G304 - test helper.
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = FileState{Data: data, ModTime: info.ModTime()}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to snapshot %s: %v", dir, err)
	}
	return files
}

// Names returns the set of paths in a snapshot.
func Names(files map[string]FileState) map[string]bool {
	names := make(map[string]bool, len(files))
	for name := range files {
		names[name] = true
	}
	return names
}
