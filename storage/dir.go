// Package storage manages the on-disk locations the browser writes to: its
// profile directory and its log files.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir is a browser user data directory. Temporary directories created by
// Make are removed by Cleanup; directories given explicitly are kept so the
// profile survives browser restarts.
type Dir struct {
	Dir string

	remove bool
}

// Make creates the directory at path. When path is empty a temporary
// directory is created under tmpDir (or the system default) instead.
func (d *Dir) Make(tmpDir, path string) error {
	if path != "" {
		cp := filepath.Clean(path)
		if err := os.MkdirAll(cp, 0o700); err != nil {
			return fmt.Errorf("creating user data directory %q: %w", cp, err)
		}
		d.Dir = cp
		return nil
	}

	dir, err := os.MkdirTemp(tmpDir, "browserguard-profile-*")
	if err != nil {
		return fmt.Errorf("creating a temporary user data directory: %w", err)
	}
	d.Dir = dir
	d.remove = true

	return nil
}

// Cleanup removes the directory if Make created it as a temporary one.
func (d *Dir) Cleanup() error {
	if !d.remove || d.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(d.Dir); err != nil {
		return fmt.Errorf("removing user data directory %q: %w", d.Dir, err)
	}
	d.remove = false

	return nil
}

// EnsureFileDir creates the parent directory of the file at path, so that the
// browser or a log sink can create the file itself.
func EnsureFileDir(path string) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(filepath.Clean(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating a local directory %q: %w", dir, err)
	}
	return nil
}
