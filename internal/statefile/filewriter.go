// Package statefile persists snapshots so that readers never observe a
// partially written file.
package statefile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileWriter replaces one state file atomically on every write
type FileWriter struct {
	path string // Absolute path of the target file
}

// NewFileWriter creates a writer for path. The parent directory is created
// lazily on each write so a removed directory is recreated.
func NewFileWriter(path string) (*FileWriter, error) {
	if path == "" {
		return nil, fmt.Errorf("state file path cannot be empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	return &FileWriter{path: absPath}, nil
}

// Path returns the absolute path of the target file
func (fw *FileWriter) Path() string {
	return fw.path
}

// Write replaces the target with payload plus a trailing newline
func (fw *FileWriter) Write(payload []byte) error {
	return WriteAtomic(fw.path, payload)
}

// WriteJSON marshals v and writes it atomically
func (fw *FileWriter) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", fw.path, err)
	}
	return fw.Write(data)
}

// WriteAtomic writes payload and a newline to a temporary sibling of path,
// syncs it to disk and renames it over path. Until the rename happens the
// previous contents of path stay intact.
func WriteAtomic(path string, payload []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	// Unique temp name so concurrent writers never share a temp file
	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tempPath := f.Name()

	fail := func(step string, err error) error {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to %s %s: %w", step, tempPath, err)
	}

	// CreateTemp uses 0600; state files are read by the UI and the sidecar
	if err := f.Chmod(0644); err != nil {
		return fail("chmod", err)
	}
	if _, err := f.Write(payload); err != nil {
		return fail("write", err)
	}
	if _, err := f.Write([]byte("\n")); err != nil {
		return fail("write newline to", err)
	}
	if err := f.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close %s: %w", tempPath, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to move %s: %w", path, err)
	}

	return nil
}
