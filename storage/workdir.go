package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidJobID is returned when an intervene ID cannot be used as a directory name
var ErrInvalidJobID = errors.New("intervene ID is not a valid directory name")

// WorkingDirectory is the root for the job store and rendered job bundles.
//
// Layout:
//
//	<root>/hattivatti.db
//	<root>/<intervene id>/job.sh, input.json, params.json, allas.config, transfer.txt
type WorkingDirectory struct {
	root string
}

// NewWorkingDirectory creates the directory if it is missing and returns it with an absolute path
func NewWorkingDirectory(root string) (*WorkingDirectory, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}
	return &WorkingDirectory{root: abs}, nil
}

// Path returns the absolute working directory
func (w *WorkingDirectory) Path() string {
	return w.root
}

// File returns the path of a file directly inside the working directory
func (w *WorkingDirectory) File(name string) string {
	return filepath.Join(w.root, name)
}

// JobDir returns the bundle directory for a job without touching the filesystem
func (w *WorkingDirectory) JobDir(interveneID string) (string, error) {
	if interveneID == "" || interveneID == "." || interveneID == ".." ||
		strings.ContainsAny(interveneID, `/\`) || strings.ContainsRune(interveneID, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidJobID, interveneID)
	}
	return filepath.Join(w.root, interveneID), nil
}

// PrepareJobDir returns an empty bundle directory for a job. A directory left by an
// earlier run is removed first.
func (w *WorkingDirectory) PrepareJobDir(interveneID string) (string, error) {
	dir, err := w.JobDir(interveneID)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(dir); err == nil {
		if err := os.RemoveAll(dir); err != nil {
			return "", fmt.Errorf("failed to remove existing job directory %s: %w", dir, err)
		}
	}

	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create job directory %s: %w", dir, err)
	}
	return dir, nil
}
