// Package platform is the stateful side of the system: it owns all
// filesystem I/O (scene files, project indexes, reports), the active review
// session, and the loop that drives findings to terminal statuses through
// the stateless core. The core never touches disk; everything it needs
// arrives in a request the platform built here.
package platform

import (
	"fmt"
	"os"
	"path/filepath"
)

// MarkerFile distinguishes a lit-critic project directory from any other
// directory: a project always carries its canon index.
const MarkerFile = "CANON.md"

// Preflight failure codes. The CLI and web surfaces render distinct
// remediation text per code.
const (
	PreflightEmpty         = "empty"
	PreflightNotFound      = "not_found"
	PreflightNotDirectory  = "not_directory"
	PreflightMissingMarker = "missing_marker"
	PreflightUnknown       = "unknown_error"
)

// PreflightError reports why a path cannot serve as the project directory.
type PreflightError struct {
	Code string
	Path string
	Err  error
}

func (e *PreflightError) Error() string {
	switch e.Code {
	case PreflightEmpty:
		return "project path is empty"
	case PreflightNotFound:
		return fmt.Sprintf("project path does not exist: %s", e.Path)
	case PreflightNotDirectory:
		return fmt.Sprintf("project path is not a directory: %s", e.Path)
	case PreflightMissingMarker:
		return fmt.Sprintf("directory %s has no %s; not a lit-critic project", e.Path, MarkerFile)
	}
	return fmt.Sprintf("cannot use project path %s: %v", e.Path, e.Err)
}

func (e *PreflightError) Unwrap() error {
	return e.Err
}

// Preflight validates a repository path: non-empty, exists, is a directory,
// and contains the marker file.
func Preflight(path string) error {
	if path == "" {
		return &PreflightError{Code: PreflightEmpty}
	}
	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		return &PreflightError{Code: PreflightNotFound, Path: path, Err: err}
	case err != nil:
		return &PreflightError{Code: PreflightUnknown, Path: path, Err: err}
	case !info.IsDir():
		return &PreflightError{Code: PreflightNotDirectory, Path: path}
	}

	marker := filepath.Join(path, MarkerFile)
	if _, err := os.Stat(marker); os.IsNotExist(err) {
		return &PreflightError{Code: PreflightMissingMarker, Path: path}
	} else if err != nil {
		return &PreflightError{Code: PreflightUnknown, Path: path, Err: err}
	}
	return nil
}
