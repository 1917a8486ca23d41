package fsstore

import (
	"errors"
	"fmt"
)

// Errors returned by the store.
var (
	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store is closed")

	// ErrNotDirectory indicates the root is a file, not a directory.
	ErrNotDirectory = errors.New("path is not a directory")

	// ErrWatching indicates Watch is already running.
	ErrWatching = errors.New("store is already watching")
)

// PathError records an error and the path that caused it.
type PathError struct {
	Op   string // Operation that failed (open, scan, watch)
	Path string // File or directory path
	Err  error  // Underlying error
}

// Error implements the error interface.
func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *PathError) Unwrap() error {
	return e.Err
}
