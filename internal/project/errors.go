package project

import "errors"

// Standard errors returned by the project package.
var (
	// ErrNotOpen indicates no project is currently open.
	ErrNotOpen = errors.New("no project open")

	// ErrAlreadyOpen indicates a project is already open.
	ErrAlreadyOpen = errors.New("project already open")

	// ErrNoRoots indicates Open was called without a root directory.
	ErrNoRoots = errors.New("no project roots")
)
