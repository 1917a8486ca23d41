// Package watcher reports file system changes below a project root.
//
// A Watcher registers every non-ignored directory under its root with
// fsnotify, follows directories as they are created and removed, and
// delivers Events carrying both the absolute and the root-relative path.
// Directories created after the watch started are walked so that files
// written into them before their watch was registered are still reported.
package watcher

import (
	"errors"
	"log/slog"
)

// Errors returned by watcher operations.
var (
	ErrClosed       = errors.New("watcher is closed")
	ErrNotDir       = errors.New("watch root is not a directory")
	ErrPathNotExist = errors.New("path does not exist")
)

// Op is a set of file system operations.
type Op uint32

const (
	// OpCreate indicates a file or directory was created.
	OpCreate Op = 1 << iota
	// OpWrite indicates a file was written to.
	OpWrite
	// OpRemove indicates a file or directory was removed.
	OpRemove
	// OpRename indicates a file or directory was renamed away.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpWrite:
		return "WRITE"
	case OpRemove:
		return "REMOVE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// Has reports whether op includes o.
func (op Op) Has(o Op) bool {
	return op&o == o
}

// Gone reports whether the path no longer exists under its old name.
func (op Op) Gone() bool {
	return op&(OpRemove|OpRename) != 0
}

// Event is a file system change.
type Event struct {
	// Path is the absolute path of the affected file or directory.
	Path string

	// Rel is Path relative to the watch root, slash separated.
	Rel string

	// Op is the operation that occurred.
	Op Op

	// IsDir is true when the path was a directory at the time of the event.
	// Removed paths report the kind they had while watched.
	IsDir bool
}

// Handler receives events.
type Handler func(Event)

// Config holds watcher configuration.
type Config struct {
	// BufferSize is the capacity of the event and error channels.
	// Default: 256
	BufferSize int

	// Ignore excludes paths from watching and reporting.
	Ignore *IgnoreRules

	// Logger receives watcher diagnostics.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 256,
	}
}

// Option configures a watcher.
type Option func(*Config)

// WithBufferSize sets the channel buffer size.
func WithBufferSize(size int) Option {
	return func(c *Config) {
		c.BufferSize = size
	}
}

// WithIgnore sets the ignore rules.
func WithIgnore(rules *IgnoreRules) Option {
	return func(c *Config) {
		c.Ignore = rules
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}
