// Package logging builds the slog loggers handed to livelink components.
//
// Components take a *slog.Logger through their WithLogger options. This
// package decides where records go (stderr or <dir>/livelink.log), which
// handler formats them, and the minimum level.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Log levels accepted by ParseLevel.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// FileName is the log file created by Open.
const FileName = "livelink.log"

// Logger is a slog.Logger that may own its output file.
// It is safe for concurrent use.
type Logger struct {
	*slog.Logger

	mu   sync.Mutex
	file *os.File
}

// New returns a logger writing to w. Unrecognized levels fall back to INFO
// and unrecognized formats to text.
func New(w io.Writer, level, format string) *Logger {
	return &Logger{Logger: slog.New(newHandler(w, level, format))}
}

// Open returns a logger appending to <dir>/livelink.log, creating dir if
// needed. An empty dir logs to stderr.
func Open(dir, level, format string) (*Logger, error) {
	if dir == "" {
		return New(os.Stderr, level, format), nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, FileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return &Logger{
		Logger: slog.New(newHandler(f, level, format)),
		file:   f,
	}, nil
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	return New(io.Discard, LevelError, FormatText)
}

// Slog returns the underlying *slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.Logger
}

// Close syncs and closes the log file. It is a no-op for loggers that do
// not own a file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	l.file = nil
	return nil
}

func newHandler(w io.Writer, level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, FormatJSON) {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel converts a level name to a slog.Level.
// Defaults to INFO if the name is not recognized.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn, "WARNING":
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
