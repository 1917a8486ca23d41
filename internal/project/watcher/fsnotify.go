package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a directory tree with fsnotify.
type Watcher struct {
	mu sync.RWMutex

	root    string
	fs      *fsnotify.Watcher
	config  Config
	logger  *slog.Logger
	dirs    map[string]bool
	dropped int64

	events chan Event
	errors chan error

	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// New watches root and every directory below it that the ignore rules do
// not exclude.
func New(root string, opts ...Option) (*Watcher, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrPathNotExist
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, ErrNotDir
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:    abs,
		fs:      fsw,
		config:  config,
		logger:  logger.With("root", abs),
		dirs:    make(map[string]bool),
		events:  make(chan Event, config.BufferSize),
		errors:  make(chan error, config.BufferSize),
		closeCh: make(chan struct{}),
	}

	if err := w.addTree(abs, nil); err != nil {
		fsw.Close()
		return nil, err
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Root returns the absolute watch root.
func (w *Watcher) Root() string {
	return w.root
}

// Events returns the event channel. It is closed by Close.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the error channel. It is closed by Close.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Dirs returns the watched directories, sorted.
func (w *Watcher) Dirs() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]string, 0, len(w.dirs))
	for d := range w.dirs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Dropped returns the number of events discarded because the event channel
// was full.
func (w *Watcher) Dropped() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.dropped
}

// Run delivers events to fn until ctx is done or the watcher is closed.
// Watcher errors are logged.
func (w *Watcher) Run(ctx context.Context, fn Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.events:
			if !ok {
				return nil
			}
			fn(ev)
		case err, ok := <-w.errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// Close stops watching and closes the event and error channels.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return w.fs.Close()
}

// Rel returns abs relative to the root, slash separated.
func (w *Watcher) Rel(abs string) (string, bool) {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// addTree registers dir and its subdirectories. When found is non-nil every
// non-ignored entry below dir is reported to it.
func (w *Watcher) addTree(dir string, found func(abs string, isDir bool)) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			w.logger.Debug("skip unreadable path", "path", p, "error", err)
			return nil
		}

		rel, _ := w.Rel(p)
		isDir := d.IsDir()
		if p != w.root && w.config.Ignore.Match(rel, isDir) {
			if isDir {
				return filepath.SkipDir
			}
			return nil
		}
		if p != dir && found != nil {
			found(p, isDir)
		}
		if !isDir {
			return nil
		}

		w.mu.Lock()
		defer w.mu.Unlock()
		if w.closed {
			return ErrClosed
		}
		if w.dirs[p] {
			return nil
		}
		if err := w.fs.Add(p); err != nil {
			if p == dir {
				return fmt.Errorf("watch %s: %w", p, err)
			}
			w.logger.Warn("watch directory", "path", p, "error", err)
			return nil
		}
		w.dirs[p] = true
		return nil
	})
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.sendError(err)
		}
	}
}

func (w *Watcher) handle(fe fsnotify.Event) {
	op := convertOp(fe.Op)
	if op == 0 {
		return
	}
	rel, ok := w.Rel(fe.Name)
	if !ok || rel == "." {
		return
	}

	var isDir bool
	if op.Gone() {
		w.mu.Lock()
		isDir = w.dirs[fe.Name]
		if isDir {
			w.forgetLocked(fe.Name)
		}
		w.mu.Unlock()
	} else if info, err := os.Lstat(fe.Name); err == nil {
		isDir = info.IsDir()
	} else {
		// Removed before we could look at it; a later event reports that.
		return
	}

	if w.config.Ignore.Match(rel, isDir) {
		return
	}
	w.send(Event{Path: fe.Name, Rel: rel, Op: op, IsDir: isDir})

	if isDir && op.Has(OpCreate) {
		err := w.addTree(fe.Name, func(abs string, dir bool) {
			r, _ := w.Rel(abs)
			w.send(Event{Path: abs, Rel: r, Op: OpCreate, IsDir: dir})
		})
		if err != nil && !errors.Is(err, ErrClosed) {
			w.sendError(err)
		}
	}
}

// forgetLocked drops dir and every directory below it. A renamed directory
// keeps its kernel watch, so the watch is removed explicitly; for deleted
// directories the removal fails and is ignored.
func (w *Watcher) forgetLocked(dir string) {
	prefix := dir + string(filepath.Separator)
	for d := range w.dirs {
		if d == dir || strings.HasPrefix(d, prefix) {
			_ = w.fs.Remove(d)
			delete(w.dirs, d)
		}
	}
}

func convertOp(fsOp fsnotify.Op) Op {
	var op Op
	if fsOp.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fsOp.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fsOp.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fsOp.Has(fsnotify.Rename) {
		op |= OpRename
	}
	return op
}

func (w *Watcher) send(ev Event) {
	select {
	case w.events <- ev:
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
		w.logger.Warn("event channel full, dropping event", "path", ev.Path, "op", ev.Op)
	}
}

func (w *Watcher) sendError(err error) {
	select {
	case w.errors <- err:
	default:
		w.logger.Warn("error channel full", "error", err)
	}
}
