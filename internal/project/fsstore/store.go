// Package fsstore exposes a directory tree on disk as a resource collection.
//
// A Store scans its root once when opened, skipping paths excluded by the
// default ignore list, the configured exclude patterns and the root's
// .gitignore. Watch keeps the collection current as files and directories
// are created, removed or renamed.
package fsstore

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/livelink/internal/project/resource"
	"github.com/dshills/livelink/internal/project/watcher"
)

// Config holds store configuration.
type Config struct {
	// Exclude lists gitignore-style patterns, relative to the root.
	Exclude []string

	// UseGitignore also loads the root's .gitignore.
	// Default: true
	UseGitignore bool

	// CanPair marks the store's resources as eligible for pairing.
	// Default: true
	CanPair bool

	// OnWrite is called from Watch when an existing file's contents change.
	OnWrite func(resource.Resource)

	// Logger receives scan and watch diagnostics.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		UseGitignore: true,
		CanPair:      true,
	}
}

// Option configures a Store.
type Option func(*Config)

// WithExclude adds exclude patterns.
func WithExclude(patterns ...string) Option {
	return func(c *Config) {
		c.Exclude = append(c.Exclude, patterns...)
	}
}

// WithGitignore enables or disables loading .gitignore.
func WithGitignore(use bool) Option {
	return func(c *Config) {
		c.UseGitignore = use
	}
}

// WithCanPair sets whether the store's resources may be paired.
func WithCanPair(canPair bool) Option {
	return func(c *Config) {
		c.CanPair = canPair
	}
}

// WithOnWrite sets the hook called for file content changes.
func WithOnWrite(fn func(resource.Resource)) Option {
	return func(c *Config) {
		c.OnWrite = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// Store is a resource collection backed by a directory tree.
type Store struct {
	root    string
	ignore  *watcher.IgnoreRules
	logger  *slog.Logger
	set     *resource.Set
	onWrite func(resource.Resource)

	mu      sync.Mutex
	byRel   map[string]*resource.Entry
	watchFn context.CancelFunc
	done    chan struct{}
	closed  bool
}

// Open scans root and returns a store holding its files and directories.
func Open(ctx context.Context, root string, opts ...Option) (*Store, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &PathError{Op: "open", Path: root, Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, &PathError{Op: "open", Path: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &PathError{Op: "open", Path: root, Err: ErrNotDirectory}
	}

	ignore, err := watcher.NewIgnoreRules(watcher.DefaultIgnore...)
	if err != nil {
		return nil, err
	}
	if err := ignore.Add(config.Exclude...); err != nil {
		return nil, &PathError{Op: "open", Path: root, Err: err}
	}
	if config.UseGitignore {
		if err := ignore.AddFromFile(filepath.Join(abs, ".gitignore")); err != nil {
			return nil, &PathError{Op: "open", Path: root, Err: err}
		}
	}

	s := &Store{
		root:    filepath.ToSlash(abs),
		ignore:  ignore,
		logger:  logger.With("root", abs),
		set:     resource.NewSet(config.CanPair),
		onWrite: config.OnWrite,
		byRel:   make(map[string]*resource.Entry),
	}
	if err := s.scan(ctx, abs); err != nil {
		return nil, err
	}
	s.logger.Info("project opened", "resources", s.set.Len())
	return s, nil
}

// OpenAll opens every root concurrently and returns them joined in a union,
// in the order given. If any root fails, the error of the first failure is
// returned and nothing stays open.
func OpenAll(ctx context.Context, roots []string, opts ...Option) (*resource.Union, []*Store, error) {
	stores := make([]*Store, len(roots))
	g, gctx := errgroup.WithContext(ctx)
	for i, root := range roots {
		i, root := i, root
		g.Go(func() error {
			s, err := Open(gctx, root, opts...)
			if err != nil {
				return err
			}
			stores[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, s := range stores {
			if s != nil {
				s.Close()
			}
		}
		return nil, nil, err
	}

	colls := make([]resource.Collection, len(stores))
	for i, s := range stores {
		colls[i] = s
	}
	return resource.NewUnion(colls...), stores, nil
}

// Root returns the absolute root, slash separated.
func (s *Store) Root() string {
	return s.root
}

// Resources returns the store's resources.
func (s *Store) Resources() ([]resource.Resource, error) {
	return s.set.Resources()
}

// Subscribe registers l for added and removed resources.
func (s *Store) Subscribe(l resource.Listener) func() {
	return s.set.Subscribe(l)
}

// CanPair reports whether the store's resources may be paired.
func (s *Store) CanPair() bool {
	return s.set.CanPair()
}

// Len returns the number of resources.
func (s *Store) Len() int {
	return s.set.Len()
}

// Lookup returns the resource at rel, a path relative to the root.
func (s *Store) Lookup(rel string) (resource.Resource, bool) {
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byRel[rel]
	if !ok {
		return nil, false
	}
	return e, true
}

// Watch keeps the store in sync with the disk until ctx is done or the store
// is closed. It returns nil in both cases.
func (s *Store) Watch(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.watchFn != nil {
		s.mu.Unlock()
		return ErrWatching
	}
	ctx, cancel := context.WithCancel(ctx)
	s.watchFn = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.watchFn = nil
		s.mu.Unlock()
		close(done)
	}()

	w, err := watcher.New(s.root, watcher.WithIgnore(s.ignore), watcher.WithLogger(s.logger))
	if err != nil {
		return &PathError{Op: "watch", Path: s.root, Err: err}
	}
	defer w.Close()

	// Catch changes made between the initial scan and the watch.
	if err := s.scan(ctx, filepath.FromSlash(s.root)); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	err = w.Run(ctx, s.apply)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Close stops a running Watch and waits for it to return.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, done := s.watchFn, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// scan walks dir and adds every entry not yet known. During a rescan it also
// drops entries below dir that no longer exist.
func (s *Store) scan(ctx context.Context, dir string) error {
	seen := make(map[string]bool)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if p == dir {
				return &PathError{Op: "scan", Path: p, Err: err}
			}
			s.logger.Debug("skip unreadable path", "path", p, "error", err)
			return nil
		}
		if p == dir {
			return nil
		}

		rel, err := filepath.Rel(filepath.FromSlash(s.root), p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if s.ignore.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		seen[rel] = true
		s.add(rel, d.IsDir())
		return nil
	})
	if err != nil {
		return err
	}

	prefix, _ := filepath.Rel(filepath.FromSlash(s.root), dir)
	prefix = filepath.ToSlash(prefix)
	s.set.RemoveFunc(func(r resource.Resource) bool {
		rel := r.RelativePath()
		return under(rel, prefix) && !seen[rel]
	})
	s.mu.Lock()
	for rel := range s.byRel {
		if under(rel, prefix) && !seen[rel] {
			delete(s.byRel, rel)
		}
	}
	s.mu.Unlock()
	return nil
}

// under reports whether rel is prefix or below it. "." covers everything.
func under(rel, prefix string) bool {
	if prefix == "." || prefix == "" {
		return true
	}
	return rel == prefix || strings.HasPrefix(rel, prefix+"/")
}

func (s *Store) add(rel string, isDir bool) {
	s.mu.Lock()
	if e, ok := s.byRel[rel]; ok && e.IsDir() == isDir {
		s.mu.Unlock()
		return
	}
	old := s.byRel[rel]
	e := resource.NewEntry(s, s.root, rel, isDir)
	s.byRel[rel] = e
	s.mu.Unlock()

	if old != nil {
		s.set.Remove(old)
	}
	s.set.Add(e)
}

// apply updates the store for one watcher event.
func (s *Store) apply(ev watcher.Event) {
	switch {
	case ev.Op.Gone():
		s.remove(ev.Rel)
	case ev.Op.Has(watcher.OpCreate), ev.Op.Has(watcher.OpWrite):
		s.add(ev.Rel, ev.IsDir)
		if ev.Op.Has(watcher.OpWrite) && !ev.IsDir && s.onWrite != nil {
			if r, ok := s.Lookup(ev.Rel); ok {
				s.onWrite(r)
			}
		}
	}
}

// remove drops rel and, for directories, everything below it.
func (s *Store) remove(rel string) {
	s.mu.Lock()
	for r := range s.byRel {
		if under(r, rel) {
			delete(s.byRel, r)
		}
	}
	s.mu.Unlock()

	removed := s.set.RemoveFunc(func(r resource.Resource) bool {
		return under(r.RelativePath(), rel)
	})
	if len(removed) > 0 {
		s.logger.Debug("resources removed", "path", rel, "count", len(removed))
	}
}

var _ resource.Collection = (*Store)(nil)
