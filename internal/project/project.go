package project

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dshills/livelink/internal/project/fsstore"
	"github.com/dshills/livelink/internal/project/index"
	"github.com/dshills/livelink/internal/project/pairing"
	"github.com/dshills/livelink/internal/project/resource"
)

// Config holds project configuration.
type Config struct {
	// Debounce is the quiet window before a pairing rebuild runs.
	Debounce time.Duration

	// Exclude lists gitignore-style patterns skipped in every root.
	Exclude []string

	// UseGitignore also applies each root's .gitignore.
	UseGitignore bool

	// CanPair marks project files as eligible for pairing.
	CanPair bool

	// Watch keeps the roots in sync with the disk while the project is open.
	Watch bool

	// Logger receives project diagnostics.
	Logger *slog.Logger
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Debounce:     pairing.DefaultDebounce,
		UseGitignore: true,
		CanPair:      true,
		Watch:        true,
	}
}

// Option configures a Project.
type Option func(*Config)

// WithDebounce sets the pairing rebuild delay.
func WithDebounce(d time.Duration) Option {
	return func(c *Config) {
		c.Debounce = d
	}
}

// WithExclude adds exclude patterns.
func WithExclude(patterns ...string) Option {
	return func(c *Config) {
		c.Exclude = append(c.Exclude, patterns...)
	}
}

// WithGitignore enables or disables .gitignore handling.
func WithGitignore(use bool) Option {
	return func(c *Config) {
		c.UseGitignore = use
	}
}

// WithCanPair sets whether project files may be paired.
func WithCanPair(canPair bool) Option {
	return func(c *Config) {
		c.CanPair = canPair
	}
}

// WithWatch enables or disables watching the roots.
func WithWatch(watch bool) Option {
	return func(c *Config) {
		c.Watch = watch
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WatcherStatus describes the root watchers.
type WatcherStatus struct {
	Watching  int
	LastError error
	StartTime time.Time
}

// Project is a set of root directories paired against a live collection.
type Project struct {
	mu     sync.RWMutex
	config Config
	logger *slog.Logger

	open   bool
	roots  []string
	reg    *pairing.Registry
	union  *resource.Union
	stores []*fsstore.Store

	// Watch goroutine lifecycle
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	watching   int
	watchErr   error
	watchStart time.Time

	handlersMu         sync.Mutex
	fileChangeHandlers []func(resource.Resource)
}

// New creates a closed Project with the given options.
func New(opts ...Option) *Project {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Project{config: config, logger: logger}
}

// Open scans roots and starts pairing their files. With watching enabled,
// the roots are kept in sync with the disk until Close.
func (p *Project) Open(ctx context.Context, roots ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.open {
		return ErrAlreadyOpen
	}
	if len(roots) == 0 {
		return ErrNoRoots
	}

	reg := pairing.NewRegistry(pairing.WithDebounce(p.config.Debounce), pairing.WithLogger(p.logger))
	union, stores, err := fsstore.OpenAll(ctx, roots,
		fsstore.WithExclude(p.config.Exclude...),
		fsstore.WithGitignore(p.config.UseGitignore),
		fsstore.WithCanPair(p.config.CanPair),
		fsstore.WithLogger(p.logger),
		fsstore.WithOnWrite(p.fileChanged),
	)
	if err != nil {
		reg.Close()
		return err
	}
	if err := reg.SetProjectCollection(union); err != nil {
		for _, s := range stores {
			s.Close()
		}
		union.Close()
		reg.Close()
		return err
	}

	p.roots = make([]string, len(stores))
	for i, s := range stores {
		p.roots[i] = s.Root()
	}
	p.reg, p.union, p.stores = reg, union, stores
	p.watchErr = nil
	p.open = true

	if p.config.Watch {
		p.startWatchLocked()
	}
	p.logger.Info("project ready", "roots", len(roots), "resources", reg.ProjectIndex().Len())
	return nil
}

func (p *Project) startWatchLocked() {
	// The watchers outlive Open's context; Close stops them.
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.watchStart = time.Now()

	for _, s := range p.stores {
		s := s
		p.wg.Add(1)
		p.watching++
		go func() {
			defer p.wg.Done()
			err := s.Watch(ctx)

			p.mu.Lock()
			p.watching--
			if err != nil {
				p.watchErr = err
			}
			p.mu.Unlock()
			if err != nil {
				p.logger.Error("watch stopped", "root", s.Root(), "error", err)
			}
		}()
	}
}

// Close stops the watchers and the registry. It waits for the watchers to
// return or for ctx to end, whichever comes first.
func (p *Project) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return ErrNotOpen
	}
	cancel, stores, union, reg := p.cancel, p.stores, p.union, p.reg
	p.cancel, p.stores, p.union, p.reg, p.roots = nil, nil, nil, nil, nil
	p.open = false
	// Release the lock before waiting; watch goroutines take it on exit.
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		for _, s := range stores {
			s.Close()
		}
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	union.Close()
	return reg.Close()
}

// IsOpen returns true if the project is open.
func (p *Project) IsOpen() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.open
}

// Roots returns the absolute roots in the order they were opened.
func (p *Project) Roots() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.roots...)
}

// Registry returns the pairing registry, or nil when the project is closed.
func (p *Project) Registry() *pairing.Registry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.reg
}

// AttachLive sets the collection project files are paired against.
func (p *Project) AttachLive(c resource.Collection) error {
	reg := p.Registry()
	if reg == nil {
		return ErrNotOpen
	}
	return reg.SetLiveCollection(c)
}

// Lookup returns the file at rel in the first root that has one.
func (p *Project) Lookup(rel string) (resource.Resource, bool) {
	p.mu.RLock()
	stores := p.stores
	p.mu.RUnlock()
	for _, s := range stores {
		if r, ok := s.Lookup(rel); ok {
			return r, true
		}
	}
	return nil, false
}

// FindFiles fuzzy matches query against the relative paths of the
// project's files, best first. Directories are left out. A limit of 0
// returns every match.
func (p *Project) FindFiles(query string, limit int) ([]index.Match, error) {
	reg := p.Registry()
	if reg == nil {
		return nil, ErrNotOpen
	}
	return reg.ProjectIndex().FuzzyMatchPath(query, limit), nil
}

// OnFileChange registers a handler called when an existing file's contents
// change on disk.
func (p *Project) OnFileChange(fn func(resource.Resource)) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.fileChangeHandlers = append(p.fileChangeHandlers, fn)
}

func (p *Project) fileChanged(r resource.Resource) {
	p.handlersMu.Lock()
	handlers := append(([]func(resource.Resource))(nil), p.fileChangeHandlers...)
	p.handlersMu.Unlock()
	for _, fn := range handlers {
		fn(r)
	}
}

// WatcherStatus reports on the root watchers.
func (p *Project) WatcherStatus() WatcherStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return WatcherStatus{
		Watching:  p.watching,
		LastError: p.watchErr,
		StartTime: p.watchStart,
	}
}
