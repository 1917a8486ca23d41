package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/livelink/internal/config"
	"github.com/dshills/livelink/internal/live"
	"github.com/dshills/livelink/internal/project"
	"github.com/dshills/livelink/internal/project/pairing"
	"github.com/dshills/livelink/internal/project/pairstore"
	"github.com/dshills/livelink/internal/project/resource"
)

// ErrNoLiveURL is returned by serve when live.url is not configured.
var ErrNoLiveURL = errors.New("live.url is not configured")

func serveCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := cfg.RequireRoots(); err != nil {
		return err
	}
	if cfg.Live.URL == "" {
		return ErrNoLiveURL
	}
	log, err := openLogger(c, cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	return serve(c.Context, cfg, log.Slog())
}

// serve runs until ctx is done or the live page goes away.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	proj := project.New(
		project.WithDebounce(cfg.Debounce.Std()),
		project.WithExclude(cfg.Project.Exclude...),
		project.WithGitignore(cfg.Project.UseGitignore),
		project.WithCanPair(cfg.Project.CanPair),
		project.WithLogger(logger),
	)
	if err := proj.Open(ctx, cfg.Project.Roots...); err != nil {
		return err
	}
	defer proj.Close(context.Background())
	reg := proj.Registry()

	client, err := live.Dial(ctx, cfg.Live.URL,
		live.WithDialTimeout(cfg.Live.DialTimeout.Std()),
		live.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := proj.AttachLive(client); err != nil {
		return err
	}
	proj.OnFileChange(func(r resource.Resource) { push(ctx, reg, r, logger) })
	reg.OnChange(func(ev pairing.ChangeEvent) {
		logger.Info("pair changed", "pair", ev.Pair.ID(), "side", ev.Side, "from", pathOrEmpty(ev.Old), "to", pathOrEmpty(ev.New))
	})

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Store.Path != "" {
		pins, err := pairstore.Open(cfg.Store.Path, pairstore.WithLogger(logger))
		if err != nil {
			return err
		}
		defer pins.Close()
		pins.Track(reg)

		// Sheets arrive after connecting; retry stored pairings as they do.
		restore := make(chan struct{}, 1)
		stop := client.Subscribe(func(ev resource.Event) {
			if ev.Type != resource.Added {
				return
			}
			select {
			case restore <- struct{}{}:
			default:
			}
		})
		defer stop()
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-restore:
					if _, err := pins.Restore(gctx, reg, client); err != nil && gctx.Err() == nil {
						logger.Warn("restore manual pairs", "error", err)
					}
				}
			}
		})
	}
	g.Go(func() error {
		defer cancel()
		return client.Run(gctx)
	})

	logger.Info("serving", "live", cfg.Live.URL, "roots", proj.Roots())
	return g.Wait()
}

// push sends the contents of a changed project file to its paired sheet.
func push(ctx context.Context, reg *pairing.Registry, r resource.Resource, logger *slog.Logger) {
	p, ok := reg.Lookup(r)
	if !ok {
		return
	}
	target, ok := p.Live().(resource.Applier)
	if !ok {
		return
	}
	data, err := os.ReadFile(filepath.FromSlash(r.Path()))
	if err != nil {
		logger.Warn("read changed file", "path", r.Path(), "error", err)
		return
	}
	if err := target.Apply(ctx, string(data)); err != nil {
		if ctx.Err() == nil {
			logger.Warn("apply stylesheet", "path", r.Path(), "error", err)
		}
		return
	}
	logger.Debug("stylesheet applied", "path", r.Path(), "pair", p.ID())
}

func pathOrEmpty(r resource.Resource) string {
	if r == nil {
		return ""
	}
	return r.Path()
}
