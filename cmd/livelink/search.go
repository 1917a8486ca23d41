package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/dshills/livelink/internal/project"
	"github.com/dshills/livelink/internal/project/fsstore"
	"github.com/dshills/livelink/internal/project/resource"
)

func searchCommand(c *cli.Context) error {
	if c.NArg() < 1 {
		return errors.New("usage: livelink search [--root DIR] [--limit N] QUERY")
	}
	query := strings.Join(c.Args().Slice(), " ")
	limit := c.Int("limit")
	if limit < 0 {
		return fmt.Errorf("invalid --limit %d", limit)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log, err := openLogger(c, cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	proj := project.New(
		project.WithExclude(cfg.Project.Exclude...),
		project.WithGitignore(cfg.Project.UseGitignore),
		project.WithWatch(false),
		project.WithLogger(log.Slog()),
	)
	if err := proj.Open(c.Context, c.String("root")); err != nil {
		return err
	}
	defer proj.Close(context.Background())

	matches, err := proj.FindFiles(query, limit)
	if err != nil {
		return err
	}
	for _, m := range matches {
		fmt.Fprintln(c.App.Writer, m.Resource.RelativePath())
	}
	return nil
}

func matchCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log, err := openLogger(c, cfg)
	if err != nil {
		return err
	}
	defer log.Close()
	logger := log.Slog()

	proj := project.New(
		project.WithDebounce(cfg.Debounce.Std()),
		project.WithExclude(cfg.Project.Exclude...),
		project.WithGitignore(cfg.Project.UseGitignore),
		project.WithCanPair(cfg.Project.CanPair),
		project.WithWatch(false),
		project.WithLogger(logger),
	)
	if err := proj.Open(c.Context, c.String("project")); err != nil {
		return err
	}
	defer proj.Close(context.Background())

	live, err := fsstore.Open(c.Context, c.String("live"), fsstore.WithLogger(logger))
	if err != nil {
		return err
	}
	defer live.Close()

	if err := proj.AttachLive(live); err != nil {
		return err
	}
	reg := proj.Registry()
	if err := reg.Flush(); err != nil {
		return err
	}

	for _, p := range reg.Pairs() {
		src, l := p.Sides()
		if l == nil || l.IsDir() {
			continue
		}
		fmt.Fprintf(c.App.Writer, "%s -> %s\n", l.RelativePath(), relOrNone(src))
	}
	return nil
}

func relOrNone(r resource.Resource) string {
	if r == nil {
		return "(none)"
	}
	return r.RelativePath()
}
