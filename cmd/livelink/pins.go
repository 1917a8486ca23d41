package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dshills/livelink/internal/project/pairstore"
)

// ErrNoStore is returned by the pin commands when store.path is empty.
var ErrNoStore = errors.New("store.path is not configured")

func openPins(c *cli.Context) (*pairstore.Store, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if cfg.Store.Path == "" {
		return nil, ErrNoStore
	}
	return pairstore.Open(cfg.Store.Path)
}

func pinCommand(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("usage: livelink pin LIVE_PATH PROJECT_FILE")
	}
	livePath := c.Args().Get(0)
	projectFile, err := filepath.Abs(c.Args().Get(1))
	if err != nil {
		return err
	}
	info, err := os.Stat(projectFile)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", projectFile)
	}

	pins, err := openPins(c)
	if err != nil {
		return err
	}
	defer pins.Close()

	return pins.Save(c.Context, pairstore.Record{
		LivePath:    livePath,
		ProjectPath: filepath.ToSlash(projectFile),
	})
}

func unpinCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: livelink unpin LIVE_PATH")
	}
	pins, err := openPins(c)
	if err != nil {
		return err
	}
	defer pins.Close()

	ok, err := pins.Delete(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no pairing stored for %s", c.Args().First())
	}
	return nil
}

func pinsCommand(c *cli.Context) error {
	pins, err := openPins(c)
	if err != nil {
		return err
	}
	defer pins.Close()

	recs, err := pins.List(c.Context)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.LivePath, r.ProjectPath, r.CreatedAt.Format(time.DateTime))
	}
	return w.Flush()
}
