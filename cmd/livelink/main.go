// Package main is the entry point for livelink.
//
// livelink pairs the files of a project on disk with the style sheets a live
// page has loaded, and pushes file edits to the paired sheets.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/dshills/livelink/internal/config"
	"github.com/dshills/livelink/internal/logging"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout, os.Stderr).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:                   "livelink",
		Usage:                  "Pair project files with the style sheets of a live page",
		Version:                fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		UseShortOptionHandling: true,
		Writer:                 stdout,
		ErrWriter:              stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file path (.toml, .yaml or .yml)",
				EnvVars: []string{"LIVELINK_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error); overrides the config file",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "search",
				Usage:     "Fuzzy search the paths below a directory",
				ArgsUsage: "QUERY",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "root",
						Aliases: []string{"r"},
						Usage:   "Directory to search",
						Value:   ".",
					},
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Maximum number of results (0 for all)",
						Value:   20,
					},
				},
				Action: searchCommand,
			},
			{
				Name:  "match",
				Usage: "Pair the files of two directories once and print the result",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "project",
						Usage:    "Project directory",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "live",
						Usage:    "Directory standing in for the live page",
						Required: true,
					},
				},
				Action: matchCommand,
			},
			{
				Name:   "serve",
				Usage:  "Watch the project and push edits to the live page",
				Action: serveCommand,
			},
			{
				Name:      "pin",
				Usage:     "Store a manual pairing",
				ArgsUsage: "LIVE_PATH PROJECT_FILE",
				Action:    pinCommand,
			},
			{
				Name:      "unpin",
				Usage:     "Forget the manual pairing of a live path",
				ArgsUsage: "LIVE_PATH",
				Action:    unpinCommand,
			},
			{
				Name:   "pins",
				Usage:  "List stored manual pairings",
				Action: pinsCommand,
			},
		},
	}
}

// loadConfig reads the --config file and applies --log-level.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openLogger builds the logger described by cfg. Without a log directory,
// records go to the app's error writer.
func openLogger(c *cli.Context, cfg *config.Config) (*logging.Logger, error) {
	if cfg.Log.Dir != "" {
		return logging.Open(cfg.Log.Dir, cfg.Log.Level, cfg.Log.Format)
	}
	return logging.New(c.App.ErrWriter, cfg.Log.Level, cfg.Log.Format), nil
}
