// Package config loads livelink settings.
//
// Settings come from three layers, later layers overriding earlier ones:
//
//  1. Built-in defaults (DefaultConfig)
//  2. A TOML or YAML file chosen by extension
//  3. LIVELINK_* environment variables
//
// A missing config file is not an error; the defaults are used instead.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Errors returned by Validate.
var (
	ErrNoRoots         = errors.New("no project roots configured")
	ErrNegativeTimeout = errors.New("duration must not be negative")
	ErrBadLogLevel     = errors.New("unknown log level")
	ErrBadLogFormat    = errors.New("unknown log format")
	ErrBadLiveURL      = errors.New("live url must use ws or wss")
)

// Duration is a time.Duration read from "100ms" style strings.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	return d.UnmarshalText([]byte(n.Value))
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full livelink configuration.
type Config struct {
	// Debounce is the quiet window before a scheduled pairing rebuild runs.
	Debounce Duration `toml:"debounce" yaml:"debounce"`

	Project ProjectConfig `toml:"project" yaml:"project"`
	Live    LiveConfig    `toml:"live" yaml:"live"`
	Store   StoreConfig   `toml:"store" yaml:"store"`
	Log     LogConfig     `toml:"log" yaml:"log"`
}

// ProjectConfig describes the on-disk project.
type ProjectConfig struct {
	// Roots are the directories indexed as the project.
	Roots []string `toml:"roots" yaml:"roots"`

	// Exclude holds gitignore-style patterns skipped while scanning and
	// watching.
	Exclude []string `toml:"exclude" yaml:"exclude"`

	// UseGitignore also applies each root's .gitignore.
	UseGitignore bool `toml:"use_gitignore" yaml:"use_gitignore"`

	// CanPair is false to keep project files out of pairing.
	CanPair bool `toml:"can_pair" yaml:"can_pair"`
}

// LiveConfig describes the live page connection.
type LiveConfig struct {
	// URL is the websocket endpoint of the page agent.
	URL string `toml:"url" yaml:"url"`

	// DialTimeout bounds the connection handshake.
	DialTimeout Duration `toml:"dial_timeout" yaml:"dial_timeout"`
}

// StoreConfig locates manual pair persistence. An empty Path disables it.
type StoreConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
	// Dir, when set, sends logs to <Dir>/livelink.log instead of stderr.
	Dir string `toml:"dir" yaml:"dir"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Debounce: Duration(100 * time.Millisecond),
		Project: ProjectConfig{
			Exclude: []string{
				"vendor/",
				"dist/",
				"build/",
				"target/",
				".idea/",
				".vscode/",
				"__pycache__/",
				".venv/",
				"*.log",
			},
			UseGitignore: true,
			CanPair:      true,
		},
		Live: LiveConfig{
			DialTimeout: Duration(10 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the settings that do not depend on which command runs.
func (c *Config) Validate() error {
	if c.Debounce < 0 {
		return fmt.Errorf("debounce %s: %w", c.Debounce.Std(), ErrNegativeTimeout)
	}
	if c.Live.DialTimeout < 0 {
		return fmt.Errorf("live.dial_timeout %s: %w", c.Live.DialTimeout.Std(), ErrNegativeTimeout)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q: %w", c.Log.Level, ErrBadLogLevel)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q: %w", c.Log.Format, ErrBadLogFormat)
	}
	if c.Live.URL != "" && !strings.HasPrefix(c.Live.URL, "ws://") && !strings.HasPrefix(c.Live.URL, "wss://") {
		return fmt.Errorf("live.url %q: %w", c.Live.URL, ErrBadLiveURL)
	}
	return nil
}

// RequireRoots reports ErrNoRoots when no project root is configured.
func (c *Config) RequireRoots() error {
	for _, r := range c.Project.Roots {
		if strings.TrimSpace(r) != "" {
			return nil
		}
	}
	return ErrNoRoots
}
